// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/capbridge/capbridge/internal/bridge"
	"github.com/capbridge/capbridge/internal/config"
	"github.com/capbridge/capbridge/internal/log"
)

// NewLogger builds the CLI logger from the environment and flags.
func NewLogger() *slog.Logger {
	cfg := log.FromEnv()
	if GetVerbose() {
		cfg.Level = "debug"
	}
	return log.New(cfg)
}

// OpenStore opens the server registry store, honoring --config.
func OpenStore(logger *slog.Logger) (*config.Store, error) {
	path := GetConfigPath()
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
	}
	return config.NewStore(path, logger), nil
}

// NewBridge builds a bridge backed by the registry store and loads the
// persisted server list. Used by one-shot CLI commands; the daemon wires
// its bridge itself.
func NewBridge(logger *slog.Logger) (*bridge.Bridge, error) {
	store, err := OpenStore(logger)
	if err != nil {
		return nil, err
	}

	b := bridge.New(bridge.Options{Store: store, Logger: logger})
	if err := b.LoadFromStore(); err != nil {
		return nil, fmt.Errorf("failed to load server registry: %w", err)
	}
	return b, nil
}

// EmitJSON marshals a response to indented JSON on stdout.
func EmitJSON(response any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
