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

package server

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capbridge/capbridge/internal/commands/shared"
	"github.com/capbridge/capbridge/internal/config"
)

// newAddCommand creates the 'server add' command.
func newAddCommand() *cobra.Command {
	var (
		name        string
		description string
		caps        []string
		launcher    []string
	)

	cmd := &cobra.Command{
		Use:   "add <id> <address>",
		Short: "Register a capability server",
		Long: `Register a capability server in the registry.

The id must start with a letter and may contain letters, digits,
hyphens and underscores. The address is the server's HTTP base URL.`,
		Example: `  # Example 1: Register a local server
  capbridge server add calc http://127.0.0.1:8700

  # Example 2: Register with a launcher so 'server start' can spawn it
  capbridge server add calc http://127.0.0.1:8700 --launcher ./calc-server --launcher --port=8700`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, args[0], args[1], name, description, caps, launcher)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable server name")
	cmd.Flags().StringVar(&description, "description", "", "Server description")
	cmd.Flags().StringSliceVar(&caps, "capability", nil, "Declared capability tag (repeatable)")
	cmd.Flags().StringArrayVar(&launcher, "launcher", nil, "Launcher command and arguments (repeatable, in order)")

	return cmd
}

func runAdd(cmd *cobra.Command, id, address, name, description string, caps, launcher []string) error {
	logger := shared.NewLogger()
	b, err := shared.NewBridge(logger)
	if err != nil {
		return err
	}
	defer b.Close()

	seed := config.ServerSeed{
		ID:           id,
		Name:         name,
		Description:  description,
		Address:      address,
		Capabilities: caps,
		Launcher:     launcher,
	}
	if err := b.Register(seed); err != nil {
		return fmt.Errorf("failed to register server: %w", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]any{"registered": id, "address": address})
	}
	cmd.Println(shared.RenderOK(fmt.Sprintf("registered %s (%s)", id, address)))
	return nil
}
