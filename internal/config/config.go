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

// Package config persists the registry of known capability servers.
//
// Only static identity fields are stored (id, name, description, address,
// capabilities, launcher). Runtime status and tool catalogs are always
// re-derived by discovery and never written to disk.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ServerIDRegex validates capability server identifiers.
// IDs must start with a letter and contain only letters, numbers, hyphens,
// and underscores. Maximum length is 64 characters.
var ServerIDRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// ServerSeed is the persisted identity of a capability server.
type ServerSeed struct {
	// ID is the unique identifier for this server.
	ID string `yaml:"id"`

	// Name is a human-readable name.
	Name string `yaml:"name,omitempty"`

	// Description explains what the server offers.
	Description string `yaml:"description,omitempty"`

	// Address is the base URL the server is reachable at (e.g. http://127.0.0.1:8700).
	Address string `yaml:"address"`

	// Capabilities are the capability tags declared for this server.
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Launcher is the command used by the supervisor to start this server
	// as an external process. Empty means the server is started externally.
	Launcher []string `yaml:"launcher,omitempty"`
}

// Validate checks that a seed is well-formed.
func (s ServerSeed) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("server id is required")
	}
	if !ServerIDRegex.MatchString(s.ID) {
		return fmt.Errorf("invalid server id %q: must start with a letter and contain only letters, numbers, hyphens, and underscores", s.ID)
	}
	if s.Address == "" {
		return fmt.Errorf("server address is required")
	}
	return nil
}

// File is the on-disk schema of servers.yaml.
type File struct {
	Servers []ServerSeed `yaml:"servers"`
}

// DefaultSeed returns the single server entry written on first run.
func DefaultSeed() ServerSeed {
	return ServerSeed{
		ID:           "local",
		Name:         "Local capability server",
		Description:  "Default capability server on the local host",
		Address:      "http://127.0.0.1:8700",
		Capabilities: []string{"tools"},
	}
}

// DefaultPath returns the path of the servers file under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}
	return filepath.Join(dir, "capbridge", "servers.yaml"), nil
}

// Store loads and saves the persisted server list.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a store backed by the given file path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted server list.
//
// A missing file seeds one default entry and persists it. A malformed file
// is logged and treated as empty; loading never fails fatally on content.
func (s *Store) Load() ([]ServerSeed, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			seed := []ServerSeed{DefaultSeed()}
			if saveErr := s.Save(seed); saveErr != nil {
				s.logger.Warn("failed to write initial servers file", "path", s.path, "error", saveErr)
			}
			return seed, nil
		}
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		s.logger.Warn("servers file is malformed, treating as empty",
			"path", s.path,
			"error", err,
		)
		return nil, nil
	}

	seeds := make([]ServerSeed, 0, len(f.Servers))
	for _, seed := range f.Servers {
		if err := seed.Validate(); err != nil {
			s.logger.Warn("skipping invalid server entry", "id", seed.ID, "error", err)
			continue
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

// Save writes the server list atomically (temp file + rename).
func (s *Store) Save(seeds []ServerSeed) error {
	for _, seed := range seeds {
		if err := seed.Validate(); err != nil {
			return err
		}
	}

	data, err := yaml.Marshal(File{Servers: seeds})
	if err != nil {
		return fmt.Errorf("failed to marshal servers: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write servers file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save servers file: %w", err)
	}

	return nil
}
