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

// Package server implements the 'capbridge server' command group.
package server

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the server command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage registered capability servers",
		Long: `Manage the capability server registry.

Commands:
  add      Register a capability server
  remove   Remove a capability server from the registry
  list     List registered servers with live status
  tools    List tools offered by a server
  start    Bring a capability server up
  stop     Bring a capability server down`,
	}

	cmd.AddCommand(newAddCommand())
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newToolsCommand())
	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newStopCommand())

	return cmd
}
