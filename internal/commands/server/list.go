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
	"strings"

	"github.com/spf13/cobra"

	"github.com/capbridge/capbridge/internal/commands/shared"
)

// newListCommand creates the 'server list' command.
func newListCommand() *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered servers with live status",
		Example: `  # Example 1: List servers with a live probe
  capbridge server list

  # Example 2: List without probing (registry contents only)
  capbridge server list --probe=false

  # Example 3: Machine-readable output
  capbridge server list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, probe)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", true, "Probe each server for live status")

	return cmd
}

func runList(cmd *cobra.Command, probe bool) error {
	logger := shared.NewLogger()
	b, err := shared.NewBridge(logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if probe {
		b.DiscoverAll(cmd.Context())
	}

	servers := b.List()

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]any{"servers": servers})
	}

	if len(servers) == 0 {
		cmd.Println("No capability servers registered.")
		cmd.Println("\nTo add a server:")
		cmd.Println("  capbridge server add <id> <address>")
		return nil
	}

	cmd.Printf("%-20s %-14s %-8s %s\n", "ID", "STATUS", "TOOLS", "ADDRESS")
	cmd.Println(strings.Repeat("-", 70))
	for _, srv := range servers {
		status := shared.RenderServerStatus(string(srv.Status))
		cmd.Printf("%-20s %-14s %-8d %s\n", srv.ID, status, len(srv.Tools), srv.Address)
		if srv.LastError != "" {
			cmd.Printf("%-20s %s\n", "", shared.Muted.Render(fmt.Sprintf("last error: %s", srv.LastError)))
		}
	}
	return nil
}
