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

	"github.com/capbridge/capbridge/internal/bridge"
	"github.com/capbridge/capbridge/internal/commands/shared"
)

// newToolsCommand creates the 'server tools' command.
func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools <id>",
		Short: "List tools offered by a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools(cmd, args[0])
		},
	}
	return cmd
}

func runTools(cmd *cobra.Command, id string) error {
	logger := shared.NewLogger()
	b, err := shared.NewBridge(logger)
	if err != nil {
		return err
	}
	defer b.Close()

	b.DiscoverServer(cmd.Context(), id)

	srv, err := b.Get(id)
	if err != nil {
		return err
	}
	if srv.Status != bridge.StatusOnline {
		return fmt.Errorf("server %q is %s: %s", id, srv.Status, srv.LastError)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]any{"server": id, "tools": srv.Tools})
	}

	if len(srv.Tools) == 0 {
		cmd.Printf("Server %s offers no tools.\n", id)
		return nil
	}

	for _, tool := range srv.Tools {
		cmd.Printf("%s\n", shared.Bold.Render(tool.Name))
		if tool.Description != "" {
			cmd.Printf("  %s\n", tool.Description)
		}
		for _, p := range tool.Parameters {
			required := ""
			if p.Required {
				required = " (required)"
			}
			cmd.Printf("  %s %s: %s%s\n", shared.Muted.Render("-"), p.Name, p.Type, required)
		}
	}
	return nil
}
