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
)

// newRemoveCommand creates the 'server remove' command.
func newRemoveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a capability server from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, args[0])
		},
	}
	return cmd
}

func runRemove(cmd *cobra.Command, id string) error {
	logger := shared.NewLogger()
	b, err := shared.NewBridge(logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Unregister(id); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]any{"removed": id})
	}
	cmd.Println(shared.RenderOK(fmt.Sprintf("removed %s", id)))
	return nil
}
