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

// newStartCommand creates the 'server start' command.
func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Bring a capability server up",
		Long: `Bring a capability server up.

If the server is already reachable the command succeeds immediately.
Otherwise its configured launcher is spawned and the server is probed
again after a settle delay.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, args[0])
		},
	}
	return cmd
}

func runStart(cmd *cobra.Command, id string) error {
	logger := shared.NewLogger()
	b, err := shared.NewBridge(logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if !b.StartServer(cmd.Context(), id) {
		return fmt.Errorf("failed to start server %q", id)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]any{"started": id})
	}
	cmd.Println(shared.RenderOK(fmt.Sprintf("server %s is up", id)))
	return nil
}

// newStopCommand creates the 'server stop' command.
func newStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Bring a capability server down",
		Long: `Bring a capability server down.

A graceful shutdown is requested first; if the server does not respond
and the bridge spawned it, the tracked process is terminated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, args[0])
		},
	}
	return cmd
}

func runStop(cmd *cobra.Command, id string) error {
	logger := shared.NewLogger()
	b, err := shared.NewBridge(logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if !b.StopServer(cmd.Context(), id) {
		return fmt.Errorf("failed to stop server %q", id)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(map[string]any{"stopped": id})
	}
	cmd.Println(shared.RenderOK(fmt.Sprintf("server %s is down", id)))
	return nil
}
