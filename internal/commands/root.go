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

// Package commands builds the capbridge command tree.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/capbridge/capbridge/internal/commands/shared"
)

// NewRootCommand creates the capbridge root command with global flags.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capbridge",
		Short: "Bridge to self-hosted capability servers",
		Long: `capbridge manages a registry of capability servers, discovers the
tools they offer, and invokes those tools synchronously or over a
duplex channel.

Commands:
  server    Manage registered capability servers
  call      Invoke a tool on a capability server
  run       Run the bridge daemon
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	shared.RegisterGlobalFlags(cmd.PersistentFlags())

	return cmd
}
