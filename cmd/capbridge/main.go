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

package main

import (
	"fmt"
	"os"

	"github.com/capbridge/capbridge/internal/commands"
	"github.com/capbridge/capbridge/internal/commands/call"
	"github.com/capbridge/capbridge/internal/commands/run"
	"github.com/capbridge/capbridge/internal/commands/server"
	"github.com/capbridge/capbridge/internal/commands/shared"
	versioncmd "github.com/capbridge/capbridge/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	shared.SetVersion(version, commit, buildDate)

	rootCmd := commands.NewRootCommand()
	rootCmd.AddCommand(server.NewCommand())
	rootCmd.AddCommand(call.NewCommand())
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(versioncmd.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, shared.RenderError(err.Error()))
		os.Exit(1)
	}
}
