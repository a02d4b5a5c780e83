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

// Package call implements the 'capbridge call' command.
package call

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/capbridge/capbridge/internal/bus"
	"github.com/capbridge/capbridge/internal/commands/shared"
)

// NewCommand creates the call command.
func NewCommand() *cobra.Command {
	var (
		params  []string
		async   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Invoke a tool on a capability server",
		Long: `Invoke a tool on a registered capability server.

Parameters are passed as --param key=value pairs. Values that parse as
JSON (numbers, booleans, arrays, objects) are sent typed; everything
else is sent as a string.

By default the invocation is synchronous. With --async the request is
issued over the duplex channel and the command waits for the correlated
result event.`,
		Example: `  # Example 1: Synchronous invocation
  capbridge call calc add --param a=1 --param b=2

  # Example 2: Asynchronous invocation over the duplex channel
  capbridge call calc add --param a=1 --param b=2 --async

  # Example 3: JSON-typed parameter values
  capbridge call files search --param 'globs=["*.go","*.md"]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, args[0], args[1], params, async, timeout)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Tool parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&async, "async", false, "Invoke over the duplex channel and wait for the result event")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Invocation timeout")

	return cmd
}

func runCall(cmd *cobra.Command, serverID, toolName string, rawParams []string, async bool, timeout time.Duration) error {
	parameters, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	logger := shared.NewLogger()
	b, err := shared.NewBridge(logger)
	if err != nil {
		return err
	}
	defer b.Close()

	// Discovery brings the server online and opens the duplex channel.
	b.DiscoverServer(cmd.Context(), serverID)

	if async {
		return runAsyncCall(cmd, b, serverID, toolName, parameters, timeout)
	}

	res := b.Execute(cmd.Context(), serverID, toolName, parameters)

	if shared.GetJSON() {
		return shared.EmitJSON(res)
	}
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Code, res.Error)
	}
	cmd.Println(string(res.Data))
	return nil
}

// bridgeCaller is the surface of the bridge the async path needs.
type bridgeCaller interface {
	Bus() *bus.Bus
	ExecuteAsync(serverID, toolName string, params map[string]any) (string, error)
}

func runAsyncCall(cmd *cobra.Command, b bridgeCaller, serverID, toolName string, parameters map[string]any, timeout time.Duration) error {
	// Subscribe before issuing so the result cannot slip past.
	results := make(chan bus.Event, 8)
	unsubscribe := b.Bus().Subscribe(bus.TopicToolResult, func(evt bus.Event) {
		select {
		case results <- evt:
		default:
		}
	})
	defer unsubscribe()

	requestID, err := b.ExecuteAsync(serverID, toolName, parameters)
	if err != nil {
		return fmt.Errorf("async invocation failed: %w", err)
	}
	cmd.Printf("%s\n", shared.Muted.Render(fmt.Sprintf("request %s issued", requestID)))

	deadline := time.After(timeout)
	for {
		select {
		case evt := <-results:
			if evt.Payload["request_id"] != requestID {
				continue
			}
			result := evt.Payload["result"]
			if shared.GetJSON() {
				return shared.EmitJSON(map[string]any{"request_id": requestID, "result": result})
			}
			if raw, ok := result.(json.RawMessage); ok {
				cmd.Println(string(raw))
			} else {
				cmd.Printf("%v\n", result)
			}
			return nil

		case <-deadline:
			return fmt.Errorf("no result for request %s within %s", requestID, timeout)

		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}
}

// parseParams converts key=value flags into a parameter map. Values are
// decoded as JSON when possible so numbers and booleans keep their type.
func parseParams(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	params := make(map[string]any, len(raw))
	for _, pair := range raw {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", pair)
		}

		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			params[key] = typed
		} else {
			params[key] = value
		}
	}
	return params, nil
}
