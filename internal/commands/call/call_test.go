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

package call

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capbridge/capbridge/internal/bus"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"a=1", "b=true", "c=hello", `d=["x","y"]`, "e={\"k\":2}"})
	require.NoError(t, err)

	assert.Equal(t, float64(1), params["a"])
	assert.Equal(t, true, params["b"])
	assert.Equal(t, "hello", params["c"])
	assert.Equal(t, []any{"x", "y"}, params["d"])
	assert.Equal(t, map[string]any{"k": float64(2)}, params["e"])
}

func TestParseParamsInvalid(t *testing.T) {
	_, err := parseParams([]string{"missing-equals"})
	assert.Error(t, err)

	_, err = parseParams([]string{"=value"})
	assert.Error(t, err)
}

func TestParseParamsEmpty(t *testing.T) {
	params, err := parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)
}

// fakeCaller issues a canned request id and publishes the result after a
// short delay, standing in for a connected bridge.
type fakeCaller struct {
	bus       *bus.Bus
	requestID string
	result    json.RawMessage
}

func (f *fakeCaller) Bus() *bus.Bus { return f.bus }

func (f *fakeCaller) ExecuteAsync(serverID, toolName string, params map[string]any) (string, error) {
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.bus.Publish(bus.Event{
			Topic:    bus.TopicToolResult,
			ServerID: serverID,
			Payload: map[string]any{
				"request_id": f.requestID,
				"tool":       toolName,
				"result":     f.result,
			},
		})
	}()
	return f.requestID, nil
}

func TestRunAsyncCallWaitsForResult(t *testing.T) {
	caller := &fakeCaller{
		bus:       bus.New(),
		requestID: "req-1",
		result:    json.RawMessage(`{"sum":3}`),
	}

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := runAsyncCall(cmd, caller, "calc", "add", map[string]any{"a": 1, "b": 2}, time.Second)
	require.NoError(t, err)
	assert.Contains(t, out.String(), `{"sum":3}`)
	assert.Contains(t, out.String(), "req-1")
}

func TestRunAsyncCallTimesOut(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(new(bytes.Buffer))

	// A caller that never publishes a result.
	silent := &silentCaller{bus: bus.New()}
	err := runAsyncCall(cmd, silent, "calc", "add", nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no result")
}

type silentCaller struct {
	bus *bus.Bus
}

func (s *silentCaller) Bus() *bus.Bus { return s.bus }

func (s *silentCaller) ExecuteAsync(string, string, map[string]any) (string, error) {
	return "req-silent", nil
}
