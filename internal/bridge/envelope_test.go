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

package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"hello", NewHello("capbridge"), false},
		{"hello without client", Envelope{Type: MessageHello, Version: ChannelVersion}, true},
		{"heartbeat", NewHeartbeat(time.Now()), false},
		{"heartbeat without timestamp", Envelope{Type: MessageHeartbeat}, true},
		{"execute_tool", NewExecuteTool("req-1", "add", map[string]any{"a": 1}), false},
		{"execute_tool without request id", Envelope{Type: MessageExecuteTool, Tool: "add"}, true},
		{"execute_tool without tool", Envelope{Type: MessageExecuteTool, RequestID: "req-1"}, true},
		{"tool_result", NewToolResult("req-1", json.RawMessage(`{"sum":3}`)), false},
		{"tool_result without request id", Envelope{Type: MessageToolResult, Result: json.RawMessage(`{}`)}, true},
		{"event", NewEventEnvelope("progress", json.RawMessage(`{"pct":50}`)), false},
		{"event without name", Envelope{Type: MessageEvent}, true},
		{"error", NewErrorEnvelope("boom"), false},
		{"error without message", Envelope{Type: MessageError}, true},
		{"blank type", Envelope{}, true},
		{"unknown type", Envelope{Type: "telemetry"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewExecuteTool("req-42", "add", map[string]any{"a": float64(1), "b": float64(2)})

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var got Envelope
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, MessageExecuteTool, got.Type)
	assert.Equal(t, "req-42", got.RequestID)
	assert.Equal(t, "add", got.Tool)
	assert.Equal(t, env.Parameters, got.Parameters)
	require.NoError(t, got.Validate())
}

func TestEnvelopeUnknownTypeRejected(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"totally_new","payload":{}}`), &env))
	assert.Error(t, env.Validate())
}
