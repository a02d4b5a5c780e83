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
	"errors"
	"fmt"
	"time"
)

// Channel protocol version sent in the hello handshake.
const ChannelVersion = "1.0"

var (
	// ErrInvalidEnvelope is returned when an envelope fails validation.
	ErrInvalidEnvelope = errors.New("bridge: invalid channel envelope")
)

// MessageType identifies the variant of a channel envelope.
type MessageType string

const (
	// MessageHello is the handshake sent when a channel opens.
	MessageHello MessageType = "hello"
	// MessageHeartbeat is the periodic keep-alive.
	MessageHeartbeat MessageType = "heartbeat"
	// MessageExecuteTool is a correlated asynchronous invocation request.
	MessageExecuteTool MessageType = "execute_tool"
	// MessageToolResult delivers the result of an asynchronous invocation.
	MessageToolResult MessageType = "tool_result"
	// MessageEvent is a server-originated event for re-broadcast.
	MessageEvent MessageType = "event"
	// MessageError reports a channel-level error from the server.
	MessageError MessageType = "error"
)

// Envelope is the tagged union carried on the duplex channel. Exactly one
// variant's fields are populated, selected by Type.
type Envelope struct {
	// Type selects the variant.
	Type MessageType `json:"type"`

	// Client and Version identify the caller (hello).
	Client  string `json:"client,omitempty"`
	Version string `json:"version,omitempty"`

	// Timestamp is the keep-alive send time in Unix milliseconds (heartbeat).
	Timestamp int64 `json:"timestamp,omitempty"`

	// RequestID correlates execute_tool with its tool_result.
	RequestID string `json:"requestId,omitempty"`

	// Tool and Parameters describe the invocation (execute_tool).
	Tool       string         `json:"tool,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Result is the invocation outcome (tool_result).
	Result json.RawMessage `json:"result,omitempty"`

	// Event and Data carry a server-originated event (event).
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`

	// Error describes a channel-level error (error).
	Error string `json:"error,omitempty"`
}

// NewHello creates the handshake envelope identifying the caller.
func NewHello(client string) Envelope {
	return Envelope{
		Type:    MessageHello,
		Client:  client,
		Version: ChannelVersion,
	}
}

// NewHeartbeat creates a keep-alive envelope.
func NewHeartbeat(now time.Time) Envelope {
	return Envelope{
		Type:      MessageHeartbeat,
		Timestamp: now.UnixMilli(),
	}
}

// NewExecuteTool creates a correlated asynchronous invocation envelope.
func NewExecuteTool(requestID, tool string, params map[string]any) Envelope {
	return Envelope{
		Type:       MessageExecuteTool,
		RequestID:  requestID,
		Tool:       tool,
		Parameters: params,
	}
}

// NewToolResult creates a result envelope for the given request.
func NewToolResult(requestID string, result json.RawMessage) Envelope {
	return Envelope{
		Type:      MessageToolResult,
		RequestID: requestID,
		Result:    result,
	}
}

// NewEventEnvelope creates a server-event envelope.
func NewEventEnvelope(event string, data json.RawMessage) Envelope {
	return Envelope{
		Type:  MessageEvent,
		Event: event,
		Data:  data,
	}
}

// NewErrorEnvelope creates a channel-error envelope.
func NewErrorEnvelope(msg string) Envelope {
	return Envelope{
		Type:  MessageError,
		Error: msg,
	}
}

// Validate checks that the envelope is well-formed for its variant.
func (e Envelope) Validate() error {
	switch e.Type {
	case MessageHello:
		if e.Client == "" {
			return fmt.Errorf("%w: hello missing client", ErrInvalidEnvelope)
		}
	case MessageHeartbeat:
		if e.Timestamp == 0 {
			return fmt.Errorf("%w: heartbeat missing timestamp", ErrInvalidEnvelope)
		}
	case MessageExecuteTool:
		if e.RequestID == "" {
			return fmt.Errorf("%w: execute_tool missing requestId", ErrInvalidEnvelope)
		}
		if e.Tool == "" {
			return fmt.Errorf("%w: execute_tool missing tool", ErrInvalidEnvelope)
		}
	case MessageToolResult:
		if e.RequestID == "" {
			return fmt.Errorf("%w: tool_result missing requestId", ErrInvalidEnvelope)
		}
	case MessageEvent:
		if e.Event == "" {
			return fmt.Errorf("%w: event missing event name", ErrInvalidEnvelope)
		}
	case MessageError:
		if e.Error == "" {
			return fmt.Errorf("%w: error missing message", ErrInvalidEnvelope)
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEnvelope, e.Type)
	}
	return nil
}
