package bridge

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a capability server.
type Status string

const (
	// StatusOffline indicates the server has not been probed successfully yet.
	StatusOffline Status = "offline"
	// StatusDiscovering indicates a probe or reconnect is in flight.
	StatusDiscovering Status = "discovering"
	// StatusOnline indicates the last discovery cycle succeeded.
	StatusOnline Status = "online"
	// StatusError indicates the last discovery cycle failed.
	StatusError Status = "error"
)

// Server is a snapshot of a registered capability server.
type Server struct {
	// ID is the unique identifier for this server.
	ID string `json:"id"`

	// Name is a human-readable name, refreshed from the server's info endpoint.
	Name string `json:"name"`

	// Description explains what the server offers.
	Description string `json:"description,omitempty"`

	// Address is the base URL the server is reachable at.
	Address string `json:"address"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Capabilities are the capability tags the server declares.
	Capabilities []string `json:"capabilities,omitempty"`

	// Tools is the catalog from the most recent successful discovery.
	Tools []Tool `json:"tools,omitempty"`

	// LastConnectedAt is the time of the last successful discovery.
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`

	// LastError is the most recent probe or channel error.
	// Non-empty whenever Status is StatusError.
	LastError string `json:"last_error,omitempty"`

	// Connected reports whether a duplex channel is currently open.
	Connected bool `json:"connected"`
}

// Tool is a named remote operation offered by a capability server.
// Identity is (ServerID, Name); names need not be unique across servers.
type Tool struct {
	// Name is the tool identifier within its server.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description,omitempty"`

	// ServerID identifies the owning server.
	ServerID string `json:"server_id"`

	// Parameters describe the tool's inputs.
	Parameters []Parameter `json:"parameters,omitempty"`

	// ReturnSchema optionally describes the result shape.
	ReturnSchema json.RawMessage `json:"return_schema,omitempty"`
}

// ParameterType enumerates the accepted parameter types.
type ParameterType string

const (
	ParameterString  ParameterType = "string"
	ParameterNumber  ParameterType = "number"
	ParameterBoolean ParameterType = "boolean"
	ParameterArray   ParameterType = "array"
	ParameterObject  ParameterType = "object"
)

// Parameter describes one input of a tool.
type Parameter struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Type        ParameterType `json:"type"`
	Required    bool          `json:"required,omitempty"`
	Default     any           `json:"default,omitempty"`
}

// PendingRequest tracks an asynchronous invocation awaiting its result.
// Entries live only in memory and are removed exactly once: by a matching
// tool_result, by expiry, or by server unregistration/disconnect.
type PendingRequest struct {
	RequestID string    `json:"request_id"`
	ServerID  string    `json:"server_id"`
	ToolName  string    `json:"tool_name"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Result is the outcome of a tool invocation. Invocation failures are
// returned as values with Success=false, never raised as errors.
type Result struct {
	// Success reports whether the invocation succeeded.
	Success bool `json:"success"`

	// Data is the raw result payload on success.
	Data json.RawMessage `json:"data,omitempty"`

	// Error describes the failure on Success=false.
	Error string `json:"error,omitempty"`

	// Code classifies the failure so callers can tell a precondition
	// failure (server offline, unknown tool) from a tool-level failure.
	Code ErrorCode `json:"code,omitempty"`
}

// failure builds a failed Result.
func failure(code ErrorCode, msg string) Result {
	return Result{Success: false, Error: msg, Code: code}
}

// infoResponse is the payload of GET /info.
type infoResponse struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// toolsResponse is the payload of GET /tools.
type toolsResponse struct {
	Tools []toolPayload `json:"tools"`
}

// toolPayload is one tool entry as a server reports it.
type toolPayload struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Parameters   []Parameter     `json:"parameters"`
	ReturnSchema json.RawMessage `json:"returnSchema,omitempty"`
}

// executeRequest is the body of POST /execute.
type executeRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}
