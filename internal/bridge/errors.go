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
	"errors"
	"fmt"
)

// ErrorCode classifies bridge failures.
type ErrorCode string

const (
	// CodeServerNotFound indicates the server id is not registered.
	CodeServerNotFound ErrorCode = "SERVER_NOT_FOUND"
	// CodeServerOffline indicates the server is not online.
	CodeServerOffline ErrorCode = "SERVER_OFFLINE"
	// CodeNoConnection indicates no duplex channel is open to the server.
	CodeNoConnection ErrorCode = "NO_CONNECTION"
	// CodeToolNotFound indicates the tool is absent from the server's catalog.
	CodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"
	// CodeInvocationFailed indicates the remote tool reported failure.
	CodeInvocationFailed ErrorCode = "INVOCATION_FAILED"
	// CodeTimeout indicates an invocation exceeded its deadline.
	CodeTimeout ErrorCode = "TIMEOUT"
	// CodeChannelError indicates a duplex channel send failed.
	CodeChannelError ErrorCode = "CHANNEL_ERROR"
	// CodeAlreadyExists indicates a server id is already registered.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	// CodeConfig indicates invalid server configuration.
	CodeConfig ErrorCode = "CONFIG"
)

// BridgeError carries a machine-readable code alongside the message.
type BridgeError struct {
	// Code is the failure category.
	Code ErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new BridgeError.
func NewError(code ErrorCode, message string) *BridgeError {
	return &BridgeError{Code: code, Message: message}
}

// WithDetail adds detail to the error.
func (e *BridgeError) WithDetail(detail string) *BridgeError {
	e.Detail = detail
	return e
}

// WithCause adds an underlying cause to the error.
func (e *BridgeError) WithCause(cause error) *BridgeError {
	e.Cause = cause
	return e
}

// ErrServerNotFound reports an unregistered server id.
func ErrServerNotFound(id string) *BridgeError {
	return NewError(CodeServerNotFound, fmt.Sprintf("capability server %q not found", id))
}

// ErrServerAlreadyExists reports a duplicate registration.
func ErrServerAlreadyExists(id string) *BridgeError {
	return NewError(CodeAlreadyExists, fmt.Sprintf("capability server %q already registered", id))
}

// ErrServerOffline reports an invocation against a server that is not online.
func ErrServerOffline(id string) *BridgeError {
	return NewError(CodeServerOffline, fmt.Sprintf("capability server %q is not online", id))
}

// ErrNoConnection reports a missing duplex channel.
func ErrNoConnection(id string) *BridgeError {
	return NewError(CodeNoConnection, fmt.Sprintf("no open channel to capability server %q", id))
}

// ErrToolNotFound reports an unknown tool on a server.
func ErrToolNotFound(id, tool string) *BridgeError {
	return NewError(CodeToolNotFound, fmt.Sprintf("tool %q not found on server %q", tool, id))
}

// CodeOf extracts the ErrorCode from an error chain, or "" if the error
// is not a BridgeError.
func CodeOf(err error) ErrorCode {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
