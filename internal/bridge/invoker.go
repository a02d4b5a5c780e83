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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/capbridge/capbridge/internal/bus"
)

// Execute invokes a tool synchronously: request, wait, return the result.
// Preconditions (server online, tool known) and invocation failures are
// all returned as structured Results, never as errors or panics. The call
// is bounded by the execute timeout.
func (b *Bridge) Execute(ctx context.Context, serverID, toolName string, params map[string]any) Result {
	state, res, ok := b.checkInvocation(serverID, toolName)
	if !ok {
		recordInvocation("sync", false)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.ExecuteTimeout)
	defer cancel()

	body, err := json.Marshal(executeRequest{Tool: toolName, Parameters: params})
	if err != nil {
		recordInvocation("sync", false)
		return failure(CodeInvocationFailed, fmt.Sprintf("failed to encode parameters: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, state.Address+"/execute", bytes.NewReader(body))
	if err != nil {
		recordInvocation("sync", false)
		return failure(CodeInvocationFailed, fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		recordInvocation("sync", false)
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return failure(CodeTimeout, fmt.Sprintf("execute timed out after %s", b.opts.ExecuteTimeout))
		}
		return failure(CodeInvocationFailed, fmt.Sprintf("execute request failed: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		recordInvocation("sync", false)
		return failure(CodeInvocationFailed, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		recordInvocation("sync", false)
		return failure(CodeInvocationFailed, fmt.Sprintf("server returned status %d: %s", resp.StatusCode, truncate(data, 256)))
	}

	recordInvocation("sync", true)
	return Result{Success: true, Data: data}
}

// ExecuteAsync issues a correlated invocation over the duplex channel and
// returns the request id immediately. The result is delivered later on the
// bus tool:result topic (or tool:timeout after the pending TTL).
func (b *Bridge) ExecuteAsync(serverID, toolName string, params map[string]any) (string, error) {
	_, res, ok := b.checkInvocation(serverID, toolName)
	if !ok {
		recordInvocation("async", false)
		return "", NewError(res.Code, res.Error)
	}

	b.mu.RLock()
	state := b.servers[serverID]
	var conn *connection
	if state != nil {
		conn = state.conn
	}
	b.mu.RUnlock()

	if conn == nil {
		recordInvocation("async", false)
		return "", ErrNoConnection(serverID)
	}

	requestID := uuid.New().String()

	b.pendMu.Lock()
	b.pending[requestID] = PendingRequest{
		RequestID: requestID,
		ServerID:  serverID,
		ToolName:  toolName,
		IssuedAt:  time.Now(),
	}
	b.pendMu.Unlock()
	pendingRequests.Inc()

	if err := conn.send(NewExecuteTool(requestID, toolName, params)); err != nil {
		b.pendMu.Lock()
		delete(b.pending, requestID)
		b.pendMu.Unlock()
		pendingRequests.Dec()

		recordInvocation("async", false)
		return "", NewError(CodeChannelError, "failed to send execute_tool").WithDetail(err.Error()).WithCause(err)
	}

	b.logger.Debug("async invocation issued",
		"server", serverID,
		"tool", toolName,
		"request_id", requestID,
	)
	return requestID, nil
}

// checkInvocation validates the shared invocation preconditions and
// returns a server snapshot on success.
func (b *Bridge) checkInvocation(serverID, toolName string) (Server, Result, bool) {
	srv, err := b.Get(serverID)
	if err != nil {
		return Server{}, failure(CodeServerNotFound, err.Error()), false
	}

	if srv.Status != StatusOnline {
		return Server{}, failure(CodeServerOffline,
			fmt.Sprintf("server %q is %s, not online", serverID, srv.Status)), false
	}

	for _, tool := range srv.Tools {
		if tool.Name == toolName {
			return srv, Result{}, true
		}
	}
	return Server{}, failure(CodeToolNotFound,
		fmt.Sprintf("tool %q not found on server %q", toolName, serverID)), false
}

// resolvePending routes an inbound tool_result to its pending request and
// publishes it. A result with no matching pending entry (already expired,
// duplicate, or unknown) is logged and dropped.
func (b *Bridge) resolvePending(serverID string, env Envelope) {
	b.pendMu.Lock()
	pending, exists := b.pending[env.RequestID]
	if exists {
		delete(b.pending, env.RequestID)
	}
	b.pendMu.Unlock()

	if !exists {
		b.logger.Warn("tool_result with no pending request",
			"server", serverID,
			"request_id", env.RequestID,
		)
		return
	}

	pendingRequests.Dec()
	recordInvocation("async", true)

	b.logger.Debug("async invocation resolved",
		"server", serverID,
		"tool", pending.ToolName,
		"request_id", env.RequestID,
		"duration_ms", time.Since(pending.IssuedAt).Milliseconds(),
	)

	b.bus.Publish(bus.Event{
		Topic:    bus.TopicToolResult,
		ServerID: pending.ServerID,
		Payload: map[string]any{
			"request_id": pending.RequestID,
			"tool":       pending.ToolName,
			"result":     json.RawMessage(env.Result),
		},
	})
}

// discardPending silently drops all pending requests for a server. Used on
// disconnect and unregistration; no events are emitted for abandoned
// requests.
func (b *Bridge) discardPending(serverID string) {
	b.pendMu.Lock()
	var dropped int
	for id, pending := range b.pending {
		if pending.ServerID == serverID {
			delete(b.pending, id)
			dropped++
		}
	}
	b.pendMu.Unlock()

	if dropped > 0 {
		pendingRequests.Sub(float64(dropped))
		b.logger.Info("discarded pending requests", "server", serverID, "count", dropped)
	}
}

// PendingCount returns the number of outstanding asynchronous invocations.
func (b *Bridge) PendingCount() int {
	b.pendMu.Lock()
	defer b.pendMu.Unlock()
	return len(b.pending)
}

// runPendingSweep expires pending requests older than the TTL so a server
// that silently drops a request cannot leak entries forever. Each expired
// request emits one tool:timeout event.
func (b *Bridge) runPendingSweep() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.expirePending(time.Now())
		case <-b.ctx.Done():
			return
		}
	}
}

// expirePending removes pending requests issued before now minus the TTL.
func (b *Bridge) expirePending(now time.Time) {
	cutoff := now.Add(-b.opts.PendingTTL)

	b.pendMu.Lock()
	var expired []PendingRequest
	for id, pending := range b.pending {
		if pending.IssuedAt.Before(cutoff) {
			delete(b.pending, id)
			expired = append(expired, pending)
		}
	}
	b.pendMu.Unlock()

	for _, pending := range expired {
		pendingRequests.Dec()
		recordInvocation("async", false)
		b.logger.Warn("async invocation timed out",
			"server", pending.ServerID,
			"tool", pending.ToolName,
			"request_id", pending.RequestID,
		)
		b.bus.Publish(bus.Event{
			Topic:    bus.TopicToolTimeout,
			ServerID: pending.ServerID,
			Payload: map[string]any{
				"request_id": pending.RequestID,
				"tool":       pending.ToolName,
			},
		})
	}
}

// truncate bounds error payloads included in failure messages.
func truncate(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
