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
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capbridge/capbridge/internal/bus"
)

// onlineBridge registers a stub, discovers it, and waits for the duplex
// channel handshake so invocation tests start from a connected server.
func onlineBridge(t *testing.T, stub *stubServer, opts Options) *Bridge {
	t.Helper()

	b := newTestBridge(t, opts)
	registerStub(t, b, "calc", stub)
	b.DiscoverServer(context.Background(), "calc")

	srv, err := b.Get("calc")
	require.NoError(t, err)
	require.Equal(t, StatusOnline, srv.Status)
	require.True(t, srv.Connected)

	_, ok := stub.waitInbound(MessageHello, 2*time.Second)
	require.True(t, ok, "hello handshake never arrived")
	return b
}

func TestExecuteSuccess(t *testing.T) {
	stub := newStubServer(t, calcTool())
	stub.setExecute(http.StatusOK, `{"sum":3}`)
	b := onlineBridge(t, stub, Options{})

	res := b.Execute(context.Background(), "calc", "add", map[string]any{"a": 1, "b": 2})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.JSONEq(t, `{"sum":3}`, string(res.Data))
	assert.Empty(t, res.Error)
}

func TestExecuteServerNotFound(t *testing.T) {
	b := newTestBridge(t, Options{})

	res := b.Execute(context.Background(), "nope", "add", nil)

	assert.False(t, res.Success)
	assert.Equal(t, CodeServerNotFound, res.Code)
}

func TestExecuteServerOffline(t *testing.T) {
	b := newTestBridge(t, Options{})
	require.NoError(t, b.Register(seedWithAddress("calc", "http://127.0.0.1:1")))

	res := b.Execute(context.Background(), "calc", "add", nil)

	assert.False(t, res.Success)
	assert.Equal(t, CodeServerOffline, res.Code)
	assert.NotEmpty(t, res.Error)
}

func TestExecuteToolNotFound(t *testing.T) {
	stub := newStubServer(t, calcTool())
	b := onlineBridge(t, stub, Options{})

	res := b.Execute(context.Background(), "calc", "does-not-exist", nil)

	assert.False(t, res.Success)
	assert.Equal(t, CodeToolNotFound, res.Code)
}

func TestExecuteInvocationFailed(t *testing.T) {
	stub := newStubServer(t, calcTool())
	stub.setExecute(http.StatusInternalServerError, `{"error":"division by zero"}`)
	b := onlineBridge(t, stub, Options{})

	res := b.Execute(context.Background(), "calc", "add", nil)

	assert.False(t, res.Success)
	assert.Equal(t, CodeInvocationFailed, res.Code)
	assert.Contains(t, res.Error, "division by zero")
}

func TestExecuteAsyncDeliversResult(t *testing.T) {
	stub := newStubServer(t, calcTool())
	b := onlineBridge(t, stub, Options{})

	var mu sync.Mutex
	var results []bus.Event
	b.Bus().Subscribe(bus.TopicToolResult, func(evt bus.Event) {
		mu.Lock()
		results = append(results, evt)
		mu.Unlock()
	})

	requestID, err := b.ExecuteAsync("calc", "add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.NotEmpty(t, requestID)
	assert.Equal(t, 1, b.PendingCount())

	env, ok := stub.waitInbound(MessageExecuteTool, 2*time.Second)
	require.True(t, ok, "execute_tool never reached the server")
	assert.Equal(t, requestID, env.RequestID)
	assert.Equal(t, "add", env.Tool)

	stub.push(NewToolResult(requestID, json.RawMessage(`{"sum":3}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	evt := results[0]
	mu.Unlock()
	assert.Equal(t, "calc", evt.ServerID)
	assert.Equal(t, requestID, evt.Payload["request_id"])
	assert.Equal(t, "add", evt.Payload["tool"])
	assert.Equal(t, 0, b.PendingCount())
}

func TestExecuteAsyncDuplicateResultDropped(t *testing.T) {
	stub := newStubServer(t, calcTool())
	b := onlineBridge(t, stub, Options{})

	var mu sync.Mutex
	var results int
	b.Bus().Subscribe(bus.TopicToolResult, func(bus.Event) {
		mu.Lock()
		results++
		mu.Unlock()
	})

	requestID, err := b.ExecuteAsync("calc", "add", nil)
	require.NoError(t, err)

	stub.push(NewToolResult(requestID, json.RawMessage(`{}`)))
	stub.push(NewToolResult(requestID, json.RawMessage(`{}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return results >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give the duplicate time to arrive; it must not publish a second event.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, results)
}

func TestExecuteAsyncUniqueRequestIDs(t *testing.T) {
	stub := newStubServer(t, calcTool())
	b := onlineBridge(t, stub, Options{})

	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		id, err := b.ExecuteAsync("calc", "add", nil)
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "request id %q repeated", id)
		seen[id] = struct{}{}
	}
	assert.Equal(t, 20, b.PendingCount())
}

func TestExecuteAsyncPreconditions(t *testing.T) {
	b := newTestBridge(t, Options{})

	_, err := b.ExecuteAsync("nope", "add", nil)
	require.Error(t, err)
	assert.Equal(t, CodeServerNotFound, CodeOf(err))

	require.NoError(t, b.Register(seedWithAddress("calc", "http://127.0.0.1:1")))
	_, err = b.ExecuteAsync("calc", "add", nil)
	require.Error(t, err)
	assert.Equal(t, CodeServerOffline, CodeOf(err))
}

func TestExpirePendingEmitsTimeout(t *testing.T) {
	stub := newStubServer(t, calcTool())
	b := onlineBridge(t, stub, Options{PendingTTL: 10 * time.Millisecond})

	var mu sync.Mutex
	var timeouts []bus.Event
	b.Bus().Subscribe(bus.TopicToolTimeout, func(evt bus.Event) {
		mu.Lock()
		timeouts = append(timeouts, evt)
		mu.Unlock()
	})

	requestID, err := b.ExecuteAsync("calc", "add", nil)
	require.NoError(t, err)
	require.Equal(t, 1, b.PendingCount())

	b.expirePending(time.Now().Add(time.Second))

	assert.Equal(t, 0, b.PendingCount())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, timeouts, 1)
	assert.Equal(t, "calc", timeouts[0].ServerID)
	assert.Equal(t, requestID, timeouts[0].Payload["request_id"])
}

func TestUnregisterDiscardsPendingSilently(t *testing.T) {
	stub := newStubServer(t, calcTool())
	b := onlineBridge(t, stub, Options{})

	var mu sync.Mutex
	var timeouts, results int
	b.Bus().Subscribe(bus.TopicToolTimeout, func(bus.Event) {
		mu.Lock()
		timeouts++
		mu.Unlock()
	})
	b.Bus().Subscribe(bus.TopicToolResult, func(bus.Event) {
		mu.Lock()
		results++
		mu.Unlock()
	})

	_, err := b.ExecuteAsync("calc", "add", nil)
	require.NoError(t, err)
	require.Equal(t, 1, b.PendingCount())

	require.NoError(t, b.Unregister("calc"))

	assert.Equal(t, 0, b.PendingCount())
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, timeouts)
	assert.Zero(t, results)
}
