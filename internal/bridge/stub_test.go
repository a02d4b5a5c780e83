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
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/capbridge/capbridge/internal/config"
)

// stubServer is a fake capability server covering the full surface the
// bridge talks to: info/tools/execute/shutdown plus the websocket channel.
type stubServer struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	tools []toolPayload

	execStatus int
	execBody   string

	infoCalls atomic.Int32
	shutdowns atomic.Int32

	upgrader websocket.Upgrader

	connMu  sync.Mutex
	conns   []*websocket.Conn
	inbound chan Envelope
}

func newStubServer(t *testing.T, tools ...toolPayload) *stubServer {
	t.Helper()

	s := &stubServer{
		t:          t,
		tools:      tools,
		execStatus: http.StatusOK,
		execBody:   `{"echo":"ok"}`,
		inbound:    make(chan Envelope, 32),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	mux.HandleFunc("/ws", s.handleWS)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.close)
	return s
}

func (s *stubServer) addr() string {
	return s.srv.URL
}

func (s *stubServer) close() {
	s.connMu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
	s.connMu.Unlock()
	s.srv.Close()
}

func (s *stubServer) setTools(tools []toolPayload) {
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

func (s *stubServer) setExecute(status int, body string) {
	s.mu.Lock()
	s.execStatus = status
	s.execBody = body
	s.mu.Unlock()
}

func (s *stubServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.infoCalls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infoResponse{
		Name:         "stub",
		Description:  "stub capability server",
		Capabilities: []string{"tools"},
	})
}

func (s *stubServer) handleTools(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tools := s.tools
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toolsResponse{Tools: tools})
}

func (s *stubServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status, body := s.execStatus, s.execBody
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (s *stubServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.shutdowns.Add(1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *stubServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.connMu.Lock()
	s.conns = append(s.conns, conn)
	s.connMu.Unlock()

	go func() {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			select {
			case s.inbound <- env:
			default:
			}
		}
	}()
}

// push sends an envelope to the bridge over the most recent channel.
func (s *stubServer) push(env Envelope) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if len(s.conns) == 0 {
		s.t.Fatal("no websocket connection to push on")
	}
	if err := s.conns[len(s.conns)-1].WriteJSON(env); err != nil {
		s.t.Fatalf("push failed: %v", err)
	}
}

// waitInbound waits for the next envelope of the given type from the bridge.
func (s *stubServer) waitInbound(msgType MessageType, timeout time.Duration) (Envelope, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case env := <-s.inbound:
			if env.Type == msgType {
				return env, true
			}
		case <-deadline:
			return Envelope{}, false
		}
	}
}

// calcTool is the tool used by most tests.
func calcTool() toolPayload {
	return toolPayload{
		Name:        "add",
		Description: "Add two numbers",
		Parameters: []Parameter{
			{Name: "a", Type: ParameterNumber, Required: true},
			{Name: "b", Type: ParameterNumber, Required: true},
		},
	}
}

// newTestBridge builds a bridge with short timers and a quiet logger.
func newTestBridge(t *testing.T, opts Options) *Bridge {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	if opts.ExecuteTimeout == 0 {
		opts.ExecuteTimeout = 2 * time.Second
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 50 * time.Millisecond
	}
	if opts.ProcessLogDir == "" {
		opts.ProcessLogDir = t.TempDir()
	}

	b := New(opts)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// seedWithAddress builds a minimal seed for tests.
func seedWithAddress(id, addr string) config.ServerSeed {
	return config.ServerSeed{ID: id, Address: addr}
}

// registerStub registers a stub server under the given id.
func registerStub(t *testing.T, b *Bridge, id string, s *stubServer) {
	t.Helper()
	err := b.Register(config.ServerSeed{ID: id, Address: s.addr()})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", id, err)
	}
}
