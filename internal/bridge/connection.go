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
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/capbridge/capbridge/internal/bus"
)

// connection is one duplex channel to an online capability server.
// Writes are serialized by sendMu; the read loop is the only reader.
type connection struct {
	serverID string
	ws       *websocket.Conn
	logger   *slog.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// send writes an envelope to the channel.
func (c *connection) send(env Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.ws.WriteJSON(env)
}

// close tears down the channel. Safe to call more than once.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(time.Second),
		)
		c.sendMu.Unlock()
		_ = c.ws.Close()
		close(c.done)
	})
}

// channelURL converts a server's HTTP base address to its websocket endpoint.
func channelURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// Already a websocket address.
	default:
		return "", fmt.Errorf("unsupported address scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// ensureConnection opens the duplex channel to a server if none is open.
// Dial or handshake failures are logged and left for the next discovery
// cycle; they do not change the server's status.
func (b *Bridge) ensureConnection(id string) {
	b.mu.RLock()
	state, exists := b.servers[id]
	if !exists || state.conn != nil {
		b.mu.RUnlock()
		return
	}
	address := state.seed.Address
	b.mu.RUnlock()

	wsURL, err := channelURL(address)
	if err != nil {
		b.logger.Warn("cannot derive channel url", "server", id, "error", err)
		return
	}

	ws, _, err := b.dialer.Dial(wsURL, nil)
	if err != nil {
		b.logger.Warn("channel dial failed", "server", id, "url", wsURL, "error", err)
		return
	}

	conn := &connection{
		serverID: id,
		ws:       ws,
		logger:   b.logger,
		done:     make(chan struct{}),
	}

	if err := conn.send(NewHello(b.opts.ClientName)); err != nil {
		b.logger.Warn("channel handshake failed", "server", id, "error", err)
		_ = ws.Close()
		return
	}

	b.mu.Lock()
	state, exists = b.servers[id]
	if !exists {
		// Unregistered while dialing; drop the fresh channel.
		b.mu.Unlock()
		conn.close()
		return
	}
	if state.conn != nil {
		// A racing discovery already connected; keep the existing channel.
		b.mu.Unlock()
		conn.close()
		return
	}
	state.conn = conn
	b.mu.Unlock()

	connectionsOpen.Inc()
	b.logger.Info("channel connected", "server", id)

	b.wg.Add(2)
	go b.readLoop(conn)
	go b.heartbeatLoop(conn)
}

// readLoop dispatches inbound envelopes until the channel closes.
func (b *Bridge) readLoop(conn *connection) {
	defer b.wg.Done()

	for {
		var env Envelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warn("channel read error", "server", conn.serverID, "error", err)
			}
			b.dropConnection(conn)
			return
		}
		b.dispatch(conn.serverID, env)
	}
}

// dispatch routes one inbound envelope by its type tag.
func (b *Bridge) dispatch(serverID string, env Envelope) {
	if err := env.Validate(); err != nil {
		b.logger.Warn("dropping malformed envelope", "server", serverID, "error", err)
		return
	}

	switch env.Type {
	case MessageHello:
		b.logger.Info("channel hello", "server", serverID, "client", env.Client, "version", env.Version)

	case MessageHeartbeat:
		b.logger.Debug("channel heartbeat", "server", serverID, "timestamp", env.Timestamp)

	case MessageToolResult:
		b.resolvePending(serverID, env)

	case MessageEvent:
		// Server-originated events are re-broadcast as-is.
		b.bus.Publish(bus.Event{
			Topic:    bus.TopicServerEvent,
			ServerID: serverID,
			Message:  env.Event,
			Payload:  map[string]any{"event": env.Event, "data": env.Data},
		})

	case MessageError:
		// Channel-level errors do not close the channel.
		b.logger.Error("channel error from server", "server", serverID, "error", env.Error)
		b.bus.Publish(bus.Event{
			Topic:    bus.TopicServerError,
			ServerID: serverID,
			Message:  env.Error,
		})

	case MessageExecuteTool:
		// Only the bridge issues execute_tool; a server sending one is a
		// protocol violation.
		b.logger.Warn("unexpected execute_tool from server", "server", serverID, "request_id", env.RequestID)
	}
}

// heartbeatLoop sends keep-alives until the channel closes. A failed send
// means the channel is gone; the error is swallowed and the loop ends.
func (b *Bridge) heartbeatLoop(conn *connection) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.send(NewHeartbeat(time.Now())); err != nil {
				b.logger.Debug("heartbeat send failed", "server", conn.serverID, "error", err)
				return
			}
			heartbeatsSent.WithLabelValues(conn.serverID).Inc()

		case <-conn.done:
			return

		case <-b.ctx.Done():
			return
		}
	}
}

// dropConnection discards a closed channel. The server's status is left
// for the next discovery cycle to re-evaluate, which may immediately
// reconnect if the server is still reachable.
func (b *Bridge) dropConnection(conn *connection) {
	conn.close()

	b.mu.Lock()
	state, exists := b.servers[conn.serverID]
	if exists && state.conn == conn {
		state.conn = nil
	}
	b.mu.Unlock()

	connectionsOpen.Dec()
	b.logger.Info("channel closed", "server", conn.serverID)
	b.discardPending(conn.serverID)
}
