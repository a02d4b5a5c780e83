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

// Discovery probes registered servers for liveness and refreshes their
// tool catalogs. Failures are recovered locally: the only externally
// visible effects are the status transition and an emitted event.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/capbridge/capbridge/internal/bus"
)

// runDiscoveryLoop runs one pass at startup and then one per interval.
func (b *Bridge) runDiscoveryLoop() {
	defer b.wg.Done()

	b.DiscoverAll(b.ctx)

	ticker := time.NewTicker(b.opts.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.DiscoverAll(b.ctx)
		case <-b.ctx.Done():
			return
		}
	}
}

// DiscoverAll runs one discovery cycle over every registered server.
// Servers are probed sequentially, so cycles for a given server never
// overlap. Probes are paced by the bridge rate limiter.
func (b *Bridge) DiscoverAll(ctx context.Context) {
	for _, id := range b.serverIDs() {
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		b.DiscoverServer(ctx, id)
	}
	discoveryCycles.Inc()
}

// DiscoverServer probes one server's info and tools endpoints and updates
// its registry entry. A server removed mid-probe is ignored; writes to an
// absent entry are dropped.
func (b *Bridge) DiscoverServer(ctx context.Context, id string) {
	b.mu.Lock()
	state, exists := b.servers[id]
	if !exists {
		b.mu.Unlock()
		return
	}
	address := state.seed.Address
	if state.status != StatusOnline {
		state.status = StatusDiscovering
	}
	b.mu.Unlock()

	var info infoResponse
	if err := b.getJSON(ctx, address+"/info", &info); err != nil {
		b.markError(id, fmt.Sprintf("info probe failed: %v", err))
		return
	}

	var tools toolsResponse
	if err := b.getJSON(ctx, address+"/tools", &tools); err != nil {
		b.markError(id, fmt.Sprintf("tools probe failed: %v", err))
		return
	}

	catalog := make([]Tool, 0, len(tools.Tools))
	for _, t := range tools.Tools {
		catalog = append(catalog, Tool{
			Name:         t.Name,
			Description:  t.Description,
			ServerID:     id,
			Parameters:   t.Parameters,
			ReturnSchema: t.ReturnSchema,
		})
	}

	b.mu.Lock()
	state, exists = b.servers[id]
	if !exists {
		b.mu.Unlock()
		return
	}
	wasOnline := state.status == StatusOnline
	toolsChanged := !sameCatalog(state.tools, catalog)

	if info.Name != "" {
		state.name = info.Name
	}
	if info.Description != "" {
		state.description = info.Description
	}
	if info.Capabilities != nil {
		state.capabilities = info.Capabilities
	}
	state.status = StatusOnline
	state.lastConnectedAt = time.Now()
	state.lastError = ""
	// Replaced wholesale, never merged; re-discovery is idempotent.
	state.tools = catalog
	b.mu.Unlock()

	b.logger.Debug("discovery succeeded", "server", id, "tools", len(catalog))

	if !wasOnline {
		b.bus.Publish(bus.Event{
			Topic:    bus.TopicServerOnline,
			ServerID: id,
			Message:  "server online",
		})
	}
	if toolsChanged {
		b.bus.Publish(bus.Event{
			Topic:    bus.TopicToolsDiscovered,
			ServerID: id,
			Payload:  map[string]any{"tool_count": len(catalog)},
		})
	}

	b.ensureConnection(id)
}

// markError records a failed probe: status becomes error, the channel (if
// any) is torn down, and a server:error event is emitted. The failure is
// retried automatically on the next cycle.
func (b *Bridge) markError(id, reason string) {
	b.mu.Lock()
	state, exists := b.servers[id]
	if !exists {
		b.mu.Unlock()
		return
	}
	state.status = StatusError
	state.lastError = reason
	conn := state.conn
	state.conn = nil
	b.mu.Unlock()

	if conn != nil {
		conn.close()
	}

	discoveryFailures.WithLabelValues(id).Inc()
	b.logger.Warn("discovery failed", "server", id, "error", reason)

	b.bus.Publish(bus.Event{
		Topic:    bus.TopicServerError,
		ServerID: id,
		Message:  reason,
	})
}

// sameCatalog reports whether two catalogs describe the same tools,
// independent of order. Any change to a tool's description, parameters,
// or return schema counts as a different catalog.
func sameCatalog(a, c []Tool) bool {
	if len(a) != len(c) {
		return false
	}
	byName := make(map[string]Tool, len(a))
	for _, t := range a {
		byName[t.Name] = t
	}
	for _, t := range c {
		prev, ok := byName[t.Name]
		if !ok || !reflect.DeepEqual(prev, t) {
			return false
		}
	}
	return true
}

// getJSON performs a GET bounded by the probe timeout and decodes the body.
func (b *Bridge) getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}
