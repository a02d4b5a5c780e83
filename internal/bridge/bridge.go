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
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/capbridge/capbridge/internal/bus"
	"github.com/capbridge/capbridge/internal/config"
)

// Options configures a Bridge.
type Options struct {
	// Store persists the server registry. Optional; without it the
	// registry is in-memory only.
	Store *config.Store

	// Bus receives lifecycle and result events. Optional; a private bus
	// is created when nil.
	Bus *bus.Bus

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// ClientName identifies this bridge in channel handshakes (default "capbridge").
	ClientName string

	// DiscoveryInterval is the period between discovery cycles (default 5m).
	DiscoveryInterval time.Duration

	// ProbeTimeout bounds individual info/tools probes (default 5s).
	ProbeTimeout time.Duration

	// ExecuteTimeout bounds synchronous invocations (default 30s).
	ExecuteTimeout time.Duration

	// HeartbeatInterval is the keep-alive period per channel (default 30s).
	HeartbeatInterval time.Duration

	// SettleDelay is how long the supervisor waits after spawning a server
	// before re-probing it (default 2s).
	SettleDelay time.Duration

	// PendingTTL is how long an asynchronous invocation may stay pending
	// before it is expired with a tool:timeout event (default 2m).
	PendingTTL time.Duration

	// SweepInterval is the period of the pending-request expiry sweep (default 30s).
	SweepInterval time.Duration

	// ProbesPerSecond rate-limits discovery probes across the registry
	// (default 20).
	ProbesPerSecond float64

	// ProcessLogDir is where supervised server output is written
	// (default os.TempDir()).
	ProcessLogDir string

	// HTTPClient overrides the client used for probes and invocations.
	HTTPClient *http.Client

	// Dialer overrides the websocket dialer used for duplex channels.
	Dialer *websocket.Dialer
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.Bus == nil {
		o.Bus = bus.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ClientName == "" {
		o.ClientName = "capbridge"
	}
	if o.DiscoveryInterval == 0 {
		o.DiscoveryInterval = 5 * time.Minute
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.ExecuteTimeout == 0 {
		o.ExecuteTimeout = 30 * time.Second
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = 2 * time.Second
	}
	if o.PendingTTL == 0 {
		o.PendingTTL = 2 * time.Minute
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.ProbesPerSecond == 0 {
		o.ProbesPerSecond = 20
	}
	if o.ProcessLogDir == "" {
		o.ProcessLogDir = os.TempDir()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: o.ProbeTimeout}
	}
	return o
}

// serverState is the runtime record of a registered server. All fields are
// guarded by the Bridge mutex; the connection manages its own send locking.
type serverState struct {
	seed config.ServerSeed

	status          Status
	name            string
	description     string
	capabilities    []string
	tools           []Tool
	lastConnectedAt time.Time
	lastError       string

	conn *connection
	proc *os.Process
}

// snapshot builds the public view of a server.
func (s *serverState) snapshot() Server {
	srv := Server{
		ID:           s.seed.ID,
		Name:         s.name,
		Description:  s.description,
		Address:      s.seed.Address,
		Status:       s.status,
		Capabilities: append([]string(nil), s.capabilities...),
		Tools:        append([]Tool(nil), s.tools...),
		LastError:    s.lastError,
		Connected:    s.conn != nil,
	}
	if !s.lastConnectedAt.IsZero() {
		t := s.lastConnectedAt
		srv.LastConnectedAt = &t
	}
	return srv
}

// Bridge is the capability-server orchestration bridge. It is constructed
// by the composition root and passed explicitly; there is no package-level
// instance.
type Bridge struct {
	opts    Options
	store   *config.Store
	bus     *bus.Bus
	logger  *slog.Logger
	client  *http.Client
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu      sync.RWMutex
	servers map[string]*serverState

	pendMu  sync.Mutex
	pending map[string]PendingRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bridge. Call LoadFromStore to populate the registry from
// the persisted server list, and Run to start the background loops.
func New(opts Options) *Bridge {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		opts:    opts,
		store:   opts.Store,
		bus:     opts.Bus,
		logger:  opts.Logger,
		client:  opts.HTTPClient,
		dialer:  opts.Dialer,
		limiter: rate.NewLimiter(rate.Limit(opts.ProbesPerSecond), 1),
		servers: make(map[string]*serverState),
		pending: make(map[string]PendingRequest),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Bus returns the event bus consumers subscribe on.
func (b *Bridge) Bus() *bus.Bus {
	return b.bus
}

// LoadFromStore populates the registry from the persisted server list.
// Servers already registered keep their runtime state.
func (b *Bridge) LoadFromStore() error {
	if b.store == nil {
		return nil
	}
	seeds, err := b.store.Load()
	if err != nil {
		return err
	}
	b.SyncSeeds(seeds)
	return nil
}

// SyncSeeds reconciles the registry against the given seed list: new seeds
// are added, absent servers are unregistered, and identity fields of
// existing servers are updated. Runtime state of retained servers survives.
func (b *Bridge) SyncSeeds(seeds []config.ServerSeed) {
	wanted := make(map[string]config.ServerSeed, len(seeds))
	for _, seed := range seeds {
		wanted[seed.ID] = seed
	}

	var removed []string
	b.mu.Lock()
	for id := range b.servers {
		if _, ok := wanted[id]; !ok {
			removed = append(removed, id)
		}
	}
	for id, seed := range wanted {
		if state, ok := b.servers[id]; ok {
			state.seed = seed
			continue
		}
		b.servers[id] = &serverState{
			seed:         seed,
			status:       StatusOffline,
			name:         seed.Name,
			description:  seed.Description,
			capabilities: append([]string(nil), seed.Capabilities...),
		}
		b.logger.Info("registered capability server", "server", id, "address", seed.Address)
	}
	b.mu.Unlock()

	for _, id := range removed {
		b.removeServer(id)
	}
}

// Register adds a new server to the registry and persists it immediately.
func (b *Bridge) Register(seed config.ServerSeed) error {
	if err := seed.Validate(); err != nil {
		return NewError(CodeConfig, "invalid server configuration").WithDetail(err.Error()).WithCause(err)
	}

	b.mu.Lock()
	if _, exists := b.servers[seed.ID]; exists {
		b.mu.Unlock()
		return ErrServerAlreadyExists(seed.ID)
	}
	b.servers[seed.ID] = &serverState{
		seed:         seed,
		status:       StatusOffline,
		name:         seed.Name,
		description:  seed.Description,
		capabilities: append([]string(nil), seed.Capabilities...),
	}
	b.mu.Unlock()

	b.logger.Info("registered capability server", "server", seed.ID, "address", seed.Address)

	if err := b.persistSeeds(); err != nil {
		// Registration stands; persistence failures are logged, not fatal.
		b.logger.Error("failed to persist server registry", "error", err)
	}
	return nil
}

// Unregister removes a server: its channel is closed, its pending requests
// are discarded, and the registry is persisted without it.
func (b *Bridge) Unregister(id string) error {
	b.mu.RLock()
	_, exists := b.servers[id]
	b.mu.RUnlock()
	if !exists {
		return ErrServerNotFound(id)
	}

	b.removeServer(id)

	if err := b.persistSeeds(); err != nil {
		b.logger.Error("failed to persist server registry", "error", err)
	}
	return nil
}

// removeServer tears down runtime state for a server and drops it from the
// registry. Used by Unregister and by seed reconciliation.
func (b *Bridge) removeServer(id string) {
	b.mu.Lock()
	state, exists := b.servers[id]
	if !exists {
		b.mu.Unlock()
		return
	}
	conn := state.conn
	state.conn = nil
	delete(b.servers, id)
	b.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	b.discardPending(id)

	b.logger.Info("unregistered capability server", "server", id)
	b.bus.Publish(bus.Event{
		Topic:    bus.TopicServerOffline,
		ServerID: id,
		Message:  "server unregistered",
	})
}

// persistSeeds writes the current identity records to the store.
func (b *Bridge) persistSeeds() error {
	if b.store == nil {
		return nil
	}

	b.mu.RLock()
	seeds := make([]config.ServerSeed, 0, len(b.servers))
	for _, state := range b.servers {
		seeds = append(seeds, state.seed)
	}
	b.mu.RUnlock()

	sort.Slice(seeds, func(i, j int) bool { return seeds[i].ID < seeds[j].ID })
	return b.store.Save(seeds)
}

// Get returns a snapshot of one server.
func (b *Bridge) Get(id string) (Server, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state, exists := b.servers[id]
	if !exists {
		return Server{}, ErrServerNotFound(id)
	}
	return state.snapshot(), nil
}

// List returns snapshots of all registered servers, sorted by id.
func (b *Bridge) List() []Server {
	b.mu.RLock()
	servers := make([]Server, 0, len(b.servers))
	for _, state := range b.servers {
		servers = append(servers, state.snapshot())
	}
	b.mu.RUnlock()

	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	return servers
}

// serverIDs returns a snapshot of the registered ids, sorted.
func (b *Bridge) serverIDs() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.servers))
	for id := range b.servers {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Run starts the discovery loop and the pending-request sweep. It returns
// immediately; call Close to stop.
func (b *Bridge) Run() {
	b.wg.Add(2)
	go b.runDiscoveryLoop()
	go b.runPendingSweep()
}

// Close stops the background loops and tears down every open channel.
// Server processes started by the supervisor are left running.
func (b *Bridge) Close() error {
	b.cancel()

	b.mu.Lock()
	conns := make([]*connection, 0)
	for _, state := range b.servers {
		if state.conn != nil {
			conns = append(conns, state.conn)
			state.conn = nil
		}
	}
	b.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}

	b.wg.Wait()
	return nil
}
