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

// Process supervision for capability servers: spawn a server's launcher,
// verify it becomes reachable, and stop it gracefully with a forceful
// fallback. The spawned process handle is tracked on the server record and
// used directly for termination; processes are never matched by command
// line.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/capbridge/capbridge/internal/bus"
)

// stopGrace is how long a terminated process gets to exit before it is killed.
const stopGrace = 5 * time.Second

// StartServer brings a capability server up. If the server is already
// reachable it succeeds without spawning. Otherwise it launches the
// server's configured launcher command, waits the settle delay, and
// re-probes. All failure paths return false; nothing is thrown.
func (b *Bridge) StartServer(ctx context.Context, id string) bool {
	b.mu.RLock()
	state, exists := b.servers[id]
	if !exists {
		b.mu.RUnlock()
		b.logger.Warn("start requested for unknown server", "server", id)
		return false
	}
	address := state.seed.Address
	launcher := append([]string(nil), state.seed.Launcher...)
	b.mu.RUnlock()

	if b.probeReachable(ctx, address) {
		b.logger.Info("server already reachable", "server", id)
		b.DiscoverServer(ctx, id)
		return true
	}

	if len(launcher) == 0 {
		b.logger.Warn("server unreachable and has no launcher", "server", id)
		return false
	}

	proc, err := b.spawn(id, launcher)
	if err != nil {
		b.logger.Error("failed to spawn server", "server", id, "error", err)
		return false
	}

	b.mu.Lock()
	if state, ok := b.servers[id]; ok {
		state.proc = proc
	}
	b.mu.Unlock()

	b.logger.Info("spawned capability server", "server", id, "pid", proc.Pid)

	select {
	case <-time.After(b.opts.SettleDelay):
	case <-ctx.Done():
		return false
	}

	if !b.probeReachable(ctx, address) {
		b.logger.Error("server did not become reachable after spawn",
			"server", id,
			"pid", proc.Pid,
			"settle", b.opts.SettleDelay,
		)
		return false
	}

	b.DiscoverServer(ctx, id)
	return true
}

// StopServer brings a capability server down. It first requests a graceful
// shutdown over the control endpoint; if that fails it falls back to
// terminating the tracked process handle, escalating from SIGTERM to kill.
func (b *Bridge) StopServer(ctx context.Context, id string) bool {
	b.mu.Lock()
	state, exists := b.servers[id]
	if !exists {
		b.mu.Unlock()
		b.logger.Warn("stop requested for unknown server", "server", id)
		return false
	}
	address := state.seed.Address
	proc := state.proc
	conn := state.conn
	state.conn = nil
	b.mu.Unlock()

	if conn != nil {
		conn.close()
	}
	b.discardPending(id)

	stopped := b.requestShutdown(ctx, address)
	if !stopped {
		if proc == nil {
			b.logger.Error("graceful shutdown failed and no tracked process", "server", id)
			return false
		}
		if err := terminate(proc); err != nil {
			b.logger.Error("failed to terminate server process", "server", id, "pid", proc.Pid, "error", err)
			return false
		}
		b.logger.Info("server process terminated", "server", id, "pid", proc.Pid)
	}

	b.mu.Lock()
	if state, ok := b.servers[id]; ok {
		state.status = StatusOffline
		state.lastError = ""
		state.proc = nil
	}
	b.mu.Unlock()

	b.bus.Publish(bus.Event{
		Topic:    bus.TopicServerOffline,
		ServerID: id,
		Message:  "server stopped",
	})
	return true
}

// probeReachable checks the server's info endpoint with the probe timeout.
func (b *Bridge) probeReachable(ctx context.Context, address string) bool {
	var info infoResponse
	return b.getJSON(ctx, address+"/info", &info) == nil
}

// requestShutdown posts to the server's shutdown endpoint, best effort.
func (b *Bridge) requestShutdown(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, b.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address+"/shutdown", bytes.NewReader(nil))
	if err != nil {
		return false
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// spawn launches a server's launcher command in its own process group with
// output appended to a per-server log file. The returned handle is the
// only means of forceful termination.
func (b *Bridge) spawn(id string, launcher []string) (*os.Process, error) {
	logPath := filepath.Join(b.opts.ProcessLogDir, fmt.Sprintf("capbridge-%s.log", id))
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(launcher[0], launcher[1:]...)
	cmd.Env = os.Environ()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		// Own process group so the server outlives the bridge.
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	proc := cmd.Process

	// Reap the child when it exits so it cannot linger as a zombie.
	go func() { _ = cmd.Wait() }()

	return proc, nil
}

// terminate stops a tracked process, escalating from SIGTERM to SIGKILL
// after the grace window.
func terminate(proc *os.Process) error {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone counts as stopped.
		if isProcessGone(proc.Pid) {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", proc.Pid, err)
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if isProcessGone(proc.Pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := proc.Kill(); err != nil && !isProcessGone(proc.Pid) {
		return fmt.Errorf("failed to kill process %d: %w", proc.Pid, err)
	}
	return nil
}

// isProcessGone checks process existence with signal 0.
func isProcessGone(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}
