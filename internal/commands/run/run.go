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

// Package run implements the 'capbridge run' daemon command.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/capbridge/capbridge/internal/bridge"
	"github.com/capbridge/capbridge/internal/commands/shared"
	"github.com/capbridge/capbridge/internal/config"
	"github.com/capbridge/capbridge/internal/eventlog"
	"github.com/capbridge/capbridge/internal/log"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		listen      string
		interval    time.Duration
		journalPath string
		noJournal   bool
		processLogs string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge daemon",
		Long: `Run the bridge as a long-lived process.

The daemon loads the server registry, runs the discovery loop, keeps
duplex channels open to online servers, journals every bridge event,
and serves Prometheus metrics. Changes to servers.yaml are picked up
without a restart. SIGINT or SIGTERM shuts the daemon down cleanly.`,
		Example: `  # Example 1: Run with defaults
  capbridge run

  # Example 2: Faster discovery and a custom metrics address
  capbridge run --interval 30s --listen 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, daemonOptions{
				listen:      listen,
				interval:    interval,
				journalPath: journalPath,
				noJournal:   noJournal,
				processLogs: processLogs,
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8701", "Metrics listen address")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "Discovery interval")
	cmd.Flags().StringVar(&journalPath, "journal", "", "Event journal path (default: events.db next to servers.yaml)")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "Disable the event journal")
	cmd.Flags().StringVar(&processLogs, "process-logs", "", "Directory for supervised server logs (default: temp dir)")

	return cmd
}

type daemonOptions struct {
	listen      string
	interval    time.Duration
	journalPath string
	noJournal   bool
	processLogs string
}

func runDaemon(cmd *cobra.Command, opts daemonOptions) error {
	logger := shared.NewLogger()

	store, err := shared.OpenStore(logger)
	if err != nil {
		return err
	}

	b := bridge.New(bridge.Options{
		Store:             store,
		Logger:            logger,
		DiscoveryInterval: opts.interval,
		ProcessLogDir:     opts.processLogs,
	})
	defer b.Close()

	if err := b.LoadFromStore(); err != nil {
		return fmt.Errorf("failed to load server registry: %w", err)
	}

	// Event journal, attached before anything starts publishing.
	if !opts.noJournal {
		path := opts.journalPath
		if path == "" {
			path = filepath.Join(filepath.Dir(store.Path()), "events.db")
		}
		journal, err := eventlog.Open(eventlog.Config{Path: path, Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to open event journal: %w", err)
		}
		defer journal.Close()
		detach := journal.Attach(b.Bus())
		defer detach()
		logger.Info("event journal open", "path", path)
	}

	// Registry hot-reload when servers.yaml changes on disk.
	watcher, err := config.NewWatcher(config.WatcherConfig{
		Path:   store.Path(),
		Logger: log.WithComponent(logger, "watcher"),
		OnChange: func() {
			seeds, err := store.Load()
			if err != nil {
				logger.Warn("config reload failed", "error", err)
				return
			}
			b.SyncSeeds(seeds)
			logger.Info("registry re-synced from config", "servers", len(seeds))
		},
	})
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	b.Run()

	// Metrics endpoint.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: opts.listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", opts.listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("metrics server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}

	return nil
}
