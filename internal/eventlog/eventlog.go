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

// Package eventlog provides a SQLite-backed journal of bridge events.
// Attached to an event bus it records every published event, giving the
// daemon a durable history that survives restarts.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capbridge/capbridge/internal/bus"
)

// Journal is a SQLite-backed event log.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config contains journal configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Entry is one recorded event.
type Entry struct {
	ID        int64          `json:"id"`
	Topic     string         `json:"topic"`
	ServerID  string         `json:"server_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Open opens (or creates) the journal at the configured path.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// WAL mode so the daemon's writes never block CLI reads.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}

	j := &Journal{db: db, logger: cfg.Logger}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run journal migrations: %w", err)
	}
	return j, nil
}

// migrate creates the journal schema.
func (j *Journal) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			server_id TEXT,
			message TEXT,
			payload TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic)`,
		`CREATE INDEX IF NOT EXISTS idx_events_server ON events(server_id) WHERE server_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := j.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Record appends one event to the journal.
func (j *Journal) Record(ctx context.Context, evt bus.Event) error {
	var payloadJSON []byte
	if evt.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (topic, server_id, message, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
		string(evt.Topic), evt.ServerID, evt.Message, payloadJSON, ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Filter narrows Recent queries.
type Filter struct {
	// Topic restricts results to one topic.
	Topic string

	// ServerID restricts results to one server.
	ServerID string

	// Since restricts results to events recorded after this time.
	Since *time.Time

	// Limit caps the number of results (default 50).
	Limit int
}

// Recent returns the newest matching entries, most recent first.
func (j *Journal) Recent(ctx context.Context, filter Filter) ([]Entry, error) {
	query := "SELECT id, topic, server_id, message, payload, timestamp FROM events WHERE 1=1"
	args := []any{}

	if filter.Topic != "" {
		query += " AND topic = ?"
		args = append(args, filter.Topic)
	}
	if filter.ServerID != "" {
		query += " AND server_id = ?"
		args = append(args, filter.ServerID)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UnixNano())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var serverID, message sql.NullString
		var payloadJSON []byte
		var ts int64

		if err := rows.Scan(&entry.ID, &entry.Topic, &serverID, &message, &payloadJSON, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		entry.ServerID = serverID.String
		entry.Message = message.String
		entry.Timestamp = time.Unix(0, ts)

		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Prune deletes entries recorded before the given time and returns how
// many were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx,
		"DELETE FROM events WHERE timestamp < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	count, _ := result.RowsAffected()
	return count, nil
}

// Attach subscribes the journal to a bus so every published event is
// recorded. Returns the unsubscribe function. Recording failures are
// logged and dropped; a full disk must not take the bridge down.
func (j *Journal) Attach(b *bus.Bus) func() {
	return b.SubscribeAll(func(evt bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := j.Record(ctx, evt); err != nil {
			j.logger.Warn("failed to journal event", "topic", evt.Topic, "error", err)
		}
	})
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
