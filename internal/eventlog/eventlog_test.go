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

package eventlog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capbridge/capbridge/internal/bus"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "events.db"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestRecordAndRecent(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, bus.Event{
		Topic:    bus.TopicServerOnline,
		ServerID: "calc",
		Message:  "server online",
	}))
	require.NoError(t, j.Record(ctx, bus.Event{
		Topic:    bus.TopicToolResult,
		ServerID: "calc",
		Payload:  map[string]any{"request_id": "req-1", "tool": "add"},
	}))

	entries, err := j.Recent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Most recent first.
	assert.Equal(t, string(bus.TopicToolResult), entries[0].Topic)
	assert.Equal(t, "req-1", entries[0].Payload["request_id"])
	assert.Equal(t, string(bus.TopicServerOnline), entries[1].Topic)
	assert.Equal(t, "server online", entries[1].Message)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestRecentFilters(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	for _, evt := range []bus.Event{
		{Topic: bus.TopicServerOnline, ServerID: "calc"},
		{Topic: bus.TopicServerOnline, ServerID: "files"},
		{Topic: bus.TopicServerError, ServerID: "calc", Message: "probe failed"},
	} {
		require.NoError(t, j.Record(ctx, evt))
	}

	byTopic, err := j.Recent(ctx, Filter{Topic: string(bus.TopicServerError)})
	require.NoError(t, err)
	require.Len(t, byTopic, 1)
	assert.Equal(t, "probe failed", byTopic[0].Message)

	byServer, err := j.Recent(ctx, Filter{ServerID: "calc"})
	require.NoError(t, err)
	assert.Len(t, byServer, 2)

	limited, err := j.Recent(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAttachRecordsBusEvents(t *testing.T) {
	j := testJournal(t)
	b := bus.New()

	detach := j.Attach(b)
	defer detach()

	b.Publish(bus.Event{Topic: bus.TopicServerOnline, ServerID: "calc"})
	b.Publish(bus.Event{Topic: bus.TopicServerOffline, ServerID: "calc"})

	entries, err := j.Recent(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// After detaching, nothing further is journaled.
	detach()
	b.Publish(bus.Event{Topic: bus.TopicServerError, ServerID: "calc"})

	entries, err = j.Recent(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPrune(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, j.Record(ctx, bus.Event{Topic: bus.TopicServerOnline, ServerID: "calc", Timestamp: old}))
	require.NoError(t, j.Record(ctx, bus.Event{Topic: bus.TopicServerOnline, ServerID: "files"}))

	count, err := j.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	entries, err := j.Recent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "files", entries[0].ServerID)
}
