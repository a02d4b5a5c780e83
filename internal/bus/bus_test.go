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

package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublish_FanOut(t *testing.T) {
	b := New()

	var got []string
	b.Subscribe(TopicServerOnline, func(evt Event) {
		got = append(got, "first:"+evt.ServerID)
	})
	b.Subscribe(TopicServerOnline, func(evt Event) {
		got = append(got, "second:"+evt.ServerID)
	})

	b.Publish(Event{Topic: TopicServerOnline, ServerID: "calc"})

	require.Len(t, got, 2)
	require.Contains(t, got, "first:calc")
	require.Contains(t, got, "second:calc")
}

func TestPublish_TopicIsolation(t *testing.T) {
	b := New()

	calls := 0
	b.Subscribe(TopicServerError, func(Event) { calls++ })

	b.Publish(Event{Topic: TopicServerOnline, ServerID: "calc"})
	if calls != 0 {
		t.Errorf("handler for %s fired on %s", TopicServerError, TopicServerOnline)
	}

	b.Publish(Event{Topic: TopicServerError, ServerID: "calc"})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := New()
	// Must not panic.
	b.Publish(Event{Topic: TopicToolResult, ServerID: "calc"})
}

func TestPublish_FillsTimestamp(t *testing.T) {
	b := New()

	var got Event
	b.Subscribe(TopicToolResult, func(evt Event) { got = evt })
	b.Publish(Event{Topic: TopicToolResult})

	if got.Timestamp.IsZero() {
		t.Error("Publish should fill a zero timestamp")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	calls := 0
	unsub := b.Subscribe(TopicToolResult, func(Event) { calls++ })

	b.Publish(Event{Topic: TopicToolResult})
	unsub()
	unsub() // second call is a no-op
	b.Publish(Event{Topic: TopicToolResult})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := b.SubscriberCount(TopicToolResult); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestSubscribeAll(t *testing.T) {
	b := New()

	var mu sync.Mutex
	seen := make(map[Topic]int)
	unsub := b.SubscribeAll(func(evt Event) {
		mu.Lock()
		seen[evt.Topic]++
		mu.Unlock()
	})

	for _, topic := range Topics() {
		b.Publish(Event{Topic: topic})
	}

	require.Len(t, seen, len(Topics()))
	for topic, n := range seen {
		require.Equal(t, 1, n, "topic %s", topic)
	}

	unsub()
	b.Publish(Event{Topic: TopicServerOnline})
	require.Equal(t, 1, seen[TopicServerOnline])
}

func TestPublish_ConcurrentSafety(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	b.Subscribe(TopicServerOnline, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(Event{Topic: TopicServerOnline})
		}()
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("count = %d, want 20", count)
	}
}
