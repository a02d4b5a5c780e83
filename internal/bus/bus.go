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

// Package bus provides the in-process publish/subscribe channel that
// decouples the bridge from its observers. Publishing is a synchronous
// fan-out to the subscribers registered at call time; there is no
// buffering and no replay for late subscribers.
package bus

import (
	"sync"
	"time"
)

// Topic identifies a class of bridge event.
type Topic string

const (
	// TopicServerOnline is published when a server completes discovery.
	TopicServerOnline Topic = "server:online"
	// TopicServerOffline is published when a server is stopped or unregistered.
	TopicServerOffline Topic = "server:offline"
	// TopicServerError is published when a probe or channel error occurs.
	TopicServerError Topic = "server:error"
	// TopicToolsDiscovered is published after a tool catalog refresh.
	TopicToolsDiscovered Topic = "tools:discovered"
	// TopicToolResult is published when an async invocation result arrives.
	TopicToolResult Topic = "tool:result"
	// TopicToolTimeout is published when a pending async invocation expires.
	TopicToolTimeout Topic = "tool:timeout"
	// TopicServerEvent re-broadcasts events a server pushes on its channel.
	TopicServerEvent Topic = "server:event"
)

// Topics lists every topic the bridge publishes on.
func Topics() []Topic {
	return []Topic{
		TopicServerOnline,
		TopicServerOffline,
		TopicServerError,
		TopicToolsDiscovered,
		TopicToolResult,
		TopicToolTimeout,
		TopicServerEvent,
	}
}

// Event is a single bridge notification.
type Event struct {
	// Topic classifies the event.
	Topic Topic `json:"topic"`

	// ServerID identifies the capability server the event concerns.
	ServerID string `json:"server_id"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Message is an optional human-readable summary.
	Message string `json:"message,omitempty"`

	// Payload carries event-specific data (tool result, error detail, ...).
	Payload map[string]any `json:"payload,omitempty"`
}

// Handler receives published events for a subscribed topic.
type Handler func(Event)

// Bus is a typed in-process publish/subscribe hub.
// The zero value is not usable; create instances with New.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic]map[int]Handler
	next int
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[Topic]map[int]Handler),
	}
}

// Subscribe registers a handler for a topic and returns a function that
// removes the subscription. Unsubscribing more than once is harmless.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
		})
	}
}

// SubscribeAll registers a handler on every bridge topic and returns a
// single function that removes all of the subscriptions.
func (b *Bus) SubscribeAll(fn Handler) func() {
	unsubs := make([]func(), 0, len(Topics()))
	for _, topic := range Topics() {
		unsubs = append(unsubs, b.Subscribe(topic, fn))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Publish delivers an event synchronously to every current subscriber of
// its topic. A zero Timestamp is filled in with the current time.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[evt.Topic]))
	for _, fn := range b.subs[evt.Topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
