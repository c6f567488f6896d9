/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"time"
)

// EventType enumerates event categories.
type EventType string

const (
	EventStreamCreated           EventType = "stream.created"
	EventStreamStatusUpdated     EventType = "stream.status.updated"
	EventStreamKeyReset          EventType = "stream.key.reset"
	EventSimulcastTargetUpdated  EventType = "simulcast.target.updated"
	EventSimulcastTargetsUpdated EventType = "simulcast.targets.updated"
)

// AllEventTypes lists every event the engine emits, used by fanout bridges.
var AllEventTypes = []EventType{
	EventStreamCreated,
	EventStreamStatusUpdated,
	EventStreamKeyReset,
	EventSimulcastTargetUpdated,
	EventSimulcastTargetsUpdated,
}

// Payload generic event payload.
type Payload map[string]any

// Stamp sets the timestamp field and returns the payload.
func (p Payload) Stamp(at time.Time) Payload {
	p["timestamp"] = at.UTC().Format(time.RFC3339)
	return p
}

// Publisher is the port the engine emits change events through.
// Delivery is best-effort and at-most-once.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Full subscribers miss the event.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}
