/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/gateway/gatewaytest"
	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/store"
)

type recordedEvent struct {
	Type    events.EventType
	Payload events.Payload
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(eventType events.EventType, payload events.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Type: eventType, Payload: payload})
}

func (p *recordingPublisher) count(eventType events.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last(eventType events.EventType) events.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			return p.events[i].Payload
		}
	}
	return nil
}

func (p *recordingPublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testEnv struct {
	engine *Engine
	store  *store.GormStore
	fake   *gatewaytest.Fake
	pub    *recordingPublisher
	now    time.Time
	seq    int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.LiveStream{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	env := &testEnv{
		store: store.New(db, 3, zerolog.Nop()),
		fake:  gatewaytest.New(),
		pub:   &recordingPublisher{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.engine = NewEngine(env.store, env.fake, env.pub, zerolog.Nop(), Options{
		GatewayTimeout: 200 * time.Millisecond,
		Now:            func() time.Time { return env.now },
	})
	return env
}

// seed stores a provisioned record and a matching remote stream.
func (env *testEnv) seed(t *testing.T, status models.StreamStatus, edit func(*models.LiveStream)) *models.LiveStream {
	t.Helper()

	env.seq++
	remoteID := fmt.Sprintf("rs-%s-%d", status, env.seq)
	key := "sk-initial"
	stream := &models.LiveStream{
		Title:                  "Test stream",
		RemoteStreamID:         &remoteID,
		StreamKey:              &key,
		Status:                 status,
		ReconnectWindowSeconds: 60,
		PlaybackPolicy:         models.PlaybackPolicyPublic,
	}
	if status == models.StreamStatusDisconnected {
		at := env.now.Add(-10 * time.Second)
		stream.DisconnectedAt = &at
	}
	if edit != nil {
		edit(stream)
	}
	if err := env.store.Create(context.Background(), stream); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	remote := gateway.RemoteStream{ID: stream.RemoteID(), StreamKey: key, Status: string(status)}
	if status == models.StreamStatusDeleted {
		return stream
	}
	for _, target := range stream.SimulcastTargets {
		if target.ID != "" {
			remote.SimulcastTargets = append(remote.SimulcastTargets, gateway.RemoteTarget{
				ID:        target.ID,
				Name:      target.Name,
				URL:       target.URL,
				StreamKey: target.StreamKey,
			})
		}
	}
	env.fake.Put(remote)
	return stream
}

func (env *testEnv) reload(t *testing.T, id string) *models.LiveStream {
	t.Helper()
	stream, err := env.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload %s: %v", id, err)
	}
	return stream
}

func assertDisconnectedInvariant(t *testing.T, stream *models.LiveStream) {
	t.Helper()
	if (stream.DisconnectedAt != nil) != (stream.Status == models.StreamStatusDisconnected) {
		t.Fatalf("disconnected_at invariant violated: status=%s disconnected_at=%v", stream.Status, stream.DisconnectedAt)
	}
}
