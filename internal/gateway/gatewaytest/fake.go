/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gatewaytest provides an in-memory remote platform for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/models"
)

// Fake is an in-memory Gateway. Failures are injected per operation name.
type Fake struct {
	mu      sync.Mutex
	streams map[string]*gateway.RemoteStream
	seq     int

	// Fail maps an operation name (e.g. "DisableStream") to the error it should return.
	Fail map[string]error

	// FailTargets maps a target URL to the error CreateSimulcastTarget returns for it.
	FailTargets map[string]error

	// FailTargetDeletes maps a target id to the error DeleteSimulcastTarget returns for it.
	FailTargetDeletes map[string]error

	// Block, when set, makes every call wait for ctx to expire.
	Block bool

	// CreateStatus overrides the remote status reported by CreateStream.
	CreateStatus string

	calls map[string]int
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		streams:           make(map[string]*gateway.RemoteStream),
		Fail:              make(map[string]error),
		FailTargets:       make(map[string]error),
		FailTargetDeletes: make(map[string]error),
		calls:             make(map[string]int),
	}
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Put seeds or replaces a remote stream.
func (f *Fake) Put(stream gateway.RemoteStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := stream
	s.SimulcastTargets = append([]gateway.RemoteTarget(nil), stream.SimulcastTargets...)
	f.streams[s.ID] = &s
}

// Stream returns a copy of the remote stream, if present.
func (f *Fake) Stream(id string) (gateway.RemoteStream, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[id]
	if !ok {
		return gateway.RemoteStream{}, false
	}
	out := *s
	out.SimulcastTargets = append([]gateway.RemoteTarget(nil), s.SimulcastTargets...)
	return out, true
}

// SetStatus changes the remote status of a stream.
func (f *Fake) SetStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.streams[id]; ok {
		s.Status = status
	}
}

func (f *Fake) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	block := f.Block
	err := f.Fail[op]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return fmt.Errorf("%s: %w: %w", op, gateway.ErrUnavailable, ctx.Err())
	}
	return err
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *Fake) lookup(id string) (*gateway.RemoteStream, error) {
	s, ok := f.streams[id]
	if !ok {
		return nil, gateway.ErrStreamNotFound
	}
	return s, nil
}

// CreateStream implements gateway.Gateway.
func (f *Fake) CreateStream(ctx context.Context, req gateway.CreateStreamRequest) (*gateway.RemoteStream, error) {
	if err := f.enter(ctx, "CreateStream"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &gateway.RemoteStream{
		ID:        f.nextID("rs"),
		StreamKey: f.nextID("sk"),
		Status:    gateway.RemoteStatusIdle,
	}
	if f.CreateStatus != "" {
		s.Status = f.CreateStatus
	}
	policy := req.PlaybackPolicy
	if policy == "" {
		policy = "public"
	}
	s.PlaybackIDs = append(s.PlaybackIDs, models.PlaybackID{ID: f.nextID("pb"), Policy: policy})
	for _, t := range req.SimulcastTargets {
		s.SimulcastTargets = append(s.SimulcastTargets, gateway.RemoteTarget{
			ID:        f.nextID("st"),
			Name:      t.Name,
			URL:       t.URL,
			StreamKey: t.StreamKey,
			Status:    gateway.RemoteTargetIdle,
		})
	}
	f.streams[s.ID] = s

	out := *s
	out.SimulcastTargets = append([]gateway.RemoteTarget(nil), s.SimulcastTargets...)
	return &out, nil
}

// GetStream implements gateway.Gateway.
func (f *Fake) GetStream(ctx context.Context, id string) (*gateway.RemoteStream, error) {
	if err := f.enter(ctx, "GetStream"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	out := *s
	out.SimulcastTargets = append([]gateway.RemoteTarget(nil), s.SimulcastTargets...)
	return &out, nil
}

// EnableStream implements gateway.Gateway.
func (f *Fake) EnableStream(ctx context.Context, id string) error {
	return f.setStatus(ctx, "EnableStream", id, gateway.RemoteStatusIdle)
}

// DisableStream implements gateway.Gateway.
func (f *Fake) DisableStream(ctx context.Context, id string) error {
	return f.setStatus(ctx, "DisableStream", id, gateway.RemoteStatusDisabled)
}

func (f *Fake) setStatus(ctx context.Context, op, id, status string) error {
	if err := f.enter(ctx, op); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.lookup(id)
	if err != nil {
		return err
	}
	s.Status = status
	return nil
}

// DeleteStream implements gateway.Gateway.
func (f *Fake) DeleteStream(ctx context.Context, id string) error {
	if err := f.enter(ctx, "DeleteStream"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(id); err != nil {
		return err
	}
	delete(f.streams, id)
	return nil
}

// ResetStreamKey implements gateway.Gateway.
func (f *Fake) ResetStreamKey(ctx context.Context, id string) (string, error) {
	if err := f.enter(ctx, "ResetStreamKey"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.lookup(id)
	if err != nil {
		return "", err
	}
	s.StreamKey = f.nextID("sk")
	return s.StreamKey, nil
}

// ListSimulcastTargets implements gateway.Gateway.
func (f *Fake) ListSimulcastTargets(ctx context.Context, id string) ([]gateway.RemoteTarget, error) {
	if err := f.enter(ctx, "ListSimulcastTargets"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]gateway.RemoteTarget(nil), s.SimulcastTargets...), nil
}

// CreateSimulcastTarget implements gateway.Gateway.
func (f *Fake) CreateSimulcastTarget(ctx context.Context, id string, spec gateway.TargetSpec) (*gateway.RemoteTarget, error) {
	if err := f.enter(ctx, "CreateSimulcastTarget"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailTargets[spec.URL]; err != nil {
		return nil, err
	}
	s, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	t := gateway.RemoteTarget{
		ID:        f.nextID("st"),
		Name:      spec.Name,
		URL:       spec.URL,
		StreamKey: spec.StreamKey,
		Status:    gateway.RemoteTargetIdle,
	}
	s.SimulcastTargets = append(s.SimulcastTargets, t)
	return &t, nil
}

// DeleteSimulcastTarget implements gateway.Gateway.
func (f *Fake) DeleteSimulcastTarget(ctx context.Context, id, targetID string) error {
	if err := f.enter(ctx, "DeleteSimulcastTarget"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailTargetDeletes[targetID]; err != nil {
		return err
	}
	s, err := f.lookup(id)
	if err != nil {
		return err
	}
	for i, t := range s.SimulcastTargets {
		if t.ID == targetID {
			s.SimulcastTargets = append(s.SimulcastTargets[:i], s.SimulcastTargets[i+1:]...)
			return nil
		}
	}
	return gateway.ErrTargetNotFound
}

var _ gateway.Gateway = (*Fake)(nil)
