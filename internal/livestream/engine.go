/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package livestream keeps local live stream records converged with the remote platform.
//
// Three paths race on the same records: operator commands, remote webhooks and the
// periodic disconnect sweep. Each one validates its change against the transition
// table inside a store read-modify-write, and gateway calls always happen outside it.
// The one exception is the sweep recording a remote disable that already succeeded.
package livestream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/store"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

const (
	// DefaultGatewayTimeout bounds each remote call when Options leaves it unset.
	DefaultGatewayTimeout = 10 * time.Second

	tracerName = "github.com/friendsincode/ottlive/internal/livestream"
)

// Event sources carried on stream.status.updated.
const (
	SourceReconcile = "reconcile"
	SourceWebhook   = "webhook"
	SourceCommand   = "command"
	SourceMonitor   = "monitor"
)

// Options tunes the engine.
type Options struct {
	GatewayTimeout time.Duration
	Now            func() time.Time

	// DefaultReconnectWindowSeconds applies when a provision request leaves the window unset.
	DefaultReconnectWindowSeconds int
}

// Engine implements the live stream lifecycle.
type Engine struct {
	store     store.Store
	gateway   gateway.Gateway
	publisher events.Publisher
	logger    zerolog.Logger
	opts      Options

	// record ids whose remote stream was missing on the last auto-disable attempt
	missingRemote sync.Map
}

// NewEngine creates the engine.
func NewEngine(st store.Store, gw gateway.Gateway, pub events.Publisher, logger zerolog.Logger, opts Options) *Engine {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = DefaultGatewayTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultReconnectWindowSeconds <= 0 {
		opts.DefaultReconnectWindowSeconds = models.DefaultReconnectWindowSeconds
	}
	return &Engine{
		store:     st,
		gateway:   gw,
		publisher: pub,
		logger:    logger.With().Str("component", "livestream").Logger(),
		opts:      opts,
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Now().UTC()
}

// remoteCtx derives the deadline for one gateway call.
func (e *Engine) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.GatewayTimeout)
}

func (e *Engine) emit(eventType events.EventType, payload events.Payload) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(eventType, payload.Stamp(e.now()))
}

func (e *Engine) emitStatus(stream *models.LiveStream, previous models.StreamStatus, source string, extra events.Payload) {
	payload := events.Payload{
		"id":               stream.ID,
		"remote_stream_id": stream.RemoteID(),
		"status":           string(stream.Status),
		"previous_status":  string(previous),
		"source":           source,
	}
	if stream.DisconnectedAt != nil {
		payload["disconnected_at"] = stream.DisconnectedAt.UTC().Format(time.RFC3339)
	}
	for k, v := range extra {
		payload[k] = v
	}
	e.emit(events.EventStreamStatusUpdated, payload)
}

func (e *Engine) startSpan(ctx context.Context, name string, streamID string) (context.Context, trace.Span) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, name)
	if streamID != "" {
		span.SetAttributes(attribute.String("stream_id", streamID))
	}
	return ctx, span
}
