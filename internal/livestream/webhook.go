/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/store"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

// Notification is a parsed remote webhook. The set of implementations is closed.
type Notification interface {
	RemoteID() string
	isNotification()
}

// StatusNotification reports a stream-level status change.
type StatusNotification struct {
	RemoteStreamID string
	Status         models.StreamStatus
	OccurredAt     time.Time
}

// RemoteID implements Notification.
func (n StatusNotification) RemoteID() string { return n.RemoteStreamID }

func (StatusNotification) isNotification() {}

// TargetEventKind is the kind of a simulcast target notification.
type TargetEventKind string

const (
	TargetConnected    TargetEventKind = "target_connected"
	TargetDisconnected TargetEventKind = "target_disconnected"
	TargetErrored      TargetEventKind = "target_error"
)

// Status returns the target status the event sets.
func (k TargetEventKind) Status() models.TargetStatus {
	switch k {
	case TargetConnected:
		return models.TargetStatusConnected
	case TargetErrored:
		return models.TargetStatusError
	default:
		return models.TargetStatusDisconnected
	}
}

// TargetNotification reports a simulcast target connection change.
type TargetNotification struct {
	RemoteStreamID string
	TargetID       string
	Kind           TargetEventKind
	OccurredAt     time.Time
}

// RemoteID implements Notification.
func (n TargetNotification) RemoteID() string { return n.RemoteStreamID }

func (TargetNotification) isNotification() {}

// Webhook outcomes recorded in metrics.
const (
	outcomeApplied       = "applied"
	outcomeNoop          = "noop"
	outcomeUnknownStream = "unknown_stream"
	outcomeRejected      = "rejected"
	outcomeError         = "error"
)

// Ingest applies a remote notification. It is safe under repetition and never returns an error.
func (e *Engine) Ingest(ctx context.Context, n Notification) {
	ctx, span := e.startSpan(ctx, "livestream.Ingest", "")
	defer span.End()

	logger := e.logger.With().Str("remote_stream_id", n.RemoteID()).Logger()
	kind := notificationKind(n)

	stream, err := e.store.FindByRemoteID(ctx, n.RemoteID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().Str("kind", kind).Msg("webhook for unknown remote stream ignored")
			telemetry.WebhookEventsTotal.WithLabelValues(kind, outcomeUnknownStream).Inc()
			return
		}
		logger.Error().Err(err).Str("kind", kind).Msg("webhook lookup failed")
		telemetry.WebhookEventsTotal.WithLabelValues(kind, outcomeError).Inc()
		return
	}

	logger = logger.With().Str("stream_id", stream.ID).Logger()
	if stream.Status == models.StreamStatusDeleted {
		logger.Debug().Str("kind", kind).Msg("webhook for deleted stream ignored")
		telemetry.WebhookEventsTotal.WithLabelValues(kind, outcomeNoop).Inc()
		return
	}

	var outcome string
	switch n := n.(type) {
	case StatusNotification:
		outcome = e.ingestStatus(ctx, logger, stream.ID, n)
	case TargetNotification:
		outcome = e.ingestTarget(ctx, logger, stream.ID, n)
	default:
		logger.Error().Str("kind", kind).Msg("unsupported notification type")
		outcome = outcomeError
	}
	telemetry.WebhookEventsTotal.WithLabelValues(kind, outcome).Inc()
}

func (e *Engine) ingestStatus(ctx context.Context, logger zerolog.Logger, id string, n StatusNotification) string {
	var previous models.StreamStatus
	updated, changed, err := e.store.Mutate(ctx, id, func(s *models.LiveStream) (bool, error) {
		previous = s.Status
		if s.Status == models.StreamStatusDeleted {
			return false, nil
		}
		return applyTransition(s, n.Status, TriggerRemote, e.now())
	})
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			logger.Warn().
				Str("from", string(te.From)).
				Str("to", string(te.To)).
				Msg("webhook status rejected by transition table")
			return outcomeRejected
		}
		logger.Error().Err(err).Msg("failed to persist webhook status")
		return outcomeError
	}
	if !changed {
		return outcomeNoop
	}

	recordTransition(previous, updated.Status, TriggerRemote)
	logger.Info().
		Str("from", string(previous)).
		Str("to", string(updated.Status)).
		Msg("status updated from webhook")

	var extra events.Payload
	if !n.OccurredAt.IsZero() {
		extra = events.Payload{"occurred_at": n.OccurredAt.UTC().Format(time.RFC3339)}
	}
	e.emitStatus(updated, previous, SourceWebhook, extra)
	return outcomeApplied
}

func (e *Engine) ingestTarget(ctx context.Context, logger zerolog.Logger, id string, n TargetNotification) string {
	status := n.Kind.Status()
	found := false
	updated, changed, err := e.store.Mutate(ctx, id, func(s *models.LiveStream) (bool, error) {
		i := s.TargetByID(n.TargetID)
		found = i >= 0
		if !found || s.Status == models.StreamStatusDeleted {
			return false, nil
		}
		if s.SimulcastTargets[i].Status == status {
			return false, nil
		}
		s.SimulcastTargets[i].Status = status
		return true, nil
	})
	if err != nil {
		logger.Error().Err(err).Str("target_id", n.TargetID).Msg("failed to persist simulcast target status")
		return outcomeError
	}
	if !found {
		logger.Debug().Str("target_id", n.TargetID).Msg("webhook for unknown simulcast target ignored")
		return outcomeNoop
	}
	if !changed {
		return outcomeNoop
	}

	logger.Info().
		Str("target_id", n.TargetID).
		Str("target_status", string(status)).
		Msg("simulcast target status updated")

	e.emit(events.EventSimulcastTargetUpdated, events.Payload{
		"id":               updated.ID,
		"remote_stream_id": updated.RemoteID(),
		"target_id":        n.TargetID,
		"status":           string(status),
	})
	return outcomeApplied
}

func notificationKind(n Notification) string {
	switch n := n.(type) {
	case StatusNotification:
		return "status." + string(n.Status)
	case TargetNotification:
		return string(n.Kind)
	default:
		return "unknown"
	}
}
