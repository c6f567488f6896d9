/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/store"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

// ReasonAutoDisabled marks monitor-driven disables in stream.status.updated.
const ReasonAutoDisabled = "auto-disabled"

// windowElapsed reports whether the stream has been disconnected strictly longer than its window.
func windowElapsed(stream *models.LiveStream, now time.Time) (time.Duration, bool) {
	elapsed, ok := stream.DisconnectedFor(now)
	if !ok {
		return 0, false
	}
	return elapsed, elapsed > stream.ReconnectWindow()
}

// Sweep disables streams that stayed disconnected past their reconnect window and returns them.
// Per-record failures are logged and retried on the next sweep.
func (e *Engine) Sweep(ctx context.Context, now time.Time) ([]models.LiveStream, error) {
	ctx, span := e.startSpan(ctx, "livestream.Sweep", "")
	defer span.End()

	start := time.Now()
	defer func() {
		telemetry.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	candidates, err := e.store.FindWhere(ctx, store.Filter{
		Statuses:         []models.StreamStatus{models.StreamStatusDisconnected},
		DisconnectedOnly: true,
	})
	if err != nil {
		telemetry.SweepRunsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("query disconnected streams: %w", err)
	}

	var remediated []models.LiveStream
	for i := range candidates {
		if ctx.Err() != nil {
			e.logger.Warn().Int("remaining", len(candidates)-i).Msg("sweep deadline reached, deferring rest to next run")
			break
		}
		candidate := &candidates[i]
		if _, due := windowElapsed(candidate, now); !due || !candidate.IsProvisioned() {
			continue
		}
		if updated := e.disableExpired(ctx, candidate, now); updated != nil {
			remediated = append(remediated, *updated)
		}
	}

	telemetry.SweepRunsTotal.WithLabelValues("ok").Inc()
	if len(remediated) > 0 {
		e.logger.Info().Int("disabled", len(remediated)).Int("candidates", len(candidates)).Msg("disconnect sweep complete")
	}
	return remediated, nil
}

func (e *Engine) disableExpired(ctx context.Context, candidate *models.LiveStream, now time.Time) *models.LiveStream {
	logger := e.logger.With().
		Str("stream_id", candidate.ID).
		Str("remote_stream_id", candidate.RemoteID()).
		Logger()

	// Re-read so a reconnect since the scan never reaches the remote platform.
	fresh, err := e.store.FindByID(ctx, candidate.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error().Err(err).Msg("failed to reload stream before auto-disable")
		}
		return nil
	}
	elapsed, due := windowElapsed(fresh, now)
	if !due {
		logger.Debug().Str("status", string(fresh.Status)).Msg("stream recovered before auto-disable")
		return nil
	}

	rctx, cancel := e.remoteCtx(ctx)
	err = e.gateway.DisableStream(rctx, fresh.RemoteID())
	cancel()
	if err != nil {
		if gateway.IsNotFound(err) {
			e.warnMissingRemote(logger, fresh.ID)
			return nil
		}
		logger.Warn().Err(err).Msg("auto-disable skipped, will retry next sweep")
		return nil
	}
	e.missingRemote.Delete(fresh.ID)

	// The remote stream is disabled from here on, so the local record follows it
	// even if a reconnect landed while the remote call was in flight.
	var previous models.StreamStatus
	updated, changed, err := e.store.Mutate(ctx, fresh.ID, func(s *models.LiveStream) (bool, error) {
		previous = s.Status
		switch s.Status {
		case models.StreamStatusDisabled, models.StreamStatusDeleted:
			return false, nil
		case models.StreamStatusDisconnected:
			return applyTransition(s, models.StreamStatusDisabled, TriggerTimeout, now)
		}
		s.Status = models.StreamStatusDisabled
		s.DisconnectedAt = nil
		return true, nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error().Err(err).Msg("failed to persist auto-disable")
		}
		return nil
	}
	if !changed {
		return nil
	}

	extra := events.Payload{
		"reason":                   ReasonAutoDisabled,
		"elapsed_seconds":          int64(elapsed / time.Second),
		"reconnect_window_seconds": updated.ReconnectWindowSeconds,
	}
	if previous != models.StreamStatusDisconnected {
		logger.Warn().
			Str("status", string(previous)).
			Msg("stream reconnected while remote disable was in flight, recording remote disabled state")
		extra["reconnected_during_disable"] = true
	}

	recordTransition(previous, models.StreamStatusDisabled, TriggerTimeout)
	telemetry.SweepDisabledTotal.Inc()
	logger.Info().
		Dur("elapsed", elapsed).
		Int("reconnect_window_seconds", updated.ReconnectWindowSeconds).
		Msg("stream auto-disabled after reconnect window")

	e.emitStatus(updated, previous, SourceMonitor, extra)
	return updated
}

// warnMissingRemote logs a disconnected record whose remote stream is gone. It warns
// once per record and stays at debug on later sweeps until a remote disable succeeds.
func (e *Engine) warnMissingRemote(logger zerolog.Logger, id string) {
	if _, seen := e.missingRemote.LoadOrStore(id, struct{}{}); seen {
		logger.Debug().Msg("remote stream still missing, auto-disable skipped")
		return
	}
	logger.Warn().Msg("remote stream not found, record left disconnected")
}
