/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"slices"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/store"
)

// List returns records matching filter, each reconciled with the remote platform.
// A record whose reconciled status no longer matches filter.Statuses is left out.
func (e *Engine) List(ctx context.Context, filter store.Filter) ([]models.LiveStream, error) {
	ctx, span := e.startSpan(ctx, "livestream.List", "")
	defer span.End()

	found, err := e.store.FindWhere(ctx, filter)
	if err != nil {
		return nil, err
	}
	streams := make([]models.LiveStream, 0, len(found))
	for i := range found {
		stream := e.Reconcile(ctx, &found[i])
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, stream.Status) {
			continue
		}
		streams = append(streams, *stream)
	}
	return streams, nil
}

// Enable re-enables a disabled stream. The resulting status is what the remote reports: active or idle.
func (e *Engine) Enable(ctx context.Context, id string) (*models.LiveStream, error) {
	ctx, span := e.startSpan(ctx, "livestream.Enable", id)
	defer span.End()

	stream, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !stream.IsProvisioned() {
		return nil, ErrNotProvisioned
	}
	switch stream.Status {
	case models.StreamStatusIdle, models.StreamStatusActive:
		return stream, nil
	}
	if !CanTransition(stream.Status, models.StreamStatusIdle, TriggerEnable) {
		return nil, &TransitionError{From: stream.Status, To: models.StreamStatusIdle, Trigger: TriggerEnable}
	}

	rctx, cancel := e.remoteCtx(ctx)
	err = e.gateway.EnableStream(rctx, stream.RemoteID())
	cancel()
	if err != nil {
		span.RecordError(err)
		return nil, gatewayError("enable remote stream", err)
	}

	target := models.StreamStatusIdle
	rctx, cancel = e.remoteCtx(ctx)
	remote, err := e.gateway.GetStream(rctx, stream.RemoteID())
	cancel()
	if err != nil {
		e.logger.Warn().Err(err).Str("stream_id", id).Msg("remote status unknown after enable, assuming idle")
	} else if remote.Status == gateway.RemoteStatusActive {
		target = models.StreamStatusActive
	}

	return e.commandTransition(ctx, stream.ID, target, TriggerEnable)
}

// Disable stops a disconnected stream from accepting ingest.
func (e *Engine) Disable(ctx context.Context, id string) (*models.LiveStream, error) {
	ctx, span := e.startSpan(ctx, "livestream.Disable", id)
	defer span.End()

	stream, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !stream.IsProvisioned() {
		return nil, ErrNotProvisioned
	}
	if stream.Status == models.StreamStatusDisabled {
		return stream, nil
	}
	if !CanTransition(stream.Status, models.StreamStatusDisabled, TriggerDisable) {
		return nil, &TransitionError{From: stream.Status, To: models.StreamStatusDisabled, Trigger: TriggerDisable}
	}

	rctx, cancel := e.remoteCtx(ctx)
	err = e.gateway.DisableStream(rctx, stream.RemoteID())
	cancel()
	if err != nil {
		span.RecordError(err)
		return nil, gatewayError("disable remote stream", err)
	}

	return e.commandTransition(ctx, stream.ID, models.StreamStatusDisabled, TriggerDisable)
}

// Delete removes the remote stream and marks the record deleted. A remote stream that is
// already gone counts as deleted; any other gateway failure leaves the record untouched.
func (e *Engine) Delete(ctx context.Context, id string) (*models.LiveStream, error) {
	ctx, span := e.startSpan(ctx, "livestream.Delete", id)
	defer span.End()

	stream, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stream.Status == models.StreamStatusDeleted {
		return stream, nil
	}

	if stream.IsProvisioned() {
		rctx, cancel := e.remoteCtx(ctx)
		err := e.gateway.DeleteStream(rctx, stream.RemoteID())
		cancel()
		if err != nil && !gateway.IsNotFound(err) {
			span.RecordError(err)
			return nil, gatewayError("delete remote stream", err)
		}
	}

	return e.commandTransition(ctx, stream.ID, models.StreamStatusDeleted, TriggerDelete)
}

// ResetStreamKey rotates the ingest credential. The returned record carries the new key.
func (e *Engine) ResetStreamKey(ctx context.Context, id string) (*models.LiveStream, error) {
	ctx, span := e.startSpan(ctx, "livestream.ResetStreamKey", id)
	defer span.End()

	stream, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !stream.IsProvisioned() {
		return nil, ErrNotProvisioned
	}
	if stream.Status == models.StreamStatusDeleted {
		return nil, ErrStreamDeleted
	}

	rctx, cancel := e.remoteCtx(ctx)
	key, err := e.gateway.ResetStreamKey(rctx, stream.RemoteID())
	cancel()
	if err != nil {
		span.RecordError(err)
		return nil, gatewayError("reset stream key", err)
	}

	updated, _, err := e.store.Mutate(ctx, id, func(s *models.LiveStream) (bool, error) {
		if s.Status == models.StreamStatusDeleted {
			return false, ErrStreamDeleted
		}
		if s.StreamKey != nil && *s.StreamKey == key {
			return false, nil
		}
		k := key
		s.StreamKey = &k
		return true, nil
	})
	if err != nil {
		e.logger.Error().Err(err).Str("stream_id", id).Msg("failed to persist reset stream key")
		return nil, err
	}

	e.logger.Info().Str("stream_id", id).Msg("stream key reset")
	e.emit(events.EventStreamKeyReset, events.Payload{
		"id":               id,
		"remote_stream_id": updated.RemoteID(),
	})
	return updated, nil
}

// commandTransition persists an operator-driven transition after the gateway call succeeded.
// The transition is validated again against the fresh record.
func (e *Engine) commandTransition(ctx context.Context, id string, to models.StreamStatus, trigger Trigger) (*models.LiveStream, error) {
	var previous models.StreamStatus
	updated, changed, err := e.store.Mutate(ctx, id, func(s *models.LiveStream) (bool, error) {
		previous = s.Status
		return applyTransition(s, to, trigger, e.now())
	})
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("stream_id", id).
			Str("to", string(to)).
			Str("trigger", string(trigger)).
			Msg("command transition not persisted")
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	recordTransition(previous, to, trigger)
	e.logger.Info().
		Str("stream_id", id).
		Str("from", string(previous)).
		Str("to", string(to)).
		Str("trigger", string(trigger)).
		Msg("status changed by command")
	e.emitStatus(updated, previous, SourceCommand, events.Payload{"trigger": string(trigger)})
	return updated, nil
}
