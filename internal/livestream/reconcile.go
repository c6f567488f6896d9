/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"errors"

	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/models"
)

// Get loads a record and reconciles its status with the remote platform.
func (e *Engine) Get(ctx context.Context, id string) (*models.LiveStream, error) {
	stream, err := e.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Reconcile(ctx, stream), nil
}

// Reconcile pulls the remote status and corrects local drift. It never fails:
// gateway errors, unknown remote statuses and rejected transitions leave the record unchanged.
func (e *Engine) Reconcile(ctx context.Context, stream *models.LiveStream) *models.LiveStream {
	if !stream.IsProvisioned() || stream.Status == models.StreamStatusDeleted {
		return stream
	}

	ctx, span := e.startSpan(ctx, "livestream.Reconcile", stream.ID)
	defer span.End()

	logger := e.logger.With().
		Str("stream_id", stream.ID).
		Str("remote_stream_id", stream.RemoteID()).
		Logger()

	rctx, cancel := e.remoteCtx(ctx)
	remote, err := e.gateway.GetStream(rctx, stream.RemoteID())
	cancel()
	if err != nil {
		if gateway.IsNotFound(err) {
			logger.Warn().Msg("remote stream not found, leaving record unchanged")
		} else {
			logger.Warn().Err(err).Msg("status reconcile skipped, remote platform unavailable")
		}
		return stream
	}

	remoteStatus, ok := streamStatusFromRemote(remote.Status)
	if !ok {
		logger.Warn().Str("remote_status", remote.Status).Msg("unknown remote status, leaving record unchanged")
		return stream
	}
	if remoteStatus == stream.Status {
		return stream
	}

	var previous models.StreamStatus
	updated, changed, err := e.store.Mutate(ctx, stream.ID, func(s *models.LiveStream) (bool, error) {
		previous = s.Status
		return applyTransition(s, remoteStatus, TriggerRemote, e.now())
	})
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			logger.Warn().
				Str("from", string(te.From)).
				Str("to", string(te.To)).
				Msg("remote reported status rejected by transition table")
		} else {
			logger.Error().Err(err).Msg("failed to persist reconciled status")
		}
		if updated != nil {
			return updated
		}
		return stream
	}
	if !changed {
		return updated
	}

	recordTransition(previous, updated.Status, TriggerRemote)
	logger.Info().
		Str("from", string(previous)).
		Str("to", string(updated.Status)).
		Msg("status reconciled from remote")
	e.emitStatus(updated, previous, SourceReconcile, nil)
	return updated
}
