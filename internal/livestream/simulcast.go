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
	"github.com/friendsincode/ottlive/internal/telemetry"
)

// SimulcastResult is the outcome of a simulcast reconciliation.
type SimulcastResult struct {
	Stream   *models.LiveStream
	Targets  []models.SimulcastTarget
	Added    int
	Deleted  int
	Failures []TargetFailure
}

// UpdateSimulcastTargets converges the remote target set with desired, matched by (url, stream key).
// Individual add and delete failures are collected in the result; only a failed listing is fatal.
func (e *Engine) UpdateSimulcastTargets(ctx context.Context, id string, desired []models.SimulcastTarget) (*SimulcastResult, error) {
	ctx, span := e.startSpan(ctx, "livestream.UpdateSimulcastTargets", id)
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

	desired, err = normalizeTargets(desired)
	if err != nil {
		return nil, err
	}

	remoteID := stream.RemoteID()
	logger := e.logger.With().Str("stream_id", id).Str("remote_stream_id", remoteID).Logger()

	rctx, cancel := e.remoteCtx(ctx)
	actual, err := e.gateway.ListSimulcastTargets(rctx, remoteID)
	cancel()
	if err != nil {
		span.RecordError(err)
		return nil, gatewayError("list simulcast targets", err)
	}

	plan := planTargets(desired, actual)
	result := &SimulcastResult{}

	for _, t := range plan.toDelete {
		rctx, cancel := e.remoteCtx(ctx)
		err := e.gateway.DeleteSimulcastTarget(rctx, remoteID, t.ID)
		cancel()
		if err != nil && !gateway.IsNotFound(err) {
			telemetry.SimulcastOperationsTotal.WithLabelValues(TargetOpDelete, "error").Inc()
			logger.Warn().Err(err).Str("target_id", t.ID).Msg("failed to delete simulcast target")
			result.Failures = append(result.Failures, TargetFailure{Op: TargetOpDelete, TargetID: t.ID, URL: t.URL, Err: err})
			continue
		}
		telemetry.SimulcastOperationsTotal.WithLabelValues(TargetOpDelete, "ok").Inc()
		result.Deleted++
	}

	created := make(map[models.TargetKey]string, len(plan.toAdd))
	for _, t := range plan.toAdd {
		rctx, cancel := e.remoteCtx(ctx)
		remote, err := e.gateway.CreateSimulcastTarget(rctx, remoteID, gateway.TargetSpec{
			Name:      t.Name,
			URL:       t.URL,
			StreamKey: t.StreamKey,
		})
		cancel()
		if err != nil {
			telemetry.SimulcastOperationsTotal.WithLabelValues(TargetOpAdd, "error").Inc()
			logger.Warn().Err(err).Str("target_url", t.URL).Msg("failed to create simulcast target")
			result.Failures = append(result.Failures, TargetFailure{Op: TargetOpAdd, URL: t.URL, Err: err})
			continue
		}
		telemetry.SimulcastOperationsTotal.WithLabelValues(TargetOpAdd, "ok").Inc()
		created[t.Key()] = remote.ID
		result.Added++
	}

	updated, changed, err := e.store.Mutate(ctx, id, func(s *models.LiveStream) (bool, error) {
		if s.Status == models.StreamStatusDeleted {
			return false, ErrStreamDeleted
		}
		merged := mergeTargets(desired, plan.matched, created, s.SimulcastTargets)
		if slices.Equal(merged, s.SimulcastTargets) {
			return false, nil
		}
		s.SimulcastTargets = merged
		return true, nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist simulcast targets")
		return nil, err
	}

	result.Stream = updated
	result.Targets = updated.SimulcastTargets

	if changed || result.Added > 0 || result.Deleted > 0 {
		logger.Info().
			Int("added", result.Added).
			Int("deleted", result.Deleted).
			Int("failed", len(result.Failures)).
			Msg("simulcast targets reconciled")
		e.emit(events.EventSimulcastTargetsUpdated, events.Payload{
			"id":               id,
			"remote_stream_id": remoteID,
			"added":            result.Added,
			"deleted":          result.Deleted,
			"failed":           len(result.Failures),
		})
	}
	return result, nil
}

type targetPlan struct {
	matched  map[models.TargetKey]gateway.RemoteTarget
	toDelete []gateway.RemoteTarget
	toAdd    []models.SimulcastTarget
}

// planTargets computes the set difference between desired and actual.
// Remote duplicates of a kept key are scheduled for deletion.
func planTargets(desired []models.SimulcastTarget, actual []gateway.RemoteTarget) targetPlan {
	wanted := make(map[models.TargetKey]bool, len(desired))
	for _, d := range desired {
		wanted[d.Key()] = true
	}

	plan := targetPlan{matched: make(map[models.TargetKey]gateway.RemoteTarget, len(actual))}
	for _, a := range actual {
		key := models.TargetKey{URL: a.URL, StreamKey: a.StreamKey}
		if _, dup := plan.matched[key]; dup || !wanted[key] {
			plan.toDelete = append(plan.toDelete, a)
			continue
		}
		plan.matched[key] = a
	}

	for _, d := range desired {
		if _, ok := plan.matched[d.Key()]; !ok {
			plan.toAdd = append(plan.toAdd, d)
		}
	}
	return plan
}

// mergeTargets builds the stored list in desired order. Matched targets keep their remote id and
// the status known in current; failed adds stay with an empty id.
func mergeTargets(desired []models.SimulcastTarget, matched map[models.TargetKey]gateway.RemoteTarget, created map[models.TargetKey]string, current []models.SimulcastTarget) []models.SimulcastTarget {
	known := make(map[string]models.TargetStatus, len(current))
	for _, t := range current {
		if t.ID != "" {
			known[t.ID] = t.Status
		}
	}

	out := make([]models.SimulcastTarget, 0, len(desired))
	for _, d := range desired {
		target := models.SimulcastTarget{
			Name:      d.Name,
			URL:       d.URL,
			StreamKey: d.StreamKey,
			Status:    models.TargetStatusDisconnected,
		}
		if remote, ok := matched[d.Key()]; ok {
			target.ID = remote.ID
			if status, ok := known[remote.ID]; ok {
				target.Status = status
			} else {
				target.Status = targetStatusFromRemote(remote.Status)
			}
		} else if id, ok := created[d.Key()]; ok {
			target.ID = id
		}
		out = append(out, target)
	}
	return out
}
