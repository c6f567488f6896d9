/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"fmt"
	"strings"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/models"
)

// ProvisionRequest is the desired configuration of a new live stream.
type ProvisionRequest struct {
	Title            string
	RecordingEnabled bool
	PlaybackPolicy   string

	// nil uses the engine default; 0 disables the grace period.
	ReconnectWindowSeconds *int

	SimulcastTargets []models.SimulcastTarget
}

func (r *ProvisionRequest) normalize(defaultWindow int) error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return &ValidationError{Field: "title", Message: "is required"}
	}

	switch r.PlaybackPolicy {
	case "":
		r.PlaybackPolicy = models.PlaybackPolicyPublic
	case models.PlaybackPolicyPublic, models.PlaybackPolicySigned:
	default:
		return &ValidationError{Field: "playback_policy", Message: "must be public or signed"}
	}

	if r.ReconnectWindowSeconds == nil {
		w := defaultWindow
		r.ReconnectWindowSeconds = &w
	} else if *r.ReconnectWindowSeconds < 0 {
		return &ValidationError{Field: "reconnect_window_seconds", Message: "must be >= 0"}
	}

	targets, err := normalizeTargets(r.SimulcastTargets)
	if err != nil {
		return err
	}
	r.SimulcastTargets = targets
	return nil
}

// Provision creates the remote stream and persists the local record.
// On gateway failure nothing is written.
func (e *Engine) Provision(ctx context.Context, req ProvisionRequest) (*models.LiveStream, error) {
	ctx, span := e.startSpan(ctx, "livestream.Provision", "")
	defer span.End()

	if err := req.normalize(e.opts.DefaultReconnectWindowSeconds); err != nil {
		return nil, err
	}

	specs := make([]gateway.TargetSpec, 0, len(req.SimulcastTargets))
	for _, t := range req.SimulcastTargets {
		specs = append(specs, gateway.TargetSpec{Name: t.Name, URL: t.URL, StreamKey: t.StreamKey})
	}

	rctx, cancel := e.remoteCtx(ctx)
	remote, err := e.gateway.CreateStream(rctx, gateway.CreateStreamRequest{
		Title:                  req.Title,
		RecordingEnabled:       req.RecordingEnabled,
		PlaybackPolicy:         req.PlaybackPolicy,
		ReconnectWindowSeconds: *req.ReconnectWindowSeconds,
		SimulcastTargets:       specs,
	})
	cancel()
	if err != nil {
		span.RecordError(err)
		return nil, gatewayError("create remote stream", err)
	}

	status, ok := streamStatusFromRemote(remote.Status)
	if !ok {
		e.logger.Warn().
			Str("remote_stream_id", remote.ID).
			Str("remote_status", remote.Status).
			Msg("unknown remote status at provisioning, using idle")
		status = models.StreamStatusIdle
	}

	now := e.now()
	remoteID := remote.ID
	streamKey := remote.StreamKey
	stream := &models.LiveStream{
		Title:                  req.Title,
		RemoteStreamID:         &remoteID,
		StreamKey:              &streamKey,
		Status:                 status,
		ReconnectWindowSeconds: *req.ReconnectWindowSeconds,
		RecordingEnabled:       req.RecordingEnabled,
		PlaybackPolicy:         req.PlaybackPolicy,
		PlaybackIDs:            remote.PlaybackIDs,
		SimulcastTargets:       mergeCreatedTargets(req.SimulcastTargets, remote.SimulcastTargets),
	}
	if status == models.StreamStatusDisconnected {
		stream.DisconnectedAt = &now
	}

	if err := e.store.Create(ctx, stream); err != nil {
		span.RecordError(err)
		e.logger.Error().Err(err).Str("remote_stream_id", remoteID).Msg("failed to persist provisioned stream")
		e.deleteOrphan(ctx, remoteID)
		return nil, err
	}

	e.logger.Info().
		Str("stream_id", stream.ID).
		Str("remote_stream_id", remoteID).
		Str("status", string(status)).
		Msg("live stream provisioned")

	e.emit(events.EventStreamCreated, events.Payload{
		"id":               stream.ID,
		"remote_stream_id": remoteID,
		"status":           string(status),
	})
	return stream, nil
}

// deleteOrphan removes a remote stream whose local record could not be written.
func (e *Engine) deleteOrphan(ctx context.Context, remoteID string) {
	rctx, cancel := e.remoteCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := e.gateway.DeleteStream(rctx, remoteID); err != nil && !gateway.IsNotFound(err) {
		e.logger.Error().Err(err).Str("remote_stream_id", remoteID).Msg("failed to delete orphaned remote stream")
	}
}

// mergeCreatedTargets attaches remote ids from the create response to the desired list.
func mergeCreatedTargets(desired []models.SimulcastTarget, created []gateway.RemoteTarget) []models.SimulcastTarget {
	byKey := make(map[models.TargetKey]gateway.RemoteTarget, len(created))
	for _, t := range created {
		key := models.TargetKey{URL: t.URL, StreamKey: t.StreamKey}
		if _, dup := byKey[key]; !dup {
			byKey[key] = t
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
		if remote, ok := byKey[d.Key()]; ok {
			target.ID = remote.ID
		}
		out = append(out, target)
	}
	return out
}

// normalizeTargets validates destinations and collapses duplicate (url, stream key) pairs to the first.
func normalizeTargets(in []models.SimulcastTarget) ([]models.SimulcastTarget, error) {
	seen := make(map[models.TargetKey]bool, len(in))
	out := make([]models.SimulcastTarget, 0, len(in))
	for i, t := range in {
		t.URL = strings.TrimSpace(t.URL)
		t.StreamKey = strings.TrimSpace(t.StreamKey)
		t.Name = strings.TrimSpace(t.Name)
		if t.URL == "" {
			return nil, &ValidationError{Field: targetField(i, "url"), Message: "is required"}
		}
		if !strings.HasPrefix(t.URL, "rtmp://") && !strings.HasPrefix(t.URL, "rtmps://") {
			return nil, &ValidationError{Field: targetField(i, "url"), Message: "must be an rtmp:// or rtmps:// url"}
		}
		if seen[t.Key()] {
			continue
		}
		seen[t.Key()] = true
		out = append(out, t)
	}
	return out, nil
}

func targetField(i int, name string) string {
	return fmt.Sprintf("simulcast_targets[%d].%s", i, name)
}
