/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"slices"
	"time"

	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

// Trigger names what caused a status change.
type Trigger string

const (
	TriggerRemote  Trigger = "remote"
	TriggerTimeout Trigger = "timeout"
	TriggerDisable Trigger = "disable"
	TriggerEnable  Trigger = "enable"
	TriggerDelete  Trigger = "delete"
)

type transitionKey struct {
	from    models.StreamStatus
	trigger Trigger
}

// transitions lists every allowed change except delete, which CanTransition accepts from any non-deleted status.
var transitions = map[transitionKey][]models.StreamStatus{
	{models.StreamStatusIdle, TriggerRemote}:          {models.StreamStatusActive},
	{models.StreamStatusActive, TriggerRemote}:        {models.StreamStatusDisconnected},
	{models.StreamStatusDisconnected, TriggerRemote}:  {models.StreamStatusActive},
	{models.StreamStatusDisconnected, TriggerTimeout}: {models.StreamStatusDisabled},
	{models.StreamStatusDisconnected, TriggerDisable}: {models.StreamStatusDisabled},
	{models.StreamStatusDisabled, TriggerEnable}:      {models.StreamStatusIdle, models.StreamStatusActive},
}

// CanTransition reports whether from -> to is allowed for trigger. from == to is always allowed as a no-op.
func CanTransition(from, to models.StreamStatus, trigger Trigger) bool {
	if from == to {
		return true
	}
	if trigger == TriggerDelete {
		return to == models.StreamStatusDeleted && from != models.StreamStatusDeleted
	}
	return slices.Contains(transitions[transitionKey{from, trigger}], to)
}

// applyTransition moves stream to status `to`, maintaining DisconnectedAt.
// It returns changed=false when the stream is already in `to`.
func applyTransition(stream *models.LiveStream, to models.StreamStatus, trigger Trigger, now time.Time) (bool, error) {
	from := stream.Status
	if from == to {
		return false, nil
	}
	if !CanTransition(from, to, trigger) {
		telemetry.StreamTransitionsRejectedTotal.WithLabelValues(statusLabel(from), statusLabel(to), string(trigger)).Inc()
		return false, &TransitionError{From: from, To: to, Trigger: trigger}
	}

	stream.Status = to
	if to == models.StreamStatusDisconnected {
		at := now.UTC()
		stream.DisconnectedAt = &at
	} else {
		stream.DisconnectedAt = nil
	}
	return true, nil
}

func recordTransition(from, to models.StreamStatus, trigger Trigger) {
	telemetry.StreamTransitionsTotal.WithLabelValues(statusLabel(from), statusLabel(to), string(trigger)).Inc()
}

func statusLabel(s models.StreamStatus) string {
	if s == models.StreamStatusNone {
		return "none"
	}
	return string(s)
}

// streamStatusFromRemote maps a remote status string onto the local enum.
func streamStatusFromRemote(remote string) (models.StreamStatus, bool) {
	switch remote {
	case gateway.RemoteStatusIdle:
		return models.StreamStatusIdle, true
	case gateway.RemoteStatusActive:
		return models.StreamStatusActive, true
	case gateway.RemoteStatusDisconnected:
		return models.StreamStatusDisconnected, true
	case gateway.RemoteStatusDisabled:
		return models.StreamStatusDisabled, true
	}
	return models.StreamStatusNone, false
}

// targetStatusFromRemote maps a remote simulcast target status onto the local enum.
func targetStatusFromRemote(remote string) models.TargetStatus {
	switch remote {
	case gateway.RemoteTargetBroadcasting:
		return models.TargetStatusConnected
	case gateway.RemoteTargetErrored:
		return models.TargetStatusError
	default:
		return models.TargetStatusDisconnected
	}
}
