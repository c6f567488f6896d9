/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"errors"
	"fmt"

	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/models"
)

var (
	// ErrGatewayUnavailable indicates a remote call failed or timed out. It never implies a status change.
	ErrGatewayUnavailable = errors.New("remote platform unavailable")

	// ErrGatewayRejected indicates the remote platform refused the request as invalid.
	ErrGatewayRejected = errors.New("remote platform rejected request")

	// ErrUnknownRemoteStream indicates no local record matches a remote stream id.
	ErrUnknownRemoteStream = errors.New("unknown remote stream")

	// ErrInvalidTransition indicates a requested or reported status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotProvisioned indicates the record has no remote stream.
	ErrNotProvisioned = errors.New("live stream not provisioned")

	// ErrStreamDeleted indicates the record is in the terminal deleted state.
	ErrStreamDeleted = errors.New("live stream deleted")

	// ErrValidation indicates a malformed command.
	ErrValidation = errors.New("invalid request")
)

// TransitionError describes a rejected transition.
type TransitionError struct {
	From    models.StreamStatus
	To      models.StreamStatus
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "unprovisioned"
	}
	return fmt.Sprintf("invalid status transition %s -> %s (%s)", from, e.To, e.Trigger)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError reports which field of a command was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Target operations reported in TargetFailure.
const (
	TargetOpAdd    = "add"
	TargetOpDelete = "delete"
)

// TargetFailure is one failed add or delete in a simulcast reconciliation batch.
type TargetFailure struct {
	Op       string
	TargetID string
	URL      string
	Err      error
}

func (f TargetFailure) Error() string {
	if f.TargetID != "" {
		return fmt.Sprintf("%s simulcast target %s (%s): %v", f.Op, f.TargetID, f.URL, f.Err)
	}
	return fmt.Sprintf("%s simulcast target %s: %v", f.Op, f.URL, f.Err)
}

// gatewayError classifies a gateway failure. Not-found passes through so callers can branch on it.
func gatewayError(op string, err error) error {
	switch {
	case gateway.IsNotFound(err):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, gateway.ErrRejected):
		return fmt.Errorf("%s: %w: %w", op, ErrGatewayRejected, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrGatewayUnavailable, err)
}
