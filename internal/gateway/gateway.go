/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gateway talks to the remote live-video platform.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/friendsincode/ottlive/internal/models"
)

var (
	// ErrUnavailable indicates the remote call failed, timed out or was short-circuited.
	ErrUnavailable = errors.New("remote platform unavailable")

	// ErrStreamNotFound indicates the remote platform has no such live stream.
	ErrStreamNotFound = errors.New("remote live stream not found")

	// ErrTargetNotFound indicates the remote platform has no such simulcast target.
	ErrTargetNotFound = errors.New("remote simulcast target not found")

	// ErrRejected indicates the remote platform refused the request (4xx other than 404).
	ErrRejected = errors.New("remote platform rejected request")
)

// Remote status strings reported by the platform.
const (
	RemoteStatusIdle         = "idle"
	RemoteStatusActive       = "active"
	RemoteStatusDisconnected = "disconnected"
	RemoteStatusDisabled     = "disabled"

	RemoteTargetIdle         = "idle"
	RemoteTargetStarting     = "starting"
	RemoteTargetBroadcasting = "broadcasting"
	RemoteTargetErrored      = "errored"
)

// TargetSpec describes a simulcast destination to create.
type TargetSpec struct {
	Name      string
	URL       string
	StreamKey string
}

// CreateStreamRequest carries the desired configuration of a new remote stream.
type CreateStreamRequest struct {
	Title                  string // passthrough label
	RecordingEnabled       bool
	PlaybackPolicy         string
	ReconnectWindowSeconds int
	SimulcastTargets       []TargetSpec
}

// RemoteTarget is a simulcast target as the remote platform reports it.
type RemoteTarget struct {
	ID        string
	Name      string
	URL       string
	StreamKey string
	Status    string
}

// RemoteStream is a live stream as the remote platform reports it.
type RemoteStream struct {
	ID               string
	StreamKey        string
	Status           string
	PlaybackIDs      []models.PlaybackID
	SimulcastTargets []RemoteTarget
}

// Gateway is the capability the engine uses to drive the remote platform.
type Gateway interface {
	CreateStream(ctx context.Context, req CreateStreamRequest) (*RemoteStream, error)
	GetStream(ctx context.Context, remoteStreamID string) (*RemoteStream, error)
	EnableStream(ctx context.Context, remoteStreamID string) error
	DisableStream(ctx context.Context, remoteStreamID string) error
	DeleteStream(ctx context.Context, remoteStreamID string) error
	ResetStreamKey(ctx context.Context, remoteStreamID string) (string, error)
	ListSimulcastTargets(ctx context.Context, remoteStreamID string) ([]RemoteTarget, error)
	CreateSimulcastTarget(ctx context.Context, remoteStreamID string, spec TargetSpec) (*RemoteTarget, error)
	DeleteSimulcastTarget(ctx context.Context, remoteStreamID, targetID string) error
}

// APIError is a non-2xx response from the remote platform.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: remote returned %d", e.Op, e.StatusCode)
}

// Is classifies the response so callers can use errors.Is with the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
	case ErrRejected:
		return e.StatusCode >= 400 && e.StatusCode < 500 &&
			e.StatusCode != http.StatusNotFound &&
			e.StatusCode != http.StatusTooManyRequests &&
			e.StatusCode != http.StatusRequestTimeout
	}
	return false
}

// IsNotFound reports whether err means the remote stream or target does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStreamNotFound) || errors.Is(err, ErrTargetNotFound)
}
