/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"slices"
	"time"
)

// StreamStatus is the lifecycle state of a live stream.
type StreamStatus string

const (
	// StreamStatusNone means the record has no remote stream yet.
	StreamStatusNone         StreamStatus = ""
	StreamStatusIdle         StreamStatus = "idle"
	StreamStatusActive       StreamStatus = "active"
	StreamStatusDisconnected StreamStatus = "disconnected"
	StreamStatusDisabled     StreamStatus = "disabled"
	StreamStatusDeleted      StreamStatus = "deleted"
)

// Valid reports whether s is one of the known provisioned statuses.
func (s StreamStatus) Valid() bool {
	switch s {
	case StreamStatusIdle, StreamStatusActive, StreamStatusDisconnected, StreamStatusDisabled, StreamStatusDeleted:
		return true
	}
	return false
}

// TargetStatus is the connection substate of a simulcast target.
type TargetStatus string

const (
	TargetStatusDisconnected TargetStatus = "disconnected"
	TargetStatusConnected    TargetStatus = "connected"
	TargetStatusError        TargetStatus = "error"
)

// Playback policies accepted by the remote platform.
const (
	PlaybackPolicyPublic = "public"
	PlaybackPolicySigned = "signed"
)

// DefaultReconnectWindowSeconds is applied when a stream is created without an explicit window.
const DefaultReconnectWindowSeconds = 60

// PlaybackID identifies a playback endpoint on the remote platform.
type PlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

// SimulcastTarget is a secondary RTMP destination the remote platform relays to.
// An empty ID means the target is desired but does not exist remotely yet.
type SimulcastTarget struct {
	ID        string       `json:"id,omitempty"`
	Name      string       `json:"name"`
	URL       string       `json:"url"`
	StreamKey string       `json:"stream_key"`
	Status    TargetStatus `json:"status"`
}

// TargetKey is the natural key used to match desired and actual targets.
type TargetKey struct {
	URL       string
	StreamKey string
}

// Key returns the (url, stream key) identity of the target.
func (t SimulcastTarget) Key() TargetKey {
	return TargetKey{URL: t.URL, StreamKey: t.StreamKey}
}

// LiveStream is the locally persisted view of a remote live stream.
type LiveStream struct {
	ID    string `gorm:"type:uuid;primaryKey"`
	Title string `gorm:"type:varchar(255)"`

	// Remote identity, set once by provisioning
	RemoteStreamID *string `gorm:"type:varchar(255);uniqueIndex"`
	StreamKey      *string `gorm:"type:varchar(255)"`

	// Lifecycle
	Status                 StreamStatus `gorm:"type:varchar(32);index:idx_live_stream_status_disconnected"`
	DisconnectedAt         *time.Time   `gorm:"index:idx_live_stream_status_disconnected"`
	ReconnectWindowSeconds int          `gorm:"type:int"` // 0 is a valid window

	// Fixed at creation
	RecordingEnabled bool
	PlaybackPolicy   string       `gorm:"type:varchar(32)"`
	PlaybackIDs      []PlaybackID `gorm:"serializer:json"`

	SimulcastTargets []SimulcastTarget `gorm:"serializer:json"`

	// Optimistic concurrency token
	Version int64 `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides for GORM.
func (LiveStream) TableName() string {
	return "live_streams"
}

// IsProvisioned reports whether a remote stream exists for this record.
func (ls *LiveStream) IsProvisioned() bool {
	return ls.RemoteStreamID != nil && *ls.RemoteStreamID != ""
}

// RemoteID returns the remote stream id or "" when unprovisioned.
func (ls *LiveStream) RemoteID() string {
	if ls.RemoteStreamID == nil {
		return ""
	}
	return *ls.RemoteStreamID
}

// TargetByID returns the index of the target with the given remote id, or -1.
func (ls *LiveStream) TargetByID(id string) int {
	if id == "" {
		return -1
	}
	for i := range ls.SimulcastTargets {
		if ls.SimulcastTargets[i].ID == id {
			return i
		}
	}
	return -1
}

// DisconnectedFor returns how long the stream has been disconnected as of now.
func (ls *LiveStream) DisconnectedFor(now time.Time) (time.Duration, bool) {
	if ls.Status != StreamStatusDisconnected || ls.DisconnectedAt == nil {
		return 0, false
	}
	return now.Sub(*ls.DisconnectedAt), true
}

// ReconnectWindow returns the configured grace period as a duration.
func (ls *LiveStream) ReconnectWindow() time.Duration {
	return time.Duration(ls.ReconnectWindowSeconds) * time.Second
}

// Clone returns a deep copy so callers can mutate without aliasing slices or pointers.
func (ls *LiveStream) Clone() *LiveStream {
	if ls == nil {
		return nil
	}
	out := *ls
	if ls.RemoteStreamID != nil {
		v := *ls.RemoteStreamID
		out.RemoteStreamID = &v
	}
	if ls.StreamKey != nil {
		v := *ls.StreamKey
		out.StreamKey = &v
	}
	if ls.DisconnectedAt != nil {
		v := *ls.DisconnectedAt
		out.DisconnectedAt = &v
	}
	out.PlaybackIDs = slices.Clone(ls.PlaybackIDs)
	out.SimulcastTargets = slices.Clone(ls.SimulcastTargets)
	return &out
}
