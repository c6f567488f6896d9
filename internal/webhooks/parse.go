/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks turns signed remote platform webhooks into engine notifications.
package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/ottlive/internal/livestream"
	"github.com/friendsincode/ottlive/internal/models"
)

var (
	// ErrUnsupportedEvent is returned for event types the engine does not consume.
	ErrUnsupportedEvent = errors.New("unsupported webhook event")

	// ErrMalformedPayload is returned when the body cannot be decoded or lacks ids.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

const (
	streamPrefix = "video.live_stream."
	targetPrefix = "video.live_stream.simulcast_target."
)

// Event is the envelope the remote platform posts.
type Event struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Object    EventObject     `json:"object"`
	Data      json.RawMessage `json:"data"`
}

// EventObject identifies the resource the event is about.
type EventObject struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type targetData struct {
	LiveStreamID string `json:"live_stream_id"`
}

var streamStatuses = map[string]models.StreamStatus{
	"active":       models.StreamStatusActive,
	"idle":         models.StreamStatusIdle,
	"disconnected": models.StreamStatusDisconnected,
	"disabled":     models.StreamStatusDisabled,
	"enabled":      models.StreamStatusIdle,
	"deleted":      models.StreamStatusDeleted,
}

var targetKinds = map[string]livestream.TargetEventKind{
	"broadcasting": livestream.TargetConnected,
	"idle":         livestream.TargetDisconnected,
	"errored":      livestream.TargetErrored,
}

// Parse decodes body into a Notification.
func Parse(body []byte) (livestream.Notification, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedPayload)
	}
	return event.Notification()
}

// Notification maps the envelope onto the engine's closed notification set.
func (e Event) Notification() (livestream.Notification, error) {
	if strings.HasPrefix(e.Type, targetPrefix) {
		kind, ok := targetKinds[strings.TrimPrefix(e.Type, targetPrefix)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, e.Type)
		}
		var data targetData
		if len(e.Data) > 0 {
			if err := json.Unmarshal(e.Data, &data); err != nil {
				return nil, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
			}
		}
		if data.LiveStreamID == "" || e.Object.ID == "" {
			return nil, fmt.Errorf("%w: target event needs live_stream_id and object id", ErrMalformedPayload)
		}
		return livestream.TargetNotification{
			RemoteStreamID: data.LiveStreamID,
			TargetID:       e.Object.ID,
			Kind:           kind,
			OccurredAt:     e.CreatedAt,
		}, nil
	}

	if strings.HasPrefix(e.Type, streamPrefix) {
		status, ok := streamStatuses[strings.TrimPrefix(e.Type, streamPrefix)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, e.Type)
		}
		if e.Object.ID == "" {
			return nil, fmt.Errorf("%w: missing object id", ErrMalformedPayload)
		}
		return livestream.StatusNotification{
			RemoteStreamID: e.Object.ID,
			Status:         status,
			OccurredAt:     e.CreatedAt,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, e.Type)
}
