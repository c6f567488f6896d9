/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans engine events out to other instances over Redis or NATS.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/ottlive/internal/events"
)

const (
	redisChannelPrefix = "ottlive:events:"
	natsSubjectPrefix  = "ottlive.events."
)

// message is the wire envelope shared by both backends.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal event message: missing event_type")
	}
	return &msg, nil
}

func redisChannel(eventType events.EventType) string {
	return redisChannelPrefix + string(eventType)
}

func natsSubject(eventType events.EventType) string {
	return natsSubjectPrefix + string(eventType)
}

// eventTypeFromChannel strips the backend prefix. ok is false for foreign channels.
func eventTypeFromChannel(prefix, channel string) (events.EventType, bool) {
	if !strings.HasPrefix(channel, prefix) {
		return "", false
	}
	return events.EventType(strings.TrimPrefix(channel, prefix)), true
}

// NodeID returns a process-unique id used for self-message suppression.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
