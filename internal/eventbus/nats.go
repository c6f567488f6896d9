/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

// NATSBus publishes engine events to NATS subjects and delivers events from other
// nodes to local subscribers.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus connects to NATS. If the connection cannot be set up the bus
// delivers to local subscribers only.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) *NATSBus {
	nb := &NATSBus{
		local:  events.NewBus(),
		logger: logger.With().Str("component", "eventbus").Str("backend", "nats").Logger(),
		nodeID: nodeID,
	}

	opts := []nats.Option{
		nats.Name("ottlive-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("nats connection failed, using in-memory event bus")
		return nb
	}
	nb.conn = conn

	sub, err := conn.Subscribe(natsSubjectPrefix+">", func(msg *nats.Msg) {
		nb.deliver(msg.Subject, msg.Data)
	})
	if err != nil {
		nb.logger.Warn().Err(err).Msg("nats subscribe failed, remote events will not be received")
	} else {
		nb.sub = sub
	}

	nb.logger.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("nats event bus initialized")
	return nb
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally, then to NATS when connected.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)
	if nb.conn == nil {
		telemetry.EventBusPublishedTotal.WithLabelValues("nats", "skipped").Inc()
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		telemetry.EventBusPublishedTotal.WithLabelValues("nats", "error").Inc()
		return
	}
	if err := nb.conn.Publish(natsSubject(eventType), data); err != nil {
		nb.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event to nats")
		telemetry.EventBusPublishedTotal.WithLabelValues("nats", "error").Inc()
		return
	}
	telemetry.EventBusPublishedTotal.WithLabelValues("nats", "ok").Inc()
}

func (nb *NATSBus) deliver(subject string, data []byte) {
	eventType, ok := eventTypeFromChannel(natsSubjectPrefix, subject)
	if !ok {
		return
	}
	msg, err := unmarshalMessage(data)
	if err != nil {
		nb.logger.Warn().Err(err).Str("subject", subject).Msg("dropping undecodable event")
		return
	}
	if msg.NodeID == nb.nodeID || msg.EventType != eventType {
		return
	}
	nb.local.Publish(eventType, msg.Payload)
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	nb.logger.Info().Msg("nats event bus closed")
	return nil
}
