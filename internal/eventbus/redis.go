/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

// RedisBus publishes engine events to Redis pub/sub and delivers events from
// other nodes to local subscribers. Local subscribers always see local events.
type RedisBus struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	local   *events.Bus
	logger  zerolog.Logger
	nodeID  string
	breaker circuitbreaker.CircuitBreaker[any]

	publishTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Consecutive publish failures before Redis is bypassed, and how long before it is retried.
	MaxFailures   int
	RetryInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		RetryInterval: 30 * time.Second,
	}
}

// NewRedisBus connects to Redis and starts the receive loop. When Redis cannot be
// reached the bus still works, delivering to local subscribers only.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	logger = logger.With().Str("component", "eventbus").Str("backend", "redis").Logger()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}

	rb := &RedisBus{
		local:          events.NewBus(),
		logger:         logger,
		nodeID:         nodeID,
		publishTimeout: 2 * time.Second,
		breaker: circuitbreaker.NewBuilder[any]().
			WithFailureThresholdRatio(uint(cfg.MaxFailures), uint(cfg.MaxFailures)).
			WithDelay(cfg.RetryInterval).
			WithSuccessThreshold(1).
			OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
				if event.NewState == circuitbreaker.OpenState {
					logger.Warn().Msg("redis publish failing, delivering events locally only")
				} else if event.NewState == circuitbreaker.ClosedState {
					logger.Info().Msg("redis publish recovered")
				}
			}).
			Build(),
	}

	rb.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	rb.cancel = cancel

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.DialTimeout+time.Second)
	defer pingCancel()
	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unavailable at startup, remote fanout will retry")
	}

	rb.pubsub = rb.client.PSubscribe(ctx, redisChannelPrefix+"*")
	rb.wg.Add(1)
	go rb.receive(ctx)

	logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("redis event bus initialized")
	return rb
}

// Subscribe registers a local subscriber for an event type.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally, then to Redis unless the breaker is open.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		telemetry.EventBusPublishedTotal.WithLabelValues("redis", "error").Inc()
		return
	}

	_, err = failsafe.With(rb.breaker).Get(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), rb.publishTimeout)
		defer cancel()
		return nil, rb.client.Publish(ctx, redisChannel(eventType), data).Err()
	})
	switch {
	case err == nil:
		telemetry.EventBusPublishedTotal.WithLabelValues("redis", "ok").Inc()
	case errors.Is(err, circuitbreaker.ErrOpen):
		telemetry.EventBusPublishedTotal.WithLabelValues("redis", "skipped").Inc()
	default:
		rb.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event to redis")
		telemetry.EventBusPublishedTotal.WithLabelValues("redis", "error").Inc()
	}
}

func (rb *RedisBus) receive(ctx context.Context) {
	defer rb.wg.Done()

	ch := rb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			rb.deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}

// deliver hands a message from another node to local subscribers.
func (rb *RedisBus) deliver(channel string, data []byte) {
	eventType, ok := eventTypeFromChannel(redisChannelPrefix, channel)
	if !ok {
		return
	}
	msg, err := unmarshalMessage(data)
	if err != nil {
		rb.logger.Warn().Err(err).Str("channel", channel).Msg("dropping undecodable event")
		return
	}
	if msg.NodeID == rb.nodeID || msg.EventType != eventType {
		return
	}
	rb.local.Publish(eventType, msg.Payload)
}

// Close stops the receive loop and closes the client.
func (rb *RedisBus) Close() error {
	rb.cancel()
	if rb.pubsub != nil {
		_ = rb.pubsub.Close()
	}
	rb.wg.Wait()
	if err := rb.client.Close(); err != nil {
		rb.logger.Error().Err(err).Msg("failed to close redis client")
		return err
	}
	rb.logger.Info().Msg("redis event bus closed")
	return nil
}
