/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/ottlive/internal/config"
	"github.com/friendsincode/ottlive/internal/db"
	"github.com/friendsincode/ottlive/internal/eventbus"
	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/gateway"
	"github.com/friendsincode/ottlive/internal/livestream"
	"github.com/friendsincode/ottlive/internal/store"
)

// EventBus is the publisher side used by the engine plus local subscription.
type EventBus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Core holds the dependencies shared by the server and one-shot commands.
type Core struct {
	DB      *gorm.DB
	Store   *store.GormStore
	Gateway *gateway.HTTPClient
	Bus     EventBus
	Engine  *livestream.Engine

	closers []func() error
}

// NewCore connects to the database, runs migrations and builds the engine.
func NewCore(cfg *config.Config, logger zerolog.Logger) (*Core, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	core := &Core{DB: database}
	core.deferClose(func() error { return db.Close(database) })

	if err := db.Migrate(database); err != nil {
		_ = core.Close()
		return nil, err
	}

	bus, err := newEventBus(cfg, logger)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	core.Bus = bus
	if c, ok := bus.(interface{ Close() error }); ok {
		core.deferClose(c.Close)
	}

	core.Store = store.New(database, cfg.StoreMaxAttempts, logger)
	core.Gateway = gateway.NewHTTPClient(gateway.Config{
		BaseURL:     cfg.GatewayBaseURL,
		TokenID:     cfg.GatewayTokenID,
		TokenSecret: cfg.GatewayTokenSecret,
		Timeout:     cfg.GatewayTimeout(),
	}, logger)
	core.Engine = livestream.NewEngine(core.Store, core.Gateway, core.Bus, logger, livestream.Options{
		GatewayTimeout:                cfg.GatewayTimeout(),
		DefaultReconnectWindowSeconds: cfg.DefaultReconnectWindowSeconds,
	})
	return core, nil
}

func newEventBus(cfg *config.Config, logger zerolog.Logger) (EventBus, error) {
	switch cfg.EventBus {
	case config.EventBusMemory, "":
		return events.NewBus(), nil
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		return eventbus.NewRedisBus(redisCfg, eventbus.NodeID(), logger), nil
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		return eventbus.NewNATSBus(natsCfg, eventbus.NodeID(), logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}
}

func (c *Core) deferClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases owned resources in reverse order.
func (c *Core) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
