/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs the disconnect monitor on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = time.Minute

// Sweeper runs one disconnect monitor pass.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]models.LiveStream, error)
}

// Service ticks the sweeper. Ticks never overlap and each one is bounded by the interval.
type Service struct {
	sweeper  Sweeper
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	running sync.Mutex
}

// New constructs the monitor runner.
func New(sweeper Sweeper, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With().Str("component", "disconnect_monitor").Logger(),
		now:      time.Now,
	}
}

// Interval returns the tick interval.
func (s *Service) Interval() time.Duration {
	return s.interval
}

// Run executes the monitor loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("disconnect monitor started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("disconnect monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep unless one is already in flight. It reports whether a sweep ran.
func (s *Service) Tick(ctx context.Context) bool {
	if !s.running.TryLock() {
		s.logger.Warn().Msg("previous sweep still running, skipping tick")
		telemetry.SweepRunsTotal.WithLabelValues("skipped").Inc()
		return false
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	remediated, err := s.sweeper.Sweep(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("disconnect sweep failed")
		return true
	}
	if len(remediated) > 0 {
		ids := make([]string, 0, len(remediated))
		for _, stream := range remediated {
			ids = append(ids, stream.ID)
		}
		s.logger.Debug().Strs("stream_ids", ids).Msg("sweep disabled streams")
	}
	return true
}
