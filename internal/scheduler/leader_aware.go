/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Elector is the leader election the wrapper follows.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// Runner is a loop that runs until its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// LeaderAwareScheduler runs the wrapped loop only while this instance is the leader.
type LeaderAwareScheduler struct {
	runner   Runner
	election Elector
	logger   zerolog.Logger

	ctx context.Context

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLeaderAware creates a leader-aware wrapper.
func NewLeaderAware(runner Runner, election Elector, logger zerolog.Logger) *LeaderAwareScheduler {
	return &LeaderAwareScheduler{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Start begins the election and follows leadership changes until ctx is done.
func (las *LeaderAwareScheduler) Start(ctx context.Context) error {
	las.ctx = ctx
	las.logger.Info().Msg("starting leader-aware scheduler")

	if err := las.election.Start(ctx); err != nil {
		return err
	}
	go las.monitorLeadership()
	return nil
}

// Stop stops the loop and releases leadership.
func (las *LeaderAwareScheduler) Stop() error {
	las.logger.Info().Msg("stopping leader-aware scheduler")
	las.stopRunner()
	return las.election.Stop()
}

func (las *LeaderAwareScheduler) monitorLeadership() {
	leaderCh := las.election.LeaderCh()

	if las.election.IsLeader() {
		las.startRunner()
	}

	for {
		select {
		case <-las.ctx.Done():
			las.stopRunner()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				las.logger.Info().Msg("became leader, starting disconnect monitor")
				las.startRunner()
			} else {
				las.logger.Warn().Msg("lost leadership, stopping disconnect monitor")
				las.stopRunner()
			}
		}
	}
}

func (las *LeaderAwareScheduler) startRunner() {
	las.mu.Lock()
	defer las.mu.Unlock()
	if las.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(las.ctx)
	stopped := make(chan struct{})
	las.cancel = cancel
	las.stopped = stopped

	go func() {
		defer close(stopped)
		if err := las.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			las.logger.Error().Err(err).Msg("disconnect monitor error")
		}
	}()
}

// stopRunner cancels the loop and waits for it to return.
func (las *LeaderAwareScheduler) stopRunner() {
	las.mu.Lock()
	cancel, stopped := las.cancel, las.stopped
	las.cancel, las.stopped = nil, nil
	las.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Running reports whether the wrapped loop is active.
func (las *LeaderAwareScheduler) Running() bool {
	las.mu.Lock()
	defer las.mu.Unlock()
	return las.cancel != nil
}

// IsLeader returns whether this instance is the leader.
func (las *LeaderAwareScheduler) IsLeader() bool {
	return las.election.IsLeader()
}
