/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the engine, HTTP surface and background workers together.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/api"
	"github.com/friendsincode/ottlive/internal/config"
	"github.com/friendsincode/ottlive/internal/db"
	"github.com/friendsincode/ottlive/internal/events"
	"github.com/friendsincode/ottlive/internal/leadership"
	"github.com/friendsincode/ottlive/internal/logbuffer"
	"github.com/friendsincode/ottlive/internal/scheduler"
	"github.com/friendsincode/ottlive/internal/telemetry"
	"github.com/friendsincode/ottlive/internal/webhooks"
)

const dbMetricsInterval = 15 * time.Second

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	core                 *Core
	logBuffer            *logbuffer.Buffer
	api                  *api.API
	monitor              *scheduler.Service
	leaderAwareScheduler *scheduler.LeaderAwareScheduler

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New builds the server and starts background workers. Call Close to release everything.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsMux := chi.NewRouter()
	metricsMux.Handle("/metrics", telemetry.Handler())
	srv.metricsServer = &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-store")
		}

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	core, err := NewCore(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.core = core
	s.DeferClose(core.Close)

	verifier := webhooks.NewVerifier(s.cfg.WebhookSecret, s.cfg.WebhookTolerance())
	if !verifier.Enabled() {
		s.logger.Warn().Msg("OTT_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	s.api = api.New(core.Engine, verifier, []byte(s.cfg.JWTSigningKey), s.logBuffer, s.logger)
	s.monitor = scheduler.New(core.Engine, s.cfg.SweepInterval(), s.logger)

	if s.cfg.LeaderElectionEnabled {
		election, err := leadership.NewElection(leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			ElectionKey:   leadership.DefaultElectionKey,
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAwareScheduler = scheduler.NewLeaderAware(s.monitor, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareScheduler.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", election.InstanceID()).
			Msg("leader election enabled for disconnect monitor")
	}

	return nil
}

// HTTPServer exposes the API server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus endpoint server.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.leaderAwareScheduler != nil {
		if err := s.leaderAwareScheduler.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("leader-aware monitor failed to start")
		}
	} else {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.monitor.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("disconnect monitor stopped")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runDBMetrics(ctx)
	}()

	for _, eventType := range events.AllEventTypes {
		sub := s.core.Bus.Subscribe(eventType)
		s.bgWG.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer s.bgWG.Done()
			defer s.core.Bus.Unsubscribe(eventType, sub)
			s.logEvents(ctx, eventType, sub)
		}(eventType, sub)
	}
}

func (s *Server) runDBMetrics(ctx context.Context) {
	ticker := time.NewTicker(dbMetricsInterval)
	defer ticker.Stop()

	db.UpdateConnectionMetrics(s.core.DB)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.UpdateConnectionMetrics(s.core.DB)
		}
	}
}

// logEvents records lifecycle events emitted locally or by other instances.
func (s *Server) logEvents(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	logger := s.logger.With().Str("component", "events").Str("event", string(eventType)).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			logger.Debug().Fields(map[string]any(payload)).Msg("lifecycle event")
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/readyz", s.handleReady)
	s.api.Routes(s.router)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if sqlDB, err := s.core.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "database_unavailable"
	}

	if s.leaderAwareScheduler != nil {
		body["leader"] = s.leaderAwareScheduler.IsLeader()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
