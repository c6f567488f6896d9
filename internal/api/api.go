/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the operator command surface and the remote webhook receiver.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/ottlive/internal/auth"
	"github.com/friendsincode/ottlive/internal/livestream"
	"github.com/friendsincode/ottlive/internal/logbuffer"
	"github.com/friendsincode/ottlive/internal/store"
	"github.com/friendsincode/ottlive/internal/webhooks"
)

// maxWebhookBody bounds the webhook payload read into memory.
const maxWebhookBody = 1 << 20

// API exposes HTTP handlers.
type API struct {
	engine    *livestream.Engine
	verifier  *webhooks.Verifier
	jwtSecret []byte
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API.
func New(engine *livestream.Engine, verifier *webhooks.Verifier, jwtSecret []byte, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		engine:    engine,
		verifier:  verifier,
		jwtSecret: jwtSecret,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Post("/webhooks/remote", a.handleRemoteWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(a.jwtSecret))

		r.Route("/live-streams", func(r chi.Router) {
			r.Post("/", a.handleStreamCreate)
			r.Get("/", a.handleStreamList)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleStreamGet)
				r.Delete("/", a.handleStreamDelete)
				r.Post("/enable", a.handleStreamEnable)
				r.Post("/disable", a.handleStreamDisable)
				r.Post("/reset-stream-key", a.handleStreamResetKey)
				r.Put("/simulcast-targets", a.handleSimulcastTargetsUpdate)
			})
		})

		if a.logBuffer != nil {
			r.Route("/system/logs", func(r chi.Router) {
				r.Get("/", a.handleSystemLogs)
				r.Get("/components", a.handleLogComponents)
			})
		}
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEngineError maps engine and store errors onto HTTP responses.
func (a *API) writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ve *livestream.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "validation_failed",
			"field":   ve.Field,
			"message": ve.Message,
		})
	case errors.Is(err, livestream.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, livestream.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	case errors.Is(err, livestream.ErrNotProvisioned):
		writeError(w, http.StatusConflict, "not_provisioned")
	case errors.Is(err, livestream.ErrStreamDeleted):
		writeError(w, http.StatusConflict, "stream_deleted")
	case errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version_conflict")
	case errors.Is(err, livestream.ErrGatewayRejected):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":   "gateway_rejected",
			"message": err.Error(),
		})
	case errors.Is(err, livestream.ErrGatewayUnavailable):
		a.logger.Warn().Err(err).Str("op", op).Msg("remote platform unavailable")
		writeError(w, http.StatusBadGateway, "gateway_unavailable")
	default:
		a.logger.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
