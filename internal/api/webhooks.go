/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/friendsincode/ottlive/internal/telemetry"
	"github.com/friendsincode/ottlive/internal/webhooks"
)

// handleRemoteWebhook verifies and parses a remote platform notification and ingests it synchronously.
func (a *API) handleRemoteWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large")
		return
	}

	if err := a.verifier.Verify(r.Header.Get(webhooks.SignatureHeader), body); err != nil {
		a.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("webhook signature rejected")
		telemetry.WebhookEventsTotal.WithLabelValues("unverified", "rejected").Inc()
		writeError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}

	notification, err := webhooks.Parse(body)
	switch {
	case errors.Is(err, webhooks.ErrUnsupportedEvent):
		a.logger.Debug().Err(err).Msg("webhook event ignored")
		telemetry.WebhookEventsTotal.WithLabelValues("unsupported", "ignored").Inc()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	case err != nil:
		a.logger.Warn().Err(err).Msg("malformed webhook payload")
		telemetry.WebhookEventsTotal.WithLabelValues("malformed", "rejected").Inc()
		writeError(w, http.StatusBadRequest, "malformed_payload")
		return
	}

	// Ingest finishes even if the sender hangs up.
	a.engine.Ingest(context.WithoutCancel(r.Context()), notification)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
