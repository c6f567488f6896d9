/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/ottlive/internal/livestream"
	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/store"
)

const maxListLimit = 500

type targetRequest struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	StreamKey string `json:"stream_key"`
}

type streamCreateRequest struct {
	Title                  string          `json:"title"`
	RecordingEnabled       bool            `json:"recording_enabled"`
	PlaybackPolicy         string          `json:"playback_policy"`
	ReconnectWindowSeconds *int            `json:"reconnect_window_seconds"`
	SimulcastTargets       []targetRequest `json:"simulcast_targets"`
}

type simulcastUpdateRequest struct {
	Targets []targetRequest `json:"targets"`
}

// targetResponse omits the destination stream key.
type targetResponse struct {
	ID     string              `json:"id,omitempty"`
	Name   string              `json:"name"`
	URL    string              `json:"url"`
	Status models.TargetStatus `json:"status"`
}

// streamResponse is the operator view of a record. The stream key is only set by
// provision and reset-stream-key.
type streamResponse struct {
	ID                     string              `json:"id"`
	Title                  string              `json:"title"`
	RemoteStreamID         string              `json:"remote_stream_id,omitempty"`
	StreamKey              string              `json:"stream_key,omitempty"`
	Status                 models.StreamStatus `json:"status"`
	DisconnectedAt         *time.Time          `json:"disconnected_at,omitempty"`
	ReconnectWindowSeconds int                 `json:"reconnect_window_seconds"`
	RecordingEnabled       bool                `json:"recording_enabled"`
	PlaybackPolicy         string              `json:"playback_policy"`
	PlaybackIDs            []models.PlaybackID `json:"playback_ids"`
	SimulcastTargets       []targetResponse    `json:"simulcast_targets"`
	Version                int64               `json:"version"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

type targetWarning struct {
	Op       string `json:"op"`
	TargetID string `json:"target_id,omitempty"`
	URL      string `json:"url"`
	Error    string `json:"error"`
}

type simulcastResponse struct {
	Targets  []targetResponse `json:"targets"`
	Added    int              `json:"added"`
	Deleted  int              `json:"deleted"`
	Warnings []targetWarning  `json:"warnings"`
}

func toTargets(in []targetRequest) []models.SimulcastTarget {
	out := make([]models.SimulcastTarget, 0, len(in))
	for _, t := range in {
		out = append(out, models.SimulcastTarget{Name: t.Name, URL: t.URL, StreamKey: t.StreamKey})
	}
	return out
}

func toTargetResponses(in []models.SimulcastTarget) []targetResponse {
	out := make([]targetResponse, 0, len(in))
	for _, t := range in {
		out = append(out, targetResponse{ID: t.ID, Name: t.Name, URL: t.URL, Status: t.Status})
	}
	return out
}

func toStreamResponse(s *models.LiveStream, withKey bool) streamResponse {
	resp := streamResponse{
		ID:                     s.ID,
		Title:                  s.Title,
		RemoteStreamID:         s.RemoteID(),
		Status:                 s.Status,
		DisconnectedAt:         s.DisconnectedAt,
		ReconnectWindowSeconds: s.ReconnectWindowSeconds,
		RecordingEnabled:       s.RecordingEnabled,
		PlaybackPolicy:         s.PlaybackPolicy,
		PlaybackIDs:            s.PlaybackIDs,
		SimulcastTargets:       toTargetResponses(s.SimulcastTargets),
		Version:                s.Version,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
	}
	if resp.PlaybackIDs == nil {
		resp.PlaybackIDs = []models.PlaybackID{}
	}
	if withKey && s.StreamKey != nil {
		resp.StreamKey = *s.StreamKey
	}
	return resp
}

func (a *API) handleStreamCreate(w http.ResponseWriter, r *http.Request) {
	var req streamCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	stream, err := a.engine.Provision(r.Context(), livestream.ProvisionRequest{
		Title:                  req.Title,
		RecordingEnabled:       req.RecordingEnabled,
		PlaybackPolicy:         req.PlaybackPolicy,
		ReconnectWindowSeconds: req.ReconnectWindowSeconds,
		SimulcastTargets:       toTargets(req.SimulcastTargets),
	})
	if err != nil {
		a.writeEngineError(w, r, "provision", err)
		return
	}

	a.logger.Info().
		Str("stream_id", stream.ID).
		Str("remote_stream_id", stream.RemoteID()).
		Msg("live stream provisioned")

	writeJSON(w, http.StatusCreated, toStreamResponse(stream, true))
}

func (a *API) handleStreamList(w http.ResponseWriter, r *http.Request) {
	var filter store.Filter

	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.StreamStatus(strings.TrimSpace(part))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_status")
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = limit
	}

	streams, err := a.engine.List(r.Context(), filter)
	if err != nil {
		a.writeEngineError(w, r, "list", err)
		return
	}

	out := make([]streamResponse, 0, len(streams))
	for i := range streams {
		out = append(out, toStreamResponse(&streams[i], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleStreamGet(w http.ResponseWriter, r *http.Request) {
	stream, err := a.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeEngineError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamResponse(stream, false))
}

func (a *API) handleStreamDelete(w http.ResponseWriter, r *http.Request) {
	stream, err := a.engine.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeEngineError(w, r, "delete", err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamResponse(stream, false))
}

func (a *API) handleStreamEnable(w http.ResponseWriter, r *http.Request) {
	stream, err := a.engine.Enable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeEngineError(w, r, "enable", err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamResponse(stream, false))
}

func (a *API) handleStreamDisable(w http.ResponseWriter, r *http.Request) {
	stream, err := a.engine.Disable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeEngineError(w, r, "disable", err)
		return
	}
	writeJSON(w, http.StatusOK, toStreamResponse(stream, false))
}

func (a *API) handleStreamResetKey(w http.ResponseWriter, r *http.Request) {
	stream, err := a.engine.ResetStreamKey(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeEngineError(w, r, "reset_stream_key", err)
		return
	}

	a.logger.Info().Str("stream_id", stream.ID).Msg("stream key reset")
	writeJSON(w, http.StatusOK, toStreamResponse(stream, true))
}

func (a *API) handleSimulcastTargetsUpdate(w http.ResponseWriter, r *http.Request) {
	var req simulcastUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	result, err := a.engine.UpdateSimulcastTargets(r.Context(), chi.URLParam(r, "id"), toTargets(req.Targets))
	if err != nil {
		a.writeEngineError(w, r, "update_simulcast_targets", err)
		return
	}

	warnings := make([]targetWarning, 0, len(result.Failures))
	for _, f := range result.Failures {
		warnings = append(warnings, targetWarning{Op: f.Op, TargetID: f.TargetID, URL: f.URL, Error: f.Err.Error()})
	}

	writeJSON(w, http.StatusOK, simulcastResponse{
		Targets:  toTargetResponses(result.Targets),
		Added:    result.Added,
		Deleted:  result.Deleted,
		Warnings: warnings,
	})
}
