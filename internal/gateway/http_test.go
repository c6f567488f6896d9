package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{
		BaseURL:     srv.URL,
		TokenID:     "token-id",
		TokenSecret: "token-secret",
		Timeout:     2 * time.Second,
	}, zerolog.Nop())
}

func TestHTTPClient_CreateStream(t *testing.T) {
	var got createStreamBody
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/video/v1/live-streams" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "token-id" || pass != "token-secret" {
			t.Errorf("expected basic auth credentials, got %q/%q", user, pass)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"rs-1","stream_key":"sk-1","status":"idle",
			"playback_ids":[{"id":"pb-1","policy":"public"}],
			"simulcast_targets":[{"id":"t-1","passthrough":"yt","status":"idle","url":"rtmp://yt/live","stream_key":"yk"}]}}`))
	})

	remote, err := client.CreateStream(context.Background(), CreateStreamRequest{
		Title:                  "Morning show",
		RecordingEnabled:       true,
		PlaybackPolicy:         "public",
		ReconnectWindowSeconds: 30,
		SimulcastTargets:       []TargetSpec{{Name: "yt", URL: "rtmp://yt/live", StreamKey: "yk"}},
	})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	if got.ReconnectWindow != 30 {
		t.Errorf("expected reconnect_window=30, got %d", got.ReconnectWindow)
	}
	if got.NewAssetSettings == nil {
		t.Error("expected new_asset_settings when recording is enabled")
	}
	if len(got.SimulcastTargets) != 1 || got.SimulcastTargets[0].Passthrough != "yt" {
		t.Errorf("unexpected simulcast targets in request: %+v", got.SimulcastTargets)
	}

	if remote.ID != "rs-1" || remote.StreamKey != "sk-1" || remote.Status != "idle" {
		t.Errorf("unexpected remote stream: %+v", remote)
	}
	if len(remote.PlaybackIDs) != 1 || remote.PlaybackIDs[0].ID != "pb-1" {
		t.Errorf("unexpected playback ids: %+v", remote.PlaybackIDs)
	}
	if len(remote.SimulcastTargets) != 1 || remote.SimulcastTargets[0].Name != "yt" {
		t.Errorf("unexpected simulcast targets: %+v", remote.SimulcastTargets)
	}
}

func TestHTTPClient_RecordingDisabledOmitsAssetSettings(t *testing.T) {
	var raw map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"data":{"id":"rs-1","stream_key":"sk","status":"idle"}}`))
	})

	if _, err := client.CreateStream(context.Background(), CreateStreamRequest{}); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if _, ok := raw["new_asset_settings"]; ok {
		t.Error("expected no new_asset_settings when recording is disabled")
	}
	if raw["reconnect_window"] != float64(0) {
		t.Errorf("expected explicit reconnect_window=0, got %v", raw["reconnect_window"])
	}
}

func TestHTTPClient_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"not_found","messages":["no such stream"]}}`))
	})

	_, err := client.GetStream(context.Background(), "missing")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("not found must not be classified as unavailable")
	}

	err = client.DeleteSimulcastTarget(context.Background(), "rs-1", "t-1")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestHTTPClient_ServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.EnableStream(context.Background(), "rs-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPClient_RejectedRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_parameters","messages":["url is invalid"]}}`))
	})

	_, err := client.CreateSimulcastTarget(context.Background(), "rs-1", TargetSpec{URL: "nope"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "url is invalid" {
		t.Errorf("expected API error message to be surfaced, got %v", err)
	}
}

func TestHTTPClient_DeadlineIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := client.DisableStream(ctx, "rs-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on deadline, got %v", err)
	}
}

func TestHTTPClient_CircuitOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 10; i++ {
		_ = client.EnableStream(context.Background(), "rs-1")
	}
	before := calls.Load()

	err := client.EnableStream(context.Background(), "rs-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from open circuit, got %v", err)
	}
	if calls.Load() != before {
		t.Error("expected open circuit to short-circuit the request")
	}
}

func TestHTTPClient_ResetStreamKeyAndListTargets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/video/v1/live-streams/rs-1/reset-stream-key":
			_, _ = w.Write([]byte(`{"data":{"id":"rs-1","stream_key":"new-key"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/video/v1/live-streams/rs-1":
			_, _ = w.Write([]byte(`{"data":{"id":"rs-1","simulcast_targets":[
				{"id":"t-1","url":"rtmp://a","stream_key":"ka","status":"broadcasting"},
				{"id":"t-2","url":"rtmp://b","stream_key":"kb","status":"idle"}]}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	key, err := client.ResetStreamKey(context.Background(), "rs-1")
	if err != nil || key != "new-key" {
		t.Fatalf("ResetStreamKey = %q, %v", key, err)
	}

	targets, err := client.ListSimulcastTargets(context.Background(), "rs-1")
	if err != nil {
		t.Fatalf("ListSimulcastTargets: %v", err)
	}
	if len(targets) != 2 || targets[0].ID != "t-1" || targets[1].Status != "idle" {
		t.Errorf("unexpected targets: %+v", targets)
	}
}
