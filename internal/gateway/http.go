/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

// Config configures the HTTP gateway.
type Config struct {
	BaseURL     string
	TokenID     string
	TokenSecret string

	// Timeout bounds a single HTTP exchange. Callers still pass their own deadline.
	Timeout time.Duration

	// BreakerDelay is how long the breaker stays open before probing again.
	BreakerDelay time.Duration
}

// HTTPClient implements Gateway against a Mux-style REST API.
type HTTPClient struct {
	baseURL string
	tokenID string
	secret  string
	client  *http.Client
	breaker circuitbreaker.CircuitBreaker[any]
	logger  zerolog.Logger
}

// NewHTTPClient creates a REST client for the remote platform.
func NewHTTPClient(cfg Config, logger zerolog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 15 * time.Second
	}

	logger = logger.With().Str("component", "gateway").Logger()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, ErrUnavailable)
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			telemetry.GatewayCircuitState.Set(circuitStateValue(event.NewState))
			logger.Warn().
				Str("from_state", circuitStateName(event.OldState)).
				Str("to_state", circuitStateName(event.NewState)).
				Msg("gateway circuit breaker state change")
		}).
		Build()

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokenID: cfg.TokenID,
		secret:  cfg.TokenSecret,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: breaker,
		logger:  logger,
	}
}

func circuitStateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "closed"
	}
}

func circuitStateValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return 0
	}
}

// Wire types

type playbackIDBody struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

type targetBody struct {
	ID          string `json:"id,omitempty"`
	Passthrough string `json:"passthrough,omitempty"`
	Status      string `json:"status,omitempty"`
	StreamKey   string `json:"stream_key,omitempty"`
	URL         string `json:"url"`
}

type streamBody struct {
	ID               string           `json:"id"`
	StreamKey        string           `json:"stream_key"`
	Status           string           `json:"status"`
	PlaybackIDs      []playbackIDBody `json:"playback_ids"`
	SimulcastTargets []targetBody     `json:"simulcast_targets"`
}

type assetSettings struct {
	PlaybackPolicy []string `json:"playback_policy"`
}

type createStreamBody struct {
	PlaybackPolicy   []string       `json:"playback_policy"`
	NewAssetSettings *assetSettings `json:"new_asset_settings,omitempty"`
	Passthrough      string         `json:"passthrough,omitempty"`
	ReconnectWindow  int            `json:"reconnect_window"`
	SimulcastTargets []targetBody   `json:"simulcast_targets,omitempty"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type errorBody struct {
	Error struct {
		Type     string   `json:"type"`
		Messages []string `json:"messages"`
	} `json:"error"`
}

func (b streamBody) toRemote() *RemoteStream {
	out := &RemoteStream{
		ID:        b.ID,
		StreamKey: b.StreamKey,
		Status:    b.Status,
	}
	for _, p := range b.PlaybackIDs {
		out.PlaybackIDs = append(out.PlaybackIDs, models.PlaybackID{ID: p.ID, Policy: p.Policy})
	}
	for _, t := range b.SimulcastTargets {
		out.SimulcastTargets = append(out.SimulcastTargets, t.toRemote())
	}
	return out
}

func (b targetBody) toRemote() RemoteTarget {
	return RemoteTarget{
		ID:        b.ID,
		Name:      b.Passthrough,
		URL:       b.URL,
		StreamKey: b.StreamKey,
		Status:    b.Status,
	}
}

// CreateStream provisions a new remote live stream.
func (c *HTTPClient) CreateStream(ctx context.Context, req CreateStreamRequest) (*RemoteStream, error) {
	policy := req.PlaybackPolicy
	if policy == "" {
		policy = models.PlaybackPolicyPublic
	}
	body := createStreamBody{
		PlaybackPolicy:  []string{policy},
		Passthrough:     req.Title,
		ReconnectWindow: req.ReconnectWindowSeconds,
	}
	if req.RecordingEnabled {
		body.NewAssetSettings = &assetSettings{PlaybackPolicy: []string{policy}}
	}
	for _, t := range req.SimulcastTargets {
		body.SimulcastTargets = append(body.SimulcastTargets, targetBody{
			Passthrough: t.Name,
			URL:         t.URL,
			StreamKey:   t.StreamKey,
		})
	}

	var out envelope[streamBody]
	if err := c.do(ctx, "create_stream", http.MethodPost, "/video/v1/live-streams", body, &out, nil); err != nil {
		return nil, err
	}
	return out.Data.toRemote(), nil
}

// GetStream fetches the current remote view of a stream.
func (c *HTTPClient) GetStream(ctx context.Context, remoteStreamID string) (*RemoteStream, error) {
	var out envelope[streamBody]
	if err := c.do(ctx, "get_stream", http.MethodGet, streamPath(remoteStreamID), nil, &out, ErrStreamNotFound); err != nil {
		return nil, err
	}
	return out.Data.toRemote(), nil
}

// EnableStream allows the encoder to connect again.
func (c *HTTPClient) EnableStream(ctx context.Context, remoteStreamID string) error {
	return c.do(ctx, "enable_stream", http.MethodPut, streamPath(remoteStreamID)+"/enable", nil, nil, ErrStreamNotFound)
}

// DisableStream stops the remote stream from accepting ingest.
func (c *HTTPClient) DisableStream(ctx context.Context, remoteStreamID string) error {
	return c.do(ctx, "disable_stream", http.MethodPut, streamPath(remoteStreamID)+"/disable", nil, nil, ErrStreamNotFound)
}

// DeleteStream removes the remote stream.
func (c *HTTPClient) DeleteStream(ctx context.Context, remoteStreamID string) error {
	return c.do(ctx, "delete_stream", http.MethodDelete, streamPath(remoteStreamID), nil, nil, ErrStreamNotFound)
}

// ResetStreamKey rotates the ingest key and returns the new one.
func (c *HTTPClient) ResetStreamKey(ctx context.Context, remoteStreamID string) (string, error) {
	var out envelope[streamBody]
	if err := c.do(ctx, "reset_stream_key", http.MethodPost, streamPath(remoteStreamID)+"/reset-stream-key", nil, &out, ErrStreamNotFound); err != nil {
		return "", err
	}
	if out.Data.StreamKey == "" {
		return "", fmt.Errorf("reset_stream_key: remote returned empty stream key: %w", ErrUnavailable)
	}
	return out.Data.StreamKey, nil
}

// ListSimulcastTargets returns the targets attached to the remote stream.
func (c *HTTPClient) ListSimulcastTargets(ctx context.Context, remoteStreamID string) ([]RemoteTarget, error) {
	var out envelope[streamBody]
	if err := c.do(ctx, "list_simulcast_targets", http.MethodGet, streamPath(remoteStreamID), nil, &out, ErrStreamNotFound); err != nil {
		return nil, err
	}
	targets := make([]RemoteTarget, 0, len(out.Data.SimulcastTargets))
	for _, t := range out.Data.SimulcastTargets {
		targets = append(targets, t.toRemote())
	}
	return targets, nil
}

// CreateSimulcastTarget attaches a new relay destination.
func (c *HTTPClient) CreateSimulcastTarget(ctx context.Context, remoteStreamID string, spec TargetSpec) (*RemoteTarget, error) {
	body := targetBody{
		Passthrough: spec.Name,
		URL:         spec.URL,
		StreamKey:   spec.StreamKey,
	}
	var out envelope[targetBody]
	if err := c.do(ctx, "create_simulcast_target", http.MethodPost, streamPath(remoteStreamID)+"/simulcast-targets", body, &out, ErrStreamNotFound); err != nil {
		return nil, err
	}
	target := out.Data.toRemote()
	return &target, nil
}

// DeleteSimulcastTarget detaches a relay destination.
func (c *HTTPClient) DeleteSimulcastTarget(ctx context.Context, remoteStreamID, targetID string) error {
	path := streamPath(remoteStreamID) + "/simulcast-targets/" + url.PathEscape(targetID)
	return c.do(ctx, "delete_simulcast_target", http.MethodDelete, path, nil, nil, ErrTargetNotFound)
}

func streamPath(remoteStreamID string) string {
	return "/video/v1/live-streams/" + url.PathEscape(remoteStreamID)
}

// do executes one request through the circuit breaker. notFound is returned for 404 responses.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any, notFound error) error {
	start := time.Now()

	_, err := failsafe.With(c.breaker).WithContext(ctx).Get(func() (any, error) {
		return nil, c.exchange(ctx, op, method, path, in, out)
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if !errors.Is(err, ErrUnavailable) && (errors.Is(err, circuitbreaker.ErrOpen) || ctx.Err() != nil) {
			err = fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
		}
		var apiErr *APIError
		if notFound != nil && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			err = fmt.Errorf("%w: %w", notFound, err)
		}
		telemetry.GatewayErrorsTotal.WithLabelValues(op, errorKind(err)).Inc()
		c.logger.Debug().Err(err).Str("operation", op).Str("path", path).Msg("gateway call failed")
	}
	telemetry.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	return err
}

func (c *HTTPClient) exchange(ctx context.Context, op, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.SetBasicAuth(c.tokenID, c.secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w: %w", op, ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && len(eb.Error.Messages) > 0 {
			apiErr.Message = strings.Join(eb.Error.Messages, "; ")
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w: %w", op, ErrUnavailable, err)
		}
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsNotFound(err):
		return "not_found"
	case errors.Is(err, ErrRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
