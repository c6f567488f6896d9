/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists live stream records with per-record optimistic concurrency.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/ottlive/internal/models"
	"github.com/friendsincode/ottlive/internal/telemetry"
)

var (
	// ErrNotFound indicates no live stream matched the lookup.
	ErrNotFound = errors.New("live stream not found")

	// ErrVersionConflict indicates the record changed between read and write.
	ErrVersionConflict = errors.New("live stream version conflict")
)

// DefaultMaxAttempts bounds read-modify-write retries on version conflicts.
const DefaultMaxAttempts = 3

// ConflictError reports a failed check-and-set.
type ConflictError struct {
	ID              string
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("live stream %s: version %d is stale", e.ID, e.ExpectedVersion)
}

// Is lets errors.Is match ErrVersionConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Filter narrows FindWhere results. Zero value matches every record.
type Filter struct {
	Statuses         []models.StreamStatus
	DisconnectedOnly bool // only records with disconnected_at set
	Limit            int
}

// MutateFunc edits a fresh copy of the record. Returning changed=false skips the write.
// It is re-run on version conflicts, so it must not perform I/O.
type MutateFunc func(stream *models.LiveStream) (changed bool, err error)

// Store is the live stream record store used by the engine.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.LiveStream, error)
	FindByRemoteID(ctx context.Context, remoteStreamID string) (*models.LiveStream, error)
	FindWhere(ctx context.Context, filter Filter) ([]models.LiveStream, error)
	Create(ctx context.Context, stream *models.LiveStream) error
	Update(ctx context.Context, stream *models.LiveStream) error
	Mutate(ctx context.Context, id string, fn MutateFunc) (*models.LiveStream, bool, error)
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db          *gorm.DB
	maxAttempts int
	logger      zerolog.Logger
}

// New creates a gorm-backed store. maxAttempts <= 0 uses DefaultMaxAttempts.
func New(db *gorm.DB, maxAttempts int, logger zerolog.Logger) *GormStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &GormStore{
		db:          db,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("component", "store").Logger(),
	}
}

// FindByID loads a record by local id.
func (s *GormStore) FindByID(ctx context.Context, id string) (*models.LiveStream, error) {
	var stream models.LiveStream
	if err := s.db.WithContext(ctx).First(&stream, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query live stream: %w", err)
	}
	return &stream, nil
}

// FindByRemoteID loads a record by its remote stream id.
func (s *GormStore) FindByRemoteID(ctx context.Context, remoteStreamID string) (*models.LiveStream, error) {
	if remoteStreamID == "" {
		return nil, ErrNotFound
	}
	var stream models.LiveStream
	if err := s.db.WithContext(ctx).First(&stream, "remote_stream_id = ?", remoteStreamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query live stream by remote id: %w", err)
	}
	return &stream, nil
}

// FindWhere returns records matching filter ordered by creation time.
func (s *GormStore) FindWhere(ctx context.Context, filter Filter) ([]models.LiveStream, error) {
	query := s.db.WithContext(ctx).Model(&models.LiveStream{})
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.DisconnectedOnly {
		query = query.Where("disconnected_at IS NOT NULL")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var streams []models.LiveStream
	if err := query.Order("created_at ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("query live streams: %w", err)
	}
	return streams, nil
}

// Create inserts a new record, assigning an id when missing.
func (s *GormStore) Create(ctx context.Context, stream *models.LiveStream) error {
	if stream.ID == "" {
		stream.ID = uuid.NewString()
	}
	if stream.Version == 0 {
		stream.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("create live stream: %w", err)
	}
	return nil
}

// mutableColumns are written by Update. recording_enabled and created_at are fixed at creation.
var mutableColumns = []string{
	"title",
	"remote_stream_id",
	"stream_key",
	"status",
	"disconnected_at",
	"reconnect_window_seconds",
	"playback_ids",
	"simulcast_targets",
	"version",
	"updated_at",
}

// Update writes stream if its Version still matches the stored one, then bumps Version.
func (s *GormStore) Update(ctx context.Context, stream *models.LiveStream) error {
	expected := stream.Version
	next := stream.Clone()
	next.Version = expected + 1
	next.UpdatedAt = time.Now().UTC()

	result := s.db.WithContext(ctx).
		Model(&models.LiveStream{}).
		Where("id = ? AND version = ?", stream.ID, expected).
		Select(mutableColumns).
		Updates(next)
	if result.Error != nil {
		return fmt.Errorf("update live stream: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.LiveStream{}).Where("id = ?", stream.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("check live stream: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		telemetry.StoreVersionConflictsTotal.Inc()
		return &ConflictError{ID: stream.ID, ExpectedVersion: expected}
	}

	stream.Version = next.Version
	stream.UpdatedAt = next.UpdatedAt
	return nil
}

// Mutate runs a bounded read-modify-write loop keyed by id.
// It returns the record as stored after the call and whether a write happened.
func (s *GormStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*models.LiveStream, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, false, err
		}

		working := current.Clone()
		changed, err := fn(working)
		if err != nil {
			return current, false, err
		}
		if !changed {
			return current, false, nil
		}

		err = s.Update(ctx, working)
		if err == nil {
			return working, true, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return current, false, err
		}

		lastErr = err
		s.logger.Debug().
			Str("stream_id", id).
			Int("attempt", attempt).
			Msg("version conflict, retrying read-modify-write")
	}
	return nil, false, fmt.Errorf("mutate live stream after %d attempts: %w", s.maxAttempts, lastErr)
}
