/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/ottlive/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.LiveStream{},
	); err != nil {
		return err
	}

	if err := backfillDisconnectedAt(database); err != nil {
		return err
	}
	if err := applyPostgresDisconnectedGuard(database); err != nil {
		return err
	}
	return nil
}

// backfillDisconnectedAt repairs rows written before the disconnected_at column was
// maintained: disconnected rows get their last update time, all others are cleared.
func backfillDisconnectedAt(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE live_streams SET disconnected_at = updated_at WHERE status = ? AND disconnected_at IS NULL",
		models.StreamStatusDisconnected,
	).Error; err != nil {
		return fmt.Errorf("backfill disconnected_at: %w", err)
	}
	if err := database.Exec(
		"UPDATE live_streams SET disconnected_at = NULL WHERE status <> ? AND disconnected_at IS NOT NULL",
		models.StreamStatusDisconnected,
	).Error; err != nil {
		return fmt.Errorf("clear stale disconnected_at: %w", err)
	}
	return nil
}

func applyPostgresDisconnectedGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
ALTER TABLE live_streams DROP CONSTRAINT IF EXISTS chk_live_streams_disconnected_at;

ALTER TABLE live_streams ADD CONSTRAINT chk_live_streams_disconnected_at
  CHECK ((status = 'disconnected') = (disconnected_at IS NOT NULL));
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres disconnected_at guard: %w", err)
	}
	return nil
}
