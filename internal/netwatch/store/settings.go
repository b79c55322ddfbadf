/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package store

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/jmoiron/sqlx"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

// SettingsStore implements a flat key/value settings table, for small
// pieces of state that don't warrant their own table.
type SettingsStore struct {
	db *sqlx.DB
}

// Get returns the value stored under key, or ok=false if unset.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM settings WHERE key = $1`
	var value string
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&value); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errs.Wrap(errs.KindStoreTransient, err, "get setting")
	}
	return value, true, nil
}

// Set upserts a key/value pair.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
`
	_, err := s.db.ExecContext(ctx, q, key, value)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "set setting")
	}
	return nil
}
