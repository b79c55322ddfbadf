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
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

// ThreatFeedsStore implements feed scheduling/health metadata.
type ThreatFeedsStore struct {
	db *sqlx.DB
}

// UpsertMeta creates or updates a feed's descriptor and scheduling
// state. lastErr is cleared (set NULL) on a successful update by
// passing an empty string.
func (s *ThreatFeedsStore) UpsertMeta(ctx context.Context, name, family, url string, level int, lastUpdate time.Time, lastErr string) error {
	const q = `
INSERT INTO threat_feeds (name, family, url, level, enabled, last_update, last_error)
VALUES ($1, $2, $3, $4, true, $5, NULLIF($6, ''))
ON CONFLICT (name) DO UPDATE SET
	family = EXCLUDED.family,
	url = EXCLUDED.url,
	level = EXCLUDED.level,
	last_update = EXCLUDED.last_update,
	last_error = EXCLUDED.last_error
`
	_, err := s.db.ExecContext(ctx, q, name, family, url, level, lastUpdate, lastErr)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "upsert feed meta")
	}
	return nil
}

// RecordError records a failed update attempt without touching
// last_update, since spec requires existing indicators (and the
// successful-update timestamp) untouched on failure.
func (s *ThreatFeedsStore) RecordError(ctx context.Context, name string, errMsg string) error {
	const q = `UPDATE threat_feeds SET last_error = $2 WHERE name = $1`
	_, err := s.db.ExecContext(ctx, q, name, errMsg)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "record feed error")
	}
	return nil
}

// Get returns one feed's metadata.
func (s *ThreatFeedsStore) Get(ctx context.Context, name string) (*ThreatFeedMeta, error) {
	const q = `SELECT name, family, url, level, enabled, last_update, last_error FROM threat_feeds WHERE name = $1`
	var meta ThreatFeedMeta
	if err := s.db.GetContext(ctx, &meta, q, name); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound, "feed "+name+" not found")
		}
		return nil, errs.Wrap(errs.KindStoreTransient, err, "get feed meta")
	}
	return &meta, nil
}

// List returns every configured feed's metadata.
func (s *ThreatFeedsStore) List(ctx context.Context) ([]ThreatFeedMeta, error) {
	const q = `SELECT name, family, url, level, enabled, last_update, last_error FROM threat_feeds ORDER BY name`
	var out []ThreatFeedMeta
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, err, "list feeds")
	}
	return out, nil
}

// SetEnabled toggles whether a feed is included in the scheduler's loop.
func (s *ThreatFeedsStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	const q = `UPDATE threat_feeds SET enabled = $2 WHERE name = $1`
	res, err := s.db.ExecContext(ctx, q, name, enabled)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "set feed enabled")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "rows affected")
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, "feed "+name+" not found")
	}
	return nil
}
