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
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

// ThreatIndicatorsStore implements feed-indicator persistence.
type ThreatIndicatorsStore struct {
	db *sqlx.DB
}

// ReplaceForFeed atomically replaces every indicator belonging to
// feedName with the given domain/IP sets, inside one transaction, so a
// failed parse or partial download never leaves the feed half-updated.
func (s *ThreatIndicatorsStore) ReplaceForFeed(ctx context.Context, feedName string, domains, ips map[string]struct{}, ts time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "begin replace-for-feed tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM threat_indicators WHERE feed_name = $1`, feedName); err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "delete existing indicators")
	}

	const ins = `
INSERT INTO threat_indicators (indicator, indicator_type, feed_name, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $4)
`
	for d := range domains {
		if _, err := tx.ExecContext(ctx, ins, d, IndicatorDomain, feedName, ts); err != nil {
			return errs.Wrap(errs.KindStoreTransient, err, "insert domain indicator")
		}
	}
	for ip := range ips {
		if _, err := tx.ExecContext(ctx, ins, ip, IndicatorIP, feedName, ts); err != nil {
			return errs.Wrap(errs.KindStoreTransient, err, "insert ip indicator")
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "commit replace-for-feed tx")
	}
	return nil
}

// LoadAll returns every indicator across every feed, used to build an
// in-memory threat.Index snapshot at startup and after each feed update.
func (s *ThreatIndicatorsStore) LoadAll(ctx context.Context) ([]ThreatIndicator, error) {
	const q = `SELECT indicator, indicator_type, feed_name, first_seen, last_seen FROM threat_indicators`
	var out []ThreatIndicator
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, err, "load all indicators")
	}
	return out, nil
}
