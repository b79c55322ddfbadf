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
	"github.com/satori/uuid"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

// ThreatAlertsStore implements the alert log: alerts are appended, never
// deduplicated at write time (the rescan path owns its own dedup guard).
type ThreatAlertsStore struct {
	db *sqlx.DB
}

// Append writes one alert, assigning it a fresh id.
func (s *ThreatAlertsStore) Append(ctx context.Context, a Alert) (uuid.UUID, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.NewV4()
	}
	const q = `
INSERT INTO threat_alerts (
	id, ts, source, indicator, indicator_type, feed_name, client_ip, server_ip, domain, resolved
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.Ts, a.Source, a.Indicator, a.IndicatorType, a.FeedName, a.ClientIP, a.ServerIP, a.Domain)
	if err != nil {
		return uuid.Nil, errs.Wrap(errs.KindStoreTransient, err, "append alert")
	}
	return a.ID, nil
}

// Resolve marks a single alert resolved.
func (s *ThreatAlertsStore) Resolve(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE threat_alerts SET resolved = true, resolved_at = $2 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, id, time.Now())
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "resolve alert")
	}
	return nil
}

// ResolveBatch marks a set of alerts resolved in one statement.
func (s *ThreatAlertsStore) ResolveBatch(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE threat_alerts SET resolved = true, resolved_at = $2 WHERE id = ANY($1)`
	_, err := s.db.ExecContext(ctx, q, uuidArray(ids), time.Now())
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "resolve alert batch")
	}
	return nil
}

// ResolveByIndicator resolves every unresolved alert matching indicator,
// called when an operator whitelists a domain/IP that already has open
// alerts against it.
func (s *ThreatAlertsStore) ResolveByIndicator(ctx context.Context, indicator string, typ IndicatorType) (int64, error) {
	const q = `
UPDATE threat_alerts SET resolved = true, resolved_at = $3
WHERE indicator = $1 AND indicator_type = $2 AND NOT resolved
`
	res, err := s.db.ExecContext(ctx, q, indicator, typ, time.Now())
	if err != nil {
		return 0, errs.Wrap(errs.KindStoreTransient, err, "resolve by indicator")
	}
	return res.RowsAffected()
}

// ExistingKeys loads the (indicator, feed, type) triples already alerted
// on, for the historical rescan's dedup guard.
func (s *ThreatAlertsStore) ExistingKeys(ctx context.Context) (map[string]struct{}, error) {
	const q = `SELECT DISTINCT indicator, feed_name, indicator_type FROM threat_alerts`
	rows, err := s.db.QueryxContext(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, err, "load existing alert keys")
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var indicator, feed string
		var typ IndicatorType
		if err := rows.Scan(&indicator, &feed, &typ); err != nil {
			return nil, errs.Wrap(errs.KindStoreTransient, err, "scan alert key")
		}
		keys[indicator+"|"+feed+"|"+string(typ)] = struct{}{}
	}
	return keys, rows.Err()
}

func uuidArray(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
