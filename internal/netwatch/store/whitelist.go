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

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

// ThreatWhitelistStore implements the operator-curated exemption list.
type ThreatWhitelistStore struct {
	db *sqlx.DB
}

// Add inserts a whitelist entry. A duplicate domain/ip (the partial
// unique indexes in 003_threat.sql) is not an error: it returns the
// existing entry's id wrapped in a KindStoreConflict error, so callers
// can treat "already whitelisted" as a successful no-op with that id.
func (s *ThreatWhitelistStore) Add(ctx context.Context, e WhitelistEntry) (int64, error) {
	const q = `
INSERT INTO threat_whitelist (indicator_type, domain, ip, reason, created_at)
VALUES ($1, $2, $3, $4, now())
RETURNING id
`
	var id int64
	err := s.db.QueryRowContext(ctx, q, e.Type, e.Domain, e.IP, e.Reason).Scan(&id)
	if err == nil {
		return id, nil
	}

	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		existing, lookupErr := s.existingID(ctx, e)
		if lookupErr != nil {
			return 0, errs.Wrap(errs.KindStoreTransient, lookupErr, "look up existing whitelist entry")
		}
		return existing, errs.Wrap(errs.KindStoreConflict, err, "whitelist entry already exists")
	}
	return 0, errs.Wrap(errs.KindStoreTransient, err, "add whitelist entry")
}

// existingID looks up the id of the whitelist entry that collided with
// an Add, keyed on whichever of domain/ip the entry's type carries.
func (s *ThreatWhitelistStore) existingID(ctx context.Context, e WhitelistEntry) (int64, error) {
	var q string
	var arg interface{}
	if e.Type == IndicatorDomain {
		q = `SELECT id FROM threat_whitelist WHERE indicator_type = $1 AND domain = $2`
		arg = e.Domain
	} else {
		q = `SELECT id FROM threat_whitelist WHERE indicator_type = $1 AND ip = $2`
		arg = e.IP
	}
	var id int64
	err := s.db.QueryRowContext(ctx, q, e.Type, arg).Scan(&id)
	return id, err
}

// Remove deletes a whitelist entry by id.
func (s *ThreatWhitelistStore) Remove(ctx context.Context, id int64) error {
	const q = `DELETE FROM threat_whitelist WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "remove whitelist entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "rows affected")
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, "whitelist entry not found")
	}
	return nil
}

// List returns every whitelist entry.
func (s *ThreatWhitelistStore) List(ctx context.Context) ([]WhitelistEntry, error) {
	const q = `SELECT id, indicator_type, domain, ip, reason, created_at FROM threat_whitelist ORDER BY created_at DESC`
	var out []WhitelistEntry
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, err, "list whitelist")
	}
	return out, nil
}

// ContainsDomain reports whether domain exactly matches a whitelist entry.
func (s *ThreatWhitelistStore) ContainsDomain(ctx context.Context, domain string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM threat_whitelist WHERE indicator_type = $1 AND domain = $2)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, IndicatorDomain, domain).Scan(&ok); err != nil {
		return false, errs.Wrap(errs.KindStoreTransient, err, "check whitelist domain")
	}
	return ok, nil
}

// ContainsIP reports whether ip exactly matches a whitelist entry.
func (s *ThreatWhitelistStore) ContainsIP(ctx context.Context, ip string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM threat_whitelist WHERE indicator_type = $1 AND ip = $2)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, IndicatorIP, ip).Scan(&ok); err != nil {
		return false, errs.Wrap(errs.KindStoreTransient, err, "check whitelist ip")
	}
	return ok, nil
}
