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
	"github.com/pkg/errors"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

// DNSLookupsStore implements the DNS Memory persistence operations.
type DNSLookupsStore struct {
	db *sqlx.DB
}

// Upsert records a DNS response's resolved answers against (domain,
// qtype). first_seen is frozen at row creation and never touched again
// on conflict; last_seen and answers always advance to the latest
// observation.
func (s *DNSLookupsStore) Upsert(ctx context.Context, domain string, qtype uint16, answers []string, ts time.Time) error {
	const q = `
INSERT INTO dns_lookups (domain, qtype, answers, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (domain, qtype) DO UPDATE SET
	answers = EXCLUDED.answers,
	last_seen = EXCLUDED.last_seen,
	first_seen = dns_lookups.first_seen
`
	_, err := s.db.ExecContext(ctx, q, domain, qtype, Answers(answers), ts)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "upsert dns lookup")
	}
	return nil
}

// LookupByIP returns the domain most recently bound to ip within the
// trailing windowDays, optionally constrained to bindings that existed
// no later than upperBound (the flow's own first_seen) so a domain
// rebound to a different address after the flow started can't be
// mistakenly credited to it. Ties break on the most recent first_seen.
func (s *DNSLookupsStore) LookupByIP(ctx context.Context, ip string, windowDays int, upperBound *time.Time) (string, bool, error) {
	windowStart := time.Now().AddDate(0, 0, -windowDays)

	q := `
SELECT domain FROM dns_lookups
WHERE answers @> to_jsonb($1::text)
  AND last_seen >= $2
`
	args := []interface{}{ip, windowStart}
	if upperBound != nil {
		q += " AND first_seen <= $3"
		args = append(args, *upperBound)
	}
	q += " ORDER BY first_seen DESC LIMIT 1"

	row := s.db.QueryRowContext(ctx, q, args...)
	var domain string
	if err := row.Scan(&domain); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errs.Wrap(errs.KindStoreTransient, err, "lookup by ip")
	}
	return domain, true, nil
}

// SearchDomains returns lookup records whose domain contains substr.
func (s *DNSLookupsStore) SearchDomains(ctx context.Context, substr string, limit int) ([]DNSLookup, error) {
	const q = `
SELECT domain, qtype, answers, first_seen, last_seen
FROM dns_lookups
WHERE domain LIKE '%' || $1 || '%'
ORDER BY last_seen DESC
LIMIT $2
`
	var out []DNSLookup
	if err := s.db.SelectContext(ctx, &out, q, substr, limit); err != nil {
		return nil, errors.Wrap(err, "search domains")
	}
	return out, nil
}

// GetRecent returns the most recently updated lookup records.
func (s *DNSLookupsStore) GetRecent(ctx context.Context, limit int) ([]DNSLookup, error) {
	const q = `
SELECT domain, qtype, answers, first_seen, last_seen
FROM dns_lookups
ORDER BY last_seen DESC
LIMIT $1
`
	var out []DNSLookup
	if err := s.db.SelectContext(ctx, &out, q, limit); err != nil {
		return nil, errors.Wrap(err, "get recent lookups")
	}
	return out, nil
}
