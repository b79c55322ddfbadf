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

	"github.com/guregu/null"
	"github.com/jmoiron/sqlx"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

// FlowsStore implements flow-aggregate persistence: one row per
// (client_ip, server_ip, server_port, protocol), upserted on every
// flush with sticky-domain binding and summed counters.
type FlowsStore struct {
	db *sqlx.DB
}

// UpsertInput is one flush cycle's worth of accounting for a single
// flow key.
type UpsertInput struct {
	ClientIP   string
	ServerIP   string
	ServerPort int
	Protocol   string
	Domain     string // empty if no DNS memory binding was found
	ClientVendor string // empty if no OUI match, or vendor lookup disabled
	FirstSeen  time.Time
	LastSeen   time.Time
	BytesOut   int64
	BytesIn    int64
	PacketsOut int64
	PacketsIn  int64
	IsAbnormal bool
}

// Upsert persists one flow's accumulated counters, preserving the
// earliest first_seen, advancing last_seen, summing byte/packet
// counters across flush cycles, latching domain and is_abnormal once
// they're set (COALESCE keeps the existing value rather than clearing
// it on a flush that didn't resolve a domain), and never reverting
// is_abnormal back to false once a flow has tripped it.
func (s *FlowsStore) Upsert(ctx context.Context, in UpsertInput) error {
	const q = `
INSERT INTO flows (
	client_ip, server_ip, server_port, protocol, domain, client_vendor,
	first_seen, last_seen, bytes_out, bytes_in, packets_out, packets_in, is_abnormal
) VALUES (
	$1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''),
	$7, $8, $9, $10, $11, $12, $13
)
ON CONFLICT (client_ip, server_ip, server_port, protocol) DO UPDATE SET
	domain = COALESCE(flows.domain, EXCLUDED.domain),
	client_vendor = COALESCE(flows.client_vendor, EXCLUDED.client_vendor),
	first_seen = LEAST(flows.first_seen, EXCLUDED.first_seen),
	last_seen = GREATEST(flows.last_seen, EXCLUDED.last_seen),
	bytes_out = flows.bytes_out + EXCLUDED.bytes_out,
	bytes_in = flows.bytes_in + EXCLUDED.bytes_in,
	packets_out = flows.packets_out + EXCLUDED.packets_out,
	packets_in = flows.packets_in + EXCLUDED.packets_in,
	is_abnormal = flows.is_abnormal OR EXCLUDED.is_abnormal
`
	_, err := s.db.ExecContext(ctx, q,
		in.ClientIP, in.ServerIP, in.ServerPort, in.Protocol, in.Domain, in.ClientVendor,
		in.FirstSeen, in.LastSeen, in.BytesOut, in.BytesIn, in.PacketsOut, in.PacketsIn, in.IsAbnormal)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "upsert flow")
	}
	return nil
}

// OrphanedAggregate returns, for every server IP with no domain binding
// that has carried traffic within window, the total bytes/packets and
// first/last-seen times across its flows, sorted by total bytes
// descending. This aggregation runs in SQL rather than in the
// application: with a long-lived deployment's flow table, summing in
// Go would mean pulling every row across the wire first.
func (s *FlowsStore) OrphanedAggregate(ctx context.Context, window time.Duration) ([]OrphanedIPSummary, error) {
	const q = `
SELECT
	server_ip,
	SUM(bytes_out + bytes_in) AS total_bytes,
	COUNT(*) AS flow_count,
	MIN(first_seen) AS first_seen,
	MAX(last_seen) AS last_seen,
	COALESCE(array_remove(array_agg(DISTINCT client_vendor), NULL), '{}'::text[]) AS client_vendors
FROM flows
WHERE domain IS NULL
  AND last_seen >= $1
  AND NOT is_abnormal
GROUP BY server_ip
ORDER BY total_bytes DESC
`
	var out []OrphanedIPSummary
	cutoff := time.Now().Add(-window)
	if err := s.db.SelectContext(ctx, &out, q, cutoff); err != nil {
		return nil, errs.Wrap(errs.KindStoreTransient, err, "orphaned aggregate")
	}
	return out, nil
}

// nullableDomain converts a possibly-empty domain string into the
// null.String the Flow struct scans into.
func nullableDomain(domain string) null.String {
	if domain == "" {
		return null.String{}
	}
	return null.StringFrom(domain)
}
