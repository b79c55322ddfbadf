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

// DNSEventsStore implements the append-only DNS event log.
type DNSEventsStore struct {
	db *sqlx.DB
}

// Append writes one decoded DNS query/response event.
func (s *DNSEventsStore) Append(ctx context.Context, ev DNSEvent) error {
	const q = `
INSERT INTO dns_events (event_type, domain, qtype, answers, src_ip, dst_ip, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := s.db.ExecContext(ctx, q, ev.EventType, ev.Domain, ev.QType, Answers(ev.Answers), ev.SrcIP, ev.DstIP, ev.Ts)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "append dns event")
	}
	return nil
}

// QueryFilter narrows a DNS event scan for the historical rescan.
type QueryFilter struct {
	Since time.Time
}

// Query streams DNS events matching filter to handle, so the rescan
// walks a large table without materializing it all at once.
func (s *DNSEventsStore) Query(ctx context.Context, filter QueryFilter, handle func(DNSEvent) error) error {
	const q = `
SELECT id, event_type, domain, qtype, answers, src_ip, dst_ip, ts
FROM dns_events
WHERE ts >= $1
ORDER BY ts ASC
`
	rows, err := s.db.QueryxContext(ctx, q, filter.Since)
	if err != nil {
		return errs.Wrap(errs.KindStoreTransient, err, "query dns events")
	}
	defer rows.Close()

	for rows.Next() {
		var ev DNSEvent
		if err := rows.StructScan(&ev); err != nil {
			return errs.Wrap(errs.KindStoreTransient, err, "scan dns event")
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}
