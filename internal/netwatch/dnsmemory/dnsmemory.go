/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package dnsmemory ingests decoded DNS events into durable DNS memory
// and answers the "what domain resolved to this IP" question flow
// correlation depends on.
package dnsmemory

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/brightgate-labs/netwatch/internal/netwatch/dnsevent"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
)

// Memory wraps the durable DNS lookup store. Every LookupDomainByIP call
// from the flow flush path carries a per-flow point-in-time upper bound
// (the flow's own first_seen), so there is no single "current" answer
// per address worth caching: a read cache would have to be keyed on
// (ip, upperBound) to stay correct, which collapses to one entry per
// flow and buys nothing over just asking the store.
type Memory struct {
	db  *store.Store
	log *zap.SugaredLogger
}

// New builds a Memory backed by db.
func New(db *store.Store, log *zap.SugaredLogger) *Memory {
	return &Memory{
		db:  db,
		log: log,
	}
}

// Ingest persists a decoded DNS event: every event is appended to the
// durable event log, and A/AAAA responses with at least one address
// answer additionally upsert DNS memory.
func (m *Memory) Ingest(ctx context.Context, ev dnsevent.Event) error {
	eventType := "query"
	if ev.Type == dnsevent.Response {
		eventType = "response"
	}

	storeEv := store.DNSEvent{
		EventType: eventType,
		Domain:    ev.Domain,
		QType:     ev.QType,
		Answers:   store.Answers(ev.Answers),
		SrcIP:     ev.SrcIP.String(),
		DstIP:     ev.DstIP.String(),
		Ts:        ev.Ts,
	}
	if err := m.db.DNSEvents.Append(ctx, storeEv); err != nil {
		return err
	}

	if ev.Type != dnsevent.Response || (ev.QType != dnsAddrTypeA && ev.QType != dnsAddrTypeAAAA) {
		return nil
	}
	hasAddr := false
	for _, a := range ev.Answers {
		if net.ParseIP(a) != nil {
			hasAddr = true
			break
		}
	}
	if !hasAddr {
		return nil
	}

	return m.db.DNSLookups.Upsert(ctx, ev.Domain, ev.QType, ev.Answers, ev.Ts)
}

const (
	dnsAddrTypeA    = 1
	dnsAddrTypeAAAA = 28
)

// LookupDomainByIP returns the domain most recently bound to ip within
// windowDays, optionally constrained to bindings no later than
// upperBound (a flow's own first_seen), so a domain later rebound to a
// different address can't retroactively claim an older flow.
func (m *Memory) LookupDomainByIP(ctx context.Context, ip string, windowDays int, upperBound *time.Time) (string, bool) {
	domain, ok, err := m.db.DNSLookups.LookupByIP(ctx, ip, windowDays, upperBound)
	if err != nil {
		if m.log != nil {
			m.log.Warnw("dns memory lookup failed", "ip", ip, "error", err)
		}
		return "", false
	}
	if !ok {
		return "", false
	}
	return domain, true
}

// SearchDomains delegates to the durable store's substring search.
func (m *Memory) SearchDomains(ctx context.Context, substr string, limit int) ([]store.DNSLookup, error) {
	return m.db.DNSLookups.SearchDomains(ctx, substr, limit)
}

// GetRecent delegates to the durable store's most-recently-updated scan.
func (m *Memory) GetRecent(ctx context.Context, limit int) ([]store.DNSLookup, error) {
	return m.db.DNSLookups.GetRecent(ctx, limit)
}
