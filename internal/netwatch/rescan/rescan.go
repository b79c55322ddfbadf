/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package rescan re-runs the threat index against historical DNS
// events, for the case where an indicator is added to a feed after the
// traffic that matches it was already observed and logged.
package rescan

import (
	"context"
	"time"

	"github.com/guregu/null"
	"github.com/yourbasic/bloom"

	"github.com/brightgate-labs/netwatch/internal/netwatch/alert"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
)

const (
	bloomM = 1 << 20
	bloomK = 7
)

// Result summarizes one historical scan.
type Result struct {
	EventsScanned  int
	DomainsChecked int
	IPsChecked     int
	AlertsEmitted  int
}

// Scanner walks the DNS event log against the current threat index,
// emitting an alert for each fresh match not already covered by an
// existing alert.
type Scanner struct {
	db     *store.Store
	idx    *threat.Index
	wl     *threat.Whitelist
	writer *alert.Writer
}

// New builds a Scanner.
func New(db *store.Store, idx *threat.Index, wl *threat.Whitelist, writer *alert.Writer) *Scanner {
	return &Scanner{db: db, idx: idx, wl: wl, writer: writer}
}

// Scan walks every DNS event from the last `days` days, checking each
// distinct domain and each distinct answer IP against the threat index
// at most once, and emitting an alert for every match not already
// present in the existing-alerts log. A bloom filter pre-screens the
// existing-keys membership test, since a long-lived deployment's alert
// table can be large and most historical (domain, feed, type) triples
// won't already have an alert.
func (s *Scanner) Scan(ctx context.Context, days int) (Result, error) {
	existing, err := s.db.ThreatAlerts.ExistingKeys(ctx)
	if err != nil {
		return Result{}, err
	}

	bf := bloom.New(bloomM, bloomK)
	for key := range existing {
		bf.AddByte([]byte(key))
	}

	seenDomains := make(map[string]struct{})
	seenIPs := make(map[string]struct{})
	result := Result{}

	filter := store.QueryFilter{Since: time.Now().AddDate(0, 0, -days)}
	err = s.db.DNSEvents.Query(ctx, filter, func(ev store.DNSEvent) error {
		result.EventsScanned++

		if ev.Domain != "" {
			if _, ok := seenDomains[ev.Domain]; !ok {
				seenDomains[ev.Domain] = struct{}{}
				result.DomainsChecked++
				if s.checkAndEmit(ctx, ev.Domain, store.IndicatorDomain, bf, existing, &result) {
					result.AlertsEmitted++
				}
			}
		}
		for _, answer := range ev.Answers {
			if _, ok := seenIPs[answer]; ok {
				continue
			}
			seenIPs[answer] = struct{}{}
			result.IPsChecked++
			if s.checkAndEmit(ctx, answer, store.IndicatorIP, bf, existing, &result) {
				result.AlertsEmitted++
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	return result, nil
}

// checkAndEmit matches value against the threat index and, on a fresh
// (non-whitelisted, not-already-alerted) hit, emits an alert. Returns
// whether an alert was emitted.
func (s *Scanner) checkAndEmit(ctx context.Context, value string, typ store.IndicatorType, bf *bloom.Filter, existing map[string]struct{}, result *Result) bool {
	var ind threat.Indicator
	var matched bool

	switch typ {
	case store.IndicatorDomain:
		if s.wl.AllowsDomain(value) {
			return false
		}
		ind, matched = s.idx.MatchDomain(value)
	case store.IndicatorIP:
		if s.wl.AllowsIP(value) {
			return false
		}
		ind, matched = s.idx.MatchIP(value)
	}
	if !matched {
		return false
	}

	key := value + "|" + ind.FeedName + "|" + string(typ)
	if bf.TestByte([]byte(key)) {
		if _, ok := existing[key]; ok {
			return false
		}
	}

	a := store.Alert{
		Ts:            time.Now().UTC(),
		Source:        store.AlertSourceRescan,
		Indicator:     value,
		IndicatorType: typ,
		FeedName:      ind.FeedName,
	}
	if typ == store.IndicatorDomain {
		a.Domain = null.StringFrom(value)
	} else {
		a.ServerIP = null.StringFrom(value)
	}

	if err := s.writer.Emit(ctx, a); err != nil {
		return false
	}
	existing[key] = struct{}{}
	bf.AddByte([]byte(key))
	return true
}
