/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package threat holds the in-memory indicator index matched against
// every DNS domain and every flow server IP, and the whitelist that
// exempts operator-curated entries from matching.
package threat

import (
	"context"
	"net"
	"strings"
	"sync/atomic"

	"github.com/brightgate-labs/netwatch/internal/netwatch/iputil"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
)

// Indicator is the matched entry returned by a lookup.
type Indicator struct {
	Value    string
	Type     store.IndicatorType
	FeedName string
}

type snapshot struct {
	domainsExact map[string]Indicator
	ipsExact     map[string]Indicator
}

// Index is a atomically-swapped snapshot of every loaded feed's
// indicators. Replace rebuilds the whole snapshot and publishes it with
// a single pointer swap, so concurrent MatchDomain/MatchIP calls never
// observe a partially-rebuilt index.
type Index struct {
	ptr atomic.Pointer[snapshot]
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	idx := &Index{}
	idx.ptr.Store(&snapshot{
		domainsExact: make(map[string]Indicator),
		ipsExact:     make(map[string]Indicator),
	})
	return idx
}

// Replace rebuilds the index from a full set of indicator rows,
// publishing the new snapshot atomically.
func (idx *Index) Replace(indicators []store.ThreatIndicator) {
	next := &snapshot{
		domainsExact: make(map[string]Indicator, len(indicators)),
		ipsExact:     make(map[string]Indicator, len(indicators)),
	}
	for _, ind := range indicators {
		entry := Indicator{Value: ind.Indicator, Type: ind.Type, FeedName: ind.FeedName}
		switch ind.Type {
		case store.IndicatorDomain:
			next.domainsExact[ind.Indicator] = entry
		case store.IndicatorIP:
			next.ipsExact[ind.Indicator] = entry
		}
	}
	idx.ptr.Store(next)
}

// LoadFromStore rebuilds the index from every indicator currently
// persisted across all feeds.
func (idx *Index) LoadFromStore(ctx context.Context, db *store.Store) error {
	all, err := db.ThreatIndicators.LoadAll(ctx)
	if err != nil {
		return err
	}
	idx.Replace(all)
	return nil
}

// MatchDomain looks up domain exactly, then walks ascending suffixes
// (dropping one label at a time) until a single-label remainder would
// be reached, so a feed entry for "evil.example" also matches
// "a.b.evil.example" without the feed having to enumerate every
// subdomain.
func (idx *Index) MatchDomain(domain string) (Indicator, bool) {
	snap := idx.ptr.Load()
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")

	if ind, ok := snap.domainsExact[domain]; ok {
		return ind, true
	}

	labels := strings.Split(domain, ".")
	for i := 1; i < len(labels)-1; i++ {
		suffix := strings.Join(labels[i:], ".")
		if ind, ok := snap.domainsExact[suffix]; ok {
			return ind, true
		}
	}
	return Indicator{}, false
}

// MatchIP looks up ip exactly. Private/reserved addresses never match:
// a feed indicator is never meaningful for an address that can't be
// routed on the public Internet.
func (idx *Index) MatchIP(ip string) (Indicator, bool) {
	parsed := net.ParseIP(ip)
	if parsed != nil && iputil.IsPrivateOrReserved(parsed) {
		return Indicator{}, false
	}

	snap := idx.ptr.Load()
	ind, ok := snap.ipsExact[ip]
	return ind, ok
}
