/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package threat

import (
	"context"
	"net"
	"strings"
	"sync/atomic"

	"github.com/brightgate-labs/netwatch/internal/netwatch/iputil"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
)

type whitelistSnapshot struct {
	domainsExact map[string]struct{}
	ipsExact     map[string]struct{}
}

// Whitelist mirrors Index's exact+suffix-walk shape for domains and
// exact-match for IPs, cached as an atomic snapshot since whitelist
// entries change far less often than DNS traffic is matched against
// them.
type Whitelist struct {
	ptr atomic.Pointer[whitelistSnapshot]
}

// NewWhitelist returns an empty Whitelist.
func NewWhitelist() *Whitelist {
	w := &Whitelist{}
	w.ptr.Store(&whitelistSnapshot{
		domainsExact: make(map[string]struct{}),
		ipsExact:     make(map[string]struct{}),
	})
	return w
}

// Replace rebuilds the whitelist snapshot from the current entry set.
func (w *Whitelist) Replace(entries []store.WhitelistEntry) {
	next := &whitelistSnapshot{
		domainsExact: make(map[string]struct{}),
		ipsExact:     make(map[string]struct{}),
	}
	for _, e := range entries {
		switch e.Type {
		case store.IndicatorDomain:
			if e.Domain.Valid {
				next.domainsExact[e.Domain.String] = struct{}{}
			}
		case store.IndicatorIP:
			if e.IP.Valid {
				next.ipsExact[e.IP.String] = struct{}{}
			}
		}
	}
	w.ptr.Store(next)
}

// LoadFromStore rebuilds the whitelist from every entry currently
// persisted.
func (w *Whitelist) LoadFromStore(ctx context.Context, db *store.Store) error {
	all, err := db.ThreatWhitelist.List(ctx)
	if err != nil {
		return err
	}
	w.Replace(all)
	return nil
}

// AllowsDomain reports whether domain is covered by the whitelist,
// either exactly or via an ascending suffix walk identical to Index's.
func (w *Whitelist) AllowsDomain(domain string) bool {
	snap := w.ptr.Load()
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")

	if _, ok := snap.domainsExact[domain]; ok {
		return true
	}
	labels := strings.Split(domain, ".")
	for i := 1; i < len(labels)-1; i++ {
		if _, ok := snap.domainsExact[strings.Join(labels[i:], ".")]; ok {
			return true
		}
	}
	return false
}

// AllowsIP reports whether ip is covered by the whitelist: an exact
// match against a curated entry, or a blanket pass for any
// private/loopback/link-local/multicast address, which is never
// meaningfully "threat" traffic regardless of curation.
func (w *Whitelist) AllowsIP(ip string) bool {
	if parsed := net.ParseIP(ip); parsed != nil && iputil.IsPrivateOrReserved(parsed) {
		return true
	}
	snap := w.ptr.Load()
	_, ok := snap.ipsExact[ip]
	return ok
}
