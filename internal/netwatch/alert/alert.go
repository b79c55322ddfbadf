/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package alert writes threat matches to the durable alert log.
package alert

import (
	"context"

	"github.com/brightgate-labs/netwatch/internal/netwatch/metrics"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
)

// Writer emits alerts to the durable log. Alerts form an append-only
// log, not a deduplicated table — repeated emission for the same
// indicator is expected on the live path; the rescan path's own dedup
// guard decides what it writes, not this package.
type Writer struct {
	db *store.Store
	wl *threat.Whitelist
}

// New builds a Writer.
func New(db *store.Store, wl *threat.Whitelist) *Writer {
	return &Writer{db: db, wl: wl}
}

// Emit re-checks the whitelist before appending a to the alert log, in
// case the entry was added after the match that produced a.
func (w *Writer) Emit(ctx context.Context, a store.Alert) error {
	switch a.IndicatorType {
	case store.IndicatorDomain:
		if w.wl.AllowsDomain(a.Indicator) {
			return nil
		}
	case store.IndicatorIP:
		if w.wl.AllowsIP(a.Indicator) {
			return nil
		}
	}

	if _, err := w.db.ThreatAlerts.Append(ctx, a); err != nil {
		return err
	}
	metrics.ThreatAlertsEmitted.WithLabelValues(string(a.IndicatorType)).Inc()
	return nil
}
