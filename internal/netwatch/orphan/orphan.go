/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package orphan answers "which server IPs have carried traffic but
// never resolved to a domain we observed" — a thin wrapper over the
// store's SQL aggregation, not an application-layer scan over flows.
package orphan

import (
	"context"
	"time"

	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
)

// Query wraps the store's orphaned-IP aggregation.
type Query struct {
	db *store.Store
}

// New builds a Query.
func New(db *store.Store) *Query {
	return &Query{db: db}
}

// Run returns every orphaned server IP that carried traffic within
// window, sorted by total bytes descending.
func (q *Query) Run(ctx context.Context, window time.Duration) ([]store.OrphanedIPSummary, error) {
	return q.db.Flows.OrphanedAggregate(ctx, window)
}
