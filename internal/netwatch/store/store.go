/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package store persists every durable artifact the engine produces:
// DNS events and lookup memory, traffic flows, threat indicators, feed
// metadata, alerts, and the operator whitelist. It follows the shape of
// cloud_models/appliancedb: a DBX interface common to *sql.DB and
// *sql.Tx, a Connect that opens a postgres pool, and a LoadSchema that
// execs every *.sql file in a directory in sorted order.
package store

import (
	"context"
	"database/sql"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	// As per pq documentation.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// DBX describes the interface common to *sql.DB and *sql.Tx, so helper
// methods can run inside either.
type DBX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}

// Store is the persistence handle the rest of the engine depends on,
// grouped into the operation families named across the component
// design: DNSLookups, DNSEvents, Flows, ThreatIndicators, ThreatAlerts,
// ThreatFeeds, ThreatWhitelist, Settings.
type Store struct {
	db *sqlx.DB

	DNSLookups       *DNSLookupsStore
	DNSEvents        *DNSEventsStore
	Flows            *FlowsStore
	ThreatIndicators *ThreatIndicatorsStore
	ThreatAlerts     *ThreatAlertsStore
	ThreatFeeds      *ThreatFeedsStore
	ThreatWhitelist  *ThreatWhitelistStore
	Settings         *SettingsStore
}

// Connect opens a connection pool against dataSource and wires every
// operation family against it.
func Connect(dataSource string) (*Store, error) {
	sqldb, err := sql.Open("postgres", dataSource)
	if err != nil {
		return nil, errors.Wrap(err, "sql.Open")
	}
	// Bound connection fan-out the way appliancedb.Connect does: an
	// unbounded pool against a single local postgres causes more harm
	// than good under bursty flush/rescan load.
	sqldb.SetMaxOpenConns(16)

	db := sqlx.NewDb(sqldb, "postgres")
	s := &Store{db: db}
	s.DNSLookups = &DNSLookupsStore{db: db}
	s.DNSEvents = &DNSEventsStore{db: db}
	s.Flows = &FlowsStore{db: db}
	s.ThreatIndicators = &ThreatIndicatorsStore{db: db}
	s.ThreatAlerts = &ThreatAlertsStore{db: db}
	s.ThreatFeeds = &ThreatFeedsStore{db: db}
	s.ThreatWhitelist = &ThreatWhitelistStore{db: db}
	s.Settings = &SettingsStore{db: db}
	return s, nil
}

// LoadSchema execs every *.sql file in schemaDir in sorted order, the
// way appliancedb.LoadSchema does (ioutil.ReadDir already sorts by name).
func (s *Store) LoadSchema(ctx context.Context, schemaDir string) error {
	files, err := ioutil.ReadDir(schemaDir)
	if err != nil {
		return errors.Wrap(err, "could not scan schema dir")
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}
		path := filepath.Join(schemaDir, file.Name())
		contents, err := ioutil.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read sql in file %s", path)
		}
		if _, err := s.db.ExecContext(ctx, string(contents)); err != nil {
			return errors.Wrapf(err, "failed to exec sql in file %s", path)
		}
	}
	return nil
}

// Ping verifies the underlying connection is alive.
func (s *Store) Ping() error { return s.db.Ping() }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// BeginTx starts a transaction usable anywhere a DBX is accepted.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
