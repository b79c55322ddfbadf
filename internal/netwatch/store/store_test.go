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
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brightgate-labs/netwatch/common/briefpg"
	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

const templateDBName = "netwatch_template"
const templateDBArg = "TEMPLATE=" + templateDBName

var bpg *briefpg.BriefPG

// mkTemplate builds a template database preloaded with the schema, so
// each subtest can cheaply clone it rather than re-running every *.sql
// file per test.
func mkTemplate(ctx context.Context) {
	templateURI, err := bpg.CreateDB(ctx, templateDBName, "")
	if err != nil {
		log.Fatalf("failed to make template db: %+v", err)
	}
	templateStore, err := Connect(templateURI)
	if err != nil {
		log.Fatalf("failed to connect to template db: %+v", err)
	}
	defer templateStore.Close()
	if err := templateStore.LoadSchema(ctx, "schema"); err != nil {
		log.Fatalf("failed to load schema: %+v", err)
	}
}

type storeTestFunc func(*testing.T, *Store)

func withStore(t *testing.T, ctx context.Context, fn storeTestFunc) {
	dbName := fmt.Sprintf("%s_%d", t.Name(), time.Now().UnixNano())
	testdb, err := bpg.CreateDB(ctx, dbName, templateDBArg)
	require.NoError(t, err)

	s, err := Connect(testdb)
	require.NoError(t, err)
	defer s.Close()

	fn(t, s)
}

func TestDNSLookupsUpsertFreezesFirstSeen(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		first := time.Now().UTC().Truncate(time.Second).Add(-2 * time.Hour)
		second := first.Add(time.Hour)

		require.NoError(t, s.DNSLookups.Upsert(ctx, "example.com", 1, []string{"1.2.3.4"}, first))
		require.NoError(t, s.DNSLookups.Upsert(ctx, "example.com", 1, []string{"1.2.3.5"}, second))

		domain, ok, err := s.DNSLookups.LookupByIP(ctx, "1.2.3.5", 30, nil)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "example.com", domain)

		recent, err := s.DNSLookups.GetRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		require.Equal(t, first, recent[0].FirstSeen)
		require.Equal(t, second, recent[0].LastSeen)
	})
}

func TestDNSLookupsUpperBound(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		early := time.Now().UTC().Truncate(time.Second).Add(-72 * time.Hour)
		late := early.Add(48 * time.Hour)

		require.NoError(t, s.DNSLookups.Upsert(ctx, "old.example.com", 1, []string{"9.9.9.9"}, early))
		require.NoError(t, s.DNSLookups.Upsert(ctx, "new.example.com", 1, []string{"9.9.9.9"}, late))

		bound := early.Add(time.Hour)
		domain, ok, err := s.DNSLookups.LookupByIP(ctx, "9.9.9.9", 90, &bound)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "old.example.com", domain)
	})
}

func TestFlowsUpsertKeepsStickyDomain(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		now := time.Now().UTC().Truncate(time.Second)
		in := UpsertInput{
			ClientIP: "192.168.1.10", ServerIP: "93.184.216.34", ServerPort: 443, Protocol: "tcp",
			Domain: "example.com", FirstSeen: now, LastSeen: now, BytesOut: 100, BytesIn: 200,
			PacketsOut: 1, PacketsIn: 1,
		}
		require.NoError(t, s.Flows.Upsert(ctx, in))

		later := now.Add(time.Minute)
		in2 := in
		in2.FirstSeen, in2.LastSeen = later, later
		in2.BytesOut, in2.BytesIn, in2.PacketsOut, in2.PacketsIn = 50, 75, 1, 1
		in2.Domain = ""
		require.NoError(t, s.Flows.Upsert(ctx, in2))

		rows, err := s.Flows.OrphanedAggregate(ctx, 24*time.Hour)
		require.NoError(t, err)
		require.Empty(t, rows, "flow with a resolved domain must not appear as orphaned")
	})
}

func TestFlowsOrphanedAggregate(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		now := time.Now().UTC().Truncate(time.Second)
		require.NoError(t, s.Flows.Upsert(ctx, UpsertInput{
			ClientIP: "192.168.1.10", ServerIP: "203.0.113.5", ServerPort: 443, Protocol: "tcp",
			FirstSeen: now, LastSeen: now, BytesOut: 500, BytesIn: 1500, PacketsOut: 3, PacketsIn: 4,
		}))

		rows, err := s.Flows.OrphanedAggregate(ctx, 24*time.Hour)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, "203.0.113.5", rows[0].ServerIP)
		require.EqualValues(t, 2000, rows[0].TotalBytes)
	})
}

func TestThreatIndicatorsReplaceForFeed(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		now := time.Now().UTC().Truncate(time.Second)
		domains := map[string]struct{}{"bad.example": {}}
		ips := map[string]struct{}{"198.51.100.7": {}}
		require.NoError(t, s.ThreatIndicators.ReplaceForFeed(ctx, "urlhaus", domains, ips, now))

		all, err := s.ThreatIndicators.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		// A second replace drops the first snapshot entirely.
		domains2 := map[string]struct{}{"other.example": {}}
		require.NoError(t, s.ThreatIndicators.ReplaceForFeed(ctx, "urlhaus", domains2, nil, now))
		all, err = s.ThreatIndicators.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Equal(t, "other.example", all[0].Indicator)
	})
}

func TestThreatAlertsResolveByIndicator(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		now := time.Now().UTC().Truncate(time.Second)
		_, err := s.ThreatAlerts.Append(ctx, Alert{
			Ts: now, Source: AlertSourceLive, Indicator: "bad.example",
			IndicatorType: IndicatorDomain, FeedName: "urlhaus",
		})
		require.NoError(t, err)

		n, err := s.ThreatAlerts.ResolveByIndicator(ctx, "bad.example", IndicatorDomain)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		keys, err := s.ThreatAlerts.ExistingKeys(ctx)
		require.NoError(t, err)
		require.Contains(t, keys, "bad.example|urlhaus|domain")
	})
}

func TestWhitelistRoundTrip(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		id, err := s.ThreatWhitelist.Add(ctx, WhitelistEntry{
			Type: IndicatorDomain, Domain: nullableDomain("trusted.example"), Reason: "internal tooling",
		})
		require.NoError(t, err)
		require.NotZero(t, id)

		ok, err := s.ThreatWhitelist.ContainsDomain(ctx, "trusted.example")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.ThreatWhitelist.Remove(ctx, id))
		ok, err = s.ThreatWhitelist.ContainsDomain(ctx, "trusted.example")
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestWhitelistAddOnDuplicateReturnsExistingID(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		first, err := s.ThreatWhitelist.Add(ctx, WhitelistEntry{
			Type: IndicatorDomain, Domain: nullableDomain("dup.example"), Reason: "first",
		})
		require.NoError(t, err)

		second, err := s.ThreatWhitelist.Add(ctx, WhitelistEntry{
			Type: IndicatorDomain, Domain: nullableDomain("dup.example"), Reason: "second",
		})
		require.Equal(t, errs.KindStoreConflict, errs.KindOf(err))
		require.Equal(t, first, second)
	})
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	withStore(t, ctx, func(t *testing.T, s *Store) {
		_, ok, err := s.Settings.Get(ctx, "rescan.last_run")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.Settings.Set(ctx, "rescan.last_run", "2024-01-01T00:00:00Z"))
		value, ok, err := s.Settings.Get(ctx, "rescan.last_run")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "2024-01-01T00:00:00Z", value)
	})
}

func TestMain(m *testing.M) {
	ctx := context.Background()
	bpg = briefpg.New(nil)
	defer bpg.Fini(ctx)
	if err := bpg.Start(ctx); err != nil {
		log.Fatalf("failed to start briefpg: %+v", err)
	}
	mkTemplate(ctx)
	os.Exit(m.Run())
}
