/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package rescan

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/guregu/null"
	"github.com/stretchr/testify/require"

	"github.com/brightgate-labs/netwatch/common/briefpg"
	"github.com/brightgate-labs/netwatch/internal/netwatch/alert"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
)

const templateDBName = "netwatch_rescan_template"

var bpg *briefpg.BriefPG

func withStore(t *testing.T, ctx context.Context) *store.Store {
	dbName := fmt.Sprintf("%s_%d", t.Name(), time.Now().UnixNano())
	dsn, err := bpg.CreateDB(ctx, dbName, "TEMPLATE="+templateDBName)
	require.NoError(t, err)

	s, err := store.Connect(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScanEmitsAlertForHistoricalMatch(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)

	now := time.Now().UTC()
	require.NoError(t, s.DNSEvents.Append(ctx, store.DNSEvent{
		EventType: "response", Domain: "evil.example", QType: 1,
		Answers: store.Answers{"198.51.100.7"}, SrcIP: "8.8.8.8", DstIP: "192.168.1.10",
		Ts: now.Add(-time.Hour),
	}))

	idx := threat.NewIndex()
	idx.Replace([]store.ThreatIndicator{
		{Indicator: "evil.example", Type: store.IndicatorDomain, FeedName: "urlhaus"},
	})
	wl := threat.NewWhitelist()
	writer := alert.New(s, wl)
	scanner := New(s, idx, wl, writer)

	result, err := scanner.Scan(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 1, result.EventsScanned)
	require.Equal(t, 1, result.AlertsEmitted)

	keys, err := s.ThreatAlerts.ExistingKeys(ctx)
	require.NoError(t, err)
	require.Contains(t, keys, "evil.example|urlhaus|domain")
}

func TestScanSkipsWhitelistedDomain(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)

	now := time.Now().UTC()
	require.NoError(t, s.DNSEvents.Append(ctx, store.DNSEvent{
		EventType: "response", Domain: "evil.example", QType: 1,
		Answers: store.Answers{"198.51.100.7"}, SrcIP: "8.8.8.8", DstIP: "192.168.1.10",
		Ts: now.Add(-time.Hour),
	}))

	idx := threat.NewIndex()
	idx.Replace([]store.ThreatIndicator{
		{Indicator: "evil.example", Type: store.IndicatorDomain, FeedName: "urlhaus"},
	})
	wl := threat.NewWhitelist()
	wl.Replace([]store.WhitelistEntry{
		{Type: store.IndicatorDomain, Domain: null.StringFrom("evil.example")},
	})
	writer := alert.New(s, wl)
	scanner := New(s, idx, wl, writer)

	result, err := scanner.Scan(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 0, result.AlertsEmitted)
}

func TestScanDoesNotDoubleAlertOnRepeatedScan(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)

	now := time.Now().UTC()
	require.NoError(t, s.DNSEvents.Append(ctx, store.DNSEvent{
		EventType: "response", Domain: "evil.example", QType: 1,
		Answers: store.Answers{"198.51.100.7"}, SrcIP: "8.8.8.8", DstIP: "192.168.1.10",
		Ts: now.Add(-time.Hour),
	}))

	idx := threat.NewIndex()
	idx.Replace([]store.ThreatIndicator{
		{Indicator: "evil.example", Type: store.IndicatorDomain, FeedName: "urlhaus"},
	})
	wl := threat.NewWhitelist()
	writer := alert.New(s, wl)
	scanner := New(s, idx, wl, writer)

	_, err := scanner.Scan(ctx, 7)
	require.NoError(t, err)

	result2, err := scanner.Scan(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 0, result2.AlertsEmitted, "a second scan must not re-alert an already-logged match")
}

func TestMain(m *testing.M) {
	ctx := context.Background()
	bpg = briefpg.New(nil)
	defer bpg.Fini(ctx)
	if err := bpg.Start(ctx); err != nil {
		log.Fatalf("failed to start briefpg: %+v", err)
	}
	templateURI, err := bpg.CreateDB(ctx, templateDBName, "")
	if err != nil {
		log.Fatalf("failed to make template db: %+v", err)
	}
	templateStore, err := store.Connect(templateURI)
	if err != nil {
		log.Fatalf("failed to connect to template db: %+v", err)
	}
	if err := templateStore.LoadSchema(ctx, "../store/schema"); err != nil {
		log.Fatalf("failed to load schema: %+v", err)
	}
	templateStore.Close()

	os.Exit(m.Run())
}
