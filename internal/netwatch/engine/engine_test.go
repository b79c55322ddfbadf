/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package engine

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guregu/null"

	"github.com/brightgate-labs/netwatch/common/briefpg"
	"github.com/brightgate-labs/netwatch/internal/netwatch/alert"
	"github.com/brightgate-labs/netwatch/internal/netwatch/dnsevent"
	"github.com/brightgate-labs/netwatch/internal/netwatch/dnsmemory"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
)

// fakeWhoisPool records every domain enqueued, standing in for a real
// whois.Pool in tests that only care about the enqueue decision.
type fakeWhoisPool struct {
	enqueued chan<- string
}

func newFakeWhoisPool(enqueued chan<- string) *fakeWhoisPool {
	return &fakeWhoisPool{enqueued: enqueued}
}

func (f *fakeWhoisPool) TryEnqueue(domain string) bool {
	f.enqueued <- domain
	return true
}

func (f *fakeWhoisPool) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

const templateDBName = "netwatch_engine_template"

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

func newTestEngine(s *store.Store) *Engine {
	idx := threat.NewIndex()
	idx.Replace([]store.ThreatIndicator{
		{Indicator: "bad.example", Type: store.IndicatorDomain, FeedName: "urlhaus"},
		{Indicator: "203.0.113.9", Type: store.IndicatorIP, FeedName: "ipsum"},
	})
	wl := threat.NewWhitelist()
	wl.Replace(nil)

	return New(Config{
		DB:        s,
		Memory:    dnsmemory.New(s, nil),
		Index:     idx,
		Whitelist: wl,
		Alerts:    alert.New(s, wl),
	})
}

func TestIngestEventEmitsAlertOnMatchedQuery(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestEngine(s)

	e.ingestEvent(ctx, dnsevent.Event{
		Type:   dnsevent.Query,
		Domain: "bad.example",
		QType:  1,
		SrcIP:  net.ParseIP("192.168.1.20"),
		DstIP:  net.ParseIP("8.8.8.8"),
		Ts:     time.Now(),
	})

	keys, err := s.ThreatAlerts.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "bad.example|urlhaus|domain")
}

func TestIngestEventEmitsAlertOnMatchedResponseAnswer(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestEngine(s)

	e.ingestEvent(ctx, dnsevent.Event{
		Type:    dnsevent.Response,
		Domain:  "safe.example",
		QType:   1,
		Answers: []string{"203.0.113.9"},
		SrcIP:   net.ParseIP("8.8.8.8"),
		DstIP:   net.ParseIP("192.168.1.20"),
		Ts:      time.Now(),
	})

	keys, err := s.ThreatAlerts.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "203.0.113.9|ipsum|ip")
}

func TestIngestEventSkipsWhitelistedDomain(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestEngine(s)
	e.wl.Replace([]store.WhitelistEntry{
		{Type: store.IndicatorDomain, Domain: null.StringFrom("bad.example")},
	})

	e.ingestEvent(ctx, dnsevent.Event{
		Type:   dnsevent.Query,
		Domain: "bad.example",
		SrcIP:  net.ParseIP("192.168.1.20"),
		DstIP:  net.ParseIP("8.8.8.8"),
		Ts:     time.Now(),
	})

	keys, err := s.ThreatAlerts.ExistingKeys(ctx)
	require.NoError(t, err)
	assert.NotContains(t, keys, "bad.example|urlhaus|domain")
}

func TestMaybeEnqueueWhoisOnlyEnqueuesOncePerDomain(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestEngine(s)

	enqueued := make(chan string, 4)
	e.whoisp = newFakeWhoisPool(enqueued)

	e.ingestEvent(ctx, dnsevent.Event{Type: dnsevent.Query, Domain: "first-seen.example", SrcIP: net.ParseIP("192.168.1.5"), Ts: time.Now()})
	e.ingestEvent(ctx, dnsevent.Event{Type: dnsevent.Query, Domain: "first-seen.example", SrcIP: net.ParseIP("192.168.1.5"), Ts: time.Now()})

	close(enqueued)
	var seen []string
	for domain := range enqueued {
		seen = append(seen, domain)
	}
	assert.Equal(t, []string{"first-seen.example"}, seen)
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
