/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null"
	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightgate-labs/netwatch/common/briefpg"
	"github.com/brightgate-labs/netwatch/internal/netwatch/alert"
	"github.com/brightgate-labs/netwatch/internal/netwatch/feed"
	"github.com/brightgate-labs/netwatch/internal/netwatch/orphan"
	"github.com/brightgate-labs/netwatch/internal/netwatch/rescan"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
)

const templateDBName = "netwatch_api_template"
const testAPIToken = "test-token"

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

func newTestServer(t *testing.T, s *store.Store) *echo.Echo {
	idx := threat.NewIndex()
	wl := threat.NewWhitelist()
	sched := feed.New(s, idx, nil, nil)
	writer := alert.New(s, wl)
	scanner := rescan.New(s, idx, wl, writer)
	orphans := orphan.New(s)

	e := echo.New()
	return New(e, s, wl, sched, scanner, orphans, testAPIToken, nil)
}

func TestToggleFeedUnknownName(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestServer(t, s)

	req := httptest.NewRequest(http.MethodPut, "/threat/feeds/nosuch/toggle?enabled=true", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrphanedIPsRejectsOutOfRangeDays(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestServer(t, s)

	req := httptest.NewRequest(http.MethodGet, "/threat/orphaned-ips?days=0", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrphanedIPsDefaultsDays(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestServer(t, s)

	req := httptest.NewRequest(http.MethodGet, "/threat/orphaned-ips", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestScanHistoricalRequiresAdminToken(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestServer(t, s)

	req := httptest.NewRequest(http.MethodPost, "/threat/scan-historical?days=7", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/threat/scan-historical?days=7", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddWhitelistResolvesExistingAlerts(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestServer(t, s)

	_, err := s.ThreatAlerts.Append(ctx, store.Alert{
		Ts: time.Now().UTC(), Source: store.AlertSourceLive,
		Indicator: "bad.example", IndicatorType: store.IndicatorDomain, FeedName: "urlhaus",
		Domain: null.StringFrom("bad.example"),
	})
	require.NoError(t, err)

	body := `{"indicator_type":"domain","domain":"bad.example","reason":"known-good CDN"}`
	req := httptest.NewRequest(http.MethodPost, "/threat/whitelist", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"resolved_alerts":1`)
}

func TestWhitelistCSVExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := withStore(t, ctx)
	e := newTestServer(t, s)

	AppFs = afero.NewMemMapFs()
	t.Cleanup(func() { AppFs = afero.NewOsFs() })

	csvBody := "id,indicator_type,domain,ip,reason,created_at\n,domain,trusted.example,,operator added,\n"
	req := httptest.NewRequest(http.MethodPost, "/threat/whitelist.csv", strings.NewReader(csvBody))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"imported":1`)

	req = httptest.NewRequest(http.MethodGet, "/threat/whitelist.csv", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trusted.example")
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
