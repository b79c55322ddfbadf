/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package api implements the thin HTTP command surface this engine
// exposes: feed update/toggle, historical rescan, orphaned-IP query,
// and whitelist management (including CSV import/export).
package api

import (
	"net/http"
	"time"

	"github.com/guregu/null"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
	"github.com/brightgate-labs/netwatch/internal/netwatch/feed"
	"github.com/brightgate-labs/netwatch/internal/netwatch/orphan"
	"github.com/brightgate-labs/netwatch/internal/netwatch/rescan"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
)

// threatHandler bundles every dependency the threat command surface
// needs, the way cl.httpd/site.go's siteHandler embeds a DataStore.
type threatHandler struct {
	db      *store.Store
	wl      *threat.Whitelist
	sched   *feed.Scheduler
	scanner *rescan.Scanner
	orphans *orphan.Query
	log     *zap.SugaredLogger
}

// New wires every handler onto e's router group, returning e for
// chaining into cmd/nw.apid's middleware setup.
func New(e *echo.Echo, db *store.Store, wl *threat.Whitelist, sched *feed.Scheduler, scanner *rescan.Scanner, orphans *orphan.Query, apiToken string, log *zap.SugaredLogger) *echo.Echo {
	h := &threatHandler{db: db, wl: wl, sched: sched, scanner: scanner, orphans: orphans, log: log}

	g := e.Group("/threat")
	g.POST("/feeds/:name/update", h.updateFeed)
	g.PUT("/feeds/:name/toggle", h.toggleFeed)
	g.GET("/orphaned-ips", h.orphanedIPs)
	g.POST("/whitelist", h.addWhitelist)
	g.GET("/whitelist.csv", h.exportWhitelistCSV)
	g.POST("/whitelist.csv", h.importWhitelistCSV)

	admin := g.Group("", adminOnly(apiToken))
	admin.POST("/scan-historical", h.scanHistorical)

	return e
}

// adminOnly gates a route group behind a single static bearer token,
// the simplest thing that satisfies "admin only" without building a
// full authentication stack for one command.
func adminOnly(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get("Authorization")
			if token == "" || got != "Bearer "+token {
				return echo.NewHTTPError(http.StatusUnauthorized, "admin token required")
			}
			return next(c)
		}
	}
}

func (h *threatHandler) updateFeed(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")
	force := c.QueryParam("force") == "true"

	summary, err := h.sched.UpdateFeed(ctx, name, force)
	if err != nil {
		if t, ok := err.(*errs.Throttled); ok {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"throttled":       true,
				"hours_remaining": t.HoursRemaining,
			})
		}
		if errs.KindOf(err) == errs.KindNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		h.logError("update feed", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, summary)
}

func (h *threatHandler) toggleFeed(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")
	enabled := c.QueryParam("enabled") == "true"

	if err := h.db.ThreatFeeds.SetEnabled(ctx, name, enabled); err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		h.logError("toggle feed", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *threatHandler) orphanedIPs(c echo.Context) error {
	ctx := c.Request().Context()
	days, err := parseDays(c.QueryParam("days"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rows, err := h.orphans.Run(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		h.logError("orphaned ips", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *threatHandler) scanHistorical(c echo.Context) error {
	ctx := c.Request().Context()
	days, err := parseDays(c.QueryParam("days"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.scanner.Scan(ctx, days)
	if err != nil {
		h.logError("scan historical", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *threatHandler) addWhitelist(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		Type   store.IndicatorType `json:"indicator_type"`
		Domain string              `json:"domain"`
		IP     string              `json:"ip"`
		Reason string              `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entry, indicator, err := whitelistEntryFromRequest(req.Type, req.Domain, req.IP, req.Reason)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := h.db.ThreatWhitelist.Add(ctx, entry)
	alreadyWhitelisted := false
	if err != nil {
		if errs.KindOf(err) != errs.KindStoreConflict {
			h.logError("add whitelist entry", err)
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		alreadyWhitelisted = true
	}

	if err := h.wl.LoadFromStore(ctx, h.db); err != nil {
		h.logWarn("rebuild whitelist snapshot", err)
	}

	resolved, err := h.db.ThreatAlerts.ResolveByIndicator(ctx, indicator, req.Type)
	if err != nil {
		h.logWarn("resolve alerts after whitelist add", err)
	}

	status := http.StatusCreated
	if alreadyWhitelisted {
		status = http.StatusOK
	}
	return c.JSON(status, map[string]interface{}{
		"id":                  id,
		"already_whitelisted": alreadyWhitelisted,
		"resolved_alerts":     resolved,
	})
}

// whitelistEntryFromRequest validates and builds a WhitelistEntry from
// the caller-supplied indicator type plus its raw domain/IP value.
func whitelistEntryFromRequest(typ store.IndicatorType, domain, ip, reason string) (store.WhitelistEntry, string, error) {
	entry := store.WhitelistEntry{Type: typ, Reason: reason}
	switch typ {
	case store.IndicatorDomain:
		if domain == "" {
			return entry, "", errs.New(errs.KindInvalid, "domain is required for a domain whitelist entry")
		}
		entry.Domain = null.StringFrom(domain)
		return entry, domain, nil
	case store.IndicatorIP:
		if ip == "" {
			return entry, "", errs.New(errs.KindInvalid, "ip is required for an ip whitelist entry")
		}
		entry.IP = null.StringFrom(ip)
		return entry, ip, nil
	default:
		return entry, "", errs.New(errs.KindInvalid, "indicator_type must be domain or ip")
	}
}

func (h *threatHandler) logError(op string, err error) {
	if h.log != nil {
		h.log.Errorw(op+" failed", "error", err)
	}
}

func (h *threatHandler) logWarn(op string, err error) {
	if h.log != nil {
		h.log.Warnw(op+" failed", "error", err)
	}
}
