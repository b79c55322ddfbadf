/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// nw.apid serves the operator-facing threat-management HTTP surface:
// feed update/toggle, historical rescan, orphaned-IP query, and
// whitelist management.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	apachelog "github.com/lestrrat-go/apache-logformat"
	"github.com/spf13/cobra"
	"github.com/urfave/negroni"

	"github.com/brightgate-labs/netwatch/internal/netwatch/alert"
	"github.com/brightgate-labs/netwatch/internal/netwatch/api"
	"github.com/brightgate-labs/netwatch/internal/netwatch/config"
	"github.com/brightgate-labs/netwatch/internal/netwatch/feed"
	"github.com/brightgate-labs/netwatch/internal/netwatch/logging"
	"github.com/brightgate-labs/netwatch/internal/netwatch/metrics"
	"github.com/brightgate-labs/netwatch/internal/netwatch/orphan"
	"github.com/brightgate-labs/netwatch/internal/netwatch/rescan"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
)

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zlog, slog, err := logging.Setup("nw.apid", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zlog.Sync()

	db, err := store.Connect(cfg.DBConnection)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	idx := threat.NewIndex()
	if err := idx.LoadFromStore(ctx, db); err != nil {
		slog.Warnw("initial threat index load failed, starting empty", "error", err)
	}
	wl := threat.NewWhitelist()
	if err := wl.LoadFromStore(ctx, db); err != nil {
		slog.Warnw("initial whitelist load failed, starting empty", "error", err)
	}

	sched := feed.New(db, idx, slog, feed.DefaultDescriptors())
	alerts := alert.New(db, wl)
	scanner := rescan.New(db, idx, wl, alerts)
	orphans := orphan.New(db)

	e := echo.New()
	e.HideBanner = true
	api.New(e, db, wl, sched, scanner, orphans, cfg.APIToken, slog)

	if cfg.PrometheusAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.PrometheusAddr); err != nil {
				slog.Warnw("prometheus listener exited", "error", err)
			}
		}()
	}

	nMain := negroni.New(negroni.NewRecovery())
	nMain.UseHandler(apachelog.CombinedLog.Wrap(e, os.Stderr))

	srv := &http.Server{Addr: cfg.APIAddr, Handler: nMain}
	go func() {
		slog.Infow("listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Errorw("listener exited", "error", err)
		}
	}()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	slog.Infow("signal received, shutting down", "signal", received)

	return srv.Shutdown(context.Background())
}

func main() {
	rootCmd := &cobra.Command{
		Use: "nw.apid",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the threat-management HTTP API",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
