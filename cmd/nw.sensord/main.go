/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// nw.sensord captures live traffic, extracts DNS and flow activity,
// matches it against the current threat index in real time, and keeps
// feed/whitelist state current in the background.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brightgate-labs/netwatch/internal/netwatch/alert"
	"github.com/brightgate-labs/netwatch/internal/netwatch/capture"
	"github.com/brightgate-labs/netwatch/internal/netwatch/config"
	"github.com/brightgate-labs/netwatch/internal/netwatch/dnsmemory"
	"github.com/brightgate-labs/netwatch/internal/netwatch/engine"
	"github.com/brightgate-labs/netwatch/internal/netwatch/feed"
	"github.com/brightgate-labs/netwatch/internal/netwatch/flow"
	"github.com/brightgate-labs/netwatch/internal/netwatch/logging"
	"github.com/brightgate-labs/netwatch/internal/netwatch/metrics"
	"github.com/brightgate-labs/netwatch/internal/netwatch/rescan"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
	"github.com/brightgate-labs/netwatch/internal/netwatch/whois"
)

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	zlog, slog, err := logging.Setup("nw.sensord", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zlog.Sync()

	db, err := store.Connect(cfg.DBConnection)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx := threat.NewIndex()
	if err := idx.LoadFromStore(ctx, db); err != nil {
		slog.Warnw("initial threat index load failed, starting empty", "error", err)
	}
	wl := threat.NewWhitelist()
	if err := wl.LoadFromStore(ctx, db); err != nil {
		slog.Warnw("initial whitelist load failed, starting empty", "error", err)
	}

	var vendor *capture.VendorLookup
	if cfg.Capture.VendorDBPath != "" {
		vendor, err = capture.NewVendorLookup(cfg.Capture.VendorDBPath)
		if err != nil {
			slog.Warnw("vendor database load failed, vendor annotation disabled", "error", err)
		}
	}

	bpf := capture.BuildBPFFilter(cfg.Capture.Ports, cfg.Capture.BPFFilter)
	var srcOpts []capture.Option
	if vendor != nil {
		srcOpts = append(srcOpts, capture.WithVendorLookup(vendor))
	}
	src := capture.New(slog, cfg.Capture.Interface, cfg.Capture.SnapshotLength, bpf, srcOpts...)

	memory := dnsmemory.New(db, slog)
	flows := flow.New(db, memory, slog, cfg.OrphanedIPDays)
	sched := feed.New(db, idx, slog, feed.DefaultDescriptors())
	alerts := alert.New(db, wl)

	whoisSink := func(r whois.Result) {
		if r.Err != nil {
			slog.Debugw("whois lookup failed", "domain", r.Domain, "error", r.Err)
			return
		}
		slog.Debugw("whois lookup completed", "domain", r.Domain, "bytes", len(r.Text))
	}
	whoisPool := whois.New(slog, whoisSink)

	eng := engine.New(engine.Config{
		DB:        db,
		Source:    src,
		Memory:    memory,
		Index:     idx,
		Whitelist: wl,
		Alerts:    alerts,
		Flows:     flows,
		Scheduler: sched,
		Whois:     whoisPool,
		Log:       slog,
	})

	if cfg.PrometheusAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.PrometheusAddr); err != nil {
				slog.Warnw("prometheus listener exited", "error", err)
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case received := <-sig:
		slog.Infow("signal received, shutting down", "signal", received)
		cancel()
		return <-done
	case err := <-done:
		return err
	}
}

func manualRescan(cmd *cobra.Command, args []string) error {
	days, err := cmd.Flags().GetInt("days")
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	_, slog, err := logging.Setup("nw.sensord", cfg.LogLevel)
	if err != nil {
		return err
	}

	db, err := store.Connect(cfg.DBConnection)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()

	idx := threat.NewIndex()
	if err := idx.LoadFromStore(ctx, db); err != nil {
		return err
	}
	wl := threat.NewWhitelist()
	if err := wl.LoadFromStore(ctx, db); err != nil {
		return err
	}

	scanner := rescan.New(db, idx, wl, alert.New(db, wl))
	result, err := scanner.Scan(ctx, days)
	if err != nil {
		return err
	}

	slog.Infow("manual rescan complete",
		"events_scanned", result.EventsScanned,
		"domains_checked", result.DomainsChecked,
		"ips_checked", result.IPsChecked,
		"alerts_emitted", result.AlertsEmitted)
	fmt.Fprintf(cmd.OutOrStdout(), "scanned %d events, %d alerts emitted\n",
		result.EventsScanned, result.AlertsEmitted)
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use: "nw.sensord",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Capture traffic and match it against the threat index",
		Args:  cobra.NoArgs,
		RunE:  run,
	}
	rootCmd.AddCommand(runCmd)

	rescanCmd := &cobra.Command{
		Use:   "rescan",
		Short: "Re-run the threat index against historical DNS events once",
		Args:  cobra.NoArgs,
		RunE:  manualRescan,
	}
	rescanCmd.Flags().Int("days", 30, "how many days of history to rescan")
	rootCmd.AddCommand(rescanCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
