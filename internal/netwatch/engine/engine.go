/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package engine wires capture, DNS memory, live threat matching, flow
// aggregation, feed scheduling and WHOIS enrichment into the set of
// concurrent subsystems a running sensor supervises together, the way
// ap.watchd/watchd.go registers independent watchers and starts/stops
// them as a unit.
package engine

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/guregu/null"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightgate-labs/netwatch/internal/netwatch/alert"
	"github.com/brightgate-labs/netwatch/internal/netwatch/capture"
	"github.com/brightgate-labs/netwatch/internal/netwatch/dnsevent"
	"github.com/brightgate-labs/netwatch/internal/netwatch/dnsmemory"
	"github.com/brightgate-labs/netwatch/internal/netwatch/feed"
	"github.com/brightgate-labs/netwatch/internal/netwatch/flow"
	"github.com/brightgate-labs/netwatch/internal/netwatch/metrics"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
	"github.com/brightgate-labs/netwatch/internal/netwatch/whois"
)

const flowFlushInterval = 60 * time.Second

// whoisEnqueuer is the part of *whois.Pool the engine depends on,
// narrowed to an interface so tests can substitute a fake rather than
// running a real WHOIS worker pool.
type whoisEnqueuer interface {
	TryEnqueue(domain string) bool
	Run(ctx context.Context) error
}

// Engine supervises the sensor's subsystems as a single cancelable unit.
type Engine struct {
	db     *store.Store
	src    *capture.Source
	memory *dnsmemory.Memory
	idx    *threat.Index
	wl     *threat.Whitelist
	alerts *alert.Writer
	flows  *flow.Aggregator
	sched  *feed.Scheduler
	whoisp whoisEnqueuer
	log    *zap.SugaredLogger

	seenMtx    sync.Mutex
	seenDomain map[string]struct{}
}

// Config bundles the already-constructed dependencies an Engine
// supervises; the caller (cmd/nw.sensord) is responsible for building
// each one from process configuration.
type Config struct {
	DB        *store.Store
	Source    *capture.Source
	Memory    *dnsmemory.Memory
	Index     *threat.Index
	Whitelist *threat.Whitelist
	Alerts    *alert.Writer
	Flows     *flow.Aggregator
	Scheduler *feed.Scheduler
	Whois     *whois.Pool
	Log       *zap.SugaredLogger
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		db:         cfg.DB,
		src:        cfg.Source,
		memory:     cfg.Memory,
		idx:        cfg.Index,
		wl:         cfg.Whitelist,
		alerts:     cfg.Alerts,
		flows:      cfg.Flows,
		sched:      cfg.Scheduler,
		log:        cfg.Log,
		seenDomain: make(map[string]struct{}),
	}
	// cfg.Whois is a concrete *whois.Pool; only assign it into the
	// whoisEnqueuer interface field when non-nil, so a nil Whois leaves
	// e.whoisp a true nil interface rather than a non-nil interface
	// wrapping a nil pointer.
	if cfg.Whois != nil {
		e.whoisp = cfg.Whois
	}
	return e
}

// Run starts every subsystem and blocks until ctx is canceled or one of
// them returns an unrecoverable error, at which point the others are
// canceled and drained before Run returns. The capture source takes a
// plain stop channel rather than a context, so a small adapter goroutine
// closes it when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	stopCapture := make(chan struct{})
	g.Go(func() error {
		<-gctx.Done()
		close(stopCapture)
		return nil
	})

	g.Go(func() error {
		return e.src.Run(stopCapture)
	})

	g.Go(func() error {
		return e.runDNSIngest(gctx)
	})

	g.Go(func() error {
		return e.flows.Run(gctx, e.src.L4Records(), flowFlushInterval)
	})

	g.Go(func() error {
		return e.sched.Run(gctx)
	})

	if e.whoisp != nil {
		g.Go(func() error {
			return e.whoisp.Run(gctx)
		})
	}

	return g.Wait()
}

// runDNSIngest drains decoded DNS frames, feeding each one to DNS memory
// and the live threat index, emitting an alert on a fresh match and
// kicking off a background WHOIS lookup the first time this process
// observes a domain in a query. Domains are not filtered by whether they
// are public before that lookup.
func (e *Engine) runDNSIngest(ctx context.Context) error {
	frames := e.src.DNSFrames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			e.ingestFrame(ctx, frame)
		}
	}
}

func (e *Engine) ingestFrame(ctx context.Context, frame capture.DNSFrame) {
	events := dnsevent.Extract(frame.Payload, frame.SrcIP, frame.DstIP, frame.Ts)
	for _, ev := range events {
		e.ingestEvent(ctx, ev)
	}
}

func (e *Engine) ingestEvent(ctx context.Context, ev dnsevent.Event) {
	typeLabel := "query"
	if ev.Type == dnsevent.Response {
		typeLabel = "response"
	}
	metrics.DNSEventsProcessed.WithLabelValues(typeLabel).Inc()

	if err := e.memory.Ingest(ctx, ev); err != nil && e.log != nil {
		e.log.Warnw("dns memory ingest failed", "domain", ev.Domain, "error", err)
	}

	clientIP := ev.SrcIP
	if ev.Type == dnsevent.Response {
		clientIP = ev.DstIP
	}

	if ev.Type == dnsevent.Query {
		e.matchDomain(ctx, ev.Domain, clientIP)
		e.maybeEnqueueWhois(ev.Domain)
		return
	}

	for _, answer := range ev.Answers {
		e.matchIP(ctx, answer, ev.Domain, clientIP)
	}
}

func (e *Engine) matchDomain(ctx context.Context, domain string, clientIP net.IP) {
	if domain == "" || e.wl.AllowsDomain(domain) {
		return
	}
	ind, ok := e.idx.MatchDomain(domain)
	if !ok {
		return
	}
	e.emit(ctx, store.Alert{
		Source:        store.AlertSourceLive,
		Indicator:     domain,
		IndicatorType: store.IndicatorDomain,
		FeedName:      ind.FeedName,
		ClientIP:      nullableIP(clientIP),
		Domain:        nullableDomain(domain),
	})
}

func (e *Engine) matchIP(ctx context.Context, ip, domain string, clientIP net.IP) {
	if ip == "" || e.wl.AllowsIP(ip) {
		return
	}
	ind, ok := e.idx.MatchIP(ip)
	if !ok {
		return
	}
	e.emit(ctx, store.Alert{
		Source:        store.AlertSourceLive,
		Indicator:     ip,
		IndicatorType: store.IndicatorIP,
		FeedName:      ind.FeedName,
		ClientIP:      nullableIP(clientIP),
		ServerIP:      nullableIP(net.ParseIP(ip)),
		Domain:        nullableDomain(domain),
	})
}

func (e *Engine) emit(ctx context.Context, a store.Alert) {
	a.Ts = time.Now().UTC()
	if err := e.alerts.Emit(ctx, a); err != nil && e.log != nil {
		e.log.Warnw("failed to emit live alert", "indicator", a.Indicator, "error", err)
	}
}

// maybeEnqueueWhois kicks off a fire-and-forget WHOIS lookup the first
// time this process observes a given domain; repeats within the
// process lifetime are skipped.
func (e *Engine) maybeEnqueueWhois(domain string) {
	if e.whoisp == nil || domain == "" {
		return
	}

	e.seenMtx.Lock()
	_, seen := e.seenDomain[domain]
	if !seen {
		e.seenDomain[domain] = struct{}{}
	}
	e.seenMtx.Unlock()

	if seen {
		return
	}
	e.whoisp.TryEnqueue(domain)
}

func nullableIP(ip net.IP) null.String {
	if ip == nil {
		return null.String{}
	}
	return null.StringFrom(ip.String())
}

func nullableDomain(domain string) null.String {
	if domain == "" {
		return null.String{}
	}
	return null.StringFrom(domain)
}
