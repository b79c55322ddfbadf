/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package whois enriches a domain with ownership/registration text
// pulled from a public WHOIS server. It's a fire-and-forget side
// effect, not a cached lookup: this package never stores or expires a
// result itself, it only hands each one to a caller-supplied sink.
package whois

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightgate-labs/netwatch/internal/netwatch/metrics"
)

const (
	defaultServer      = "whois.iana.org:43"
	defaultDialTimeout = 10 * time.Second
	defaultWorkers     = 4
	defaultQueueSize   = 256
)

// Result is one completed WHOIS lookup.
type Result struct {
	Domain string
	Text   string
	Err    error
}

// Sink consumes a completed lookup. Called from a worker goroutine; a
// slow sink throttles that worker, not the enqueue path.
type Sink func(Result)

// Pool is a bounded work queue of domain lookups serviced by a small
// fixed worker pool. A full queue drops the enqueue attempt rather than
// blocking the caller, counted by a prometheus counter.
type Pool struct {
	server  string
	queue   chan string
	sink    Sink
	log     *zap.SugaredLogger
	workers int
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithServer overrides the WHOIS server dialed (host:port).
func WithServer(addr string) Option {
	return func(p *Pool) { p.server = addr }
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) Option {
	return func(p *Pool) { p.workers = n }
}

// WithQueueSize overrides the enqueue buffer capacity.
func WithQueueSize(n int) Option {
	return func(p *Pool) { p.queue = make(chan string, n) }
}

// New builds a Pool. sink receives every completed lookup.
func New(log *zap.SugaredLogger, sink Sink, opts ...Option) *Pool {
	p := &Pool{
		server:  defaultServer,
		queue:   make(chan string, defaultQueueSize),
		sink:    sink,
		log:     log,
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TryEnqueue attempts to queue domain for lookup, returning false
// (and incrementing the drop counter) if the queue is full.
func (p *Pool) TryEnqueue(domain string) bool {
	select {
	case p.queue <- domain:
		return true
	default:
		metrics.WhoisEnqueueDropped.Inc()
		return false
	}
}

// Run starts the worker pool and blocks until ctx is canceled, at
// which point the queue is closed and every worker drains and exits.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		close(p.queue)
		return nil
	})

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for domain := range p.queue {
				p.lookup(gctx, domain)
			}
			return nil
		})
	}

	return g.Wait()
}

func (p *Pool) lookup(ctx context.Context, domain string) {
	text, err := p.query(ctx, domain)
	if err != nil && p.log != nil {
		p.log.Debugw("whois lookup failed", "domain", domain, "error", err)
	}
	if p.sink != nil {
		p.sink(Result{Domain: domain, Text: text, Err: err})
	}
}

func (p *Pool) query(ctx context.Context, domain string) (string, error) {
	dialer := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.server)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", p.server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(defaultDialTimeout))
	}

	if _, err := conn.Write([]byte(domain + "\r\n")); err != nil {
		return "", fmt.Errorf("write query: %w", err)
	}

	body, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	return string(body), nil
}
