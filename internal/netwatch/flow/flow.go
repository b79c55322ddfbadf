/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package flow aggregates observed L4 records into bidirectional flows
// keyed by the canonical 4-tuple (client_ip, server_ip, server_port,
// protocol), periodically flushing accumulated counters to the store
// with a sticky domain binding resolved from DNS memory.
package flow

import (
	"context"
	"sync"
	"time"

	"github.com/tevino/abool"
	"go.uber.org/zap"

	"github.com/brightgate-labs/netwatch/internal/netwatch/capture"
	"github.com/brightgate-labs/netwatch/internal/netwatch/dnsmemory"
	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
	"github.com/brightgate-labs/netwatch/internal/netwatch/iputil"
	"github.com/brightgate-labs/netwatch/internal/netwatch/metrics"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
)

// Key is the canonical flow identity: a flow is addressed by its server
// side, never by the client's ephemeral port.
type Key struct {
	ClientIP   string
	ServerIP   string
	ServerPort int
	Protocol   string
}

type accum struct {
	firstSeen  time.Time
	lastSeen   time.Time
	bytesOut   int64
	bytesIn    int64
	packetsOut int64
	packetsIn  int64
	isAbnormal bool
	vendor     string
}

// Aggregator accumulates L4Records in memory and periodically flushes
// them to the store, resolving a sticky domain binding from DNS memory
// at flush time rather than on every packet.
type Aggregator struct {
	db     *store.Store
	memory *dnsmemory.Memory
	log    *zap.SugaredLogger

	orphanWindowDays int

	mtx     sync.Mutex
	live    map[Key]*accum
	running *abool.AtomicBool
}

// New builds an Aggregator. orphanWindowDays bounds how far back DNS
// memory is searched for a server IP's domain binding.
func New(db *store.Store, memory *dnsmemory.Memory, log *zap.SugaredLogger, orphanWindowDays int) *Aggregator {
	return &Aggregator{
		db:               db,
		memory:           memory,
		log:              log,
		orphanWindowDays: orphanWindowDays,
		live:             make(map[Key]*accum),
		running:          abool.New(),
	}
}

// Ingest applies one L4Record's accounting to the live flow map,
// classifying which side is the client/server and whether the pairing
// is abnormal (neither endpoint private — a WAN<->WAN flow).
func (a *Aggregator) Ingest(rec capture.L4Record) {
	class := iputil.ClassifyDirection(rec.SrcIP, rec.DstIP, rec.SrcPort, rec.DstPort)

	key := Key{
		ClientIP:   class.ClientIP.String(),
		ServerIP:   class.ServerIP.String(),
		ServerPort: class.ServerPort,
		Protocol:   rec.Proto,
	}

	// Outbound direction is "packets the client sent" regardless of
	// which raw endpoint (src/dst) happened to originate this packet.
	outbound := rec.SrcIP.Equal(class.ClientIP)

	a.mtx.Lock()
	defer a.mtx.Unlock()

	acc, ok := a.live[key]
	if !ok {
		acc = &accum{firstSeen: rec.Ts, lastSeen: rec.Ts}
		a.live[key] = acc
	}
	if rec.Ts.Before(acc.firstSeen) {
		acc.firstSeen = rec.Ts
	}
	if rec.Ts.After(acc.lastSeen) {
		acc.lastSeen = rec.Ts
	}
	if outbound {
		acc.bytesOut += int64(rec.Size)
		acc.packetsOut++
		if acc.vendor == "" && rec.SrcVendor != "" {
			acc.vendor = rec.SrcVendor
		}
	} else {
		acc.bytesIn += int64(rec.Size)
		acc.packetsIn++
	}
	if class.Abnormal {
		acc.isAbnormal = true
	}
}

// Flush drains the live flow map and writes every entry to the store,
// resolving each non-abnormal flow's sticky domain binding from DNS
// memory using the flow's own first_seen as the point-in-time upper
// bound. A flow that fails to persist (a transient store error) is
// merged back into the live map so no accounting is lost; it will be
// retried on the next flush.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mtx.Lock()
	drained := a.live
	a.live = make(map[Key]*accum)
	a.mtx.Unlock()

	var firstErr error
	for key, acc := range drained {
		domain := ""
		if !acc.isAbnormal {
			firstSeen := acc.firstSeen
			if d, ok := a.memory.LookupDomainByIP(ctx, key.ServerIP, a.orphanWindowDays, &firstSeen); ok {
				domain = d
			}
		}

		in := store.UpsertInput{
			ClientIP:     key.ClientIP,
			ServerIP:     key.ServerIP,
			ServerPort:   key.ServerPort,
			Protocol:     key.Protocol,
			Domain:       domain,
			ClientVendor: acc.vendor,
			FirstSeen:    acc.firstSeen,
			LastSeen:     acc.lastSeen,
			BytesOut:     acc.bytesOut,
			BytesIn:      acc.bytesIn,
			PacketsOut:   acc.packetsOut,
			PacketsIn:    acc.packetsIn,
			IsAbnormal:   acc.isAbnormal,
		}

		if err := a.db.Flows.Upsert(ctx, in); err != nil {
			metrics.FlowFlushErrors.Inc()
			if a.log != nil {
				a.log.Warnw("flow flush failed, retrying next cycle", "key", key, "error", err)
			}
			if errs.KindOf(err) == errs.KindStoreTransient {
				a.requeue(key, acc)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}

	metrics.FlowFlushes.Inc()
	return firstErr
}

func (a *Aggregator) requeue(key Key, acc *accum) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if existing, ok := a.live[key]; ok {
		if acc.firstSeen.Before(existing.firstSeen) {
			existing.firstSeen = acc.firstSeen
		}
		if acc.lastSeen.After(existing.lastSeen) {
			existing.lastSeen = acc.lastSeen
		}
		existing.bytesOut += acc.bytesOut
		existing.bytesIn += acc.bytesIn
		existing.packetsOut += acc.packetsOut
		existing.packetsIn += acc.packetsIn
		existing.isAbnormal = existing.isAbnormal || acc.isAbnormal
		if existing.vendor == "" && acc.vendor != "" {
			existing.vendor = acc.vendor
		}
		return
	}
	a.live[key] = acc
}

// Run drives Ingest off records and Flush on a fixed interval until ctx
// is canceled, force-flushing once more before returning so no
// in-flight accounting is lost on shutdown.
func (a *Aggregator) Run(ctx context.Context, records <-chan capture.L4Record, interval time.Duration) error {
	a.running.Set()
	defer a.running.UnSet()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.Flush(context.Background())
		case rec, ok := <-records:
			if !ok {
				return a.Flush(context.Background())
			}
			a.Ingest(rec)
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil && a.log != nil {
				a.log.Warnw("periodic flow flush encountered errors", "error", err)
			}
		}
	}
}

// Running reports whether the aggregator's Run loop is active.
func (a *Aggregator) Running() bool { return a.running.IsSet() }
