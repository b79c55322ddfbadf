/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package flow

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/brightgate-labs/netwatch/internal/netwatch/capture"
)

func newTestAggregator() *Aggregator {
	return New(nil, nil, nil, 30)
}

func TestIngestAccumulatesBothDirections(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()

	// Client (private) -> server (public), outbound leg.
	a.Ingest(capture.L4Record{
		SrcIP: net.ParseIP("192.168.1.10"), DstIP: net.ParseIP("93.184.216.34"),
		SrcPort: 51000, DstPort: 443, Proto: "tcp", Size: 100, Ts: now,
	})
	// Reply leg, server -> client.
	a.Ingest(capture.L4Record{
		SrcIP: net.ParseIP("93.184.216.34"), DstIP: net.ParseIP("192.168.1.10"),
		SrcPort: 443, DstPort: 51000, Proto: "tcp", Size: 300, Ts: now.Add(time.Millisecond),
	})

	a.mtx.Lock()
	defer a.mtx.Unlock()
	assert.Len(t, a.live, 1, "both legs must fold into a single flow key")

	for _, acc := range a.live {
		assert.EqualValues(t, 100, acc.bytesOut)
		assert.EqualValues(t, 300, acc.bytesIn)
		assert.EqualValues(t, 1, acc.packetsOut)
		assert.EqualValues(t, 1, acc.packetsIn)
		assert.False(t, acc.isAbnormal)
	}
}

func TestIngestLatchesAbnormal(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()

	// Two public addresses talking to each other: abnormal.
	a.Ingest(capture.L4Record{
		SrcIP: net.ParseIP("8.8.8.8"), DstIP: net.ParseIP("1.1.1.1"),
		SrcPort: 53, DstPort: 9000, Proto: "udp", Size: 64, Ts: now,
	})

	a.mtx.Lock()
	defer a.mtx.Unlock()
	require := assert.New(t)
	require.Len(a.live, 1)
	for _, acc := range a.live {
		require.True(acc.isAbnormal)
	}
}

func TestIngestLatchesVendorFromOutboundLegOnly(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()

	// Outbound leg carries the client's vendor.
	a.Ingest(capture.L4Record{
		SrcIP: net.ParseIP("192.168.1.10"), DstIP: net.ParseIP("93.184.216.34"),
		SrcPort: 51000, DstPort: 443, Proto: "tcp", Size: 100, Ts: now,
		SrcVendor: "Acme Corp",
	})
	// Reply leg's SrcVendor (the server's NIC vendor, if any) must never
	// overwrite the client vendor already latched.
	a.Ingest(capture.L4Record{
		SrcIP: net.ParseIP("93.184.216.34"), DstIP: net.ParseIP("192.168.1.10"),
		SrcPort: 443, DstPort: 51000, Proto: "tcp", Size: 300, Ts: now.Add(time.Millisecond),
		SrcVendor: "Some Server Vendor",
	})

	a.mtx.Lock()
	defer a.mtx.Unlock()
	for _, acc := range a.live {
		assert.Equal(t, "Acme Corp", acc.vendor)
	}
}

func TestRequeueMergesCounters(t *testing.T) {
	a := newTestAggregator()
	now := time.Now()
	key := Key{ClientIP: "192.168.1.10", ServerIP: "93.184.216.34", ServerPort: 443, Protocol: "tcp"}

	existing := &accum{firstSeen: now, lastSeen: now, bytesOut: 10, packetsOut: 1}
	a.live[key] = existing

	retry := &accum{firstSeen: now.Add(-time.Minute), lastSeen: now.Add(time.Minute), bytesOut: 5, packetsOut: 1, isAbnormal: true}
	a.requeue(key, retry)

	merged := a.live[key]
	assert.EqualValues(t, 15, merged.bytesOut)
	assert.EqualValues(t, 2, merged.packetsOut)
	assert.True(t, merged.isAbnormal)
	assert.Equal(t, now.Add(-time.Minute), merged.firstSeen)
	assert.Equal(t, now.Add(time.Minute), merged.lastSeen)
}

func TestRequeueInsertsWhenAbsent(t *testing.T) {
	a := newTestAggregator()
	key := Key{ClientIP: "192.168.1.10", ServerIP: "93.184.216.34", ServerPort: 443, Protocol: "tcp"}
	acc := &accum{firstSeen: time.Now(), lastSeen: time.Now(), bytesOut: 42}

	a.requeue(key, acc)

	assert.Same(t, acc, a.live[key])
}
