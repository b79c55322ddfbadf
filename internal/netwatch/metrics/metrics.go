/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package metrics holds the prometheus counters/gauges shared across
// netwatch's packages, registered the way ap.watchd/metrics.go and
// ap.dns4d register theirs against the default registry and serve them
// on a configurable address.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DNSEventsDropped counts DNS frames dropped because the capture
	// source's DNS frame channel was full.
	DNSEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_dns_events_dropped_total",
		Help: "DNS frames dropped because the capture DNS frame channel was full.",
	})

	// L4RecordsDropped counts L4 records dropped for the same reason.
	L4RecordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_l4_records_dropped_total",
		Help: "L4 records dropped because the flow aggregator's input channel was full.",
	})

	// PacketDecodeErrors counts frames that failed to decode (the
	// failure semantics: "drop the frame, increment counter").
	PacketDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_packet_decode_errors_total",
		Help: "Captured frames that failed to decode.",
	})

	// FlowFlushes counts completed aggregator flush cycles.
	FlowFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_flow_flushes_total",
		Help: "Number of flow-cache flush cycles completed.",
	})

	// FlowFlushErrors counts per-flow store upserts that failed during a
	// flush; flows whose error was transient are requeued for the next
	// flush, the rest are dropped.
	FlowFlushErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_flow_flush_errors_total",
		Help: "Per-flow store upserts that failed during a flow-cache flush.",
	})

	// ThreatAlertsEmitted counts alerts written by the Alert Writer, by
	// indicator type.
	ThreatAlertsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netwatch_threat_alerts_emitted_total",
		Help: "Threat alerts emitted, by indicator type.",
	}, []string{"indicator_type"})

	// FeedUpdates counts feed update attempts, by feed and outcome.
	FeedUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netwatch_feed_updates_total",
		Help: "Feed update attempts, by feed name and outcome.",
	}, []string{"feed", "outcome"})

	// WhoisEnqueueDropped counts WHOIS lookups dropped due to a full queue
	// (backpressure by dropping excess enqueue attempts).
	WhoisEnqueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_whois_enqueue_dropped_total",
		Help: "WHOIS lookups dropped because the work queue was full.",
	})

	// DNSEventsProcessed counts decoded DNS events the live ingest loop
	// has run through memory ingest and threat matching, by event type.
	DNSEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netwatch_dns_events_processed_total",
		Help: "Decoded DNS events processed by the live ingest loop, by event type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(
		DNSEventsDropped,
		L4RecordsDropped,
		PacketDecodeErrors,
		FlowFlushes,
		FlowFlushErrors,
		ThreatAlertsEmitted,
		FeedUpdates,
		WhoisEnqueueDropped,
		DNSEventsProcessed,
	)
}

// Serve starts a Prometheus /metrics endpoint on addr, the way
// ap.watchd.metricsInit and ap.dns4d start theirs. A blank addr disables
// the endpoint; the caller should skip calling Serve in that case.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
