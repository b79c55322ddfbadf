/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package dnsevent decodes raw DNS payloads observed on the wire into
// query/response events, the way ap.dns4d/dns4d.go unpacks *dns.Msg off
// its listener before caching or forwarding it.
package dnsevent

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// EventType distinguishes a query from a response.
type EventType int

const (
	// Query marks an event built from a DNS question.
	Query EventType = iota
	// Response marks an event built from a DNS answer section.
	Response
)

// Event is one decoded DNS query or response, ready for DNS memory
// ingest and flow correlation.
type Event struct {
	Type    EventType
	Domain  string
	QType   uint16
	Answers []string // only populated for Response events
	SrcIP   net.IP
	DstIP   net.IP
	Ts      time.Time
}

// Extract decodes raw into zero or more Events. A query message yields
// one event per question; a response message yields exactly one event
// carrying every answer resolved in order. A malformed individual
// resource record does not discard the whole message: miekg/dns already
// partially decodes before erroring, so whatever decoded is still
// returned.
func Extract(raw []byte, srcIP, dstIP net.IP, ts time.Time) []Event {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil && len(msg.Question) == 0 && len(msg.Answer) == 0 {
		return nil
	}

	if msg.Response {
		return extractResponse(msg, srcIP, dstIP, ts)
	}
	return extractQuery(msg, srcIP, dstIP, ts)
}

func extractQuery(msg *dns.Msg, srcIP, dstIP net.IP, ts time.Time) []Event {
	events := make([]Event, 0, len(msg.Question))
	for _, q := range msg.Question {
		events = append(events, Event{
			Type:   Query,
			Domain: normalizeDomain(q.Name),
			QType:  q.Qtype,
			SrcIP:  srcIP,
			DstIP:  dstIP,
			Ts:     ts,
		})
	}
	return events
}

func extractResponse(msg *dns.Msg, srcIP, dstIP net.IP, ts time.Time) []Event {
	if len(msg.Question) == 0 {
		return nil
	}

	q := msg.Question[0]
	ev := Event{
		Type:   Response,
		Domain: normalizeDomain(q.Name),
		QType:  q.Qtype,
		SrcIP:  srcIP,
		DstIP:  dstIP,
		Ts:     ts,
	}

	for _, rr := range msg.Answer {
		switch r := rr.(type) {
		case *dns.A:
			ev.Answers = append(ev.Answers, r.A.String())
		case *dns.AAAA:
			ev.Answers = append(ev.Answers, r.AAAA.String())
		default:
			ev.Answers = append(ev.Answers, formatOtherRR(rr))
		}
	}

	return []Event{ev}
}

func formatOtherRR(rr dns.RR) string {
	rrtype := rr.Header().Rrtype
	name, ok := dns.TypeToString[rrtype]
	if !ok {
		name = fmt.Sprintf("TYPE%d", rrtype)
	}
	data := strings.TrimPrefix(rr.String(), rr.Header().String())
	return name + ":" + strings.TrimSpace(data)
}

// normalizeDomain lowercases a DNS name and strips the trailing root dot
// miekg/dns always appends.
func normalizeDomain(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}
