/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package store

import (
	"time"

	"github.com/guregu/null"
	"github.com/lib/pq"
	"github.com/satori/uuid"
)

// DNSEvent is one append-only row recording a decoded query or response.
type DNSEvent struct {
	ID        int64     `db:"id"`
	EventType string    `db:"event_type"` // "query" or "response"
	Domain    string    `db:"domain"`
	QType     uint16    `db:"qtype"`
	Answers   Answers   `db:"answers"` // jsonb array, empty for queries
	SrcIP     string    `db:"src_ip"`
	DstIP     string    `db:"dst_ip"`
	Ts        time.Time `db:"ts"`
}

// DNSLookup is the durable summary DNS memory correlates flows against:
// one row per (domain, qtype), first_seen frozen at creation, last_seen
// advanced on every later response, most recent answer set retained.
type DNSLookup struct {
	Domain    string    `db:"domain"`
	QType     uint16    `db:"qtype"`
	Answers   Answers   `db:"answers"`
	FirstSeen time.Time `db:"first_seen"`
	LastSeen  time.Time `db:"last_seen"`
}

// Flow is one accumulated bidirectional L4 flow, keyed by the canonical
// 4-tuple (client_ip, server_ip, server_port, protocol).
type Flow struct {
	ClientIP   string      `db:"client_ip"`
	ServerIP   string      `db:"server_ip"`
	ServerPort int         `db:"server_port"`
	Protocol   string      `db:"protocol"`
	Domain     null.String `db:"domain"`
	ClientVendor null.String `db:"client_vendor"`
	FirstSeen  time.Time   `db:"first_seen"`
	LastSeen   time.Time   `db:"last_seen"`
	BytesOut   int64       `db:"bytes_out"`
	BytesIn    int64       `db:"bytes_in"`
	PacketsOut int64       `db:"packets_out"`
	PacketsIn  int64       `db:"packets_in"`
	IsAbnormal bool        `db:"is_abnormal"`
}

// OrphanedIPSummary is one row of the orphaned-IP aggregate: a server IP
// flows have accumulated against within the analysis window, with no
// resolved domain binding.
type OrphanedIPSummary struct {
	ServerIP      string         `db:"server_ip"`
	TotalBytes    int64          `db:"total_bytes"`
	FlowCount     int64          `db:"flow_count"`
	FirstSeen     time.Time      `db:"first_seen"`
	LastSeen      time.Time      `db:"last_seen"`
	// ClientVendors is the distinct set of OUI manufacturer names among
	// the LAN devices that talked to this IP, purely for operator
	// triage; never populated when no vendor database was configured.
	ClientVendors pq.StringArray `db:"client_vendors"`
}

// IndicatorType distinguishes a domain indicator from an IP indicator.
type IndicatorType string

const (
	// IndicatorDomain marks a domain-name threat indicator.
	IndicatorDomain IndicatorType = "domain"
	// IndicatorIP marks an IP-address threat indicator.
	IndicatorIP IndicatorType = "ip"
)

// ThreatIndicator is one entry of a loaded feed snapshot.
type ThreatIndicator struct {
	Indicator string        `db:"indicator"`
	Type      IndicatorType `db:"indicator_type"`
	FeedName  string        `db:"feed_name"`
	FirstSeen time.Time     `db:"first_seen"`
	LastSeen  time.Time     `db:"last_seen"`
}

// ThreatFeedMeta tracks one configured feed's scheduling/health state.
type ThreatFeedMeta struct {
	Name       string      `db:"name"`
	Family     string      `db:"family"`
	URL        string      `db:"url"`
	Level      int         `db:"level"`
	Enabled    bool        `db:"enabled"`
	LastUpdate null.Time   `db:"last_update"`
	LastError  null.String `db:"last_error"`
}

// AlertSource distinguishes a live-path alert from one raised by a
// historical rescan.
type AlertSource string

const (
	// AlertSourceLive marks an alert raised during live traffic ingest.
	AlertSourceLive AlertSource = "live"
	// AlertSourceRescan marks an alert raised by a historical rescan.
	AlertSourceRescan AlertSource = "rescan"
)

// Alert is one emitted threat alert; alerts form an append-only log, not
// a deduplicated table — the rescan path's own dedup guard decides what
// gets written here.
type Alert struct {
	ID            uuid.UUID     `db:"id"`
	Ts            time.Time     `db:"ts"`
	Source        AlertSource   `db:"source"`
	Indicator     string        `db:"indicator"`
	IndicatorType IndicatorType `db:"indicator_type"`
	FeedName      string        `db:"feed_name"`
	ClientIP      null.String   `db:"client_ip"`
	ServerIP      null.String   `db:"server_ip"`
	Domain        null.String   `db:"domain"`
	Resolved      bool          `db:"resolved"`
	ResolvedAt    null.Time     `db:"resolved_at"`
}

// WhitelistEntry is one operator-curated exemption from threat matching.
type WhitelistEntry struct {
	ID        int64         `db:"id"`
	Type      IndicatorType `db:"indicator_type"`
	Domain    null.String   `db:"domain"`
	IP        null.String   `db:"ip"`
	Reason    string        `db:"reason"`
	CreatedAt time.Time     `db:"created_at"`
}
