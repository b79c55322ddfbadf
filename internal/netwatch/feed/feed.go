/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package feed downloads and parses the configured threat-indicator
// feeds, replacing each feed's indicator snapshot in the store on a
// successful update and leaving it untouched on failure.
package feed

// Family distinguishes the wire format a feed descriptor's URL serves,
// so the scheduler can dispatch to the right parser.
type Family int

const (
	// URLhaus is abuse.ch's plain-text malicious-URL feed.
	URLhaus Family = iota
	// PhishingArmy is a plain domain-per-line phishing blocklist.
	PhishingArmy
	// IPsum is a plain IP-per-line (optionally tab-count) aggregated
	// blocklist, with a minimum-occurrence-count threshold.
	IPsum
	// Custom is an operator-curated domain-or-IP-per-line list, fetched
	// from its descriptor's URL like every other family.
	Custom
)

// Descriptor configures one feed instance.
type Descriptor struct {
	Name   string
	Family Family
	URL    string
	Level  int // IPsum minimum-occurrence-count threshold, unused by other families
}

// ParseFunc extracts domain and IP indicators from one feed's raw body.
type ParseFunc func(raw []byte, level int) (domains, ips map[string]struct{})

// dispatch holds one parser per family, so Scheduler.UpdateFeed never
// needs a type switch on Descriptor.Family itself.
var dispatch = map[Family]ParseFunc{
	URLhaus:      parseURLhaus,
	PhishingArmy: parsePhishingArmy,
	IPsum:        parseIPsum,
	Custom:       parseCustom,
}
