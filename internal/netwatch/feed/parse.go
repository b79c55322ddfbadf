/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package feed

import (
	"bufio"
	"bytes"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/brightgate-labs/netwatch/internal/netwatch/iputil"
)

// localTLDs and localHostnames mirror the original threat-intel
// importer's exclusion list: indicators under these suffixes or exactly
// matching these names are never meaningfully Internet threats.
var localTLDs = []string{
	".local", ".localhost", ".internal", ".lan", ".home", ".corp",
	".localdomain", ".arpa", ".test", ".example", ".invalid",
}

var localHostnames = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"broadcasthost":         {},
}

func isLocalDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for _, tld := range localTLDs {
		if strings.HasSuffix(domain, tld) {
			return true
		}
	}
	if !strings.Contains(domain, ".") {
		return true
	}
	if _, ok := localHostnames[domain]; ok {
		return true
	}
	return false
}

func addIPIfPublic(ips map[string]struct{}, raw string) bool {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return false
	}
	if !iputil.IsPrivateOrReserved(parsed) {
		ips[parsed.String()] = struct{}{}
	}
	return true
}

func addDomainIfPublic(domains map[string]struct{}, raw string) {
	domain := strings.ToLower(strings.TrimSpace(raw))
	if domain == "" || isLocalDomain(domain) {
		return
	}
	domains[domain] = struct{}{}
}

// parseURLhaus parses the one-URL-per-line abuse.ch text format,
// extracting the host from each URL and classifying it as an IP or a
// domain indicator.
func parseURLhaus(raw []byte, _ int) (domains, ips map[string]struct{}) {
	domains = make(map[string]struct{})
	ips = make(map[string]struct{})

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		host := line
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			u, err := url.Parse(line)
			if err != nil || u.Hostname() == "" {
				continue
			}
			host = u.Hostname()
		} else if !strings.Contains(line, ".") || strings.HasPrefix(line, ".") {
			continue
		} else {
			host = strings.SplitN(line, ":", 2)[0]
		}

		if addIPIfPublic(ips, host) {
			continue
		}
		addDomainIfPublic(domains, host)
	}
	return domains, ips
}

// parsePhishingArmy parses the one-domain-per-line Phishing Army
// blocklist format, tolerating the occasional raw IP entry.
func parsePhishingArmy(raw []byte, _ int) (domains, ips map[string]struct{}) {
	domains = make(map[string]struct{})
	ips = make(map[string]struct{})

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if addIPIfPublic(ips, line) {
			continue
		}
		addDomainIfPublic(domains, line)
	}
	return domains, ips
}

// parseIPsum parses the aggregated IPsum format, one IP per line,
// optionally followed by a tab and an occurrence count. level is the
// minimum count required to keep an entry when a count column is
// present; lines without a count column are always kept.
func parseIPsum(raw []byte, level int) (domains, ips map[string]struct{}) {
	domains = make(map[string]struct{})
	ips = make(map[string]struct{})

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		ipField := fields[0]
		if len(fields) > 1 {
			count, err := strconv.Atoi(strings.TrimSpace(fields[1]))
			if err == nil && count < level {
				continue
			}
		}
		addIPIfPublic(ips, ipField)
	}
	return domains, ips
}

// parseCustom parses an operator-curated list, one domain-or-IP per
// line, downloaded from the descriptor's URL like the other families.
func parseCustom(raw []byte, _ int) (domains, ips map[string]struct{}) {
	domains = make(map[string]struct{})
	ips = make(map[string]struct{})

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if addIPIfPublic(ips, line) {
			continue
		}
		addDomainIfPublic(domains, line)
	}
	return domains, ips
}
