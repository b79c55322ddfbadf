/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package iputil classifies addresses and flow direction for the packet
// pipeline: which side of a 4-tuple is the client vs. the server, and
// whether an address is a private/reserved one that threat matching and
// feed parsing must never flag.
package iputil

import "net"

// wellKnownPorts are the ports treated as authoritative "this side is the
// server" signals ahead of the ephemeral-range heuristic.
var wellKnownPorts = map[int]struct{}{
	80: {}, 443: {}, 22: {}, 21: {}, 25: {}, 53: {}, 110: {}, 143: {},
	993: {}, 995: {}, 3306: {}, 5432: {}, 8080: {}, 8443: {},
}

// EphemeralThreshold is the port number at and above which a port is
// considered part of the ephemeral range for direction classification.
const EphemeralThreshold = 49152

// IsWellKnownPort reports whether port is in the fixed well-known set
// used to recognize a server side independent of the ephemeral range.
func IsWellKnownPort(port int) bool {
	_, ok := wellKnownPorts[port]
	return ok
}

// IsEphemeral reports whether port falls in the ephemeral range.
func IsEphemeral(port int) bool {
	return port >= EphemeralThreshold
}

// IsPrivateOrReserved reports whether ip is not routable on the public
// Internet: RFC1918/RFC4193 private space, loopback, link-local unicast
// or multicast, or any other multicast address. Threat-indicator
// matching and feed parsing both exclude these addresses unconditionally.
func IsPrivateOrReserved(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

// Side identifies which endpoint of a flow an address/port pair ended up
// classified as.
type Side int

const (
	// SideUnknown marks a classification that could not be resolved.
	SideUnknown Side = iota
	// SideA marks the first passed endpoint as the server.
	SideA
	// SideB marks the second passed endpoint as the server.
	SideB
)

// Classification is the result of classifying one packet's endpoints.
type Classification struct {
	ClientIP   net.IP
	ServerIP   net.IP
	ClientPort int
	ServerPort int
	// Abnormal marks a WAN<->WAN pairing: neither endpoint is private,
	// so there's no LAN side to call the client.
	Abnormal bool
}

// ClassifyDirection decides which of (aIP, aPort) / (bIP, bPort) is the
// client and which is the server, following this order:
//
//  1. If exactly one endpoint is a private/LAN address, it is the client
//     and the other is the server.
//  2. If both endpoints are private (LAN-internal), break the tie by
//     well-known port first, then by the lower port being the server,
//     then - if both ports are equal - by treating a as the client.
//  3. If neither endpoint is private, the flow is abnormal (WAN<->WAN):
//     a is reported as "client" arbitrarily and Abnormal is set so
//     callers can latch is_abnormal rather than trust the side split.
func ClassifyDirection(aIP, bIP net.IP, aPort, bPort int) Classification {
	aPrivate := IsPrivateOrReserved(aIP)
	bPrivate := IsPrivateOrReserved(bIP)

	switch {
	case aPrivate && !bPrivate:
		return Classification{ClientIP: aIP, ClientPort: aPort, ServerIP: bIP, ServerPort: bPort}
	case bPrivate && !aPrivate:
		return Classification{ClientIP: bIP, ClientPort: bPort, ServerIP: aIP, ServerPort: aPort}
	case aPrivate && bPrivate:
		return classifyLANInternal(aIP, bIP, aPort, bPort)
	default:
		return Classification{ClientIP: aIP, ClientPort: aPort, ServerIP: bIP, ServerPort: bPort, Abnormal: true}
	}
}

// classifyLANInternal applies the tie-break rules for a flow where both
// endpoints are private addresses: well-known port wins first, then the
// lower port is treated as the server (the deterministic choice adopted
// for the both-ephemeral case), then a is client on an exact tie.
func classifyLANInternal(aIP, bIP net.IP, aPort, bPort int) Classification {
	aWellKnown := IsWellKnownPort(aPort)
	bWellKnown := IsWellKnownPort(bPort)

	switch {
	case bWellKnown && !aWellKnown:
		return Classification{ClientIP: aIP, ClientPort: aPort, ServerIP: bIP, ServerPort: bPort}
	case aWellKnown && !bWellKnown:
		return Classification{ClientIP: bIP, ClientPort: bPort, ServerIP: aIP, ServerPort: aPort}
	}

	// Neither or both well known: lower port is the server.
	switch {
	case bPort < aPort:
		return Classification{ClientIP: aIP, ClientPort: aPort, ServerIP: bIP, ServerPort: bPort}
	case aPort < bPort:
		return Classification{ClientIP: bIP, ClientPort: bPort, ServerIP: aIP, ServerPort: aPort}
	default:
		return Classification{ClientIP: aIP, ClientPort: aPort, ServerIP: bIP, ServerPort: bPort}
	}
}
