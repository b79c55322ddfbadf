/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package capture reads live packets off an interface and fans decoded
// DNS frames and L4 flow records out to bounded channels, the way
// ap.watchd/sampler.go opens a pcap handle and runs a DecodingLayerParser
// chain over every frame it reads.
package capture

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/tevino/abool"
	"go.uber.org/zap"

	"github.com/brightgate-labs/netwatch/internal/netwatch/logging"
	"github.com/brightgate-labs/netwatch/internal/netwatch/metrics"
)

// dnsPort is always ORed into the BPF filter regardless of configured
// ports: the DNS extractor needs every query/response to build memory.
const dnsPort = 53

// DNSFrame is a raw DNS payload pulled off the wire, still unparsed.
type DNSFrame struct {
	Payload []byte
	SrcIP   net.IP
	DstIP   net.IP
	Ts      time.Time
}

// L4Record is one observed packet's transport-layer accounting tuple.
type L4Record struct {
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort int
	DstPort int
	Proto   string // "tcp" or "udp"
	Size    int
	Ts      time.Time
	// SrcVendor is the IEEE OUI manufacturer for the frame's source MAC,
	// empty unless a VendorLookup was configured. Purely cosmetic: never
	// used for any capture or classification decision.
	SrcVendor string
}

// BuildBPFFilter builds the pcap filter expression from configured
// ports and an optional raw override: explicit ports are ORed together,
// port 53 is always ORed in, a non-empty raw filter overrides everything
// else, and an empty port list with no raw filter means "capture all".
func BuildBPFFilter(ports []int, rawFilter string) string {
	if strings.TrimSpace(rawFilter) != "" {
		return rawFilter
	}
	if len(ports) == 0 {
		return ""
	}

	seen := make(map[int]struct{}, len(ports)+1)
	seen[dnsPort] = struct{}{}
	for _, p := range ports {
		seen[p] = struct{}{}
	}

	clauses := make([]string, 0, len(seen))
	for p := range seen {
		clauses = append(clauses, "port "+strconv.Itoa(p))
	}
	return strings.Join(clauses, " or ")
}

const (
	idxEth int = iota
	idxIPv4
	idxIPv6
	idxTCP
	idxUDP
	idxMAX
)

// Source captures packets from one interface and decodes them into the
// two channels ingest consumers read from.
type Source struct {
	log       *zap.SugaredLogger
	iface     string
	snaplen   int
	bpfFilter string

	dnsCh chan DNSFrame
	l4Ch  chan L4Record

	vendor    *VendorLookup
	running   *abool.AtomicBool
	handle    *pcap.Handle
	decodeErr *logging.ThrottledLogger
}

// Option configures a Source at construction time.
type Option func(*Source)

// WithChannelCapacity overrides the default bounded-channel size for
// both the DNS and L4 output channels.
func WithChannelCapacity(n int) Option {
	return func(s *Source) {
		s.dnsCh = make(chan DNSFrame, n)
		s.l4Ch = make(chan L4Record, n)
	}
}

// WithVendorLookup attaches an OUI manufacturer lookup, annotating every
// emitted L4Record with its source MAC's vendor when known.
func WithVendorLookup(v *VendorLookup) Option {
	return func(s *Source) { s.vendor = v }
}

const defaultChannelCapacity = 4096

// New builds a Source bound to iface, applying BPF filter expr and
// snaplen (the per-packet capture length passed to pcap.OpenLive).
func New(log *zap.SugaredLogger, iface string, snaplen int, bpfFilter string, opts ...Option) *Source {
	s := &Source{
		log:       log,
		iface:     iface,
		snaplen:   snaplen,
		bpfFilter: bpfFilter,
		dnsCh:     make(chan DNSFrame, defaultChannelCapacity),
		l4Ch:      make(chan L4Record, defaultChannelCapacity),
		running:   abool.New(),
		decodeErr: logging.NewThrottledLogger(log, time.Second, time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DNSFrames returns the channel DNS payloads are delivered on.
func (s *Source) DNSFrames() <-chan DNSFrame { return s.dnsCh }

// L4Records returns the channel L4 accounting records are delivered on.
func (s *Source) L4Records() <-chan L4Record { return s.l4Ch }

// Run opens the interface and decodes packets until the stop channel is
// closed, or the handle errors out. It closes both output channels on
// return.
func (s *Source) Run(stop <-chan struct{}) error {
	handle, err := pcap.OpenLive(s.iface, int32(s.snaplen), true, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("pcap.OpenLive(%s): %w", s.iface, err)
	}
	s.handle = handle
	defer handle.Close()
	defer close(s.dnsCh)
	defer close(s.l4Ch)

	if s.bpfFilter != "" {
		if err := handle.SetBPFFilter(s.bpfFilter); err != nil {
			return fmt.Errorf("SetBPFFilter(%q): %w", s.bpfFilter, err)
		}
	}

	var eth layers.Ethernet
	var ip4 layers.IPv4
	var ip6 layers.IPv6
	var tcp layers.TCP
	var udp layers.UDP
	decoded := make([]gopacket.LayerType, 0, idxMAX)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&eth, &ip4, &ip6, &tcp, &udp)
	parser.IgnoreUnsupported = true

	s.running.Set()
	defer s.running.UnSet()

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := packetSource.Packets()

	for {
		select {
		case <-stop:
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			s.decodeOne(parser, &decoded, &eth, &ip4, &ip6, &tcp, &udp, pkt)
		}
	}
}

func (s *Source) decodeOne(
	parser *gopacket.DecodingLayerParser,
	decoded *[]gopacket.LayerType,
	eth *layers.Ethernet,
	ip4 *layers.IPv4,
	ip6 *layers.IPv6,
	tcp *layers.TCP,
	udp *layers.UDP,
	pkt gopacket.Packet,
) {
	data := pkt.Data()
	if err := parser.DecodeLayers(data, decoded); err != nil {
		metrics.PacketDecodeErrors.Inc()
		if s.log != nil {
			s.decodeErr.Warnf("packet decode error: %v", err)
		}
		return
	}

	var srcIP, dstIP net.IP
	var haveIP bool
	ts := pkt.Metadata().Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	vendor := s.srcVendor(eth)

	for _, typ := range *decoded {
		switch typ {
		case layers.LayerTypeIPv4:
			srcIP, dstIP, haveIP = ip4.SrcIP, ip4.DstIP, true
		case layers.LayerTypeIPv6:
			srcIP, dstIP, haveIP = ip6.SrcIP, ip6.DstIP, true
		case layers.LayerTypeTCP:
			if !haveIP {
				continue
			}
			s.emitL4(srcIP, dstIP, int(tcp.SrcPort), int(tcp.DstPort), "tcp", len(data), ts, vendor)
			if tcp.SrcPort == dnsPort || tcp.DstPort == dnsPort {
				s.emitDNS(tcp.Payload, srcIP, dstIP, ts)
			}
		case layers.LayerTypeUDP:
			if !haveIP {
				continue
			}
			s.emitL4(srcIP, dstIP, int(udp.SrcPort), int(udp.DstPort), "udp", len(data), ts, vendor)
			if udp.SrcPort == dnsPort || udp.DstPort == dnsPort {
				s.emitDNS(udp.Payload, srcIP, dstIP, ts)
			}
		}
	}
}

// srcVendor returns the OUI manufacturer for eth's source MAC, or "" if
// no VendorLookup is configured or the MAC has no known vendor.
func (s *Source) srcVendor(eth *layers.Ethernet) string {
	if s.vendor == nil {
		return ""
	}
	vendor, ok := s.vendor.Manufacturer(eth.SrcMAC.String())
	if !ok {
		return ""
	}
	return vendor
}

func (s *Source) emitL4(srcIP, dstIP net.IP, srcPort, dstPort int, proto string, size int, ts time.Time, srcVendor string) {
	rec := L4Record{SrcIP: srcIP, DstIP: dstIP, SrcPort: srcPort, DstPort: dstPort, Proto: proto, Size: size, Ts: ts, SrcVendor: srcVendor}
	select {
	case s.l4Ch <- rec:
	default:
		metrics.L4RecordsDropped.Inc()
	}
}

func (s *Source) emitDNS(payload []byte, srcIP, dstIP net.IP, ts time.Time) {
	if len(payload) == 0 {
		return
	}
	frame := DNSFrame{Payload: payload, SrcIP: srcIP, DstIP: dstIP, Ts: ts}
	select {
	case s.dnsCh <- frame:
	default:
		metrics.DNSEventsDropped.Inc()
	}
}

// Running reports whether the capture loop is currently active.
func (s *Source) Running() bool { return s.running.IsSet() }
