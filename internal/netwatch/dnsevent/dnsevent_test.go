/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package dnsevent

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Query(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("Example.COM.", dns.TypeA)
	raw, err := msg.Pack()
	require.NoError(t, err)

	ts := time.Now()
	events := Extract(raw, net.ParseIP("192.168.1.10"), net.ParseIP("8.8.8.8"), ts)

	require.Len(t, events, 1)
	assert.Equal(t, Query, events[0].Type)
	assert.Equal(t, "example.com", events[0].Domain)
	assert.Equal(t, dns.TypeA, events[0].QType)
	assert.Empty(t, events[0].Answers)
}

func TestExtract_ResponseA(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)

	resp := new(dns.Msg)
	resp.SetReply(q)
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP("93.184.216.34").To4(),
	})
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP("93.184.216.35").To4(),
	})
	raw, err := resp.Pack()
	require.NoError(t, err)

	events := Extract(raw, net.ParseIP("8.8.8.8"), net.ParseIP("192.168.1.10"), time.Now())

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, Response, ev.Type)
	assert.Equal(t, "example.com", ev.Domain)
	assert.Equal(t, []string{"93.184.216.34", "93.184.216.35"}, ev.Answers)
}

func TestExtract_ResponseCNAME(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("www.example.com.", dns.TypeCNAME)

	resp := new(dns.Msg)
	resp.SetReply(q)
	resp.Answer = append(resp.Answer, &dns.CNAME{
		Hdr:    dns.RR_Header{Name: "www.example.com.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 300},
		Target: "example.com.",
	})
	raw, err := resp.Pack()
	require.NoError(t, err)

	events := Extract(raw, net.ParseIP("8.8.8.8"), net.ParseIP("192.168.1.10"), time.Now())

	require.Len(t, events, 1)
	require.Len(t, events[0].Answers, 1)
	assert.Contains(t, events[0].Answers[0], "CNAME:")
}

func TestExtract_EmptyOnGarbage(t *testing.T) {
	events := Extract([]byte{0x01, 0x02}, net.ParseIP("1.1.1.1"), net.ParseIP("2.2.2.2"), time.Now())
	assert.Nil(t, events)
}
