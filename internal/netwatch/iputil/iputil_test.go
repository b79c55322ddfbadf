/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package iputil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPrivateOrReserved(t *testing.T) {
	cases := []struct {
		name string
		ip   string
		want bool
	}{
		{"rfc1918 10/8", "10.1.2.3", true},
		{"rfc1918 192.168", "192.168.1.1", true},
		{"rfc1918 172.16", "172.16.5.5", true},
		{"loopback", "127.0.0.1", true},
		{"link-local", "169.254.1.1", true},
		{"multicast", "224.0.0.1", true},
		{"public", "8.8.8.8", false},
		{"unspecified", "0.0.0.0", true},
		{"public v6", "2001:4860:4860::8888", false},
		{"ula v6", "fd00::1", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ip := net.ParseIP(c.ip)
			assert.Equal(t, c.want, IsPrivateOrReserved(ip))
		})
	}
}

func TestClassifyDirection_OneSidedPrivate(t *testing.T) {
	client := net.ParseIP("192.168.1.50")
	server := net.ParseIP("93.184.216.34")

	c := ClassifyDirection(client, server, 51000, 443)
	assert.Equal(t, client, c.ClientIP)
	assert.Equal(t, server, c.ServerIP)
	assert.Equal(t, 443, c.ServerPort)
	assert.False(t, c.Abnormal)

	// Order reversed: same outcome regardless of which argument is "a".
	c2 := ClassifyDirection(server, client, 443, 51000)
	assert.Equal(t, client, c2.ClientIP)
	assert.Equal(t, server, c2.ServerIP)
	assert.False(t, c2.Abnormal)
}

func TestClassifyDirection_LANInternalWellKnownPort(t *testing.T) {
	a := net.ParseIP("192.168.1.10")
	b := net.ParseIP("192.168.1.20")

	c := ClassifyDirection(a, b, 50000, 443)
	assert.Equal(t, a, c.ClientIP)
	assert.Equal(t, b, c.ServerIP)
	assert.False(t, c.Abnormal)
}

func TestClassifyDirection_LANInternalBothEphemeral(t *testing.T) {
	a := net.ParseIP("192.168.1.10")
	b := net.ParseIP("192.168.1.20")

	// Neither port is well known: the lower port is treated as the server.
	c := ClassifyDirection(a, b, 51000, 50500)
	assert.Equal(t, a, c.ClientIP)
	assert.Equal(t, b, c.ServerIP)
	assert.False(t, c.Abnormal)
}

func TestClassifyDirection_AbnormalWANtoWAN(t *testing.T) {
	a := net.ParseIP("93.184.216.34")
	b := net.ParseIP("8.8.8.8")

	c := ClassifyDirection(a, b, 51000, 443)
	assert.True(t, c.Abnormal)
}

func TestIsWellKnownPort(t *testing.T) {
	assert.True(t, IsWellKnownPort(443))
	assert.True(t, IsWellKnownPort(5432))
	assert.False(t, IsWellKnownPort(51000))
}

func TestIsEphemeral(t *testing.T) {
	assert.True(t, IsEphemeral(49152))
	assert.True(t, IsEphemeral(60000))
	assert.False(t, IsEphemeral(49151))
}
