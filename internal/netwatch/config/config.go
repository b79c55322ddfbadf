/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package config loads netwatch's process configuration from the
// environment, the way Brightgate's cloud daemons (cl.configd, cl-cert)
// load theirs with tomazk/envcfg.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tomazk/envcfg"
)

// Capture holds the packet-source configuration.
type Capture struct {
	Ports          []int
	Interface      string
	BPFFilter      string
	SnapshotLength int
	// VendorDBPath is the path to an IEEE OUI assignment file, empty
	// disables MAC vendor annotation entirely.
	VendorDBPath string
}

// Config is the full process configuration, populated once at startup.
type Config struct {
	DBConnection   string
	Capture        Capture
	LogLevel       string
	OrphanedIPDays int

	// APIAddr is the listen address for nw.apid.
	APIAddr string
	// APIToken gates the admin-only endpoints (scan-historical).
	APIToken string

	// PrometheusAddr is the address to serve /metrics on, empty disables it.
	PrometheusAddr string
}

// environ mirrors cl.configd's envcfg struct: one field per NETWATCH_*
// variable, unmarshaled in one shot.
var environ struct {
	DBConnection   string `envcfg:"NETWATCH_DB_CONNECTION"`
	CapturePorts   string `envcfg:"NETWATCH_CAPTURE_PORTS"`
	CaptureIface   string `envcfg:"NETWATCH_CAPTURE_INTERFACE"`
	CaptureBPF     string `envcfg:"NETWATCH_CAPTURE_BPF_FILTER"`
	CaptureSnaplen string `envcfg:"NETWATCH_CAPTURE_SNAPSHOT_LENGTH"`
	VendorDBPath   string `envcfg:"NETWATCH_VENDOR_DB_PATH"`
	LogLevel       string `envcfg:"NETWATCH_LOG_LEVEL"`
	OrphanedIPDays string `envcfg:"NETWATCH_ORPHANED_IP_DAYS"`
	APIAddr        string `envcfg:"NETWATCH_API_ADDR"`
	APIToken       string `envcfg:"NETWATCH_API_TOKEN"`
	PrometheusAddr string `envcfg:"NETWATCH_PROMETHEUS_ADDR"`
}

const (
	defaultOrphanedIPDays = 7
	defaultSnapshotLength = 65536
	defaultAPIAddr        = ":8080"
	defaultLogLevel       = "info"
)

// Load reads NETWATCH_* environment variables into a Config, applying the
// defaults (orphaned_ip_days defaults to 7).
func Load() (*Config, error) {
	if err := envcfg.Unmarshal(&environ); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal environment")
	}

	cfg := &Config{
		DBConnection: environ.DBConnection,
		Capture: Capture{
			Interface:      environ.CaptureIface,
			BPFFilter:      environ.CaptureBPF,
			SnapshotLength: defaultSnapshotLength,
			VendorDBPath:   environ.VendorDBPath,
		},
		LogLevel:       defaultLogLevel,
		OrphanedIPDays: defaultOrphanedIPDays,
		APIAddr:        defaultAPIAddr,
		APIToken:       environ.APIToken,
		PrometheusAddr: environ.PrometheusAddr,
	}

	if environ.LogLevel != "" {
		cfg.LogLevel = environ.LogLevel
	}
	if environ.APIAddr != "" {
		cfg.APIAddr = environ.APIAddr
	}

	if environ.CapturePorts != "" {
		ports, err := parsePorts(environ.CapturePorts)
		if err != nil {
			return nil, errors.Wrap(err, "NETWATCH_CAPTURE_PORTS")
		}
		cfg.Capture.Ports = ports
	}

	if environ.CaptureSnaplen != "" {
		n, err := strconv.Atoi(environ.CaptureSnaplen)
		if err != nil {
			return nil, errors.Wrap(err, "NETWATCH_CAPTURE_SNAPSHOT_LENGTH")
		}
		cfg.Capture.SnapshotLength = n
	}

	if environ.OrphanedIPDays != "" {
		n, err := strconv.Atoi(environ.OrphanedIPDays)
		if err != nil {
			return nil, errors.Wrap(err, "NETWATCH_ORPHANED_IP_DAYS")
		}
		cfg.OrphanedIPDays = n
	}

	if cfg.DBConnection == "" {
		return nil, fmt.Errorf("NETWATCH_DB_CONNECTION must be set")
	}

	return cfg, nil
}

func parsePorts(raw string) ([]int, error) {
	fields := strings.Split(raw, ",")
	ports := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid port %q", f)
		}
		ports = append(ports, p)
	}
	return ports, nil
}
