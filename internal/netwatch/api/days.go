/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package api

import (
	"strconv"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
)

const (
	minDays     = 1
	maxDays     = 365
	defaultDays = 30
)

// parseDays parses and range-checks a "?days=" query parameter, defaulting
// to defaultDays when raw is empty.
func parseDays(raw string) (int, error) {
	if raw == "" {
		return defaultDays, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.New(errs.KindInvalid, "days must be an integer")
	}
	if n < minDays || n > maxDays {
		return 0, errs.New(errs.KindInvalid, "days must be between 1 and 365")
	}
	return n, nil
}
