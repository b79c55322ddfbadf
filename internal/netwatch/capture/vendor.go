/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package capture

import (
	"sync"

	"github.com/klauspost/oui"
)

// VendorLookup annotates newly observed MAC addresses with their IEEE
// OUI manufacturer, purely for operator triage in the orphaned-IP view.
// It never drives any capture or classification decision.
type VendorLookup struct {
	db oui.StaticDB

	mtx  sync.Mutex
	seen map[string]string
}

// NewVendorLookup opens the OUI database at path, returning an error if
// the database is missing or unreadable.
func NewVendorLookup(path string) (*VendorLookup, error) {
	db, err := oui.OpenStaticFile(path)
	if err != nil {
		return nil, err
	}
	return &VendorLookup{db: db, seen: make(map[string]string)}, nil
}

// Manufacturer returns the vendor string for mac, caching the result
// since the same source MAC is looked up on every packet it sends.
func (v *VendorLookup) Manufacturer(mac string) (string, bool) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	if vendor, ok := v.seen[mac]; ok {
		return vendor, vendor != ""
	}

	entry, err := v.db.Query(mac)
	if err != nil {
		v.seen[mac] = ""
		return "", false
	}
	v.seen[mac] = entry.Manufacturer
	return entry.Manufacturer, true
}
