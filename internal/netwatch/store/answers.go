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
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Answers is a DNS answer list stored as a jsonb array of strings rather
// than a Postgres text[], since the answer order (the order resolvers
// returned records in) must survive the round trip and text[] makes no
// ordering guarantee an application can rely on.
type Answers []string

// Value implements driver.Valuer for writing Answers as jsonb.
func (a Answers) Value() (driver.Value, error) {
	if a == nil {
		a = Answers{}
	}
	return json.Marshal([]string(a))
}

// Scan implements sql.Scanner for reading Answers back from jsonb.
func (a *Answers) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("Answers.Scan: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("Answers.Scan: %w", err)
	}
	*a = out
	return nil
}
