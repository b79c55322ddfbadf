/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package errs defines the typed error kinds used across netwatch, the way
// bg/common/zaperr pairs a stable error value with structured context.
package errs

import "errors"

// Kind classifies an error: callers at the API
// boundary switch on Kind to pick an HTTP status, background callers
// switch on Kind to pick a retry/drop policy.
type Kind int

const (
	// KindUnknown is the zero value; treated as an internal error.
	KindUnknown Kind = iota
	// KindInputMalformed marks an undecodable packet or DNS record.
	KindInputMalformed
	// KindStoreTransient marks a connection/IO error talking to the store.
	KindStoreTransient
	// KindStoreConflict marks a unique-constraint violation (e.g. a
	// duplicate whitelist entry).
	KindStoreConflict
	// KindFeedUnavailable marks a failed feed download.
	KindFeedUnavailable
	// KindFeedThrottled marks an update requested inside the throttle window.
	KindFeedThrottled
	// KindNotFound marks a reference to an absent feed/alert/whitelist id.
	KindNotFound
	// KindInvalid marks an out-of-range or malformed request parameter.
	KindInvalid
)

// Error is a typed error carrying a Kind alongside the usual message/cause
// chain. It implements Unwrap so errors.Is/errors.As keep working through
// github.com/pkg/errors wrapping.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New constructs a typed Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a typed Error of the given kind around an existing error.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err, walking the Unwrap chain, or
// KindUnknown if neither err nor anything in its chain is a *Error.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnknown
}

// Throttled carries the "hours remaining" detail the feed update
// protocol requires in its throttled response.
type Throttled struct {
	Err            *Error
	HoursRemaining float64
}

func (t *Throttled) Error() string { return t.Err.Error() }

// Unwrap exposes the KindFeedThrottled *Error, so KindOf sees its Kind.
func (t *Throttled) Unwrap() error { return t.Err }

// NewThrottled builds a KindFeedThrottled error carrying the remaining
// cooldown, for the API layer to surface as {throttled: true, hours_remaining}.
func NewThrottled(feedName string, hoursRemaining float64) *Throttled {
	return &Throttled{
		Err:            New(KindFeedThrottled, "feed "+feedName+" was updated too recently"),
		HoursRemaining: hoursRemaining,
	}
}
