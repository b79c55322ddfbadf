/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package logging builds the pair of zap loggers used across netwatch's
// daemons, adapted from Brightgate's cl_common/daemonutils logger setup:
// a structured *zap.Logger plus its sugared form, development-formatted
// on a terminal and production (JSON, ISO8601) otherwise, with a level
// sourced from configuration rather than rediscovered per package.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Setup builds a named logger pair at the given level ("debug", "info",
// "warn", "error"). An empty level means "info"; an unrecognized level
// is returned as an error.
func Setup(name, level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	var cfg zap.Config
	if isTerminal(os.Stderr) {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	log, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	log = log.Named(filepath.Base(name))
	return log, log.Sugar(), nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ThrottledLogger rate-limits a repeated warning, the way
// ap_common/aputil.ThrottledLogger throttles redundant messages — useful
// here for the decode-drop and store-retry warnings that would otherwise
// flood the log once per packet.
type ThrottledLogger struct {
	mtx       sync.Mutex
	slog      *zap.SugaredLogger
	next      time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	curDelay  time.Duration
}

// NewThrottledLogger builds a throttled logger that backs off
// exponentially from baseDelay up to maxDelay between repeats.
func NewThrottledLogger(slog *zap.SugaredLogger, baseDelay, maxDelay time.Duration) *ThrottledLogger {
	return &ThrottledLogger{
		slog:      slog,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		curDelay:  baseDelay,
	}
}

// Clear resets the backoff to its base delay.
func (t *ThrottledLogger) Clear() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.next = time.Now()
	t.curDelay = t.baseDelay
}

func (t *ThrottledLogger) ready() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	now := time.Now()
	if now.Before(t.next) {
		return false
	}
	t.next = now.Add(t.curDelay)
	t.curDelay *= 2
	if t.curDelay > t.maxDelay {
		t.curDelay = t.maxDelay
	}
	return true
}

// Warnf logs at Warn level only if the backoff window has elapsed.
func (t *ThrottledLogger) Warnf(template string, args ...interface{}) {
	if t.ready() {
		t.slog.Warnf(template, args...)
	}
}
