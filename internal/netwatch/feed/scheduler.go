/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package feed

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/brightgate-labs/netwatch/internal/netwatch/errs"
	"github.com/brightgate-labs/netwatch/internal/netwatch/metrics"
	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
	"github.com/brightgate-labs/netwatch/internal/netwatch/threat"
)

const (
	throttleWindow    = 3 * time.Hour
	downloadTimeout   = 30 * time.Second
	warmupDelay       = 30 * time.Second
	backgroundRefresh = 24 * time.Hour
)

// Summary reports one UpdateFeed call's outcome.
type Summary struct {
	FeedName    string
	DomainCount int
	IPCount     int
	UpdatedAt   time.Time
}

// Scheduler downloads, parses, and replaces each configured feed's
// indicator snapshot, and rebuilds the in-memory threat.Index after
// every successful replace.
type Scheduler struct {
	db          *store.Store
	idx         *threat.Index
	log         *zap.SugaredLogger
	descriptors map[string]Descriptor
	httpClient  *http.Client
}

// New builds a Scheduler over the given feed descriptors.
func New(db *store.Store, idx *threat.Index, log *zap.SugaredLogger, descriptors []Descriptor) *Scheduler {
	byName := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}
	return &Scheduler{
		db:          db,
		idx:         idx,
		log:         log,
		descriptors: byName,
		httpClient:  &http.Client{Timeout: downloadTimeout},
	}
}

// UpdateFeed downloads one feed from its descriptor's URL (for every
// family, Custom included) and replaces its indicator snapshot.
// Unless force is set, an update requested inside the
// 3-hour throttle window is refused with a KindFeedThrottled error
// carrying the remaining cooldown.
func (s *Scheduler) UpdateFeed(ctx context.Context, name string, force bool) (Summary, error) {
	desc, ok := s.descriptors[name]
	if !ok {
		return Summary{}, errs.New(errs.KindNotFound, "feed "+name+" not found")
	}

	if !force {
		if meta, err := s.db.ThreatFeeds.Get(ctx, name); err == nil && meta.LastUpdate.Valid {
			since := time.Since(meta.LastUpdate.Time)
			if since < throttleWindow {
				remaining := (throttleWindow - since).Hours()
				return Summary{}, errs.NewThrottled(name, remaining)
			}
		}
	}

	raw, err := s.download(ctx, desc)
	if err != nil {
		metrics.FeedUpdates.WithLabelValues(name, "error").Inc()
		_ = s.db.ThreatFeeds.RecordError(ctx, name, err.Error())
		return Summary{}, errs.Wrap(errs.KindFeedUnavailable, err, "download feed "+name)
	}

	parser := dispatch[desc.Family]
	domains, ips := parser(raw, desc.Level)

	now := time.Now().UTC()
	if err := s.db.ThreatIndicators.ReplaceForFeed(ctx, name, domains, ips, now); err != nil {
		metrics.FeedUpdates.WithLabelValues(name, "error").Inc()
		_ = s.db.ThreatFeeds.RecordError(ctx, name, err.Error())
		return Summary{}, err
	}

	if err := s.db.ThreatFeeds.UpsertMeta(ctx, name, familyName(desc.Family), desc.URL, desc.Level, now, ""); err != nil {
		metrics.FeedUpdates.WithLabelValues(name, "error").Inc()
		return Summary{}, err
	}

	if err := s.idx.LoadFromStore(ctx, s.db); err != nil && s.log != nil {
		s.log.Warnw("failed to rebuild threat index after feed update", "feed", name, "error", err)
	}

	metrics.FeedUpdates.WithLabelValues(name, "success").Inc()
	return Summary{
		FeedName:    name,
		DomainCount: len(domains),
		IPCount:     len(ips),
		UpdatedAt:   now,
	}, nil
}

func (s *Scheduler) download(ctx context.Context, desc Descriptor) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindFeedUnavailable, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(body) {
		body = bytes.ToValidUTF8(body, []byte("�"))
	}
	return body, nil
}

// Run is the warmup-then-periodic background loop: it waits 30s after
// startup (letting the rest of the engine finish initializing), then
// updates every enabled feed once, then repeats every 24h until ctx is
// canceled. One feed's failure never aborts the rest of the pass.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(warmupDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(backgroundRefresh)
		}
	}
}

// runOnce walks the configured descriptors, not the store's feed-meta
// rows: a fresh deployment has no meta rows yet, and the first update
// for each feed is what creates one. A feed already toggled off in the
// store is skipped; a feed the store has never seen defaults to enabled.
func (s *Scheduler) runOnce(ctx context.Context) {
	metas, err := s.db.ThreatFeeds.List(ctx)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("failed to list feeds for scheduled update", "error", err)
		}
		return
	}
	enabled := make(map[string]bool, len(metas))
	for _, meta := range metas {
		enabled[meta.Name] = meta.Enabled
	}

	for name := range s.descriptors {
		if on, known := enabled[name]; known && !on {
			continue
		}
		if _, err := s.UpdateFeed(ctx, name, false); err != nil && errs.KindOf(err) != errs.KindFeedThrottled {
			if s.log != nil {
				s.log.Warnw("scheduled feed update failed", "feed", name, "error", err)
			}
		}
	}
}

func familyName(f Family) string {
	switch f {
	case URLhaus:
		return "urlhaus"
	case PhishingArmy:
		return "phishing_army"
	case IPsum:
		return "ipsum"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}
