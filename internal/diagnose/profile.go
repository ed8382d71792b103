// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package diagnose

import (
	"context"
	"fmt"
	"time"

	"github.com/scraperfleet/scraperfleet/internal/jobs"
	"github.com/scraperfleet/scraperfleet/internal/store"
)

// Peer status values. A peer is "working" when its latest run is recent
// and produced events; "stale" when it has not run in over a month.
const (
	PeerWorking = "working"
	PeerStale   = "stale"
	PeerUnknown = "unknown"
	PeerNoData  = "no_data"
)

const (
	peerWorkingMaxAgeDays = 7
	peerStaleMinAgeDays   = 30
)

// Profile captures everything known about a source at diagnosis time:
// run history, evidence state, static code characteristics, and the
// status of peers using the same interaction strategy.
type Profile struct {
	Source  string
	JobPath string

	// Run history
	TotalRuns        int
	SuccessfulRuns   int
	LastRun          time.Time
	LastSuccess      time.Time
	DaysSinceSuccess int
	AvgEventsWorking float64

	// Evidence state
	EventsInDB      int
	OldestEventDate time.Time
	NewestEventDate time.Time
	DataIsStale     bool

	// Static code characteristics
	Code jobs.CodeProfile

	// Peers with the same interaction strategy and their status
	Peers      []string
	PeerStatus map[string]string
}

// buildProfile assembles a fresh Profile for a source. History gaps never
// fail the build; a source that has never run simply profiles as such.
func (e *Engine) buildProfile(ctx context.Context, source string) (*Profile, error) {
	p := &Profile{
		Source:           source,
		JobPath:          e.registry.Path(source),
		DaysSinceSuccess: -1,
		PeerStatus:       make(map[string]string),
	}

	if err := e.populateHistory(ctx, p); err != nil {
		return nil, err
	}

	if content, err := e.registry.Read(source); err == nil {
		p.Code = jobs.AnalyzeSource(content)
	}

	if err := e.findPeers(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// populateHistory loads run and event history from the evidence store.
func (e *Engine) populateHistory(ctx context.Context, p *Profile) error {
	runs, err := e.store.RunsBySource(ctx, p.Source)
	if err != nil {
		return fmt.Errorf("failed to load run history: %w", err)
	}

	now := e.now()
	p.TotalRuns = len(runs)

	var successCounts []int
	for _, r := range runs {
		if r.Status == store.StatusCompleted && r.EventsScraped > 0 {
			p.SuccessfulRuns++
			successCounts = append(successCounts, r.EventsScraped)
			if p.LastSuccess.IsZero() {
				// Runs are newest first
				p.LastSuccess = r.StartedAt
			}
		}
	}
	if len(runs) > 0 {
		p.LastRun = runs[0].StartedAt
	}
	if !p.LastSuccess.IsZero() {
		p.DaysSinceSuccess = int(now.Sub(p.LastSuccess).Hours() / 24)
	}
	if len(successCounts) > 0 {
		sum := 0
		for _, c := range successCounts {
			sum += c
		}
		p.AvgEventsWorking = float64(sum) / float64(len(successCounts))
	}

	count, err := e.store.CountEventsBySource(ctx, p.Source)
	if err != nil {
		return fmt.Errorf("failed to load event history: %w", err)
	}
	p.EventsInDB = count

	if count > 0 {
		events, err := e.store.EventsBySource(ctx, p.Source)
		if err != nil {
			return fmt.Errorf("failed to load event history: %w", err)
		}
		for _, ev := range events {
			if !ev.StartTime.Valid {
				continue
			}
			t := ev.StartTime.Time
			if p.OldestEventDate.IsZero() || t.Before(p.OldestEventDate) {
				p.OldestEventDate = t
			}
			if t.After(p.NewestEventDate) {
				p.NewestEventDate = t
			}
		}
	}

	// All known events in the past means the source has produced nothing
	// current.
	if !p.NewestEventDate.IsZero() && p.NewestEventDate.Before(now) {
		p.DataIsStale = true
	}

	return nil
}

// findPeers locates sources with the same interaction strategy and
// classifies each by recency of useful output.
func (e *Engine) findPeers(ctx context.Context, p *Profile) error {
	sources, err := e.registry.List()
	if err != nil {
		// A missing scrapers directory leaves the peer set empty.
		return nil
	}

	now := e.now()

	for _, other := range sources {
		if other == p.Source {
			continue
		}
		content, err := e.registry.Read(other)
		if err != nil {
			continue
		}
		peerCode := jobs.AnalyzeSource(content)

		similar := false
		if p.Code.ClickBased() && peerCode.ClickBased() {
			similar = true
		} else if p.Code.Strategy == jobs.StrategyScroll && peerCode.Strategy == jobs.StrategyScroll {
			similar = true
		}
		if !similar {
			continue
		}

		p.Peers = append(p.Peers, other)
		p.PeerStatus[other] = e.peerStatus(ctx, other, now)
	}

	return nil
}

// peerStatus classifies a single peer by its latest run.
func (e *Engine) peerStatus(ctx context.Context, source string, now time.Time) string {
	run, err := e.store.LatestRun(ctx, source)
	if err != nil || run == nil {
		return PeerNoData
	}
	daysAgo := int(now.Sub(run.StartedAt).Hours() / 24)
	switch {
	case daysAgo < peerWorkingMaxAgeDays && run.EventsScraped > 0:
		return PeerWorking
	case daysAgo > peerStaleMinAgeDays:
		return PeerStale
	default:
		return PeerUnknown
	}
}

// workingScrollPeers returns scroll-strategy sources whose latest run is
// recent and non-empty. Used to spot the click-fails-scroll-works pattern.
func (e *Engine) workingScrollPeers(ctx context.Context) []string {
	sources, err := e.registry.List()
	if err != nil {
		return nil
	}

	now := e.now()
	var working []string
	for _, source := range sources {
		content, err := e.registry.Read(source)
		if err != nil {
			continue
		}
		if jobs.AnalyzeSource(content).Strategy != jobs.StrategyScroll {
			continue
		}
		if e.peerStatus(ctx, source, now) == PeerWorking {
			working = append(working, source)
		}
	}
	return working
}
