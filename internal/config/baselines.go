// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scraperfleet/scraperfleet/internal/util"
)

// Baseline describes the expected behavior of a single source. It encodes
// operator knowledge: how many events the venue typically posts, how far
// ahead its calendar reaches, and whether event times exist at all.
type Baseline struct {
	// TypicalEventCountMin is the lower bound of a healthy run's event count.
	TypicalEventCountMin int `yaml:"typical_event_count_min"`

	// TypicalEventCountMax is the upper bound of a healthy run's event count.
	TypicalEventCountMax int `yaml:"typical_event_count_max"`

	// TypicalHorizonMonths is how many months ahead the venue usually posts.
	TypicalHorizonMonths int `yaml:"typical_horizon_months"`

	// HasPagination records whether the site paginates its listings.
	HasPagination bool `yaml:"has_pagination"`

	// TimesAvailable is false when the venue never publishes event times.
	// Nil means unknown, which is treated as available.
	TimesAvailable *bool `yaml:"times_available,omitempty"`

	// Notes carries free-form operator remarks.
	Notes string `yaml:"notes,omitempty"`
}

// TimesKnownAvailable reports whether event times are expected for this
// baseline. Absence of the flag means times are assumed available.
func (b Baseline) TimesKnownAvailable() bool {
	return b.TimesAvailable == nil || *b.TimesAvailable
}

// Baselines is the per-source baseline catalog, loaded once per fleet
// invocation and passed by reference to every component that needs it.
type Baselines struct {
	path   string
	Venues map[string]Baseline `yaml:"venues"`
}

// LoadBaselines reads the baseline document from path. A missing file yields
// an empty catalog rather than an error; sources without baselines are
// simply validated less strictly.
func LoadBaselines(path string) (*Baselines, error) {
	b := &Baselines{
		path:   path,
		Venues: make(map[string]Baseline),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("failed to read baselines %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("failed to parse baselines %s: %w", path, err)
	}
	if b.Venues == nil {
		b.Venues = make(map[string]Baseline)
	}
	return b, nil
}

// Get returns the baseline for a source and whether one exists.
func (b *Baselines) Get(source string) (Baseline, bool) {
	bl, ok := b.Venues[source]
	return bl, ok
}

// Path returns the file the catalog was loaded from.
func (b *Baselines) Path() string {
	return b.path
}

// MarkTimesUnavailable records that a source never publishes event times.
// The amendment is persisted to the baseline document atomically with a
// .bak sibling of the previous content. Returns false when the source has
// no baseline entry or the flag is already recorded.
func (b *Baselines) MarkTimesUnavailable(source string) (bool, error) {
	bl, ok := b.Venues[source]
	if !ok {
		return false, nil
	}
	if bl.TimesAvailable != nil && !*bl.TimesAvailable {
		return false, nil
	}

	f := false
	bl.TimesAvailable = &f
	b.Venues[source] = bl

	data, err := yaml.Marshal(b)
	if err != nil {
		return false, fmt.Errorf("failed to marshal baselines: %w", err)
	}

	opts := &util.SecureWriteOptions{CreateBackup: true}
	if err := util.SecureWrite(b.path, data, opts); err != nil {
		return false, fmt.Errorf("failed to write baselines: %w", err)
	}
	return true, nil
}
