// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package patch applies mechanical source transformations to job
// definitions. Each transformation targets one known failure mode and is
// safe to apply repeatedly; a second application is a no-op.
package patch

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/scraperfleet/scraperfleet/internal/util"
)

// Transformation rewrites job source to remedy a specific failure mode.
type Transformation interface {
	// Name identifies the transformation in logs and healing records.
	Name() string

	// Applies reports whether the source exhibits the pattern this
	// transformation targets.
	Applies(content string) bool

	// Apply returns the rewritten source and whether anything changed.
	Apply(content string) (string, bool)
}

// ForAction maps a recommended fix action to the transformation that
// implements it. Returns nil for actions with no mechanical patch.
func ForAction(action string) Transformation {
	switch action {
	case "fix_button_selector_case":
		return SelectorCaseInsensitive{}
	case "increase_navigation_timeout", "add_retry_on_timeout":
		return NavigationHardening{}
	case "extract_before_pagination":
		return ExtractBeforePaginate{}
	case "increase_wait_times":
		return LongerWaits{}
	case "extend_pagination":
		return PaginationLimit{}
	case "fix_year_rollover":
		return NewYearRollover()
	default:
		return nil
	}
}

// ApplyToFile applies a transformation to a job file in place. The
// previous content is kept as a .bak next to the file. Returns whether
// the file was modified.
func ApplyToFile(path string, t Transformation) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read job file: %w", err)
	}
	content := string(data)

	if !t.Applies(content) {
		log.Debugf("Transformation %s does not apply to %s", t.Name(), path)
		return false, nil
	}

	patched, changed := t.Apply(content)
	if !changed {
		return false, nil
	}

	opts := util.DefaultSecureWriteOptions()
	opts.CreateBackup = true
	if err := util.SecureWrite(path, []byte(patched), opts); err != nil {
		return false, fmt.Errorf("failed to write patched job: %w", err)
	}

	log.WithField("transformation", t.Name()).Infof("Patched %s", path)
	return true, nil
}
