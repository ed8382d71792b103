// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormatter(t *testing.T) {
	f := &LogFormatter{}
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 25, 14, 2, 11, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "retrying after healing\n",
		Data:    log.Fields{"source": "kings_theatre", "attempt": 2},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)

	line := string(out)
	assert.Contains(t, line, "[2026-08-25 14:02:11]")
	assert.Contains(t, line, "[kings_theatre]")
	assert.Contains(t, line, "[info ]")
	assert.Contains(t, line, "retrying after healing |")
	assert.Contains(t, line, "attempt=2")
	// Trailing newline stripped from the message, one added by the formatter
	assert.Equal(t, "\n", line[len(line)-1:])
}

func TestLogFormatterWithoutSource(t *testing.T) {
	f := &LogFormatter{}
	entry := &log.Entry{
		Time:    time.Date(2026, 8, 25, 14, 2, 11, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "no source field",
	}

	out, err := f.Format(entry)
	require.NoError(t, err)

	line := string(out)
	assert.Contains(t, line, "[--------]")
	assert.Contains(t, line, "[warn ]")
	assert.NotContains(t, line, "|")
}
