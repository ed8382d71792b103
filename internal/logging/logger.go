// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logging configures the shared logrus instance used across the
// fleet supervisor.
package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// LogFormatter defines a custom log format for logrus.
// Each entry carries a timestamp, the source being processed, level, and
// the call site.
// Format: [2026-08-25 14:02:11] [kings_theatre] [info ] [runner.go:142] retrying after healing | attempt=2
type LogFormatter struct{}

// Format renders a single log entry with custom formatting.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	source := "--------"
	if s, ok := entry.Data["source"].(string); ok && s != "" {
		source = s
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var formatted string
	if entry.Caller != nil {
		formatted = fmt.Sprintf("[%s] [%s] [%s] [%s:%d] %s", timestamp, source, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, source, levelStr, message)
	}

	// Append extra data fields if present
	if len(entry.Data) > 1 || (len(entry.Data) == 1 && entry.Data["source"] == nil) {
		first := true
		formatted += " |"
		for k, v := range entry.Data {
			if k == "source" {
				continue
			}
			if !first {
				formatted += ","
			}
			formatted += fmt.Sprintf(" %s=%v", k, v)
			first = false
		}
	}
	formatted += "\n"

	buffer.WriteString(formatted)
	return buffer.Bytes(), nil
}

// SetupBaseLogger configures the shared logrus instance.
// It is safe to call multiple times; initialization happens only once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
		log.RegisterExitHandler(closeLogOutputs)
	})
}

// ConfigureLogOutput switches the global log destination between a rotating
// file under logDir and stdout.
func ConfigureLogOutput(loggingToFile bool, logDir string) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	if loggingToFile {
		if logDir == "" {
			logDir = "logs"
		}
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		if logWriter != nil {
			_ = logWriter.Close()
		}
		logWriter = &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "fleet.log"),
			MaxSize:    10,
			MaxBackups: 0,
			MaxAge:     0,
			Compress:   false,
		}
		log.SetOutput(logWriter)
	} else {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stdout)
	}

	return nil
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}
