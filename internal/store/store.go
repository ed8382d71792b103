// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store provides read and write access to the evidence database:
// the record of every scrape run and every raw event the fleet has produced.
// Jobs write to this database themselves; the supervisor reads it to verify
// their claims and to build diagnostic history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// RunStatus values recorded by jobs in the scrape_runs table.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRunning   = "running"
)

// ScrapeRun is one execution of a job as recorded in the evidence database.
type ScrapeRun struct {
	ID            int64
	Source        string
	StartedAt     time.Time
	CompletedAt   sql.NullTime
	Status        string
	EventsScraped int
	ErrorMessage  sql.NullString
}

// RawEvent is a single extracted record.
type RawEvent struct {
	ID          int64
	Source      string
	ScrapeRunID int64
	Title       string
	Description string
	StartTime   sql.NullTime
	EndTime     sql.NullTime
	Venue       string
	URL         string
	ScrapedAt   time.Time
}

// Store wraps the SQLite evidence database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the evidence database at dbPath and
// ensures the schema exists.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		events_scraped INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS raw_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		scrape_run_id INTEGER NOT NULL REFERENCES scrape_runs(id),
		title TEXT,
		description TEXT,
		start_time DATETIME,
		end_time DATETIME,
		venue TEXT,
		url TEXT,
		scraped_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_source ON scrape_runs(source);
	CREATE INDEX IF NOT EXISTS idx_events_source ON raw_events(source);
	CREATE INDEX IF NOT EXISTS idx_events_run ON raw_events(scrape_run_id);
	CREATE INDEX IF NOT EXISTS idx_events_start ON raw_events(start_time);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Debugf("Evidence store opened (db: %s)", dbPath)

	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

// LatestRun returns the most recent run for a source, or nil when the
// source has never run.
func (s *Store) LatestRun(ctx context.Context, source string) (*ScrapeRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, started_at, completed_at, status, events_scraped, error_message
		FROM scrape_runs WHERE source = ? ORDER BY id DESC LIMIT 1`, source)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	return run, nil
}

// RunsBySource returns all runs for a source, newest first.
func (s *Store) RunsBySource(ctx context.Context, source string) ([]*ScrapeRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, started_at, completed_at, status, events_scraped, error_message
		FROM scrape_runs WHERE source = ? ORDER BY id DESC`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// HistoricalSuccessfulRuns returns up to limit completed runs with events,
// newest first. These form the comparison baseline for anomaly detection.
func (s *Store) HistoricalSuccessfulRuns(ctx context.Context, source string, limit int) ([]*ScrapeRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, started_at, completed_at, status, events_scraped, error_message
		FROM scrape_runs
		WHERE source = ? AND status = ? AND events_scraped > 0
		ORDER BY id DESC LIMIT ?`, source, StatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query historical runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// EventsByRun returns all raw events from a single run.
func (s *Store) EventsByRun(ctx context.Context, runID int64) ([]*RawEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, scrape_run_id, title, description, start_time, end_time, venue, url, scraped_at
		FROM raw_events WHERE scrape_run_id = ? ORDER BY start_time`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by run: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// EventsBySource returns all raw events for a source ordered by start time.
func (s *Store) EventsBySource(ctx context.Context, source string) ([]*RawEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, scrape_run_id, title, description, start_time, end_time, venue, url, scraped_at
		FROM raw_events WHERE source = ? ORDER BY start_time`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by source: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// InsertRun records a run. Used by exploration result recording and tests;
// production jobs write their own runs.
func (s *Store) InsertRun(ctx context.Context, run *ScrapeRun) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (source, started_at, completed_at, status, events_scraped, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.Source, run.StartedAt, run.CompletedAt, run.Status, run.EventsScraped, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		run.ID = id
	}
	return nil
}

// InsertEvent records a raw event.
func (s *Store) InsertEvent(ctx context.Context, ev *RawEvent) error {
	if ev == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if ev.ScrapedAt.IsZero() {
		ev.ScrapedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_events (source, scrape_run_id, title, description, start_time, end_time, venue, url, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Source, ev.ScrapeRunID, ev.Title, ev.Description, ev.StartTime, ev.EndTime, ev.Venue, ev.URL, ev.ScrapedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// CountEventsBySource returns the number of raw events recorded for a source.
func (s *Store) CountEventsBySource(ctx context.Context, source string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_events WHERE source = ?`, source).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(r rowScanner) (*ScrapeRun, error) {
	var run ScrapeRun
	err := r.Scan(
		&run.ID,
		&run.Source,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Status,
		&run.EventsScraped,
		&run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func collectRuns(rows *sql.Rows) ([]*ScrapeRun, error) {
	var runs []*ScrapeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			log.Warnf("Failed to scan run record: %v", err)
			continue
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func collectEvents(rows *sql.Rows) ([]*RawEvent, error) {
	var events []*RawEvent
	for rows.Next() {
		var ev RawEvent
		var title, description, venue, url sql.NullString
		err := rows.Scan(
			&ev.ID,
			&ev.Source,
			&ev.ScrapeRunID,
			&title,
			&description,
			&ev.StartTime,
			&ev.EndTime,
			&venue,
			&url,
			&ev.ScrapedAt,
		)
		if err != nil {
			log.Warnf("Failed to scan event record: %v", err)
			continue
		}
		ev.Title = title.String
		ev.Description = description.String
		ev.Venue = venue.String
		ev.URL = url.String
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
