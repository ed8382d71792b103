// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main implements the scraperfleet CLI: a self-healing supervisor
// for a fleet of browser-automation extraction jobs.
package main

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scraperfleet/scraperfleet/internal/config"
	"github.com/scraperfleet/scraperfleet/internal/jobs"
	"github.com/scraperfleet/scraperfleet/internal/logging"
	"github.com/scraperfleet/scraperfleet/internal/store"
)

var (
	cfgPath string
	verbose bool

	version = "dev"
)

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var code exitCodeError
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

// exitCodeError carries a process exit code out of a RunE so deferred
// cleanup (store close, log writers) runs before the process exits.
type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

var rootCmd = &cobra.Command{
	Use:   "scraperfleet",
	Short: "Self-healing supervisor for browser-automation extraction jobs",
	Long: `scraperfleet runs a fleet of browser-automation extraction jobs, detects
failures, diagnoses them against run history and session telemetry, applies
cataloged fixes, and escalates what it cannot heal.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.SetupBaseLogger()
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig loads configuration and applies the logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.ConfigureLogOutput(cfg.Logging.ToFile, cfg.Logging.Dir); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

// openEnvironment sets up the shared pieces every command needs: config,
// evidence store, job registry, and baselines. Callers must Close the
// returned store.
func openEnvironment(cmd *cobra.Command) (*config.Config, *store.Store, *jobs.Registry, *config.Baselines, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	st, err := store.Open(cmd.Context(), cfg.StorePath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := jobs.NewRegistry(cfg.ScrapersDir)

	baselines, err := config.LoadBaselines(cfg.BaselinesPath)
	if err != nil {
		st.Close()
		return nil, nil, nil, nil, fmt.Errorf("failed to load baselines: %w", err)
	}

	return cfg, st, registry, baselines, nil
}
