// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scraperfleet/scraperfleet/internal/config"
	"github.com/scraperfleet/scraperfleet/internal/explore"
	"github.com/scraperfleet/scraperfleet/internal/jobs"
	"github.com/scraperfleet/scraperfleet/internal/runner"
	"github.com/scraperfleet/scraperfleet/internal/store"
	"github.com/scraperfleet/scraperfleet/internal/telemetry"
	"github.com/scraperfleet/scraperfleet/internal/vision"
)

var (
	runSource     string
	runSources    []string
	runFailedOnly bool
	runDryRun     bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)

	runCmd.Flags().StringVar(&runSource, "source", "", "run a single source")
	runCmd.Flags().StringSliceVar(&runSources, "sources", nil, "run a specific set of sources")
	runCmd.Flags().BoolVar(&runFailedOnly, "failed-only", false, "re-run only the sources that failed in the last fleet run")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "list what would run without running anything")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run extraction jobs with self-healing",
	Long: `Run one, several, or all extraction jobs. Each job gets a bounded
healing episode: detected issues are remediated from the catalog and the
job retried; unfixable jobs are escalated.

Examples:
  scraperfleet run
  scraperfleet run --source fillmore
  scraperfleet run --sources fillmore,warfield
  scraperfleet run --failed-only`,
	RunE: runRun,
}

var healCmd = &cobra.Command{
	Use:   "heal <source>",
	Short: "Run one healing episode for a single source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runSource = args[0]
		return runRun(cmd, nil)
	},
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, st, registry, baselines, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	sources, err := selectSources(cfg, registry)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("Nothing to run.")
		return nil
	}

	if runDryRun {
		fmt.Printf("Would run %d scrapers:\n", len(sources))
		for _, s := range sources {
			fmt.Printf("  - %s\n", s)
		}
		return nil
	}

	r := newRunner(cfg, st, registry, baselines)
	report := r.RunAll(cmd.Context(), sources)

	if report.HasFailures() {
		// Visible to CI and cron wrappers.
		return exitCodeError(1)
	}
	return nil
}

// selectSources resolves the --source/--sources/--failed-only flags down
// to the list of sources to run.
func selectSources(cfg *config.Config, registry *jobs.Registry) ([]string, error) {
	if runSource != "" {
		return []string{runSource}, nil
	}
	if len(runSources) > 0 {
		return runSources, nil
	}
	if runFailedOnly {
		_, statuses, err := runner.LatestReport(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		failed := runner.FailedSources(statuses)
		if len(failed) == 0 {
			log.Info("No failed sources in the last fleet run")
		}
		return failed, nil
	}
	return registry.List()
}

// newRunner wires a Runner with telemetry and the exploratory fallback.
func newRunner(cfg *config.Config, st *store.Store, registry *jobs.Registry,
	baselines *config.Baselines) *runner.Runner {
	opts := []runner.Option{
		runner.WithExplore(exploreFallback(cfg, registry)),
	}
	if cfg.Telemetry.Endpoint != "" {
		opts = append(opts, runner.WithTelemetry(
			telemetry.NewClient(cfg.Telemetry.Endpoint, cfg.Telemetry.APIKey, cfg.Telemetry.Timeout)))
	}
	return runner.NewRunner(cfg, st, registry, baselines, opts...)
}

// exploreFallback builds the last-resort exploration hook used when the
// healing catalog is out of options.
func exploreFallback(cfg *config.Config, registry *jobs.Registry) runner.ExploreFunc {
	return func(ctx context.Context, source string) bool {
		url, err := registry.DetectURL(source)
		if err != nil || url == "" {
			log.Warnf("Cannot explore %s: no page URL found in job definition", source)
			return false
		}

		vc := vision.NewClient(cfg.Vision.Endpoint, cfg.Vision.Model, cfg.Vision.APIKey, cfg.Vision.Timeout)
		prober := explore.NewProber(source, url, registry, vc,
			cfg.Runtime, cfg.StagingDir, cfg.ScreenshotsDir, cfg.OutputDir, cfg.ProbeTimeout)

		result, err := prober.Discover(ctx)
		if err != nil || result.BestPattern == nil || result.EventsFound == 0 {
			return false
		}
		if err := prober.Promote(result); err != nil {
			log.Warnf("Failed to promote generated job for %s: %v", source, err)
			return false
		}
		return true
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry := jobs.NewRegistry(cfg.ScrapersDir)
		sources, err := registry.List()
		if err != nil {
			return err
		}
		for _, s := range sources {
			fmt.Println(s)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show outcomes from the last fleet run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		startedAt, statuses, err := runner.LatestReport(cfg.OutputDir)
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Println("No fleet runs recorded yet.")
			return nil
		}

		fmt.Printf("Last fleet run: %s\n\n", startedAt.Format("2006-01-02 15:04:05"))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tSTATUS\tEVENTS\tISSUES")
		for _, s := range statuses {
			status := "failed"
			switch {
			case s.Success:
				status = "ok"
			case s.Skipped:
				status = "skipped"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Source, status, s.EventsCount, strings.Join(s.Issues, ","))
		}
		return w.Flush()
	},
}
