// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scraperfleet/scraperfleet/internal/diagnose"
	"github.com/scraperfleet/scraperfleet/internal/explore"
	"github.com/scraperfleet/scraperfleet/internal/telemetry"
	"github.com/scraperfleet/scraperfleet/internal/validate"
	"github.com/scraperfleet/scraperfleet/internal/vision"
)

var (
	diagnoseErrorFile string
	exploreURL        string
	validateJSON      bool
)

func init() {
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(validateCmd)

	diagnoseCmd.Flags().StringVar(&diagnoseErrorFile, "error-file", "", "file containing error output from a recent run")
	exploreCmd.Flags().StringVar(&exploreURL, "url", "", "page URL to explore (default: detected from the job definition)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "output the full report as JSON")
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <source>",
	Short: "Diagnose why a source is failing",
	Long: `Build a diagnostic report for a source from its run history, job code,
peer comparison, and optional error output. Exits 0 when no issue is
found, 1 when an issue is identified, and 2 when confidence is too low
for automated action.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]

		cfg, st, registry, _, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		errorOutput := ""
		if diagnoseErrorFile != "" {
			data, err := os.ReadFile(diagnoseErrorFile)
			if err != nil {
				return fmt.Errorf("failed to read error file: %w", err)
			}
			errorOutput = string(data)
		}

		opts := []diagnose.Option{diagnose.WithOutputDir(cfg.OutputDir)}
		if cfg.Telemetry.Endpoint != "" {
			opts = append(opts, diagnose.WithTelemetry(
				telemetry.NewClient(cfg.Telemetry.Endpoint, cfg.Telemetry.APIKey, cfg.Telemetry.Timeout)))
		}
		engine := diagnose.NewEngine(st, registry, opts...)
		report, err := engine.Diagnose(cmd.Context(), source, errorOutput)
		if err != nil {
			return err
		}

		printDiagnosis(report)

		switch {
		case report.Confidence < 0.3:
			return exitCodeError(2)
		case report.Category != diagnose.CategoryUnknown:
			return exitCodeError(1)
		}
		return nil
	},
}

func printDiagnosis(report *diagnose.Report) {
	p := report.Profile
	fmt.Printf("DIAGNOSTIC REPORT: %s\n\n", report.Source)
	fmt.Println("PROFILE:")
	fmt.Printf("   Total runs: %d\n", p.TotalRuns)
	fmt.Printf("   Successful runs: %d\n", p.SuccessfulRuns)
	if p.DaysSinceSuccess >= 0 {
		fmt.Printf("   Days since success: %d\n", p.DaysSinceSuccess)
	} else {
		fmt.Println("   Days since success: never succeeded")
	}
	fmt.Printf("   Avg events when working: %.0f\n", p.AvgEventsWorking)
	fmt.Printf("   Events in DB: %d\n", p.EventsInDB)
	fmt.Printf("   Data is stale: %v\n", p.DataIsStale)
	fmt.Printf("   Pagination method: %s\n", p.Code.Strategy)

	fmt.Println("\nFAILURE ANALYSIS:")
	fmt.Printf("   Category: %s\n", report.Category)
	fmt.Printf("   Pattern: %s\n", report.FailurePattern)

	if len(report.Observations) > 0 {
		fmt.Println("\nOBSERVATIONS:")
		for _, obs := range report.Observations {
			fmt.Printf("   - %s\n", obs)
		}
	}
	if report.KeyDifference != "" {
		fmt.Println("\nKEY INSIGHT:")
		fmt.Printf("   %s\n", report.KeyDifference)
	}
	if len(report.RecommendedFixes) > 0 {
		fmt.Printf("\nRECOMMENDED FIXES (confidence: %.0f%%):\n", report.Confidence*100)
		for _, fix := range report.RecommendedFixes {
			fmt.Printf("   %d. [%s] %s\n", fix.Priority, fix.Action, fix.Description)
			if fix.Rationale != "" {
				fmt.Printf("      Rationale: %s\n", fix.Rationale)
			}
		}
	}
}

var exploreCmd = &cobra.Command{
	Use:   "explore <source>",
	Short: "Probe a source's page to discover a working interaction sequence",
	Long: `Run the exploratory prober against a source: probe the page with
candidate interactions, analyze screenshots with the vision model, and
synthesize a new job definition from the best pattern found.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := args[0]

		cfg, st, registry, _, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		url := exploreURL
		if url == "" {
			url, err = registry.DetectURL(source)
			if err != nil || url == "" {
				return fmt.Errorf("no page URL found for %s; pass --url", source)
			}
		}

		vc := vision.NewClient(cfg.Vision.Endpoint, cfg.Vision.Model, cfg.Vision.APIKey, cfg.Vision.Timeout)
		prober := explore.NewProber(source, url, registry, vc,
			cfg.Runtime, cfg.StagingDir, cfg.ScreenshotsDir, cfg.OutputDir, cfg.ProbeTimeout)

		result, err := prober.Discover(cmd.Context())
		if err != nil {
			return err
		}

		if result.BestPattern == nil {
			fmt.Println("Exploration found no working pattern.")
			return exitCodeError(1)
		}

		fmt.Printf("Best pattern: %v (%d events)\n", result.BestPattern.Actions, result.BestPattern.Events)
		if result.GeneratedJob != "" {
			if err := prober.Promote(result); err != nil {
				return err
			}
			fmt.Printf("Generated job installed at %s (previous kept as .backup)\n", registry.Path(source))
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [source]",
	Short: "Validate persisted results against history and baselines",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, registry, baselines, err := openEnvironment(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		sources := args
		if len(sources) == 0 {
			sources, err = registry.List()
			if err != nil {
				return err
			}
		}

		validator := validate.NewValidator(st, baselines)
		failed := false
		for _, source := range sources {
			report, err := validator.ValidateSource(cmd.Context(), source)
			if err != nil {
				return err
			}

			if validateJSON {
				out, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				continue
			}

			fmt.Printf("%-30s %-8s %4d events  %5.1f%% complete\n",
				source, report.Status, report.TotalEvents, report.OverallCompleteness)
			for _, issue := range report.Issues {
				fmt.Printf("    %s\n", issue)
			}
			for _, warning := range report.Warnings {
				fmt.Printf("    %s\n", warning)
			}
			if report.Status == validate.StatusFailed {
				failed = true
			}
		}

		if failed {
			return exitCodeError(1)
		}
		return nil
	},
}
