package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"impactloop/internal/logging"
	"impactloop/internal/metrics"
	"impactloop/internal/orchestrate"
	"impactloop/internal/report"
	"impactloop/internal/runner"
	"impactloop/internal/store"
)

type runFlags struct {
	config     string
	format     string
	dbPath     string
	metricsOut string
}

func newRunCmd() *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline once and print the outcome reports",
		Long: `Loads the pipeline file, builds the configured stages and runs the
pilot, evaluate, allocate and scale phases. The run fails as a whole if any
stage unit fails.

With --db the run is recorded for 'impactloop history'. With --metrics-out
unit and phase timings are written in the Prometheus text format.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, rf)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&rf.config, "config", "c", "", "Pipeline YAML file (required)")
	f.StringVarP(&rf.format, "format", "f", "ascii", "Output format: ascii, markdown, json")
	f.StringVar(&rf.dbPath, "db", "", "Record the run in this SQLite database")
	f.StringVar(&rf.metricsOut, "metrics-out", "", "Write Prometheus metrics to this file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runPipeline(cmd *cobra.Command, rf runFlags) error {
	format, err := report.ParseFormat(rf.format)
	if err != nil {
		return err
	}

	opts := runner.Options{
		Observers: []orchestrate.Observer{&orchestrate.LogObserver{Logger: logging.New("run")}},
	}
	if rf.dbPath != "" {
		st, err := store.Open(rf.dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		opts.Store = st
	}
	if rf.metricsOut != "" {
		opts.Metrics = metrics.New()
	}

	out, runErr := runner.RunFile(cmd.Context(), rf.config, opts)

	// Failed runs are counted too.
	if opts.Metrics != nil {
		if err := opts.Metrics.WriteFile(rf.metricsOut); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if out.Record != nil {
		logging.New("run").Info("run recorded", "run_id", out.Record.ID, "db", rf.dbPath)
	}
	return report.WriteRun(cmd.OutOrStdout(), out.Result, format)
}
