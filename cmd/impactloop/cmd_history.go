package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"impactloop/internal/report"
	"impactloop/internal/runner"
	"impactloop/internal/store"
)

type historyFlags struct {
	dbPath string
	limit  int
	runID  string
	format string
}

func newHistoryCmd() *cobra.Command {
	var hf historyFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or show one with --run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, hf)
		},
	}
	f := cmd.Flags()
	f.StringVar(&hf.dbPath, "db", store.DefaultDBPath, "SQLite database the runs were recorded in")
	f.IntVarP(&hf.limit, "limit", "n", 20, "Maximum number of runs to list (0 = all)")
	f.StringVar(&hf.runID, "run", "", "Show the outcome reports of this run")
	f.StringVarP(&hf.format, "format", "f", "ascii", "Output format: ascii, markdown, json")
	return cmd
}

func runHistory(cmd *cobra.Command, hf historyFlags) error {
	format, err := report.ParseFormat(hf.format)
	if err != nil {
		return err
	}
	st, err := store.Open(hf.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if hf.runID != "" {
		rec, err := st.GetRun(hf.runID)
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if rec == nil {
			return fmt.Errorf("run %q not found in %s", hf.runID, hf.dbPath)
		}
		res, err := runner.Decode(rec)
		if err != nil {
			return err
		}
		return report.WriteRun(out, res, format)
	}

	runs, err := st.ListRuns(hf.limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	return report.WriteHistory(out, runs, format)
}
