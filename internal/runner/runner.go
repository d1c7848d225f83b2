// Package runner executes a pipeline file end to end and records the result.
// The CLI and the MCP server both run pipelines through it.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"impactloop/internal/components"
	"impactloop/internal/config"
	"impactloop/internal/metrics"
	"impactloop/internal/orchestrate"
	"impactloop/internal/registry"
	"impactloop/internal/store"
)

// Options configures a run. Every field is optional.
type Options struct {
	// Registry resolves component names. Defaults to components.Default().
	Registry *registry.Registry
	// Store receives the run record when set.
	Store store.Store
	// Metrics observes the run and records its summary when set.
	Metrics   *metrics.Collector
	Observers []orchestrate.Observer
}

// Outcome is a completed run. Record is nil when no store was configured.
type Outcome struct {
	Result  *orchestrate.RunResult
	Summary orchestrate.Summary
	Record  *store.Run
}

// RunFile loads the pipeline at path, builds its stages and runs it once.
func RunFile(ctx context.Context, path string, opts Options) (*Outcome, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return RunConfig(ctx, cfg, opts)
}

// RunConfig runs an already loaded pipeline.
func RunConfig(ctx context.Context, cfg *config.PipelineConfig, opts Options) (_ *Outcome, err error) {
	reg := opts.Registry
	if reg == nil {
		reg = components.Default()
	}
	var orchOpts []orchestrate.Option
	for _, obs := range opts.Observers {
		orchOpts = append(orchOpts, orchestrate.WithObserver(obs))
	}
	if opts.Metrics != nil {
		orchOpts = append(orchOpts, orchestrate.WithObserver(opts.Metrics))
	}

	o, err := orchestrate.FromConfig(cfg, reg, orchOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := o.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close stages: %w", cerr)
		}
	}()

	res, err := o.Run(ctx)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Result: res, Summary: res.Summary()}
	if opts.Metrics != nil {
		opts.Metrics.RecordSummary(out.Summary)
	}
	if opts.Store != nil {
		rec, err := Record(opts.Store, cfg, res)
		if err != nil {
			return nil, err
		}
		out.Record = rec
	}
	return out, nil
}

// Record saves res to st as a run history entry.
func Record(st store.Store, cfg *config.PipelineConfig, res *orchestrate.RunResult) (*store.Run, error) {
	if st == nil {
		return nil, errors.New("runner: store is required")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", res.RunID, err)
	}
	s := res.Summary()
	rec := &store.Run{
		ID:           res.RunID,
		ConfigPath:   cfg.Path,
		Budget:       cfg.Budget,
		Evaluated:    s.Evaluated,
		Selected:     s.Selected,
		BudgetUsed:   s.BudgetUsed,
		MeanAbsError: s.MeanAbsError,
		Result:       data,
	}
	if err := st.SaveRun(rec); err != nil {
		return nil, fmt.Errorf("save run %s: %w", res.RunID, err)
	}
	return rec, nil
}

// Decode restores the full result stored with a run record.
func Decode(rec *store.Run) (*orchestrate.RunResult, error) {
	var res orchestrate.RunResult
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", rec.ID, err)
	}
	return &res, nil
}
