// Package orchestrate runs the measure, evaluate, allocate and scale phases
// of an impact loop over a set of initiatives.
//
// A run proceeds in five steps, each a barrier for the next:
//
//  1. pilot: measure every initiative with the stage's default sample size
//  2. evaluate: score every pilot measurement, enriched with its cost
//  3. allocate: choose the funded subset under the budget, once
//  4. scale: measure every funded initiative at the configured sample size
//  5. report: join prediction and scale measurement by initiative id
//
// The measure and evaluate phases fan out on a bounded worker pool. Every
// stage output is checked against its contract before it is used.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"impactloop/internal/config"
	"impactloop/internal/contract"
	"impactloop/internal/logging"
	"impactloop/internal/registry"
)

// Orchestrator holds the three stages and the run parameters. A single
// Orchestrator may run repeatedly; runs share no mutable state.
type Orchestrator struct {
	measure  contract.Measure
	evaluate contract.Evaluate
	allocate contract.Allocate
	cfg      *config.PipelineConfig
	observer Observer
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver adds an observer. Multiple observers are all notified.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs == nil {
			return
		}
		if o.observer == nil {
			o.observer = obs
			return
		}
		o.observer = MultiObserver{o.observer, obs}
	}
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New validates cfg and returns an Orchestrator over the given stages.
func New(measure contract.Measure, evaluate contract.Evaluate, allocate contract.Allocate, cfg *config.PipelineConfig, opts ...Option) (*Orchestrator, error) {
	if measure == nil || evaluate == nil || allocate == nil {
		return nil, errors.New("orchestrate: measure, evaluate and allocate stages are required")
	}
	if cfg == nil {
		return nil, errors.New("orchestrate: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		measure:  measure,
		evaluate: evaluate,
		allocate: allocate,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.New("orchestrate")
	}
	return o, nil
}

// FromConfig builds each stage from reg using the component named in cfg.
// Stages built before a failure are closed.
func FromConfig(cfg *config.PipelineConfig, reg *registry.Registry, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrate: config is required")
	}
	params := func(sc config.StageConfig) registry.Params {
		return registry.Params{Values: sc.Params, BaseDir: sc.BaseDir, Initiatives: cfg.Initiatives}
	}

	var built []any
	fail := func(stage string, err error) (*Orchestrator, error) {
		closeAll(built)
		return nil, fmt.Errorf("%s stage: %w", stage, err)
	}

	measure, err := reg.BuildMeasure(cfg.Measure.Component, params(cfg.Measure))
	if err != nil {
		return fail(StageMeasure, err)
	}
	built = append(built, measure)
	evaluate, err := reg.BuildEvaluate(cfg.Evaluate.Component, params(cfg.Evaluate))
	if err != nil {
		return fail(StageEvaluate, err)
	}
	built = append(built, evaluate)
	allocate, err := reg.BuildAllocate(cfg.Allocate.Component, params(cfg.Allocate))
	if err != nil {
		return fail(StageAllocate, err)
	}
	built = append(built, allocate)

	o, err := New(measure, evaluate, allocate, cfg, opts...)
	if err != nil {
		closeAll(built)
		return nil, err
	}
	return o, nil
}

// Close releases stages that hold resources.
func (o *Orchestrator) Close() error {
	return closeAll([]any{o.measure, o.evaluate, o.allocate})
}

func closeAll(stages []any) error {
	var errs []error
	for _, s := range stages {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) emit(e Event) {
	if o.observer != nil {
		o.observer.OnEvent(e)
	}
}

// Run executes one full pass. On error no partial result is returned.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	runID := uuid.NewString()
	start := time.Now()
	res, err := o.run(ctx, runID)
	if err != nil {
		o.emit(Event{Type: EventRunError, RunID: runID, Elapsed: time.Since(start), Err: err})
		return nil, err
	}
	o.emit(Event{Type: EventRunDone, RunID: runID, Units: len(res.OutcomeReports), Elapsed: time.Since(start)})
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string) (*RunResult, error) {
	cfg := o.cfg
	log := o.logger.With("run_id", runID)

	// Phase 1: pilot measure.
	log.Info("phase 1: pilot measure", "units", len(cfg.Initiatives), "workers", cfg.MaxWorkers)
	pilotIn := make([]contract.MeasureInput, len(cfg.Initiatives))
	for i, in := range cfg.Initiatives {
		pilotIn[i] = contract.MeasureInput{InitiativeID: in.ID}
	}
	pilots, err := fanOut(ctx, o, runID, o.measureUnit(PhasePilot, nil), pilotIn)
	if err != nil {
		return nil, err
	}

	// Phase 2: evaluate, each pilot joined with its cost by id.
	log.Info("phase 2: evaluate", "units", len(pilots), "workers", cfg.MaxWorkers)
	costs := cfg.CostByID()
	evalIn := make([]contract.EvaluateInput, len(pilots))
	for i, p := range pilots {
		cost, ok := costs[p.InitiativeID]
		if !ok {
			return nil, joinError("pilot result %q has no configured initiative", p.InitiativeID)
		}
		evalIn[i] = contract.EvaluateInput{MeasureResult: p, CostToScale: cost}
	}
	evals, err := fanOut(ctx, o, runID, o.evaluateUnit(), evalIn)
	if err != nil {
		return nil, err
	}

	// Phase 3: allocate, once, on this goroutine.
	log.Info("phase 3: allocate", "candidates", len(evals), "budget", cfg.Budget)
	alloc, err := o.runAllocate(ctx, runID, contract.AllocateInput{Initiatives: evals, Budget: cfg.Budget})
	if err != nil {
		return nil, err
	}

	// Phase 4: scale measure for the funded subset.
	log.Info("phase 4: scale measure", "units", len(alloc.SelectedInitiatives), "sample_size", cfg.ScaleSampleSize)
	scaleIn := make([]contract.MeasureInput, len(alloc.SelectedInitiatives))
	for i, id := range alloc.SelectedInitiatives {
		scaleIn[i] = contract.MeasureInput{InitiativeID: id, SampleSize: cfg.ScaleSampleSize}
	}
	pilotSample := make(map[string]int, len(pilots))
	for _, p := range pilots {
		pilotSample[p.InitiativeID] = p.SampleSize
	}
	scales, err := fanOut(ctx, o, runID, o.measureUnit(PhaseScale, pilotSample), scaleIn)
	if err != nil {
		return nil, err
	}

	// Phase 5: outcome reports.
	reports, err := buildReports(pilots, evals, alloc, scales)
	if err != nil {
		return nil, err
	}
	log.Info("phase 5: reports", "selected", len(reports))

	return &RunResult{
		RunID:           runID,
		PilotResults:    pilots,
		EvaluateResults: evals,
		AllocateResult:  alloc,
		ScaleResults:    scales,
		OutcomeReports:  reports,
	}, nil
}

// measureUnit checks each measurement against its contract. minSample, when
// set, holds the pilot sample size a scale measurement may not fall below.
func (o *Orchestrator) measureUnit(phase Phase, minSample map[string]int) unit[contract.MeasureInput, contract.MeasureResult] {
	return unit[contract.MeasureInput, contract.MeasureResult]{
		phase: phase,
		stage: StageMeasure,
		id:    func(in contract.MeasureInput) string { return in.InitiativeID },
		exec:  o.measure.Execute,
		check: func(in contract.MeasureInput, out contract.MeasureResult) error {
			if err := echoID("MeasureResult", in.InitiativeID, out.InitiativeID); err != nil {
				return err
			}
			if err := out.Validate(); err != nil {
				return err
			}
			if floor, ok := minSample[in.InitiativeID]; ok && out.SampleSize < floor {
				return &contract.ViolationError{
					Record:       "MeasureResult",
					InitiativeID: in.InitiativeID,
					Reason:       fmt.Sprintf("scale sample_size %d is below pilot sample_size %d", out.SampleSize, floor),
				}
			}
			return nil
		},
	}
}

func (o *Orchestrator) evaluateUnit() unit[contract.EvaluateInput, contract.EvaluateResult] {
	return unit[contract.EvaluateInput, contract.EvaluateResult]{
		phase: PhaseEvaluate,
		stage: StageEvaluate,
		id:    func(in contract.EvaluateInput) string { return in.InitiativeID },
		exec:  o.evaluate.Execute,
		check: func(in contract.EvaluateInput, out contract.EvaluateResult) error {
			if err := echoID("EvaluateResult", in.InitiativeID, out.InitiativeID); err != nil {
				return err
			}
			if err := out.Validate(); err != nil {
				return err
			}
			return echoPilot(in, out)
		},
	}
}

func (o *Orchestrator) runAllocate(ctx context.Context, runID string, in contract.AllocateInput) (contract.AllocateResult, error) {
	o.emit(Event{Type: EventPhaseStart, RunID: runID, Phase: PhaseAllocate, Stage: StageAllocate, Units: 1})
	start := time.Now()
	out, err := o.allocate.Execute(ctx, in)
	if err == nil {
		err = out.Validate(in)
	}
	if err != nil {
		o.logger.Warn("unit failed", "run_id", runID, "phase", PhaseAllocate, "error", err)
		o.emit(Event{Type: EventUnitError, RunID: runID, Phase: PhaseAllocate, Stage: StageAllocate, Elapsed: time.Since(start), Err: err})
		return contract.AllocateResult{}, &StageError{Stage: StageAllocate, Phase: PhaseAllocate, Err: err}
	}
	o.emit(Event{Type: EventUnitDone, RunID: runID, Phase: PhaseAllocate, Stage: StageAllocate, Elapsed: time.Since(start)})
	o.emit(Event{Type: EventPhaseDone, RunID: runID, Phase: PhaseAllocate, Stage: StageAllocate, Units: 1, Elapsed: time.Since(start)})
	return out, nil
}

// echoID rejects a result that does not carry its input's initiative id.
func echoID(record, want, got string) error {
	if want == got {
		return nil
	}
	return &contract.ViolationError{
		Record:       record,
		InitiativeID: want,
		Reason:       fmt.Sprintf("result carries initiative_id %q", got),
	}
}

// echoPilot rejects an evaluation that does not carry the configured cost or
// the model type and sample size of the pilot it scored. Allocation judges
// the budget against Cost.
func echoPilot(in contract.EvaluateInput, out contract.EvaluateResult) error {
	var reason string
	switch {
	case out.Cost != in.CostToScale:
		reason = fmt.Sprintf("cost %g differs from configured cost_to_scale %g", out.Cost, in.CostToScale)
	case out.ModelType != in.ModelType:
		reason = fmt.Sprintf("model_type %q differs from pilot model_type %q", out.ModelType, in.ModelType)
	case out.SampleSize != in.SampleSize:
		reason = fmt.Sprintf("sample_size %d differs from pilot sample_size %d", out.SampleSize, in.SampleSize)
	default:
		return nil
	}
	return &contract.ViolationError{Record: "EvaluateResult", InitiativeID: in.InitiativeID, Reason: reason}
}

// buildReports joins allocation, evaluation and both measurements by
// initiative id, one report per funded initiative in selection order.
func buildReports(pilots []contract.MeasureResult, evals []contract.EvaluateResult, alloc contract.AllocateResult, scales []contract.MeasureResult) ([]contract.OutcomeReport, error) {
	pilotByID := indexBy(pilots, func(r contract.MeasureResult) string { return r.InitiativeID })
	evalByID := indexBy(evals, func(r contract.EvaluateResult) string { return r.InitiativeID })
	scaleByID := indexBy(scales, func(r contract.MeasureResult) string { return r.InitiativeID })

	reports := make([]contract.OutcomeReport, 0, len(alloc.SelectedInitiatives))
	for _, id := range alloc.SelectedInitiatives {
		pilot, ok := pilotByID[id]
		if !ok {
			return nil, joinError("no pilot result for %q", id)
		}
		eval, ok := evalByID[id]
		if !ok {
			return nil, joinError("no evaluate result for %q", id)
		}
		scale, ok := scaleByID[id]
		if !ok {
			return nil, joinError("no scale result for %q", id)
		}
		predicted := alloc.PredictedReturns[id]
		reports = append(reports, contract.OutcomeReport{
			InitiativeID:    id,
			PredictedReturn: predicted,
			ActualReturn:    scale.EffectEstimate,
			PredictionError: scale.EffectEstimate - predicted,
			SampleSizePilot: pilot.SampleSize,
			SampleSizeScale: scale.SampleSize,
			BudgetAllocated: alloc.BudgetAllocated[id],
			ConfidenceScore: eval.Confidence,
			ModelType:       eval.ModelType,
		})
	}
	return reports, nil
}

func indexBy[T any](items []T, key func(T) string) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		m[key(it)] = it
	}
	return m
}
