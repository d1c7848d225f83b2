package orchestrate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"impactloop/internal/components/mock"
	"impactloop/internal/contract"
)

var errBoom = errors.New("estimator crashed")

type countingEvaluate struct {
	calls *atomic.Int32
}

func (c countingEvaluate) Execute(ctx context.Context, in contract.EvaluateInput) (contract.EvaluateResult, error) {
	c.calls.Add(1)
	return mock.Evaluate{}.Execute(ctx, in)
}

func TestRun_FailFastCancelsSiblings(t *testing.T) {
	var started, cancelled atomic.Int32
	measure := contract.StageFunc[contract.MeasureInput, contract.MeasureResult](
		func(ctx context.Context, in contract.MeasureInput) (contract.MeasureResult, error) {
			if in.InitiativeID == "bad" {
				// Let the siblings reach their wait first.
				for started.Load() < 3 {
					time.Sleep(time.Millisecond)
				}
				return contract.MeasureResult{}, errBoom
			}
			started.Add(1)
			<-ctx.Done()
			cancelled.Add(1)
			return contract.MeasureResult{}, ctx.Err()
		})
	var evalCalls atomic.Int32

	cfg := testConfig(100000,
		contract.Initiative{ID: "a", CostToScale: 1},
		contract.Initiative{ID: "b", CostToScale: 1},
		contract.Initiative{ID: "bad", CostToScale: 1},
		contract.Initiative{ID: "c", CostToScale: 1},
	)
	o, err := New(measure, countingEvaluate{&evalCalls}, mock.Allocate{}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	var res *RunResult
	go func() {
		res, err = o.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after a unit failed")
	}

	if res != nil {
		t.Error("partial result returned on error")
	}
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StageError", err)
	}
	if se.InitiativeID != "bad" || se.Phase != PhasePilot || se.Stage != StageMeasure {
		t.Errorf("StageError = %+v", se)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("err does not wrap the stage error: %v", err)
	}
	if got := cancelled.Load(); got != 3 {
		t.Errorf("%d siblings observed cancellation, want 3", got)
	}
	if evalCalls.Load() != 0 {
		t.Errorf("evaluate ran %d times after pilot failure", evalCalls.Load())
	}
}

func TestRun_FailFastSkipsUnstartedUnits(t *testing.T) {
	var calls atomic.Int32
	measure := contract.StageFunc[contract.MeasureInput, contract.MeasureResult](
		func(ctx context.Context, in contract.MeasureInput) (contract.MeasureResult, error) {
			calls.Add(1)
			return contract.MeasureResult{}, errBoom
		})
	cfg := testConfig(100, scenarioInitiatives()...)
	cfg.MaxWorkers = 1
	o, err := New(measure, mock.Evaluate{}, mock.Allocate{}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := o.Run(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("measure called %d times, want 1", got)
	}
}

func TestRun_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := mockOrchestrator(t, testConfig(100000, scenarioInitiatives()...))
	if _, err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	measure := contract.StageFunc[contract.MeasureInput, contract.MeasureResult](
		func(ctx context.Context, in contract.MeasureInput) (contract.MeasureResult, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return mock.Measure{}.Execute(ctx, in)
		})
	var inits []contract.Initiative
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		inits = append(inits, contract.Initiative{ID: id, CostToScale: 1})
	}
	cfg := testConfig(100, inits...)
	cfg.MaxWorkers = 2
	o, err := New(measure, mock.Evaluate{}, mock.Allocate{}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency %d exceeds max_workers 2", p)
	}
}

func TestRun_ContractViolations(t *testing.T) {
	wrap := func(f func(contract.MeasureResult) contract.MeasureResult) contract.Measure {
		return contract.StageFunc[contract.MeasureInput, contract.MeasureResult](
			func(ctx context.Context, in contract.MeasureInput) (contract.MeasureResult, error) {
				r, err := mock.Measure{}.Execute(ctx, in)
				return f(r), err
			})
	}
	evalWrap := func(f func(contract.EvaluateResult) contract.EvaluateResult) contract.Evaluate {
		return contract.StageFunc[contract.EvaluateInput, contract.EvaluateResult](
			func(ctx context.Context, in contract.EvaluateInput) (contract.EvaluateResult, error) {
				r, err := mock.Evaluate{}.Execute(ctx, in)
				return f(r), err
			})
	}
	allocFixed := func(r contract.AllocateResult) contract.Allocate {
		return contract.StageFunc[contract.AllocateInput, contract.AllocateResult](
			func(context.Context, contract.AllocateInput) (contract.AllocateResult, error) { return r, nil })
	}

	tests := []struct {
		name     string
		measure  contract.Measure
		evaluate contract.Evaluate
		allocate contract.Allocate
		phase    Phase
	}{
		{
			name:    "measure echoes wrong id",
			measure: wrap(func(r contract.MeasureResult) contract.MeasureResult { r.InitiativeID = "someone-else"; return r }),
			phase:   PhasePilot,
		},
		{
			name:    "inverted interval",
			measure: wrap(func(r contract.MeasureResult) contract.MeasureResult { r.CILower, r.CIUpper = r.CIUpper, r.CILower; return r }),
			phase:   PhasePilot,
		},
		{
			name:    "sample below floor",
			measure: wrap(func(r contract.MeasureResult) contract.MeasureResult { r.SampleSize = 10; return r }),
			phase:   PhasePilot,
		},
		{
			name:     "confidence out of range",
			evaluate: evalWrap(func(r contract.EvaluateResult) contract.EvaluateResult { r.Confidence = 1.5; return r }),
			phase:    PhaseEvaluate,
		},
		{
			name:     "evaluate reports its own cost",
			evaluate: evalWrap(func(r contract.EvaluateResult) contract.EvaluateResult { r.Cost = 1; return r }),
			phase:    PhaseEvaluate,
		},
		{
			name:     "evaluate changes model type",
			evaluate: evalWrap(func(r contract.EvaluateResult) contract.EvaluateResult {
				if r.ModelType == contract.ModelExperiment {
					r.ModelType = contract.ModelObservational
				} else {
					r.ModelType = contract.ModelExperiment
				}
				return r
			}),
			phase:    PhaseEvaluate,
		},
		{
			name:     "evaluate changes sample size",
			evaluate: evalWrap(func(r contract.EvaluateResult) contract.EvaluateResult { r.SampleSize++; return r }),
			phase:    PhaseEvaluate,
		},
		{
			name: "scale sample below pilot",
			measure: contract.StageFunc[contract.MeasureInput, contract.MeasureResult](
				func(ctx context.Context, in contract.MeasureInput) (contract.MeasureResult, error) {
					r, err := mock.Measure{}.Execute(ctx, in)
					if in.SampleSize > 0 {
						r.SampleSize = contract.MinSampleSize
					}
					return r, err
				}),
			phase: PhaseScale,
		},
		{
			name: "allocation names unknown initiative",
			allocate: allocFixed(contract.AllocateResult{
				SelectedInitiatives: []string{"init-999"},
				PredictedReturns:    map[string]float64{"init-999": 0.1},
				BudgetAllocated:     map[string]float64{"init-999": 1},
			}),
			phase: PhaseAllocate,
		},
		{
			name: "allocation overspends",
			allocate: allocFixed(contract.AllocateResult{
				SelectedInitiatives: []string{"init-001", "init-002"},
				PredictedReturns:    map[string]float64{"init-001": 0.1, "init-002": 0.1},
				BudgetAllocated:     map[string]float64{"init-001": 10000, "init-002": 15000},
			}),
			phase: PhaseAllocate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, e, a := tt.measure, tt.evaluate, tt.allocate
			if m == nil {
				m = mock.Measure{}
			}
			if e == nil {
				e = mock.Evaluate{}
			}
			if a == nil {
				a = mock.Allocate{}
			}
			o, err := New(m, e, a, testConfig(20000, scenarioInitiatives()...))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = o.Run(context.Background())
			if !errors.Is(err, contract.ErrContractViolation) {
				t.Fatalf("err = %v, want ErrContractViolation", err)
			}
			var se *StageError
			if !errors.As(err, &se) || se.Phase != tt.phase {
				t.Errorf("StageError = %+v, want phase %s", se, tt.phase)
			}
		})
	}
}

func TestRun_ScaleFailureAttributed(t *testing.T) {
	measure := contract.StageFunc[contract.MeasureInput, contract.MeasureResult](
		func(ctx context.Context, in contract.MeasureInput) (contract.MeasureResult, error) {
			if in.SampleSize > 0 && in.InitiativeID == "init-002" {
				return contract.MeasureResult{}, errBoom
			}
			return mock.Measure{}.Execute(ctx, in)
		})
	o, err := New(measure, mock.Evaluate{}, mock.Allocate{}, testConfig(100000, scenarioInitiatives()...))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = o.Run(context.Background())
	var se *StageError
	if !errors.As(err, &se) || se.Phase != PhaseScale || se.InitiativeID != "init-002" {
		t.Errorf("err = %v, want scale-phase StageError for init-002", err)
	}
}

func TestRun_EvaluateCostMustMatchConfig(t *testing.T) {
	cheap := contract.StageFunc[contract.EvaluateInput, contract.EvaluateResult](
		func(ctx context.Context, in contract.EvaluateInput) (contract.EvaluateResult, error) {
			r, err := mock.Evaluate{}.Execute(ctx, in)
			r.Cost = 1
			return r, err
		})
	var allocated atomic.Bool
	alloc := contract.StageFunc[contract.AllocateInput, contract.AllocateResult](
		func(ctx context.Context, in contract.AllocateInput) (contract.AllocateResult, error) {
			allocated.Store(true)
			return mock.Allocate{}.Execute(ctx, in)
		})

	o, err := New(mock.Measure{}, cheap, alloc, testConfig(20000, scenarioInitiatives()...))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = o.Run(context.Background())
	var ve *contract.ViolationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *contract.ViolationError", err)
	}
	if ve.Record != "EvaluateResult" || !strings.Contains(ve.Reason, "cost_to_scale") {
		t.Errorf("violation = %+v", ve)
	}
	if allocated.Load() {
		t.Error("allocate ran on evaluations with invented costs")
	}
}
