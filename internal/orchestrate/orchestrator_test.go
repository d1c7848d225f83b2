package orchestrate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"impactloop/internal/components"
	"impactloop/internal/components/mock"
	"impactloop/internal/config"
	"impactloop/internal/contract"
	"impactloop/internal/registry"
)

func testConfig(budget float64, initiatives ...contract.Initiative) *config.PipelineConfig {
	return &config.PipelineConfig{
		Budget:          budget,
		ScaleSampleSize: 5000,
		MaxWorkers:      4,
		Initiatives:     initiatives,
	}
}

func scenarioInitiatives() []contract.Initiative {
	return []contract.Initiative{
		{ID: "init-001", CostToScale: 10000},
		{ID: "init-002", CostToScale: 15000},
		{ID: "init-003", CostToScale: 8000},
	}
}

func mockOrchestrator(t *testing.T, cfg *config.PipelineConfig, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(mock.Measure{}, mock.Evaluate{}, mock.Allocate{}, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func mustRun(t *testing.T, o *Orchestrator) *RunResult {
	t.Helper()
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestRun_Scenario(t *testing.T) {
	res := mustRun(t, mockOrchestrator(t, testConfig(100000, scenarioInitiatives()...)))

	if len(res.PilotResults) != 3 || len(res.EvaluateResults) != 3 {
		t.Fatalf("pilot=%d evaluate=%d, want 3 each", len(res.PilotResults), len(res.EvaluateResults))
	}
	if len(res.OutcomeReports) != 3 {
		t.Fatalf("reports = %d, want 3", len(res.OutcomeReports))
	}
	for _, r := range res.OutcomeReports {
		if r.SampleSizeScale != 5000 {
			t.Errorf("%s: sample_size_scale = %d, want 5000", r.InitiativeID, r.SampleSizeScale)
		}
		if r.SampleSizeScale < r.SampleSizePilot {
			t.Errorf("%s: scale sample %d below pilot %d", r.InitiativeID, r.SampleSizeScale, r.SampleSizePilot)
		}
	}
	if res.RunID == "" {
		t.Error("RunID not set")
	}

	s := res.Summary()
	if s.Evaluated != 3 || s.Selected != 3 || s.BudgetUsed != 33000 {
		t.Errorf("Summary = %+v", s)
	}
}

func TestRun_PilotOrderFollowsConfig(t *testing.T) {
	res := mustRun(t, mockOrchestrator(t, testConfig(100000, scenarioInitiatives()...)))
	var ids []string
	for _, p := range res.PilotResults {
		ids = append(ids, p.InitiativeID)
	}
	if diff := cmp.Diff([]string{"init-001", "init-002", "init-003"}, ids); diff != "" {
		t.Errorf("pilot order:\n%s", diff)
	}
}

func TestRun_Deterministic(t *testing.T) {
	o := mockOrchestrator(t, testConfig(20000, scenarioInitiatives()...))
	first := mustRun(t, o)
	second := mustRun(t, o)
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(RunResult{}, "RunID")); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
	if first.RunID == second.RunID {
		t.Error("run ids repeat")
	}
}

func TestRun_ContractInvariants(t *testing.T) {
	var inits []contract.Initiative
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		inits = append(inits, contract.Initiative{ID: id, CostToScale: 7000})
	}
	cfg := testConfig(30000, inits...)
	res := mustRun(t, mockOrchestrator(t, cfg))

	for _, p := range append(res.PilotResults, res.ScaleResults...) {
		if err := p.Validate(); err != nil {
			t.Error(err)
		}
	}
	for _, e := range res.EvaluateResults {
		if err := e.Validate(); err != nil {
			t.Error(err)
		}
	}
	if err := res.AllocateResult.Validate(contract.AllocateInput{Initiatives: res.EvaluateResults, Budget: cfg.Budget}); err != nil {
		t.Error(err)
	}
	if got := res.AllocateResult.TotalAllocated(); got > cfg.Budget {
		t.Errorf("allocated %g over budget %g", got, cfg.Budget)
	}
	for _, id := range res.AllocateResult.SelectedInitiatives {
		if _, ok := res.AllocateResult.PredictedReturns[id]; !ok {
			t.Errorf("%s: no predicted return", id)
		}
		if _, ok := res.AllocateResult.BudgetAllocated[id]; !ok {
			t.Errorf("%s: no budget allocation", id)
		}
	}
}

func TestRun_ReportArithmetic(t *testing.T) {
	res := mustRun(t, mockOrchestrator(t, testConfig(100000, scenarioInitiatives()...)))
	evalByID := indexBy(res.EvaluateResults, func(e contract.EvaluateResult) string { return e.InitiativeID })
	for _, r := range res.OutcomeReports {
		if math.Abs(r.PredictionError-(r.ActualReturn-r.PredictedReturn)) > 1e-12 {
			t.Errorf("%s: error %g != actual %g - predicted %g", r.InitiativeID, r.PredictionError, r.ActualReturn, r.PredictedReturn)
		}
		e := evalByID[r.InitiativeID]
		if r.ConfidenceScore != e.Confidence || r.ModelType != e.ModelType {
			t.Errorf("%s: report does not carry evaluate fields", r.InitiativeID)
		}
		if r.BudgetAllocated != res.AllocateResult.BudgetAllocated[r.InitiativeID] {
			t.Errorf("%s: budget %g mismatch", r.InitiativeID, r.BudgetAllocated)
		}
	}
}

func TestRun_EmptyBudget(t *testing.T) {
	res := mustRun(t, mockOrchestrator(t, testConfig(1, scenarioInitiatives()...)))
	if len(res.AllocateResult.SelectedInitiatives) != 0 {
		t.Errorf("selected %v with budget 1", res.AllocateResult.SelectedInitiatives)
	}
	if len(res.ScaleResults) != 0 || len(res.OutcomeReports) != 0 {
		t.Errorf("scale=%d reports=%d, want 0", len(res.ScaleResults), len(res.OutcomeReports))
	}
	if s := res.Summary(); s.Selected != 0 || s.MeanAbsError != 0 || s.Evaluated != 3 {
		t.Errorf("Summary = %+v", s)
	}
}

func TestRun_SingleInitiative(t *testing.T) {
	res := mustRun(t, mockOrchestrator(t, testConfig(10000, contract.Initiative{ID: "solo", CostToScale: 10000})))
	if len(res.OutcomeReports) != 1 || res.OutcomeReports[0].InitiativeID != "solo" {
		t.Fatalf("reports = %+v", res.OutcomeReports)
	}
	if res.OutcomeReports[0].BudgetAllocated != 10000 {
		t.Errorf("budget = %g", res.OutcomeReports[0].BudgetAllocated)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, mock.Evaluate{}, mock.Allocate{}, testConfig(1, scenarioInitiatives()...)); err == nil {
		t.Error("expected error for nil measure stage")
	}
	if _, err := New(mock.Measure{}, mock.Evaluate{}, mock.Allocate{}, testConfig(0, scenarioInitiatives()...)); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("zero budget: err = %v, want ErrInvalidConfig", err)
	}
	if _, err := New(mock.Measure{}, mock.Evaluate{}, mock.Allocate{}, nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
budget: 30000
scale_sample_size: 5000
max_workers: 2
evaluate:
  component: Evaluate
allocate:
  component: MinimaxRegretAllocate
  max_candidates: 8
initiatives:
  - {initiative_id: init-001, cost_to_scale: 10000}
  - {initiative_id: init-002, cost_to_scale: 15000}
  - {initiative_id: init-003, cost_to_scale: 8000}
`), t.TempDir())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	o, err := FromConfig(cfg, components.Default())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	defer o.Close()

	res := mustRun(t, o)
	if got := res.AllocateResult.TotalAllocated(); got > 30000 {
		t.Errorf("allocated %g over budget", got)
	}
	if len(res.OutcomeReports) != len(res.AllocateResult.SelectedInitiatives) {
		t.Errorf("reports %d != selected %d", len(res.OutcomeReports), len(res.AllocateResult.SelectedInitiatives))
	}
}

func TestFromConfig_UnknownComponent(t *testing.T) {
	cfg := testConfig(1, scenarioInitiatives()...)
	cfg.Measure = config.StageConfig{Component: "NonExistent"}
	_, err := FromConfig(cfg, components.Default())

	var uce *registry.UnknownComponentError
	if !errors.As(err, &uce) {
		t.Fatalf("err = %v, want *UnknownComponentError", err)
	}
	if uce.Name != "NonExistent" || len(uce.Available) == 0 {
		t.Errorf("UnknownComponentError = %+v", uce)
	}
}

type closingMeasure struct {
	mock.Measure
	closed *int
}

func (c closingMeasure) Close() error {
	*c.closed++
	return nil
}

func TestFromConfig_ClosesBuiltStagesOnFailure(t *testing.T) {
	closed := 0
	reg := registry.New()
	reg.MustRegister("ClosingMeasure", func(registry.Params) (any, error) { return closingMeasure{closed: &closed}, nil })
	reg.MustRegister("BrokenEvaluate", func(registry.Params) (any, error) { return nil, errors.New("boom") })

	cfg := testConfig(1, scenarioInitiatives()...)
	cfg.Measure = config.StageConfig{Component: "ClosingMeasure"}
	cfg.Evaluate = config.StageConfig{Component: "BrokenEvaluate"}
	_, err := FromConfig(cfg, reg)
	if err == nil {
		t.Fatal("expected build error")
	}
	if closed != 1 {
		t.Errorf("closed %d stages, want 1", closed)
	}

	o, err := New(closingMeasure{closed: &closed}, mock.Evaluate{}, mock.Allocate{}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Close(); err != nil || closed != 2 {
		t.Errorf("Close: err=%v closed=%d", err, closed)
	}
}
