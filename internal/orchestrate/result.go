package orchestrate

import (
	"math"

	"impactloop/internal/contract"
)

// RunResult is the full record of one run.
type RunResult struct {
	RunID           string                    `json:"run_id"`
	PilotResults    []contract.MeasureResult  `json:"pilot_results"`
	EvaluateResults []contract.EvaluateResult `json:"evaluate_results"`
	AllocateResult  contract.AllocateResult   `json:"allocate_result"`
	ScaleResults    []contract.MeasureResult  `json:"scale_results"`
	OutcomeReports  []contract.OutcomeReport  `json:"outcome_reports"`
}

// Summary aggregates a run for display and history.
type Summary struct {
	Evaluated    int     `json:"evaluated"`
	Selected     int     `json:"selected"`
	BudgetUsed   float64 `json:"budget_used"`
	MeanAbsError float64 `json:"mean_abs_error"`
}

// Summary computes the run totals from the outcome reports. MeanAbsError is
// zero when nothing was selected.
func (r *RunResult) Summary() Summary {
	s := Summary{Evaluated: len(r.PilotResults), Selected: len(r.OutcomeReports)}
	if s.Selected == 0 {
		return s
	}
	var errSum float64
	for _, rep := range r.OutcomeReports {
		s.BudgetUsed += rep.BudgetAllocated
		errSum += math.Abs(rep.PredictionError)
	}
	s.MeanAbsError = errSum / float64(s.Selected)
	return s
}
