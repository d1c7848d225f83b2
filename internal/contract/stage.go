package contract

import "context"

// Stage processes a single unit of work. Implementations must be safe to
// call concurrently on different inputs.
type Stage[In, Out any] interface {
	Execute(ctx context.Context, in In) (Out, error)
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

func (f StageFunc[In, Out]) Execute(ctx context.Context, in In) (Out, error) { return f(ctx, in) }

// Measure estimates the causal effect of one initiative.
type Measure = Stage[MeasureInput, MeasureResult]

// Evaluate scores one pilot measurement.
type Evaluate = Stage[EvaluateInput, EvaluateResult]

// Allocate makes the portfolio decision over every candidate at once.
type Allocate = Stage[AllocateInput, AllocateResult]

// MeasureInput requests a measurement. A zero SampleSize leaves the sample
// to the stage (pilot phase); the scale phase sets it to the configured target.
type MeasureInput struct {
	InitiativeID string `json:"initiative_id"`
	SampleSize   int    `json:"sample_size,omitempty"`
}

// EvaluateInput is a pilot measurement enriched with the initiative's cost.
type EvaluateInput struct {
	MeasureResult
	CostToScale float64 `json:"cost_to_scale"`
}

// AllocateInput carries the full candidate set and the run budget.
type AllocateInput struct {
	Initiatives []EvaluateResult `json:"initiatives"`
	Budget      float64          `json:"budget"`
}
