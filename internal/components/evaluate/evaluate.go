// Package evaluate implements the rule-based Evaluate stage: a confidence
// score derived from the measurement's methodology, significance and sample
// size, plus best/median/worst return scenarios taken from the interval.
package evaluate

import (
	"context"
	"math"

	"impactloop/internal/contract"
	"impactloop/internal/registry"
)

// Name is the registry name of the rule-based evaluator.
const Name = "Evaluate"

// Options tune where inside its band a measurement lands.
type Options struct {
	// PValueCeiling is the p-value at which the significance score reaches
	// zero. Non-positive p-values are treated as unreported.
	PValueCeiling float64 `yaml:"p_value_ceiling"`

	// FullConfidenceSample is the sample size at which the sample score
	// saturates. The score grows with log(n) from contract.MinSampleSize.
	FullConfidenceSample int `yaml:"full_confidence_sample"`
}

// DefaultOptions are used for any option left at zero.
var DefaultOptions = Options{PValueCeiling: 0.1, FullConfidenceSample: 10000}

// Evaluator is safe for concurrent use.
type Evaluator struct {
	opts Options
}

// New returns an Evaluator, filling zero options from DefaultOptions.
func New(opts Options) *Evaluator {
	if opts.PValueCeiling <= 0 {
		opts.PValueCeiling = DefaultOptions.PValueCeiling
	}
	if opts.FullConfidenceSample <= contract.MinSampleSize {
		opts.FullConfidenceSample = DefaultOptions.FullConfidenceSample
	}
	return &Evaluator{opts: opts}
}

// Factory builds an Evaluator from registry params.
func Factory(p registry.Params) (any, error) {
	var opts Options
	if err := p.Decode(&opts); err != nil {
		return nil, err
	}
	return New(opts), nil
}

// Execute scores one pilot measurement.
func (e *Evaluator) Execute(ctx context.Context, in contract.EvaluateInput) (contract.EvaluateResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.EvaluateResult{}, err
	}
	band, err := BandFor(in.ModelType)
	if err != nil {
		return contract.EvaluateResult{}, err
	}
	return contract.EvaluateResult{
		InitiativeID: in.InitiativeID,
		Confidence:   band.At(e.position(in.PValue, in.SampleSize)),
		Cost:         in.CostToScale,
		ReturnBest:   in.CIUpper,
		ReturnMedian: in.EffectEstimate,
		ReturnWorst:  in.CILower,
		ModelType:    in.ModelType,
		SampleSize:   in.SampleSize,
	}, nil
}

// position averages a significance score and a sample-size score.
func (e *Evaluator) position(p float64, n int) float64 {
	sig := 0.5
	if p > 0 {
		sig = clamp01(1 - p/e.opts.PValueCeiling)
	}
	size := 0.0
	if n > contract.MinSampleSize {
		size = clamp01(math.Log(float64(n)/contract.MinSampleSize) /
			math.Log(float64(e.opts.FullConfidenceSample)/contract.MinSampleSize))
	}
	return (sig + size) / 2
}
