// Package mock provides deterministic stand-ins for the three pipeline
// stages. Every value is derived from the initiative id, so repeated runs
// over the same configuration produce identical results.
package mock

import (
	"context"

	"impactloop/internal/contract"
	"impactloop/internal/registry"
)

// Registry names.
const (
	MeasureName  = "MockMeasure"
	EvaluateName = "MockEvaluate"
	AllocateName = "MockAllocate"
)

// Measure fakes a causal effect estimator.
type Measure struct{}

// MeasureFactory builds a Measure. It takes no parameters.
func MeasureFactory(p registry.Params) (any, error) {
	if err := p.Decode(&struct{}{}); err != nil {
		return nil, err
	}
	return Measure{}, nil
}

// Execute draws the estimate from a generator seeded by the initiative id.
// The draw order is fixed, so pilot and scale calls agree on everything but
// the sample size and a small sample-dependent noise term.
func (Measure) Execute(ctx context.Context, in contract.MeasureInput) (contract.MeasureResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.MeasureResult{}, err
	}
	seed := stableSeed(in.InitiativeID)
	rng := newRand(seed)

	effect := uniform(rng, 0.05, 0.25)
	width := effect * uniform(rng, 0.3, 0.6)
	pilotSample := 50 + rng.IntN(451)
	pValue := uniform(rng, 0.001, 0.05)
	model := contract.ModelTypes[rng.IntN(len(contract.ModelTypes))]
	rSquared := uniform(rng, 0.6, 0.95)

	sample := in.SampleSize
	if sample == 0 {
		sample = pilotSample
	}
	effect += newRand(seed+uint64(sample)).NormFloat64() * 0.01

	return contract.MeasureResult{
		InitiativeID:   in.InitiativeID,
		EffectEstimate: effect,
		CILower:        effect - width/2,
		CIUpper:        effect + width/2,
		PValue:         pValue,
		SampleSize:     sample,
		ModelType:      model,
		Diagnostics:    map[string]any{"r_squared": rSquared},
	}, nil
}
