package mock

import (
	"context"

	"impactloop/internal/components/evaluate"
	"impactloop/internal/contract"
	"impactloop/internal/registry"
)

// Evaluate scores confidence uniformly inside the model type's band.
type Evaluate struct{}

// EvaluateFactory builds an Evaluate. It takes no parameters.
func EvaluateFactory(p registry.Params) (any, error) {
	if err := p.Decode(&struct{}{}); err != nil {
		return nil, err
	}
	return Evaluate{}, nil
}

func (Evaluate) Execute(ctx context.Context, in contract.EvaluateInput) (contract.EvaluateResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.EvaluateResult{}, err
	}
	band, err := evaluate.BandFor(in.ModelType)
	if err != nil {
		return contract.EvaluateResult{}, err
	}
	rng := newRand(stableSeed(in.InitiativeID))
	return contract.EvaluateResult{
		InitiativeID: in.InitiativeID,
		Confidence:   uniform(rng, band.Low, band.High),
		Cost:         in.CostToScale,
		ReturnBest:   in.CIUpper,
		ReturnMedian: in.EffectEstimate,
		ReturnWorst:  in.CILower,
		ModelType:    in.ModelType,
		SampleSize:   in.SampleSize,
	}, nil
}
