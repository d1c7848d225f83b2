package contract

// MeasureResult is a causal effect estimate with its confidence interval.
type MeasureResult struct {
	InitiativeID   string         `json:"initiative_id"`
	EffectEstimate float64        `json:"effect_estimate"`
	CILower        float64        `json:"ci_lower"`
	CIUpper        float64        `json:"ci_upper"`
	PValue         float64        `json:"p_value"`
	SampleSize     int            `json:"sample_size"`
	ModelType      ModelType      `json:"model_type"`
	Diagnostics    map[string]any `json:"diagnostics,omitempty"`
}

// Validate checks the interval ordering, the sample-size floor, the p-value
// range and the model type.
func (r MeasureResult) Validate() error {
	const rec = "MeasureResult"
	if r.InitiativeID == "" {
		return violation(rec, "", "initiative_id is empty")
	}
	if !finite(r.EffectEstimate, r.CILower, r.CIUpper, r.PValue) {
		return violation(rec, r.InitiativeID, "non-finite estimate")
	}
	if r.CILower > r.EffectEstimate || r.EffectEstimate > r.CIUpper {
		return violation(rec, r.InitiativeID, "ci_lower %g <= effect_estimate %g <= ci_upper %g does not hold",
			r.CILower, r.EffectEstimate, r.CIUpper)
	}
	if r.SampleSize < MinSampleSize {
		return violation(rec, r.InitiativeID, "sample_size %d below floor %d", r.SampleSize, MinSampleSize)
	}
	if r.PValue < 0 || r.PValue > 1 {
		return violation(rec, r.InitiativeID, "p_value %g outside [0,1]", r.PValue)
	}
	if !r.ModelType.Valid() {
		return violation(rec, r.InitiativeID, "unknown model_type %q", r.ModelType)
	}
	return nil
}
