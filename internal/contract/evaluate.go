package contract

// EvaluateResult is a confidence-scored candidate with scenario returns.
type EvaluateResult struct {
	InitiativeID string    `json:"initiative_id"`
	Confidence   float64   `json:"confidence"`
	Cost         float64   `json:"cost"`
	ReturnBest   float64   `json:"return_best"`
	ReturnMedian float64   `json:"return_median"`
	ReturnWorst  float64   `json:"return_worst"`
	ModelType    ModelType `json:"model_type"`
	SampleSize   int       `json:"sample_size"`
}

// Validate checks scenario ordering, the confidence range and cost.
func (r EvaluateResult) Validate() error {
	const rec = "EvaluateResult"
	if r.InitiativeID == "" {
		return violation(rec, "", "initiative_id is empty")
	}
	if !finite(r.Confidence, r.Cost, r.ReturnBest, r.ReturnMedian, r.ReturnWorst) {
		return violation(rec, r.InitiativeID, "non-finite value")
	}
	if r.ReturnWorst > r.ReturnMedian || r.ReturnMedian > r.ReturnBest {
		return violation(rec, r.InitiativeID, "return_worst %g <= return_median %g <= return_best %g does not hold",
			r.ReturnWorst, r.ReturnMedian, r.ReturnBest)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return violation(rec, r.InitiativeID, "confidence %g outside [0,1]", r.Confidence)
	}
	if r.Cost <= 0 {
		return violation(rec, r.InitiativeID, "cost %g must be positive", r.Cost)
	}
	if !r.ModelType.Valid() {
		return violation(rec, r.InitiativeID, "unknown model_type %q", r.ModelType)
	}
	return nil
}
