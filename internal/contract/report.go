package contract

// OutcomeReport compares the pilot prediction with the scale measurement for
// one funded initiative.
type OutcomeReport struct {
	InitiativeID    string    `json:"initiative_id"`
	PredictedReturn float64   `json:"predicted_return"`
	ActualReturn    float64   `json:"actual_return"`
	PredictionError float64   `json:"prediction_error"`
	SampleSizePilot int       `json:"sample_size_pilot"`
	SampleSizeScale int       `json:"sample_size_scale"`
	BudgetAllocated float64   `json:"budget_allocated"`
	ConfidenceScore float64   `json:"confidence_score"`
	ModelType       ModelType `json:"model_type"`
}
