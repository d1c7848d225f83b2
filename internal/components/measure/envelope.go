package measure

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"impactloop/internal/contract"
)

// Estimator families as written by the external impact engine.
const (
	FamilyExperiment               = "experiment"
	FamilySyntheticControl         = "synthetic_control"
	FamilyNearestNeighbourMatching = "nearest_neighbour_matching"
	FamilyInterruptedTimeSeries    = "interrupted_time_series"
	FamilySubclassification        = "subclassification"
	FamilyMetricsApproximation     = "metrics_approximation"
)

// familyModel maps each estimator family onto the methodology it represents.
var familyModel = map[string]contract.ModelType{
	FamilyExperiment:               contract.ModelExperiment,
	FamilySyntheticControl:         contract.ModelQuasiExperiment,
	FamilyNearestNeighbourMatching: contract.ModelQuasiExperiment,
	FamilySubclassification:        contract.ModelQuasiExperiment,
	FamilyInterruptedTimeSeries:    contract.ModelTimeSeries,
	FamilyMetricsApproximation:     contract.ModelObservational,
}

// ModelTypeFor returns the model type for an estimator family.
func ModelTypeFor(family string) (contract.ModelType, error) {
	m, ok := familyModel[family]
	if !ok {
		return "", fmt.Errorf("unknown estimator family %q", family)
	}
	return m, nil
}

// Envelope is the result document an estimator run leaves behind.
type Envelope struct {
	ModelType string `json:"model_type"`
	Data      struct {
		ImpactEstimates json.RawMessage `json:"impact_estimates"`
		ModelSummary    map[string]any  `json:"model_summary"`
		ModelParams     map[string]any  `json:"model_params"`
	} `json:"data"`
}

// ParseEnvelope decodes a raw result document.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode result envelope: %w", err)
	}
	if env.ModelType == "" {
		return nil, fmt.Errorf("result envelope has no model_type")
	}
	if len(env.Data.ImpactEstimates) == 0 {
		return nil, fmt.Errorf("result envelope has no impact_estimates")
	}
	return &env, nil
}

// estimate is the family-independent view of an envelope.
type estimate struct {
	effect, lower, upper float64
	pValue               float64
	sampleSize           int
}

// extract reads effect, interval, p-value and sample size according to the
// envelope's family. Families that report no p-value yield 0.
func extract(env *Envelope) (estimate, error) {
	raw := env.Data.ImpactEstimates
	summary := env.Data.ModelSummary

	switch env.ModelType {
	case FamilyExperiment:
		var est struct {
			Params  map[string]float64    `json:"params"`
			ConfInt map[string][2]float64 `json:"conf_int"`
			PValues map[string]float64    `json:"pvalues"`
		}
		if err := json.Unmarshal(raw, &est); err != nil {
			return estimate{}, fmt.Errorf("decode experiment estimates: %w", err)
		}
		formula, _ := env.Data.ModelParams["formula"].(string)
		treatment, err := treatmentVariable(formula)
		if err != nil {
			return estimate{}, err
		}
		effect, ok := est.Params[treatment]
		if !ok {
			return estimate{}, fmt.Errorf("no coefficient for treatment variable %q", treatment)
		}
		ci, ok := est.ConfInt[treatment]
		if !ok {
			return estimate{}, fmt.Errorf("no confidence interval for treatment variable %q", treatment)
		}
		n, err := summaryInt(summary, "nobs")
		if err != nil {
			return estimate{}, err
		}
		return estimate{effect: effect, lower: ci[0], upper: ci[1], pValue: est.PValues[treatment], sampleSize: n}, nil

	case FamilySyntheticControl:
		var est struct {
			ATT     *float64 `json:"att"`
			CILower *float64 `json:"ci_lower"`
			CIUpper *float64 `json:"ci_upper"`
		}
		if err := json.Unmarshal(raw, &est); err != nil {
			return estimate{}, fmt.Errorf("decode synthetic control estimates: %w", err)
		}
		if est.ATT == nil || est.CILower == nil || est.CIUpper == nil {
			return estimate{}, fmt.Errorf("synthetic control estimates need att, ci_lower and ci_upper")
		}
		n, err := summaryInt(summary, "n_post_periods")
		if err != nil {
			return estimate{}, err
		}
		return estimate{effect: *est.ATT, lower: *est.CILower, upper: *est.CIUpper, sampleSize: n}, nil

	case FamilyNearestNeighbourMatching:
		var est struct {
			ATT   *float64 `json:"att"`
			ATTSE *float64 `json:"att_se"`
		}
		if err := json.Unmarshal(raw, &est); err != nil {
			return estimate{}, fmt.Errorf("decode matching estimates: %w", err)
		}
		if est.ATT == nil || est.ATTSE == nil {
			return estimate{}, fmt.Errorf("matching estimates need att and att_se")
		}
		n, err := summaryInt(summary, "n_observations")
		if err != nil {
			return estimate{}, err
		}
		half := 1.96 * *est.ATTSE
		return estimate{effect: *est.ATT, lower: *est.ATT - half, upper: *est.ATT + half, sampleSize: n}, nil

	case FamilyInterruptedTimeSeries:
		return pointEstimate(raw, "intervention_effect", summary, "n_observations")
	case FamilySubclassification:
		return pointEstimate(raw, "treatment_effect", summary, "n_observations")
	case FamilyMetricsApproximation:
		return pointEstimate(raw, "impact", summary, "n_products")
	}
	return estimate{}, fmt.Errorf("unknown estimator family %q", env.ModelType)
}

// pointEstimate handles families that report a single number; the interval
// collapses onto it.
func pointEstimate(raw json.RawMessage, key string, summary map[string]any, sampleKey string) (estimate, error) {
	var est map[string]any
	if err := json.Unmarshal(raw, &est); err != nil {
		return estimate{}, fmt.Errorf("decode estimates: %w", err)
	}
	effect, ok := est[key].(float64)
	if !ok {
		return estimate{}, fmt.Errorf("estimates have no numeric %q", key)
	}
	n, err := summaryInt(summary, sampleKey)
	if err != nil {
		return estimate{}, err
	}
	return estimate{effect: effect, lower: effect, upper: effect, sampleSize: n}, nil
}

// treatmentVariable returns the first predictor of an "y ~ x + ..." formula.
func treatmentVariable(formula string) (string, error) {
	_, rhs, ok := strings.Cut(formula, "~")
	if !ok {
		return "", fmt.Errorf("formula %q has no '~'", formula)
	}
	first, _, _ := strings.Cut(rhs, "+")
	v := strings.TrimSpace(first)
	if v == "" {
		return "", fmt.Errorf("formula %q has no predictor", formula)
	}
	return v, nil
}

func summaryInt(summary map[string]any, key string) (int, error) {
	v, ok := summary[key].(float64)
	if !ok {
		return 0, fmt.Errorf("model_summary has no numeric %q", key)
	}
	if v != math.Trunc(v) || v < 0 {
		return 0, fmt.Errorf("model_summary %q = %g is not a count", key, v)
	}
	return int(v), nil
}
