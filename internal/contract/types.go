package contract

import (
	"fmt"
	"math"
	"strings"
)

// ModelType tags the causal-inference methodology behind a measurement.
type ModelType string

const (
	ModelExperiment      ModelType = "experiment"
	ModelQuasiExperiment ModelType = "quasi-experiment"
	ModelTimeSeries      ModelType = "time-series"
	ModelObservational   ModelType = "observational"
)

// ModelTypes lists every valid model type in ascending evidence strength.
var ModelTypes = []ModelType{ModelObservational, ModelTimeSeries, ModelQuasiExperiment, ModelExperiment}

// Valid reports whether m is one of the known model types.
func (m ModelType) Valid() bool {
	switch m {
	case ModelExperiment, ModelQuasiExperiment, ModelTimeSeries, ModelObservational:
		return true
	}
	return false
}

// ParseModelType accepts the canonical value case-insensitively.
func ParseModelType(s string) (ModelType, error) {
	m := ModelType(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown model type %q", s)
	}
	return m, nil
}

// Initiative is one independently fundable unit of work. It is loaded once
// per run and never modified.
type Initiative struct {
	ID            string  `json:"initiative_id" yaml:"initiative_id"`
	CostToScale   float64 `json:"cost_to_scale" yaml:"cost_to_scale"`
	MeasureConfig string  `json:"measure_config,omitempty" yaml:"measure_config,omitempty"`
}

// MinSampleSize is the statistical validity floor for any measurement.
const MinSampleSize = 30

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
