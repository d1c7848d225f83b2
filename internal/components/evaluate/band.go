package evaluate

import (
	"fmt"

	"impactloop/internal/contract"
)

// Band is the confidence range assigned to a methodology. Stronger causal
// designs earn higher confidence.
type Band struct {
	Low, High float64
}

var bands = map[contract.ModelType]Band{
	contract.ModelExperiment:      {0.85, 1.00},
	contract.ModelQuasiExperiment: {0.60, 0.84},
	contract.ModelTimeSeries:      {0.40, 0.59},
	contract.ModelObservational:   {0.20, 0.39},
}

// BandFor returns the confidence band for m.
func BandFor(m contract.ModelType) (Band, error) {
	b, ok := bands[m]
	if !ok {
		return Band{}, fmt.Errorf("no confidence band for model type %q", m)
	}
	return b, nil
}

// At maps a position in [0,1] onto the band.
func (b Band) At(pos float64) float64 {
	return b.Low + clamp01(pos)*(b.High-b.Low)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
