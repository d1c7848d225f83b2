// Package components wires the built-in stage implementations into a
// registry.
package components

import (
	"impactloop/internal/components/allocate"
	"impactloop/internal/components/evaluate"
	"impactloop/internal/components/measure"
	"impactloop/internal/components/mock"
	"impactloop/internal/registry"
)

// Default returns a registry holding every built-in component.
func Default() *registry.Registry {
	r := registry.New()
	r.MustRegister(mock.MeasureName, mock.MeasureFactory)
	r.MustRegister(mock.EvaluateName, mock.EvaluateFactory)
	r.MustRegister(mock.AllocateName, mock.AllocateFactory)
	r.MustRegister(measure.Name, measure.Factory)
	r.MustRegister(evaluate.Name, evaluate.Factory)
	r.MustRegister(allocate.Name, allocate.Factory)
	return r
}
