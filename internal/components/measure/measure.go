// Package measure adapts results produced by an external impact-estimation
// engine into MeasureResults. Each initiative's measure_config names the
// result document for its pilot and scale runs; the adapter reads the
// document, extracts the estimate for the estimator family that produced it,
// and records the raw document in the measurement store.
package measure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"impactloop/internal/contract"
	"impactloop/internal/registry"
	"impactloop/internal/store"
)

// Name is the registry name of the adapter.
const Name = "Measure"

// Options are the construction parameters.
type Options struct {
	// StorageURL is the SQLite database that receives raw result documents.
	// Empty keeps them in memory for the life of the component.
	StorageURL string `yaml:"storage_url"`
}

// Sources lists the result documents for one initiative.
type Sources struct {
	Pilot string `yaml:"pilot"`
	Scale string `yaml:"scale"`
}

// LoadSources reads a measure_config document. Relative result paths resolve
// against the document's directory.
func LoadSources(path string) (Sources, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Sources{}, fmt.Errorf("measure config not found: %s", path)
	}
	if err != nil {
		return Sources{}, fmt.Errorf("read measure config: %w", err)
	}
	var src Sources
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&src); err != nil {
		return Sources{}, fmt.Errorf("parse measure config %s: %w", path, err)
	}
	if src.Pilot == "" {
		return Sources{}, fmt.Errorf("measure config %s: pilot result is required", path)
	}
	dir := filepath.Dir(path)
	for _, p := range []*string{&src.Pilot, &src.Scale} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return src, nil
}

// Measurer is safe for concurrent use.
type Measurer struct {
	sources map[string]Sources
	store   store.Store
	owned   bool
}

// New returns a Measurer over the given per-initiative sources, recording
// into st. The caller keeps ownership of st.
func New(st store.Store, sources map[string]Sources) *Measurer {
	return &Measurer{sources: maps.Clone(sources), store: st}
}

// Factory builds a Measurer from registry params. Every initiative must
// declare a measure_config; each is loaded up front, so a missing or broken
// reference fails at build time.
func Factory(p registry.Params) (any, error) {
	var opts Options
	if err := p.Decode(&opts); err != nil {
		return nil, err
	}
	sources := make(map[string]Sources, len(p.Initiatives))
	for _, in := range p.Initiatives {
		if in.MeasureConfig == "" {
			return nil, fmt.Errorf("initiative %q: measure_config is required by the %s stage", in.ID, Name)
		}
		src, err := LoadSources(p.ResolvePath(in.MeasureConfig))
		if err != nil {
			return nil, fmt.Errorf("initiative %q: %w", in.ID, err)
		}
		sources[in.ID] = src
	}

	var st store.Store
	if opts.StorageURL == "" {
		st = store.NewMemStore()
	} else {
		s, err := store.Open(p.ResolvePath(opts.StorageURL))
		if err != nil {
			return nil, err
		}
		st = s
	}
	m := New(st, sources)
	m.owned = true
	return m, nil
}

// Execute reads the pilot result when in.SampleSize is zero and the scale
// result otherwise. The sample size reported is the one the estimator used.
func (m *Measurer) Execute(ctx context.Context, in contract.MeasureInput) (contract.MeasureResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.MeasureResult{}, err
	}
	src, ok := m.sources[in.InitiativeID]
	if !ok {
		return contract.MeasureResult{}, fmt.Errorf("no measure_config for initiative %q", in.InitiativeID)
	}
	phase, path := store.PhasePilot, src.Pilot
	if in.SampleSize > 0 {
		phase, path = store.PhaseScale, src.Scale
	}
	if path == "" {
		return contract.MeasureResult{}, fmt.Errorf("initiative %q has no %s result", in.InitiativeID, phase)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return contract.MeasureResult{}, fmt.Errorf("read %s result for %q: %w", phase, in.InitiativeID, err)
	}
	env, err := ParseEnvelope(data)
	if err != nil {
		return contract.MeasureResult{}, fmt.Errorf("%s: %w", path, err)
	}
	model, err := ModelTypeFor(env.ModelType)
	if err != nil {
		return contract.MeasureResult{}, err
	}
	est, err := extract(env)
	if err != nil {
		return contract.MeasureResult{}, fmt.Errorf("%s: %w", path, err)
	}

	rec := &store.Measurement{
		JobID:        store.JobID(in.InitiativeID, phase),
		InitiativeID: in.InitiativeID,
		Phase:        phase,
		Family:       env.ModelType,
		Payload:      data,
	}
	if err := m.store.SaveMeasurement(rec); err != nil {
		return contract.MeasureResult{}, err
	}

	return contract.MeasureResult{
		InitiativeID:   in.InitiativeID,
		EffectEstimate: est.effect,
		CILower:        est.lower,
		CIUpper:        est.upper,
		PValue:         est.pValue,
		SampleSize:     est.sampleSize,
		ModelType:      model,
		Diagnostics:    maps.Clone(env.Data.ModelSummary),
	}, nil
}

// Close releases the store when the Measurer opened it.
func (m *Measurer) Close() error {
	if m.owned {
		return m.store.Close()
	}
	return nil
}
