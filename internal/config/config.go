// Package config resolves the pipeline configuration file into a validated
// PipelineConfig. Loading fails fast: a missing file, a missing stage
// document or a broken invariant is reported before any stage runs.
package config

import (
	"errors"
	"fmt"

	"impactloop/internal/contract"
)

var (
	// ErrConfigNotFound is returned when the pipeline file does not exist.
	ErrConfigNotFound = errors.New("config: pipeline config file not found")

	// ErrStageConfigNotFound is returned when a referenced stage document
	// does not exist.
	ErrStageConfigNotFound = errors.New("config: stage config file not found")

	// ErrInvalidConfig is wrapped by every ValidationError.
	ErrInvalidConfig = errors.New("config: invalid")
)

// DefaultMaxWorkers is used when max_workers is omitted.
const DefaultMaxWorkers = 4

// Default components for stages the configuration leaves out.
const (
	DefaultMeasureComponent  = "MockMeasure"
	DefaultEvaluateComponent = "MockEvaluate"
	DefaultAllocateComponent = "MockAllocate"
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StageConfig selects the component for one stage.
type StageConfig struct {
	Component string
	Params    map[string]any

	// BaseDir is the directory of the document that declared the stage;
	// relative paths in Params resolve against it.
	BaseDir string

	// Source is the stage document path, or empty for an inline section.
	Source string
}

// PipelineConfig holds the run-level parameters. It is read-only once loaded.
type PipelineConfig struct {
	Budget          float64
	ScaleSampleSize int
	MaxWorkers      int
	Initiatives     []contract.Initiative

	Measure  StageConfig
	Evaluate StageConfig
	Allocate StageConfig

	// Path is the absolute path of the pipeline file, empty when the config
	// was built in code.
	Path string
}

// Validate checks the run invariants. Stage selection is not checked: a
// config built in code may be paired with stages constructed directly.
func (c *PipelineConfig) Validate() error {
	if !(c.Budget > 0) {
		return invalid("budget", "must be positive, got %g", c.Budget)
	}
	if c.ScaleSampleSize <= 0 {
		return invalid("scale_sample_size", "must be positive, got %d", c.ScaleSampleSize)
	}
	if c.MaxWorkers <= 0 {
		return invalid("max_workers", "must be positive, got %d", c.MaxWorkers)
	}
	if len(c.Initiatives) == 0 {
		return invalid("initiatives", "at least one initiative is required")
	}
	seen := make(map[string]bool, len(c.Initiatives))
	for i, in := range c.Initiatives {
		field := fmt.Sprintf("initiatives[%d]", i)
		if in.ID == "" {
			return invalid(field+".initiative_id", "is required")
		}
		if seen[in.ID] {
			return invalid(field+".initiative_id", "duplicate id %q", in.ID)
		}
		seen[in.ID] = true
		if !(in.CostToScale > 0) {
			return invalid(field+".cost_to_scale", "must be positive for %q, got %g", in.ID, in.CostToScale)
		}
	}
	return nil
}

// CostByID indexes initiative costs by id.
func (c *PipelineConfig) CostByID() map[string]float64 {
	m := make(map[string]float64, len(c.Initiatives))
	for _, in := range c.Initiatives {
		m[in.ID] = in.CostToScale
	}
	return m
}
