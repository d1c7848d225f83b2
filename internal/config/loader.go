package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"impactloop/internal/contract"
)

// fileConfig mirrors the pipeline YAML document.
type fileConfig struct {
	Budget          *float64              `yaml:"budget"`
	ScaleSampleSize *int                  `yaml:"scale_sample_size"`
	MaxWorkers      *int                  `yaml:"max_workers"`
	Initiatives     []contract.Initiative `yaml:"initiatives"`
	Measure         map[string]any        `yaml:"measure"`
	Evaluate        map[string]any        `yaml:"evaluate"`
	Allocate        map[string]any        `yaml:"allocate"`
}

// Load reads the pipeline file at path and resolves every relative path in
// it against the file's directory.
func Load(path string) (*PipelineConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, abs)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	cfg.Path = abs
	return cfg, nil
}

// Parse decodes a pipeline document. baseDir anchors relative paths.
func Parse(data []byte, baseDir string) (*PipelineConfig, error) {
	var raw fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		// Unknown or mistyped keys.
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(te.Errors, "; "))
		}
		return nil, fmt.Errorf("parse pipeline yaml: %w", err)
	}
	if raw.Budget == nil {
		return nil, invalid("budget", "is required")
	}
	if raw.ScaleSampleSize == nil {
		return nil, invalid("scale_sample_size", "is required")
	}

	cfg := &PipelineConfig{
		Budget:          *raw.Budget,
		ScaleSampleSize: *raw.ScaleSampleSize,
		MaxWorkers:      DefaultMaxWorkers,
	}
	if raw.MaxWorkers != nil {
		cfg.MaxWorkers = *raw.MaxWorkers
	}

	cfg.Initiatives = make([]contract.Initiative, len(raw.Initiatives))
	for i, in := range raw.Initiatives {
		in.MeasureConfig = resolve(baseDir, in.MeasureConfig)
		cfg.Initiatives[i] = in
	}

	var err error
	if cfg.Measure, err = stageFromSection("measure", raw.Measure, baseDir, DefaultMeasureComponent); err != nil {
		return nil, err
	}
	if cfg.Evaluate, err = stageFromSection("evaluate", raw.Evaluate, baseDir, DefaultEvaluateComponent); err != nil {
		return nil, err
	}
	if cfg.Allocate, err = stageFromSection("allocate", raw.Allocate, baseDir, DefaultAllocateComponent); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stageFromSection handles the three shapes a stage section can take:
// absent (use the default component), a {config: file} reference, or an
// inline {component: name, ...params} mapping.
func stageFromSection(name string, section map[string]any, baseDir, fallback string) (StageConfig, error) {
	if len(section) == 0 {
		return StageConfig{Component: fallback, BaseDir: baseDir}, nil
	}
	if ref, ok := section["config"]; ok {
		if len(section) > 1 {
			return StageConfig{}, invalid(name, "a config reference cannot be combined with inline keys")
		}
		p, ok := ref.(string)
		if !ok || p == "" {
			return StageConfig{}, invalid(name+".config", "must be a file path")
		}
		sc, err := LoadStage(resolve(baseDir, p))
		if err != nil {
			return StageConfig{}, fmt.Errorf("%s stage: %w", name, err)
		}
		return sc, nil
	}
	sc, err := stageFromMap(section, baseDir)
	if err != nil {
		return StageConfig{}, fmt.Errorf("%s stage: %w", name, err)
	}
	return sc, nil
}

// LoadStage reads a component-selection document: a "component" key plus
// free-form construction parameters.
func LoadStage(path string) (StageConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return StageConfig{}, fmt.Errorf("%w: %s", ErrStageConfigNotFound, path)
	}
	if err != nil {
		return StageConfig{}, fmt.Errorf("read stage config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return StageConfig{}, fmt.Errorf("parse stage config %s: %w", path, err)
	}
	sc, err := stageFromMap(doc, filepath.Dir(path))
	if err != nil {
		return StageConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	sc.Source = path
	return sc, nil
}

func stageFromMap(doc map[string]any, baseDir string) (StageConfig, error) {
	name, _ := doc["component"].(string)
	if name == "" {
		return StageConfig{}, invalid("component", "is required")
	}
	params := make(map[string]any, len(doc)-1)
	for k, v := range doc {
		if k != "component" {
			params[k] = v
		}
	}
	return StageConfig{Component: name, Params: params, BaseDir: baseDir}, nil
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
