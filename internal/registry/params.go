package registry

import (
	"bytes"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"impactloop/internal/contract"
)

// Params are the construction arguments handed to a Factory.
type Params struct {
	// Values holds the free-form keyword arguments from configuration.
	Values map[string]any

	// BaseDir is the directory of the document that declared Values.
	// Relative paths among Values resolve against it.
	BaseDir string

	// Initiatives are the run's initiatives, for components that need
	// per-initiative configuration.
	Initiatives []contract.Initiative
}

// Decode copies Values into the struct pointed to by into using its yaml
// tags. Keys with no matching field are an error, so a misspelled parameter
// fails at build time instead of being ignored.
func (p Params) Decode(into any) error {
	if len(p.Values) == 0 {
		return nil
	}
	data, err := yaml.Marshal(p.Values)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}

// ResolvePath makes path absolute relative to BaseDir. Empty, absolute and
// ":memory:" paths are returned unchanged.
func (p Params) ResolvePath(path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) || p.BaseDir == "" {
		return path
	}
	return filepath.Join(p.BaseDir, path)
}

// Initiative returns the initiative with the given id.
func (p Params) Initiative(id string) (contract.Initiative, bool) {
	for _, in := range p.Initiatives {
		if in.ID == id {
			return in, true
		}
	}
	return contract.Initiative{}, false
}
