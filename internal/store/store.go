// Package store persists raw measurement envelopes and run history.
package store

import "fmt"

// DefaultDBPath is the default location of the SQLite database, relative to
// the working directory. Open creates the parent directory.
const DefaultDBPath = ".impactloop/impactloop.db"

// Phases a measurement can belong to.
const (
	PhasePilot = "pilot"
	PhaseScale = "scale"
)

// JobID is the key a measurement is recorded under.
func JobID(initiativeID, phase string) string {
	return fmt.Sprintf("%s/%s", initiativeID, phase)
}

// Measurement is one raw estimator result as produced by an external model
// run. Payload is the JSON envelope, stored verbatim.
type Measurement struct {
	JobID        string
	InitiativeID string
	Phase        string
	Family       string
	Payload      []byte
	CreatedAt    string
}

// Run is the summary of one completed pipeline run. Result holds the full
// run record as JSON.
type Run struct {
	ID           string
	ConfigPath   string
	Budget       float64
	Evaluated    int
	Selected     int
	BudgetUsed   float64
	MeanAbsError float64
	Result       []byte
	CreatedAt    string
}

// Store is the persistence facade. Getters return (nil, nil) when the key
// is not present.
type Store interface {
	SaveMeasurement(m *Measurement) error
	GetMeasurement(jobID string) (*Measurement, error)
	ListMeasurements(initiativeID string) ([]*Measurement, error)

	SaveRun(r *Run) error
	GetRun(id string) (*Run, error)
	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(limit int) ([]*Run, error)

	Close() error
}
