package store

import (
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store for tests and ":memory:" runs.
type MemStore struct {
	mu           sync.Mutex
	measurements map[string]*Measurement
	runs         []*Run
	runIndex     map[string]int
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		measurements: make(map[string]*Measurement),
		runIndex:     make(map[string]int),
	}
}

// SaveMeasurement inserts or replaces the record for m.JobID.
func (s *MemStore) SaveMeasurement(m *Measurement) error {
	if m == nil || m.JobID == "" {
		return fmt.Errorf("save measurement: job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.Payload = append([]byte(nil), m.Payload...)
	if cp.CreatedAt == "" {
		cp.CreatedAt = nowUTC()
	}
	s.measurements[m.JobID] = &cp
	return nil
}

func (s *MemStore) GetMeasurement(jobID string) (*Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.measurements[jobID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemStore) ListMeasurements(initiativeID string) ([]*Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Measurement
	for _, m := range s.measurements {
		if m.InitiativeID == initiativeID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

func (s *MemStore) SaveRun(r *Run) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("save run: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runIndex[r.ID]; ok {
		return fmt.Errorf("save run: %s already recorded", r.ID)
	}
	cp := *r
	if cp.CreatedAt == "" {
		cp.CreatedAt = nowUTC()
	}
	s.runIndex[r.ID] = len(s.runs)
	s.runs = append(s.runs, &cp)
	return nil
}

func (s *MemStore) GetRun(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.runIndex[id]
	if !ok {
		return nil, nil
	}
	cp := *s.runs[i]
	return &cp, nil
}

func (s *MemStore) ListRuns(limit int) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Run
	for i := len(s.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		cp := *s.runs[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }
