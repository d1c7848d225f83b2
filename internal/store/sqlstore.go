package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations. The parent
// directory is created if missing. ":memory:" opens a private in-memory DB.
func Open(path string) (*SqlStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers from concurrent measure units and
	// keeps ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tables int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tables)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tables == 0 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}

	var v int
	if err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Close closes the database.
func (s *SqlStore) Close() error { return s.db.Close() }

// SaveMeasurement inserts or replaces the record for m.JobID.
func (s *SqlStore) SaveMeasurement(m *Measurement) error {
	if m == nil || m.JobID == "" {
		return fmt.Errorf("save measurement: job id is required")
	}
	created := m.CreatedAt
	if created == "" {
		created = nowUTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO measurements(job_id, initiative_id, phase, family, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			initiative_id = excluded.initiative_id,
			phase         = excluded.phase,
			family        = excluded.family,
			payload       = excluded.payload,
			created_at    = excluded.created_at`,
		m.JobID, m.InitiativeID, m.Phase, m.Family, m.Payload, created)
	if err != nil {
		return fmt.Errorf("save measurement %s: %w", m.JobID, err)
	}
	return nil
}

func (s *SqlStore) GetMeasurement(jobID string) (*Measurement, error) {
	m := &Measurement{}
	err := s.db.QueryRow(
		"SELECT job_id, initiative_id, phase, family, payload, created_at FROM measurements WHERE job_id = ?",
		jobID,
	).Scan(&m.JobID, &m.InitiativeID, &m.Phase, &m.Family, &m.Payload, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get measurement %s: %w", jobID, err)
	}
	return m, nil
}

func (s *SqlStore) ListMeasurements(initiativeID string) ([]*Measurement, error) {
	rows, err := s.db.Query(
		"SELECT job_id, initiative_id, phase, family, payload, created_at FROM measurements WHERE initiative_id = ? ORDER BY job_id",
		initiativeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}
	defer rows.Close()
	var out []*Measurement
	for rows.Next() {
		m := &Measurement{}
		if err := rows.Scan(&m.JobID, &m.InitiativeID, &m.Phase, &m.Family, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SqlStore) SaveRun(r *Run) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("save run: id is required")
	}
	created := r.CreatedAt
	if created == "" {
		created = nowUTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs(id, config_path, budget, evaluated, selected, budget_used, mean_abs_error, result, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConfigPath, r.Budget, r.Evaluated, r.Selected, r.BudgetUsed, r.MeanAbsError, r.Result, created)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

const runColumns = "id, config_path, budget, evaluated, selected, budget_used, mean_abs_error, result, created_at"

func scanRun(sc interface{ Scan(...any) error }) (*Run, error) {
	r := &Run{}
	var cfgPath sql.NullString
	if err := sc.Scan(&r.ID, &cfgPath, &r.Budget, &r.Evaluated, &r.Selected,
		&r.BudgetUsed, &r.MeanAbsError, &r.Result, &r.CreatedAt); err != nil {
		return nil, err
	}
	if cfgPath.Valid {
		r.ConfigPath = cfgPath.String
	}
	return r, nil
}

func (s *SqlStore) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (s *SqlStore) ListRuns(limit int) ([]*Run, error) {
	q := "SELECT " + runColumns + " FROM runs ORDER BY seq DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var (
	_ Store = (*SqlStore)(nil)
	_ Store = (*MemStore)(nil)
)
