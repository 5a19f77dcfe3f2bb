// Package store keeps a history of workflow runs and their observations in
// a SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fvfm-analyzer/internal/results"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// ErrRunNotFound is returned for an unknown run ID
var ErrRunNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

// Run is one row of the runs table
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	FminPath   string
	FmaxPath   string
	FdarkPath  string
	Status     string
	Error      string
}

// Open opens (creating if needed) the database at path and applies pending
// migrations
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY inside a process
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts a running row and returns its new ID
func (s *Store) BeginRun(meta results.Metadata) (string, error) {
	id := meta.RunID
	if id == "" {
		id = uuid.NewString()
	}
	started := meta.Timestamp
	if started.IsZero() {
		started = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, started_at, fmin_path, fmax_path, fdark_path, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, started.UTC(), meta.Images["fmin"], meta.Images["fmax"], nullString(meta.Images["fdark"]), StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// SaveObservations stores obs for runID in one transaction, replacing
// earlier values of the same variable
func (s *Store) SaveObservations(runID string, obs []results.Observation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO observations
		 (run_id, sample, variable, trait, method, scale, datatype, value, label)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		value, err := json.Marshal(o.Value)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", o.Variable, err)
		}
		label, err := json.Marshal(o.Label)
		if err != nil {
			return fmt.Errorf("failed to encode label of %s: %w", o.Variable, err)
		}
		sample := o.Sample
		if sample == "" {
			sample = results.DefaultSample
		}
		if _, err := stmt.Exec(runID, sample, o.Variable, o.Trait, o.Method, o.Scale, o.Datatype, string(value), string(label)); err != nil {
			return fmt.Errorf("failed to insert %s: %w", o.Variable, err)
		}
	}

	return tx.Commit()
}

// FinishRun marks runID ok, or failed with runErr's message
func (s *Store) FinishRun(runID string, runErr error) error {
	status, msg := StatusOK, sql.NullString{}
	if runErr != nil {
		status = StatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Runs lists the most recent runs first. limit <= 0 lists all.
func (s *Store) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(
		`SELECT run_id, started_at, finished_at, fmin_path, fmax_path, fdark_path, status, error
		 FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			finished sql.NullTime
			fdark    sql.NullString
			errMsg   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.FminPath, &r.FmaxPath, &fdark, &r.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.FdarkPath = fdark.String
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Observations returns the stored observations of runID ordered by sample
// and variable
func (s *Store) Observations(runID string) ([]results.Observation, error) {
	rows, err := s.db.Query(
		`SELECT sample, variable, trait, method, scale, datatype, value, label
		 FROM observations WHERE run_id = ? ORDER BY sample, variable`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var obs []results.Observation
	for rows.Next() {
		var (
			out                              results.Observation
			value                            string
			trait, method, scale, dtype, lbl sql.NullString
		)
		if err := rows.Scan(&out.Sample, &out.Variable, &trait, &method, &scale, &dtype, &value, &lbl); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		out.Trait = trait.String
		out.Method = method.String
		out.Scale = scale.String
		out.Datatype = dtype.String

		if err := json.Unmarshal([]byte(value), &out.Value); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", out.Variable, err)
		}
		if lbl.Valid {
			if err := json.Unmarshal([]byte(lbl.String), &out.Label); err != nil {
				return nil, fmt.Errorf("failed to decode label of %s: %w", out.Variable, err)
			}
		}
		obs = append(obs, out)
	}
	return obs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
