package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/overlap-mcl/internal/mcl/localiser"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one localisation run. Result fields are nil until FinishRun.
type Run struct {
	RunID         string          `json:"run_id"`
	MapSequence   string          `json:"map_sequence"`
	QuerySequence string          `json:"query_sequence"`
	NumParticles  int             `json:"num_particles"`
	Resolution    float64         `json:"resolution"`
	UseYaw        bool            `json:"use_yaw"`
	ParamsJSON    json.RawMessage `json:"params_json,omitempty"`
	StartedAt     int64           `json:"started_at"`
	FinishedAt    *int64          `json:"finished_at,omitempty"`
	Frames        *int            `json:"frames,omitempty"`
	Observations  *int            `json:"observations,omitempty"`
	ConvergedAt   *int            `json:"converged_at,omitempty"`
	FinalError    *float64        `json:"final_error,omitempty"`
	MeanError     *float64        `json:"mean_error,omitempty"`
	MeanYawError  *float64        `json:"mean_yaw_error,omitempty"`
}

// CreateRun inserts a run. If RunID is empty, a UUID is generated.
func (db *DB) CreateRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}
	var params interface{}
	if len(run.ParamsJSON) > 0 {
		params = string(run.ParamsJSON)
	}
	_, err := db.Exec(`
		INSERT INTO mcl_runs (
			run_id, map_sequence, query_sequence, num_particles, resolution,
			use_yaw, params_json, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.MapSequence, run.QuerySequence, run.NumParticles, run.Resolution,
		run.UseYaw, params, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the run summary.
func (db *DB) FinishRun(runID string, sum localiser.Summary) error {
	var convergedAt interface{}
	if sum.ConvergedAt >= 0 {
		convergedAt = sum.ConvergedAt
	}
	res, err := db.Exec(`
		UPDATE mcl_runs SET
			finished_at = ?, frames = ?, observations = ?, converged_at = ?,
			final_error = ?, mean_error = ?, mean_yaw_error = ?
		WHERE run_id = ?`,
		time.Now().UnixNano(), sum.Frames, sum.Observations, convergedAt,
		nullFloat(sum.FinalError), nullFloat(sum.MeanError), nullFloat(sum.MeanYawError),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `run_id, map_sequence, query_sequence, num_particles, resolution,
	use_yaw, params_json, started_at, finished_at, frames, observations,
	converged_at, final_error, mean_error, mean_yaw_error`

// GetRun returns a single run by ID.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM mcl_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// ListRuns returns all runs, newest first.
func (db *DB) ListRuns() ([]*Run, error) {
	rows, err := db.Query(`SELECT ` + runColumns + ` FROM mcl_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var params sql.NullString
	var finished sql.NullInt64
	var frames, observations, convergedAt sql.NullInt64
	var finalErr, meanErr, meanYaw sql.NullFloat64
	err := s.Scan(
		&r.RunID, &r.MapSequence, &r.QuerySequence, &r.NumParticles, &r.Resolution,
		&r.UseYaw, &params, &r.StartedAt, &finished, &frames, &observations,
		&convergedAt, &finalErr, &meanErr, &meanYaw,
	)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		r.ParamsJSON = json.RawMessage(params.String)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Int64
	}
	r.Frames = intPtr(frames)
	r.Observations = intPtr(observations)
	r.ConvergedAt = intPtr(convergedAt)
	r.FinalError = floatPtr(finalErr)
	r.MeanError = floatPtr(meanErr)
	r.MeanYawError = floatPtr(meanYaw)
	return &r, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// nullFloat maps NaN and Inf to SQL NULL.
func nullFloat(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
