package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/banshee-data/overlap-mcl/internal/mcl/localiser"
	"github.com/banshee-data/overlap-mcl/internal/mcl/particle"
)

// ErrNoSnapshot is returned when a frame has no stored particle snapshot.
var ErrNoSnapshot = errors.New("no particle snapshot")

// Frame is a stored frame record. Positions and errors are in metres.
type Frame struct {
	RunID         string   `json:"run_id"`
	Frame         int      `json:"frame"`
	EstX          float64  `json:"est_x"`
	EstY          float64  `json:"est_y"`
	EstTheta      float64  `json:"est_theta"`
	TruthX        *float64 `json:"truth_x,omitempty"`
	TruthY        *float64 `json:"truth_y,omitempty"`
	TruthTheta    *float64 `json:"truth_theta,omitempty"`
	LocationError *float64 `json:"location_error,omitempty"`
	YawError      *float64 `json:"yaw_error,omitempty"`
	Population    int      `json:"population"`
	Converged     bool     `json:"converged"`
	Observed      bool     `json:"observed"`
	Requested     int      `json:"requested"`
	Occupied      int      `json:"occupied"`
	OutOfBounds   int      `json:"out_of_bounds"`
}

// FrameRecorder writes localiser frame records for one run.
type FrameRecorder struct {
	db         *DB
	runID      string
	resolution float64
}

// NewFrameRecorder returns a recorder that converts grid units to metres
// using resolution.
func NewFrameRecorder(db *DB, runID string, resolution float64) *FrameRecorder {
	return &FrameRecorder{db: db, runID: runID, resolution: resolution}
}

// RecordFrame stores rec and, when present, its particle snapshot in one
// transaction.
func (r *FrameRecorder) RecordFrame(ctx context.Context, rec localiser.FrameRecord) error {
	var tx, ty, tth interface{}
	if rec.Truth != nil {
		tx, ty, tth = rec.Truth.X*r.resolution, rec.Truth.Y*r.resolution, rec.Truth.Theta
	}

	var blob []byte
	if rec.Particles != nil {
		var err error
		if blob, err = encodeParticles(rec.Particles); err != nil {
			return err
		}
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	_, err = txn.ExecContext(ctx, `
		INSERT OR REPLACE INTO mcl_frames (
			run_id, frame, est_x, est_y, est_theta, truth_x, truth_y, truth_theta,
			location_error, yaw_error, population, converged, observed,
			requested, occupied, out_of_bounds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.runID, rec.Frame, rec.Estimate.X*r.resolution, rec.Estimate.Y*r.resolution, rec.Estimate.Theta,
		tx, ty, tth,
		nullFloat(rec.LocationError), nullFloat(rec.YawError), rec.Population, rec.Converged, rec.Observed,
		rec.Sensor.Requested, rec.Sensor.Occupied, rec.Sensor.OutOfBounds,
	)
	if err != nil {
		return fmt.Errorf("insert frame %d: %w", rec.Frame, err)
	}
	if blob != nil {
		_, err = txn.ExecContext(ctx, `
			INSERT OR REPLACE INTO mcl_particle_snapshots (run_id, frame, population, particles_blob)
			VALUES (?, ?, ?, ?)`,
			r.runID, rec.Frame, len(rec.Particles), blob,
		)
		if err != nil {
			return fmt.Errorf("insert particle snapshot %d: %w", rec.Frame, err)
		}
	}
	return txn.Commit()
}

// RunFrames returns the frames of a run in frame order.
func (db *DB) RunFrames(runID string) ([]Frame, error) {
	rows, err := db.Query(`
		SELECT run_id, frame, est_x, est_y, est_theta, truth_x, truth_y, truth_theta,
		       location_error, yaw_error, population, converged, observed,
		       requested, occupied, out_of_bounds
		FROM mcl_frames
		WHERE run_id = ?
		ORDER BY frame`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var tx, ty, tth, le, ye sql.NullFloat64
		if err := rows.Scan(
			&f.RunID, &f.Frame, &f.EstX, &f.EstY, &f.EstTheta, &tx, &ty, &tth,
			&le, &ye, &f.Population, &f.Converged, &f.Observed,
			&f.Requested, &f.Occupied, &f.OutOfBounds,
		); err != nil {
			return nil, err
		}
		f.TruthX, f.TruthY, f.TruthTheta = floatPtr(tx), floatPtr(ty), floatPtr(tth)
		f.LocationError, f.YawError = floatPtr(le), floatPtr(ye)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// LoadParticles returns the particle snapshot stored for a frame.
func (db *DB) LoadParticles(runID string, frame int) ([]particle.Particle, error) {
	var blob []byte
	err := db.QueryRow(`
		SELECT particles_blob FROM mcl_particle_snapshots
		WHERE run_id = ? AND frame = ?`, runID, frame).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s frame %d", ErrNoSnapshot, runID, frame)
	}
	if err != nil {
		return nil, err
	}
	return decodeParticles(blob)
}

func encodeParticles(ps []particle.Particle) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(ps); err != nil {
		gz.Close()
		return nil, fmt.Errorf("gob encode particles: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeParticles(blob []byte) ([]particle.Particle, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gz.Close()
	var ps []particle.Particle
	if err := gob.NewDecoder(gz).Decode(&ps); err != nil {
		return nil, fmt.Errorf("gob decode particles: %w", err)
	}
	return ps, nil
}
