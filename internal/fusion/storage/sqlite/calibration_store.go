package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l4calibration"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// CalibrationRecord is one persisted calibration result.
type CalibrationRecord struct {
	CalibrationID string
	RunID         uuid.UUID
	Cycle         int
	Result        l4calibration.CalibrationResult
	CreatedAt     int64
}

// CalibrationStore persists calibration results.
type CalibrationStore struct {
	db *sql.DB
}

// NewCalibrationStore creates a new CalibrationStore.
func NewCalibrationStore(db *sql.DB) *CalibrationStore {
	return &CalibrationStore{db: db}
}

// Insert persists rec. If CalibrationID is empty, a UUID is generated.
func (s *CalibrationStore) Insert(rec *CalibrationRecord) error {
	if rec.CalibrationID == "" {
		rec.CalibrationID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixNano()
	}
	r := rec.Result
	t, q := r.Transform.Translation, r.Transform.Rotation

	// Collinear pair sets leave the rotation error unbounded; store NULL.
	var rotErr interface{}
	if !math.IsInf(r.RotationError, 0) && !math.IsNaN(r.RotationError) {
		rotErr = r.RotationError
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO fusion_calibrations (
				calibration_id, run_id, cycle, system_a, system_b,
				tx, ty, tz, qw, qx, qy, qz,
				quality, uncertainty, rotation_error, pair_count, stable, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.CalibrationID, rec.RunID.String(), rec.Cycle, string(r.Systems[0]), string(r.Systems[1]),
			t.X, t.Y, t.Z, q.Real, q.Imag, q.Jmag, q.Kmag,
			r.Quality, r.Uncertainty, rotErr, r.PairCount, r.Stable, rec.CreatedAt,
		)
		return err
	})
}

const calibrationColumns = `calibration_id, run_id, cycle, system_a, system_b,
		       tx, ty, tz, qw, qx, qy, qz,
		       quality, uncertainty, rotation_error, pair_count, stable, created_at`

// Latest returns the most recent record for the ordered pair (a, b).
func (s *CalibrationStore) Latest(a, b l1measurements.SystemDescriptor) (*CalibrationRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+calibrationColumns+`
		FROM fusion_calibrations
		WHERE system_a = ? AND system_b = ?
		ORDER BY created_at DESC
		LIMIT 1`, string(a), string(b))
	rec, err := scanCalibration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("calibration %s->%s: %w", a, b, ErrNotFound)
	}
	return rec, err
}

// ListByRun returns every record written by runID in cycle order.
func (s *CalibrationStore) ListByRun(runID uuid.UUID) ([]*CalibrationRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+calibrationColumns+`
		FROM fusion_calibrations
		WHERE run_id = ?
		ORDER BY cycle, system_a, system_b`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query calibrations: %w", err)
	}
	defer rows.Close()

	var out []*CalibrationRecord
	for rows.Next() {
		rec, err := scanCalibration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCalibration(row scanner) (*CalibrationRecord, error) {
	var (
		rec          CalibrationRecord
		runID        string
		sysA, sysB   string
		t            r3.Vec
		q            quat.Number
		rotErr       sql.NullFloat64
		stable       bool
		quality, unc float64
		pairs        int
	)
	err := row.Scan(
		&rec.CalibrationID, &runID, &rec.Cycle, &sysA, &sysB,
		&t.X, &t.Y, &t.Z, &q.Real, &q.Imag, &q.Jmag, &q.Kmag,
		&quality, &unc, &rotErr, &pairs, &stable, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan calibration: %w", err)
	}
	if rec.RunID, err = uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("calibration %s: run id: %w", rec.CalibrationID, err)
	}
	rec.Result = l4calibration.CalibrationResult{
		Systems:       [2]l1measurements.SystemDescriptor{l1measurements.SystemDescriptor(sysA), l1measurements.SystemDescriptor(sysB)},
		Transform:     fusion.Transform{Rotation: q, Translation: t},
		Quality:       quality,
		Uncertainty:   unc,
		RotationError: math.Inf(1),
		PairCount:     pairs,
		Stable:        stable,
	}
	if rotErr.Valid {
		rec.Result.RotationError = rotErr.Float64
	}
	return &rec, nil
}
