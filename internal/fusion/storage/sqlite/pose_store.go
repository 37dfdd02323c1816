package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l5skeleton"
)

// PoseRecord is one node's world pose at the end of a fusion cycle.
type PoseRecord struct {
	PoseID    string
	RunID     uuid.UUID
	Cycle     int
	Node      l1measurements.NodeDescriptor
	Timestamp float64
	Position  r3.Vec
	Rotation  quat.Number
	// PositionVariance is the trace of the world position covariance.
	PositionVariance float64
	Valid            bool
}

// PoseFromState flattens a world state into a record.
func PoseFromState(runID uuid.UUID, cycle int, node l1measurements.NodeDescriptor, s l5skeleton.State) PoseRecord {
	rec := PoseRecord{
		RunID:     runID,
		Cycle:     cycle,
		Node:      node,
		Timestamp: s.Timestamp,
		Position:  s.Position,
		Rotation:  s.Rotation,
		Valid:     s.Valid,
	}
	if cov := s.PositionCovariance(); cov != nil {
		rec.PositionVariance = mat.Trace(cov)
	}
	return rec
}

// PoseStore persists world pose snapshots.
type PoseStore struct {
	db *sql.DB
}

// NewPoseStore creates a new PoseStore.
func NewPoseStore(db *sql.DB) *PoseStore {
	return &PoseStore{db: db}
}

// InsertCycle writes every record of one cycle in a single transaction.
// Records with an empty PoseID are given a UUID.
func (s *PoseStore) InsertCycle(records []PoseRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].PoseID == "" {
			records[i].PoseID = uuid.New().String()
		}
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO fusion_poses (
				pose_id, run_id, cycle, node, timestamp,
				x, y, z, qw, qx, qy, qz, position_variance, valid
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.Exec(
				r.PoseID, r.RunID.String(), r.Cycle, string(r.Node), r.Timestamp,
				r.Position.X, r.Position.Y, r.Position.Z,
				r.Rotation.Real, r.Rotation.Imag, r.Rotation.Jmag, r.Rotation.Kmag,
				r.PositionVariance, r.Valid,
			); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// ListByNode returns node's snapshots for runID in cycle order.
func (s *PoseStore) ListByNode(runID uuid.UUID, node l1measurements.NodeDescriptor) ([]PoseRecord, error) {
	rows, err := s.db.Query(`
		SELECT pose_id, run_id, cycle, node, timestamp,
		       x, y, z, qw, qx, qy, qz, position_variance, valid
		FROM fusion_poses
		WHERE run_id = ? AND node = ?
		ORDER BY cycle`, runID.String(), string(node))
	if err != nil {
		return nil, fmt.Errorf("query poses: %w", err)
	}
	defer rows.Close()

	var out []PoseRecord
	for rows.Next() {
		var (
			r     PoseRecord
			run   string
			nodeS string
		)
		if err := rows.Scan(
			&r.PoseID, &run, &r.Cycle, &nodeS, &r.Timestamp,
			&r.Position.X, &r.Position.Y, &r.Position.Z,
			&r.Rotation.Real, &r.Rotation.Imag, &r.Rotation.Jmag, &r.Rotation.Kmag,
			&r.PositionVariance, &r.Valid,
		); err != nil {
			return nil, fmt.Errorf("scan pose: %w", err)
		}
		if r.RunID, err = uuid.Parse(run); err != nil {
			return nil, fmt.Errorf("pose %s: run id: %w", r.PoseID, err)
		}
		r.Node = l1measurements.NodeDescriptor(nodeS)
		out = append(out, r)
	}
	return out, rows.Err()
}
