package sqlite

import (
	"database/sql"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l5skeleton"
	"github.com/banshee-data/posefusion/internal/fusion/pipeline"
	"github.com/banshee-data/posefusion/internal/monitoring"
)

// WorldSource is the read side of a Core the writer snapshots from.
type WorldSource interface {
	WorldState(node l1measurements.NodeDescriptor) (l5skeleton.State, error)
}

// CycleWriter persists each cycle's new calibrations and updated world
// poses. Install Observe with Core.SetCycleObserver.
type CycleWriter struct {
	calibrations *CalibrationStore
	poses        *PoseStore
	source       WorldSource
}

// NewCycleWriter creates a writer reading world poses from source.
func NewCycleWriter(db *sql.DB, source WorldSource) *CycleWriter {
	return &CycleWriter{
		calibrations: NewCalibrationStore(db),
		poses:        NewPoseStore(db),
		source:       source,
	}
}

var logStore = monitoring.Component("store")

// Observe writes report's results. Storage errors are logged, not returned,
// so a failing disk never stalls fusion.
func (w *CycleWriter) Observe(report pipeline.CycleReport) {
	for _, res := range report.NewlyCalibrated {
		rec := &CalibrationRecord{RunID: report.RunID, Cycle: report.Cycle, Result: res}
		if err := w.calibrations.Insert(rec); err != nil {
			logStore("cycle %d: persist calibration %s->%s: %v", report.Cycle, res.Systems[0], res.Systems[1], err)
		}
	}

	if len(report.Updated) == 0 {
		return
	}
	records := make([]PoseRecord, 0, len(report.Updated))
	for _, node := range report.Updated {
		s, err := w.source.WorldState(node)
		if err != nil {
			logStore("cycle %d: world state %s: %v", report.Cycle, node, err)
			continue
		}
		records = append(records, PoseFromState(report.RunID, report.Cycle, node, s))
	}
	if err := w.poses.InsertCycle(records); err != nil {
		logStore("cycle %d: persist poses: %v", report.Cycle, err)
	}
}
