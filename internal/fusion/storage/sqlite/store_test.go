package sqlite

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l4calibration"
	"github.com/banshee-data/posefusion/internal/fusion/pipeline"
	"github.com/banshee-data/posefusion/internal/testutil"
)

func calibration(a, b l1measurements.SystemDescriptor, x float64, stable bool) l4calibration.CalibrationResult {
	return l4calibration.CalibrationResult{
		Systems:       [2]l1measurements.SystemDescriptor{a, b},
		Transform:     fusion.NewTransform(fusion.QuatFromRotationVector(r3.Vec{Z: 0.3}), r3.Vec{X: x, Y: -0.2}),
		Quality:       0.002,
		Uncertainty:   0.004,
		RotationError: 0.001,
		PairCount:     25,
		Stable:        stable,
	}
}

func TestCalibrationStore_InsertAndLatest(t *testing.T) {
	store := NewCalibrationStore(openTestDB(t))
	run := uuid.New()

	first := &CalibrationRecord{RunID: run, Cycle: 3, Result: calibration("HTC", "Oculus", 0.1, false), CreatedAt: 100}
	second := &CalibrationRecord{RunID: run, Cycle: 9, Result: calibration("HTC", "Oculus", 0.12, true), CreatedAt: 200}
	require.NoError(t, store.Insert(first))
	require.NoError(t, store.Insert(second))
	assert.NotEmpty(t, first.CalibrationID)
	assert.NotEqual(t, first.CalibrationID, second.CalibrationID)

	got, err := store.Latest("HTC", "Oculus")
	require.NoError(t, err)
	if diff := cmp.Diff(second, got); diff != "" {
		t.Errorf("Latest mismatch (-want +got):\n%s", diff)
	}

	_, err = store.Latest("Oculus", "HTC")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCalibrationStore_UnboundedRotationError(t *testing.T) {
	store := NewCalibrationStore(openTestDB(t))
	res := calibration("a", "b", 0, false)
	res.RotationError = math.Inf(1)
	require.NoError(t, store.Insert(&CalibrationRecord{RunID: uuid.New(), Result: res}))

	got, err := store.Latest("a", "b")
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.Result.RotationError, 1))
	assert.NotZero(t, got.CreatedAt)
}

func TestCalibrationStore_ListByRun(t *testing.T) {
	store := NewCalibrationStore(openTestDB(t))
	run, other := uuid.New(), uuid.New()

	require.NoError(t, store.Insert(&CalibrationRecord{RunID: run, Cycle: 7, Result: calibration("b", "c", 0, true)}))
	require.NoError(t, store.Insert(&CalibrationRecord{RunID: run, Cycle: 4, Result: calibration("a", "b", 0, true)}))
	require.NoError(t, store.Insert(&CalibrationRecord{RunID: other, Cycle: 1, Result: calibration("a", "b", 0, true)}))

	recs, err := store.ListByRun(run)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []int{4, 7}, []int{recs[0].Cycle, recs[1].Cycle})
	for _, r := range recs {
		assert.Equal(t, run, r.RunID)
	}

	none, err := store.ListByRun(uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPoseStore_InsertCycleAndList(t *testing.T) {
	store := NewPoseStore(openTestDB(t))
	run := uuid.New()
	q := fusion.QuatFromRotationVector(r3.Vec{X: 0.1})

	var want []PoseRecord
	for cycle := 1; cycle <= 3; cycle++ {
		batch := []PoseRecord{
			{RunID: run, Cycle: cycle, Node: "hand_l", Timestamp: float64(cycle) / 10, Position: r3.Vec{X: float64(cycle)}, Rotation: q, PositionVariance: 3e-6, Valid: true},
			{RunID: run, Cycle: cycle, Node: "hand_r", Position: r3.Vec{Y: 1}, Rotation: quat.Number{Real: 1}},
		}
		require.NoError(t, store.InsertCycle(batch))
		want = append(want, batch[0])
	}
	require.NoError(t, store.InsertCycle(nil))

	got, err := store.ListByNode(run, "hand_l")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("ListByNode mismatch (-want +got):\n%s", diff)
	}
}

func TestCycleWriter_PersistsRun(t *testing.T) {
	db := openTestDB(t)
	core := pipeline.NewCore(pipeline.DefaultConfig())
	require.NoError(t, core.AddNode("root", ""))
	require.NoError(t, core.AddNode("hand_l", "root"))
	writer := NewCycleWriter(db, core)
	core.SetCycleObserver(writer.Observe)

	path := testutil.NewPath(5, r3.Vec{}, 0.1, 0.5)
	for i := 0; i < 25; i++ {
		p := path.Next()
		for _, sys := range []l1measurements.SystemDescriptor{"HTC", "Oculus"} {
			m := testutil.PositionMeasurement(r3.Add(p, r3.Vec{Z: 0.5 * float64(len(sys)-3)}), 0.001, float64(i), 1)
			require.NoError(t, core.SetMeasurementSensorInfo(m, sys, 1))
			require.NoError(t, core.AddMeasurement(m, "hand_l"))
		}
		core.Fuse()
	}

	_, calibrated := core.Stable()
	require.True(t, calibrated)

	cals, err := NewCalibrationStore(db).ListByRun(core.RunID())
	require.NoError(t, err)
	require.Len(t, cals, 1)
	assert.True(t, cals[0].Result.Stable)

	poses, err := NewPoseStore(db).ListByNode(core.RunID(), "hand_l")
	require.NoError(t, err)
	require.NotEmpty(t, poses)
	last := poses[len(poses)-1]
	assert.Equal(t, 25, last.Cycle)
	testutil.AssertVecNear(t, path.Position(), last.Position, 0.01)
}
