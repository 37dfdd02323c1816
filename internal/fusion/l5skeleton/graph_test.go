package l5skeleton

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/testutil"
)

func position(p r3.Vec, sigma, ts float64) *l1measurements.Measurement {
	return testutil.PositionMeasurement(p, sigma, ts, 1)
}

func rigidBody(p r3.Vec, q quat.Number, variance [7]float64, ts float64) *l1measurements.Measurement {
	m := l1measurements.NewRigidBodyMeasurement(p, q, variance)
	m.SetMetadata(ts, 1)
	return m
}

func yaw(deg float64) quat.Number {
	return fusion.QuatFromRotationVector(r3.Vec{Z: deg * math.Pi / 180})
}

// body builds root -> hip -> hand_l with Cartesian nodes.
func body(t *testing.T, policy QueuePolicy) *Graph {
	t.Helper()
	g := NewGraph(policy)
	require.NoError(t, g.AddNode("root", "", ModelCartesian))
	require.NoError(t, g.AddNode("hip", "root", ModelCartesian))
	require.NoError(t, g.AddNode("hand_l", "hip", ModelCartesian))
	return g
}

func TestGraph_AddNodeErrors(t *testing.T) {
	g := body(t, QueueNewest)

	tests := []struct {
		name   string
		node   l1measurements.NodeDescriptor
		parent l1measurements.NodeDescriptor
		model  ModelKind
		want   error
	}{
		{"duplicate", "hip", "root", ModelCartesian, ErrDuplicateNode},
		{"second root", "other", "", ModelCartesian, ErrRootExists},
		{"unknown parent", "foot", "knee", ModelCartesian, ErrUnknownParent},
		{"self parent", "knee", "knee", ModelCartesian, ErrUnknownParent},
		{"unknown model", "foot", "hip", ModelKind(42), ErrUnknownModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AddNode(tt.node, tt.parent, tt.model)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, 3, g.Len(), "failed inserts leave the tree untouched")
}

func TestGraph_TreeShape(t *testing.T) {
	g := body(t, QueueNewest)

	root, ok := g.Root()
	require.True(t, ok)
	assert.Equal(t, l1measurements.NodeDescriptor("root"), root)
	assert.Equal(t, []l1measurements.NodeDescriptor{"root", "hip", "hand_l"}, g.Nodes())

	anc, err := g.Ancestors("hand_l")
	require.NoError(t, err)
	assert.Equal(t, []l1measurements.NodeDescriptor{"hip", "root"}, anc)

	_, err = g.Ancestors("nope")
	assert.ErrorIs(t, err, ErrUnknownNode)

	n, ok := g.Node("hip")
	require.True(t, ok)
	assert.Equal(t, l1measurements.NodeDescriptor("root"), n.Parent)
	assert.Equal(t, ModelCartesian, n.Model)
}

func TestGraph_AddMeasurementUnknownNode(t *testing.T) {
	g := body(t, QueueNewest)
	err := g.AddMeasurement("tail", position(r3.Vec{}, 0.01, 0))
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestGraph_NewestWins(t *testing.T) {
	g := body(t, QueueNewest)
	m1 := position(r3.Vec{X: 1}, 0.01, 1)
	m2 := position(r3.Vec{X: 2}, 0.02, 2)
	require.NoError(t, g.AddMeasurement("hand_l", m1))
	require.NoError(t, g.AddMeasurement("hand_l", m2))

	assert.Equal(t, []l1measurements.NodeDescriptor{"hand_l"}, g.Fuse())

	s, ok := g.State("hand_l")
	require.True(t, ok)
	assert.True(t, s.Valid)
	assert.Equal(t, r3.Vec{X: 2}, s.Position)
	assert.Equal(t, 2.0, s.Timestamp)
	want, _ := m2.PositionCovariance()
	assert.Equal(t, want, s.Covariance)
	assert.Zero(t, g.Pending("hand_l"))
}

func TestGraph_QueuePolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy QueuePolicy
		queue  []*l1measurements.Measurement
		want   r3.Vec
	}{
		{
			name:   "newest ignores arrival order",
			policy: QueueNewest,
			queue:  []*l1measurements.Measurement{position(r3.Vec{X: 2}, 0.01, 2), position(r3.Vec{X: 1}, 0.01, 1)},
			want:   r3.Vec{X: 2},
		},
		{
			name:   "newest tie goes to later arrival",
			policy: QueueNewest,
			queue:  []*l1measurements.Measurement{position(r3.Vec{X: 1}, 0.01, 5), position(r3.Vec{X: 3}, 0.01, 5)},
			want:   r3.Vec{X: 3},
		},
		{
			name:   "arrival ignores timestamps",
			policy: QueueArrival,
			queue:  []*l1measurements.Measurement{position(r3.Vec{X: 2}, 0.01, 2), position(r3.Vec{X: 1}, 0.01, 1)},
			want:   r3.Vec{X: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := body(t, tt.policy)
			for _, m := range tt.queue {
				require.NoError(t, g.AddMeasurement("root", m))
			}
			g.Fuse()
			s, _ := g.State("root")
			assert.Equal(t, tt.want, s.Position)
		})
	}
}

func TestGraph_EmptyFuseIsIdempotent(t *testing.T) {
	g := body(t, QueueNewest)
	require.NoError(t, g.AddMeasurement("hip", position(r3.Vec{Y: 1}, 0.01, 1)))
	g.Fuse()
	before, _ := g.State("hip")

	assert.Empty(t, g.Fuse())
	assert.Empty(t, g.Fuse())

	after, _ := g.State("hip")
	assert.Equal(t, before, after)
}

func TestGraph_UnusableMeasurementsAreDropped(t *testing.T) {
	g := body(t, QueueNewest)
	rot := l1measurements.NewRotationMeasurement(yaw(10), [4]float64{1e-4, 1e-4, 1e-4, 1e-4})
	rot.SetMetadata(1, 1)
	scale := l1measurements.NewScaleMeasurement(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 1e-4, Y: 1e-4, Z: 1e-4})
	scale.SetMetadata(1, 1)
	require.NoError(t, g.AddMeasurement("hip", rot))
	require.NoError(t, g.AddMeasurement("hip", scale))

	assert.Empty(t, g.Fuse())
	s, _ := g.State("hip")
	assert.False(t, s.Valid)
	assert.Zero(t, g.Pending("hip"))
}

func TestGraph_MeasurementsAreReexpressedAgainstParent(t *testing.T) {
	g := NewGraph(QueueNewest)
	require.NoError(t, g.AddNode("base", "", ModelTwist))
	require.NoError(t, g.AddNode("tip", "base", ModelCartesian))

	require.NoError(t, g.AddMeasurement("base", rigidBody(r3.Vec{X: 1}, yaw(90), [7]float64{}, 1)))
	require.NoError(t, g.AddMeasurement("tip", position(r3.Vec{X: 1, Y: 1}, 0.01, 1)))
	g.Fuse()

	local, _ := g.State("tip")
	testutil.AssertVecNear(t, r3.Vec{X: 1}, local.Position, 1e-9)
	world, err := g.WorldState("tip")
	require.NoError(t, err)
	testutil.AssertVecNear(t, r3.Vec{X: 1, Y: 1}, world.Position, 1e-9)

	// Moving the parent carries the unmeasured child along.
	require.NoError(t, g.AddMeasurement("base", rigidBody(r3.Vec{X: 2}, yaw(90), [7]float64{}, 2)))
	g.Fuse()
	world, _ = g.WorldState("tip")
	testutil.AssertVecNear(t, r3.Vec{X: 2, Y: 1}, world.Position, 1e-9)
	assert.Less(t, fusion.QuatAngle(yaw(90), world.Rotation), 1e-6)
}

func TestGraph_WorldCovarianceAccumulates(t *testing.T) {
	g := body(t, QueueNewest)
	require.NoError(t, g.AddMeasurement("root", position(r3.Vec{}, 0.1, 1)))
	require.NoError(t, g.AddMeasurement("hip", position(r3.Vec{Z: 1}, 0.2, 1)))
	g.Fuse()

	world, err := g.WorldState("hip")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 0.01+0.04, world.Covariance.At(i, i), 1e-12)
	}
	// Measurements are in the reference frame, so hip's local estimate
	// carries only its own uncertainty.
	local, _ := g.State("hip")
	assert.InDelta(t, 0.04, local.Covariance.At(0, 0), 1e-12)
}

func TestGraph_ParentRotationUncertaintyReachesChild(t *testing.T) {
	g := NewGraph(QueueNewest)
	require.NoError(t, g.AddNode("base", "", ModelTwist))
	require.NoError(t, g.AddNode("tip", "base", ModelCartesian))
	// Yaw uncertainty only: var(qz) = 1e-4 -> var(θz) = 4e-4.
	require.NoError(t, g.AddMeasurement("base", rigidBody(r3.Vec{}, quat.Number{Real: 1}, [7]float64{6: 1e-4}, 1)))
	require.NoError(t, g.AddMeasurement("tip", position(r3.Vec{X: 2}, 0, 1)))
	g.Fuse()

	world, _ := g.WorldState("tip")
	// A yaw error δθ at lever (2,0,0) moves the tip by 2δθ along y.
	assert.InDelta(t, 0, world.Covariance.At(0, 0), 1e-12)
	assert.InDelta(t, 4*4e-4, world.Covariance.At(1, 1), 1e-12)
	assert.InDelta(t, 0, world.Covariance.At(2, 2), 1e-12)
}

func TestGraph_WorldStateUnknownNode(t *testing.T) {
	_, err := body(t, QueueNewest).WorldState("tail")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestParsers(t *testing.T) {
	m, err := ParseModel("twist")
	require.NoError(t, err)
	assert.Equal(t, ModelTwist, m)
	_, err = ParseModel("kalman")
	assert.ErrorIs(t, err, ErrUnknownModel)

	p, err := ParseQueuePolicy("arrival")
	require.NoError(t, err)
	assert.Equal(t, QueueArrival, p)
	p, err = ParseQueuePolicy("")
	require.NoError(t, err)
	assert.Equal(t, QueueNewest, p)
	_, err = ParseQueuePolicy("oldest")
	assert.Error(t, err)

	assert.Equal(t, "cartesian", ModelCartesian.String())
	assert.Equal(t, "newest", QueueNewest.String())
}
