package l5skeleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
)

// selectFrom mimics the graph's selector without frame changes.
func selectFrom(policy QueuePolicy, queue ...*l1measurements.Measurement) Selector {
	return func(accept func(*l1measurements.Measurement) bool) *l1measurements.Measurement {
		return policy.pick(queue, accept)
	}
}

func TestTwist_RigidBodyFillsBothHalves(t *testing.T) {
	cov := mat.NewSymDense(7, nil)
	for i := 0; i < 7; i++ {
		cov.SetSym(i, i, 1e-4)
	}
	cov.SetSym(0, 4, 3e-5) // x with qx
	m := l1measurements.NewMeasurement(l1measurements.KindRigidBody, []float64{1, 2, 3, 1, 0, 0, 0}, cov)
	require.True(t, m.SetMetadata(4, 1))

	s := initialState(6)
	require.True(t, twist{}.Update(&s, selectFrom(QueueNewest, m)))

	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, s.Position)
	assert.Equal(t, quat.Number{Real: 1}, s.Rotation)
	assert.Equal(t, 4.0, s.Timestamp)
	assert.InDelta(t, 1e-4, s.Covariance.At(0, 0), 1e-15)
	assert.InDelta(t, 4e-4, s.Covariance.At(3, 3), 1e-15)
	assert.InDelta(t, 6e-5, s.Covariance.At(0, 3), 1e-15)
}

func TestTwist_HalvesReplacedIndependently(t *testing.T) {
	pos := position(r3.Vec{X: 1}, 0.01, 2)
	rot := l1measurements.NewRotationMeasurement(yaw(45), [4]float64{0, 1e-4, 1e-4, 1e-4})
	rot.SetMetadata(3, 1)

	s := initialState(6)
	require.True(t, twist{}.Update(&s, selectFrom(QueueNewest, pos, rot)))

	assert.Equal(t, r3.Vec{X: 1}, s.Position)
	assert.InDelta(t, 0, s.Covariance.At(0, 3), 1e-15)
	assert.InDelta(t, 1e-4, s.Covariance.At(0, 0), 1e-15)
	assert.InDelta(t, 4e-4, s.Covariance.At(5, 5), 1e-15)
	assert.Equal(t, 3.0, s.Timestamp)

	// A later position-only record keeps the orientation.
	next := position(r3.Vec{Y: 1}, 0.01, 5)
	require.True(t, twist{}.Update(&s, selectFrom(QueueNewest, next)))
	assert.Equal(t, r3.Vec{Y: 1}, s.Position)
	assert.Less(t, fusion.QuatAngle(yaw(45), s.Rotation), 1e-6)
	assert.InDelta(t, 4e-4, s.Covariance.At(5, 5), 1e-15)
}

func TestCartesian_TakesPositionOfRigidBody(t *testing.T) {
	m := rigidBody(r3.Vec{Z: 1}, yaw(30), [7]float64{1e-4, 1e-4, 1e-4, 1, 1, 1, 1}, 1)
	s := initialState(3)
	require.True(t, cartesian{}.Update(&s, selectFrom(QueueNewest, m)))

	assert.Equal(t, r3.Vec{Z: 1}, s.Position)
	assert.Equal(t, quat.Number{Real: 1}, s.Rotation)
	assert.Equal(t, 3, s.Covariance.SymmetricDim())
}

func TestModelsDispatchTable(t *testing.T) {
	for kind, want := range map[ModelKind]int{ModelCartesian: 3, ModelTwist: 6} {
		m, ok := models[kind]
		require.True(t, ok, kind.String())
		assert.Equal(t, want, m.Dim())
	}
}
