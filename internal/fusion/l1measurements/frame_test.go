package l1measurements

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
)

func quarterTurn() fusion.Transform {
	return fusion.NewTransform(fusion.QuatFromRotationVector(r3.Vec{Z: math.Pi / 2}), r3.Vec{X: 0.1})
}

func TestTransformed_Position(t *testing.T) {
	t.Parallel()

	m := NewPositionMeasurement(r3.Vec{X: 1}, r3.Vec{X: 0.04, Y: 0.01, Z: 0.01})
	require.True(t, m.SetMetadata(2, 0.9))
	require.NoError(t, m.BindSensor(SensorKey{System: "HTC", ID: 1}))

	out := m.Transformed(quarterTurn())

	p, ok := out.Position()
	require.True(t, ok)
	assert.InDelta(t, 0.1, p.X, 1e-9)
	assert.InDelta(t, 1.0, p.Y, 1e-9)

	c, _ := out.PositionCovariance()
	assert.InDelta(t, 0.01, c.At(0, 0), 1e-9)
	assert.InDelta(t, 0.04, c.At(1, 1), 1e-9)

	// Metadata carries over, original untouched.
	assert.True(t, out.Valid())
	assert.Equal(t, 2.0, out.Timestamp())
	key, bound := out.Sensor()
	assert.True(t, bound)
	assert.Equal(t, SensorID(1), key.ID)
	orig, _ := m.Position()
	assert.Equal(t, r3.Vec{X: 1}, orig)
}

func TestTransformed_RigidBody(t *testing.T) {
	t.Parallel()

	q := fusion.QuatFromRotationVector(r3.Vec{X: 0.3})
	m := NewRigidBodyMeasurement(r3.Vec{Y: 1}, q, [7]float64{0.01, 0.01, 0.01, 0.001, 0.001, 0.001, 0.001})
	require.True(t, m.SetMetadata(0, 1))

	tr := quarterTurn()
	out := m.Transformed(tr)

	p, _ := out.Position()
	want := tr.Apply(r3.Vec{Y: 1})
	assert.InDelta(t, want.X, p.X, 1e-9)
	assert.InDelta(t, want.Y, p.Y, 1e-9)

	got, ok := out.Rotation()
	require.True(t, ok)
	expected := tr.Compose(fusion.NewTransform(q, r3.Vec{})).Rotation
	assert.InDelta(t, 0, fusion.QuatAngle(expected, got), 1e-9)

	// Isotropic blocks stay isotropic under rotation.
	rc, _ := out.RotationCovariance()
	assert.InDelta(t, 0.001, rc.At(1, 1), 1e-9)
	pc, _ := out.PositionCovariance()
	assert.InDelta(t, 0.01, pc.At(2, 2), 1e-9)
}

func TestTransformed_ScaleUnchanged(t *testing.T) {
	t.Parallel()

	m := NewScaleMeasurement(r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 0.1, Y: 0.2, Z: 0.3})
	require.True(t, m.SetMetadata(0, 1))
	out := m.Transformed(quarterTurn())
	assert.Equal(t, m.Data(), out.Data())
	assert.InDelta(t, 0.2, out.Covariance().At(1, 1), 1e-12)
}
