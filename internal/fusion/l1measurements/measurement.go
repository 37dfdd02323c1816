package l1measurements

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
)

// ErrAlreadyBound is returned when a measurement that already points at one
// sensor is asked to point at another.
var ErrAlreadyBound = errors.New("measurement already bound to a different sensor")

// Measurement is one observation from one sensor. Data and covariance are
// fixed at construction; timestamp and confidence are fixed by SetMetadata;
// the sensor key is fixed by the registry.
type Measurement struct {
	kind Kind
	data []float64
	cov  *mat.SymDense

	timestamp  float64 // seconds
	confidence float64

	sensor SensorKey
	bound  bool

	finalised bool
	valid     bool
}

// NewMeasurement builds a measurement from a full data vector and covariance.
// Dimension mismatches are not rejected here; they surface through
// SetMetadata/Valid so the caller decides whether to discard the record.
func NewMeasurement(kind Kind, data []float64, cov *mat.SymDense) *Measurement {
	d := make([]float64, len(data))
	copy(d, data)
	var c *mat.SymDense
	if cov != nil {
		c = mat.NewSymDense(cov.SymmetricDim(), nil)
		c.CopySym(cov)
	}
	return &Measurement{kind: kind, data: d, cov: c, confidence: 1}
}

func diagonal(variance []float64) *mat.SymDense {
	c := mat.NewSymDense(len(variance), nil)
	for i, v := range variance {
		c.SetSym(i, i, v)
	}
	return c
}

// NewPositionMeasurement builds a position record with per-axis variances (m²).
func NewPositionMeasurement(p r3.Vec, variance r3.Vec) *Measurement {
	return NewMeasurement(KindPosition,
		[]float64{p.X, p.Y, p.Z},
		diagonal([]float64{variance.X, variance.Y, variance.Z}))
}

// NewRotationMeasurement builds an orientation record from a quaternion and
// per-component variances (w, x, y, z).
func NewRotationMeasurement(q quat.Number, variance [4]float64) *Measurement {
	return NewMeasurement(KindRotation,
		[]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		diagonal(variance[:]))
}

// NewScaleMeasurement builds a per-axis scale record.
func NewScaleMeasurement(s r3.Vec, variance r3.Vec) *Measurement {
	return NewMeasurement(KindScale,
		[]float64{s.X, s.Y, s.Z},
		diagonal([]float64{variance.X, variance.Y, variance.Z}))
}

// NewRigidBodyMeasurement builds a position+orientation record. variance
// holds x, y, z, qw, qx, qy, qz.
func NewRigidBodyMeasurement(p r3.Vec, q quat.Number, variance [7]float64) *Measurement {
	return NewMeasurement(KindRigidBody,
		[]float64{p.X, p.Y, p.Z, q.Real, q.Imag, q.Jmag, q.Kmag},
		diagonal(variance[:]))
}

// SetMetadata stamps the record and reports whether it is consistent.
// It can be called once; later calls leave the record untouched and
// return false.
func (m *Measurement) SetMetadata(timestamp, confidence float64) bool {
	if m.finalised {
		return false
	}
	m.timestamp = timestamp
	m.confidence = confidence
	m.finalised = true
	m.valid = m.Validate() == nil
	return m.valid
}

// Validate returns the first inconsistency found in the record, or nil.
func (m *Measurement) Validate() error {
	want := m.kind.Dim()
	if want == 0 {
		return fmt.Errorf("unknown kind %v", m.kind)
	}
	if len(m.data) != want {
		return fmt.Errorf("%v data has %d components, want %d", m.kind, len(m.data), want)
	}
	for i, v := range m.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("data[%d] is not finite", i)
		}
	}
	if m.cov == nil {
		return errors.New("missing covariance")
	}
	if n := m.cov.SymmetricDim(); n != want {
		return fmt.Errorf("%v covariance is %dx%d, want %dx%d", m.kind, n, n, want, want)
	}
	for i := 0; i < want; i++ {
		v := m.cov.At(i, i)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("covariance[%d][%d] = %v", i, i, v)
		}
	}
	if m.confidence < 0 || m.confidence > 1 || math.IsNaN(m.confidence) {
		return fmt.Errorf("confidence %v outside [0,1]", m.confidence)
	}
	if m.kind.HasRotation() {
		if _, ok := fusion.NormalizeQuat(m.quat()); !ok {
			return errors.New("degenerate quaternion")
		}
	}
	return nil
}

// Valid reports the result of SetMetadata. Unfinalised records are invalid.
func (m *Measurement) Valid() bool { return m.finalised && m.valid }

// BindSensor points the record at a sensor. Only the registry calls this.
func (m *Measurement) BindSensor(key SensorKey) error {
	if m.bound && m.sensor != key {
		return fmt.Errorf("%w: %v != %v", ErrAlreadyBound, m.sensor, key)
	}
	m.sensor = key
	m.bound = true
	return nil
}

// Sensor returns the bound sensor key and whether one has been bound.
func (m *Measurement) Sensor() (SensorKey, bool) { return m.sensor, m.bound }

func (m *Measurement) Kind() Kind { return m.kind }
func (m *Measurement) Timestamp() float64 { return m.timestamp }
func (m *Measurement) Confidence() float64 { return m.confidence }
func (m *Measurement) Covariance() mat.Symmetric { return m.cov }

// Data returns a copy of the data vector.
func (m *Measurement) Data() []float64 {
	d := make([]float64, len(m.data))
	copy(d, m.data)
	return d
}

func (m *Measurement) quat() quat.Number {
	o := m.kind.rotationOffset()
	if len(m.data) < o+4 {
		return quat.Number{}
	}
	return quat.Number{Real: m.data[o], Imag: m.data[o+1], Jmag: m.data[o+2], Kmag: m.data[o+3]}
}

// Position returns the position carried by position-bearing kinds.
func (m *Measurement) Position() (r3.Vec, bool) {
	if !m.kind.HasPosition() || len(m.data) < 3 {
		return r3.Vec{}, false
	}
	return r3.Vec{X: m.data[0], Y: m.data[1], Z: m.data[2]}, true
}

// Rotation returns the normalised quaternion carried by rotation-bearing kinds.
func (m *Measurement) Rotation() (quat.Number, bool) {
	if !m.kind.HasRotation() {
		return quat.Number{}, false
	}
	return fusion.NormalizeQuat(m.quat())
}

// PositionCovariance returns the 3x3 position block.
func (m *Measurement) PositionCovariance() (*mat.SymDense, bool) {
	if !m.kind.HasPosition() || m.cov == nil || m.cov.SymmetricDim() < 3 {
		return nil, false
	}
	return subSym(m.cov, 0, 3), true
}

// RotationCovariance returns the 4x4 quaternion block.
func (m *Measurement) RotationCovariance() (*mat.SymDense, bool) {
	o := m.kind.rotationOffset()
	if !m.kind.HasRotation() || m.cov == nil || m.cov.SymmetricDim() < o+4 {
		return nil, false
	}
	return subSym(m.cov, o, o+4), true
}

// PositionVariance is the mean of the position variances (m²).
func (m *Measurement) PositionVariance() float64 {
	c, ok := m.PositionCovariance()
	if !ok {
		return 0
	}
	return mat.Trace(c) / 3
}

// RotationVariance is the mean of the quaternion vector-part variances.
func (m *Measurement) RotationVariance() float64 {
	c, ok := m.RotationCovariance()
	if !ok {
		return 0
	}
	return (c.At(1, 1) + c.At(2, 2) + c.At(3, 3)) / 3
}

func subSym(s *mat.SymDense, from, to int) *mat.SymDense {
	n := to - from
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, s.At(from+i, from+j))
		}
	}
	return out
}

func (m *Measurement) String() string {
	return fmt.Sprintf("%v@%.3f sensor=%v conf=%.2f data=%v", m.kind, m.timestamp, m.sensor, m.confidence, m.data)
}
