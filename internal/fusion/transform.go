package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// quatNormEpsilon is the smallest quaternion norm accepted as a rotation.
const quatNormEpsilon = 1e-9

// Transform is a rigid transform: p' = Rotation·p + Translation.
// Rotation is a unit quaternion (Real=w, Imag=x, Jmag=y, Kmag=z).
type Transform struct {
	Rotation    quat.Number
	Translation r3.Vec
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// NewTransform builds a transform, normalising the rotation. A degenerate
// rotation is replaced by the identity rotation.
func NewTransform(rotation quat.Number, translation r3.Vec) Transform {
	q, ok := NormalizeQuat(rotation)
	if !ok {
		q = quat.Number{Real: 1}
	}
	return Transform{Rotation: q, Translation: translation}
}

// Rotate applies only the rotational part of t to p.
func (t Transform) Rotate(p r3.Vec) r3.Vec {
	return r3.Rotation(t.Rotation).Rotate(p)
}

// Apply maps p through the full transform.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(t.Rotate(p), t.Translation)
}

// Compose returns the transform that applies o first, then t.
func (t Transform) Compose(o Transform) Transform {
	q, _ := NormalizeQuat(quat.Mul(t.Rotation, o.Rotation))
	return Transform{
		Rotation:    q,
		Translation: r3.Add(t.Rotate(o.Translation), t.Translation),
	}
}

// Inverse returns the transform mapping t's output frame back to its input frame.
func (t Transform) Inverse() Transform {
	inv := Transform{Rotation: quat.Conj(t.Rotation)}
	inv.Translation = r3.Scale(-1, inv.Rotate(t.Translation))
	return inv
}

// Matrix returns t as a 4x4 row-major homogeneous matrix.
func (t Transform) Matrix() [16]float64 {
	r := RotationMatrix(t.Rotation)
	return [16]float64{
		r.At(0, 0), r.At(0, 1), r.At(0, 2), t.Translation.X,
		r.At(1, 0), r.At(1, 1), r.At(1, 2), t.Translation.Y,
		r.At(2, 0), r.At(2, 1), r.At(2, 2), t.Translation.Z,
		0, 0, 0, 1,
	}
}

// NormalizeQuat returns q scaled to unit norm with a non-negative real part.
// ok is false when q is too close to zero to represent a rotation.
func NormalizeQuat(q quat.Number) (quat.Number, bool) {
	n := quat.Abs(q)
	if n < quatNormEpsilon || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{Real: 1}, false
	}
	q = quat.Scale(1/n, q)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q, true
}

// RotationMatrix returns the 3x3 rotation matrix of unit quaternion q.
func RotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// QuatFromRotationMatrix converts an orthonormal 3x3 matrix to a unit quaternion.
func QuatFromRotationMatrix(m mat.Matrix) quat.Number {
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	q, _ = NormalizeQuat(q)
	return q
}

// RotationVector returns the axis-angle vector (axis scaled by angle in
// radians) of unit quaternion q, taking the shortest rotation.
func RotationVector(q quat.Number) r3.Vec {
	q, ok := NormalizeQuat(q)
	if !ok {
		return r3.Vec{}
	}
	v := r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := r3.Norm(v)
	if s < 1e-12 {
		return r3.Scale(2, v)
	}
	angle := 2 * math.Atan2(s, q.Real)
	return r3.Scale(angle/s, v)
}

// QuatFromRotationVector is the inverse of RotationVector.
func QuatFromRotationVector(v r3.Vec) quat.Number {
	theta := r3.Norm(v)
	if theta < 1e-12 {
		q, _ := NormalizeQuat(quat.Number{Real: 1, Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
		return q
	}
	s := math.Sin(theta/2) / theta
	return quat.Number{Real: math.Cos(theta / 2), Imag: v.X * s, Jmag: v.Y * s, Kmag: v.Z * s}
}

// QuatAngle returns the angle in radians of the rotation taking a to b.
func QuatAngle(a, b quat.Number) float64 {
	a, _ = NormalizeQuat(a)
	b, _ = NormalizeQuat(b)
	d := quat.Mul(quat.Conj(a), b)
	v := math.Sqrt(d.Imag*d.Imag + d.Jmag*d.Jmag + d.Kmag*d.Kmag)
	return 2 * math.Atan2(v, math.Abs(d.Real))
}

// LeftMultiplyMatrix returns L(p) such that p⊗q = L(p)·q for q as a
// column (w, x, y, z).
func LeftMultiplyMatrix(p quat.Number) *mat.Dense {
	w, x, y, z := p.Real, p.Imag, p.Jmag, p.Kmag
	return mat.NewDense(4, 4, []float64{
		w, -x, -y, -z,
		x, w, -z, y,
		y, z, w, -x,
		z, -y, x, w,
	})
}

// RotateCovariance returns J·Σ·Jᵀ as a symmetric matrix, symmetrising
// round-off from the product.
func RotateCovariance(j mat.Matrix, sigma mat.Symmetric) *mat.SymDense {
	var tmp, out mat.Dense
	tmp.Mul(j, sigma)
	out.Mul(&tmp, j.T())
	r, _ := out.Dims()
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for k := i; k < r; k++ {
			sym.SetSym(i, k, (out.At(i, k)+out.At(k, i))/2)
		}
	}
	return sym
}
