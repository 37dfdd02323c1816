package l1measurements

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/posefusion/internal/fusion"
)

// Transformed returns a copy of m re-expressed through t. Positions become
// R·p + t with covariance R·Σ·Rᵀ; orientations become q_t⊗q with covariance
// L·Σ·Lᵀ; scale is frame independent and copied unchanged. Metadata and the
// sensor binding carry over.
func (m *Measurement) Transformed(t fusion.Transform) *Measurement {
	out := *m
	out.data = m.Data()
	if m.cov != nil {
		out.cov = mat.NewSymDense(m.cov.SymmetricDim(), nil)
		out.cov.CopySym(m.cov)
	}
	if m.cov == nil || len(m.data) != m.kind.Dim() || m.cov.SymmetricDim() != m.kind.Dim() {
		return &out
	}

	n := m.kind.Dim()
	j := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		j.Set(i, i, 1)
	}

	if p, ok := m.Position(); ok {
		wp := t.Apply(p)
		out.data[0], out.data[1], out.data[2] = wp.X, wp.Y, wp.Z
		j.Slice(0, 3, 0, 3).(*mat.Dense).Copy(fusion.RotationMatrix(t.Rotation))
	}
	if m.kind.HasRotation() {
		o := m.kind.rotationOffset()
		q, _ := fusion.NormalizeQuat(quat.Mul(t.Rotation, m.quat()))
		out.data[o], out.data[o+1], out.data[o+2], out.data[o+3] = q.Real, q.Imag, q.Jmag, q.Kmag
		j.Slice(o, o+4, o, o+4).(*mat.Dense).Copy(fusion.LeftMultiplyMatrix(t.Rotation))
	}
	if m.kind == KindScale {
		return &out
	}

	out.cov = fusion.RotateCovariance(j, m.cov)
	return &out
}
