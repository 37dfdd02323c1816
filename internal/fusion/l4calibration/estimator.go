package l4calibration

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
)

// moments are the weighted sufficient statistics of a point pairing
// q ≈ R·p + t. Memory stays constant however many pairs arrive.
type moments struct {
	n      int
	w, w2  float64 // Σw, Σw²
	sp, sq r3.Vec  // Σw·p, Σw·q
	spp    float64 // Σw·|p|²
	sqq    float64 // Σw·|q|²
	spq    [9]float64
	sppT   [9]float64
}

func (m *moments) add(p, q r3.Vec, w float64) {
	m.n++
	m.w += w
	m.w2 += w * w
	m.sp = r3.Add(m.sp, r3.Scale(w, p))
	m.sq = r3.Add(m.sq, r3.Scale(w, q))
	m.spp += w * r3.Dot(p, p)
	m.sqq += w * r3.Dot(q, q)
	pv := [3]float64{p.X, p.Y, p.Z}
	qv := [3]float64{q.X, q.Y, q.Z}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.spq[3*i+j] += w * pv[i] * qv[j]
			m.sppT[3*i+j] += w * pv[i] * pv[j]
		}
	}
}

// orientations accumulate the relative rotation qb⊗qa⁻¹ of paired
// orientation readings. Each sample is sign-aligned with the first so the
// weighted sum stays in one hemisphere.
type orientations struct {
	n     int
	w, w2 float64
	first quat.Number
	sum   quat.Number
}

func (o *orientations) add(qa, qb quat.Number, w float64) {
	r := quat.Mul(qb, quat.Conj(qa))
	if o.n == 0 {
		o.first = r
	}
	if r.Real*o.first.Real+r.Imag*o.first.Imag+r.Jmag*o.first.Jmag+r.Kmag*o.first.Kmag < 0 {
		r = quat.Scale(-1, r)
	}
	o.n++
	o.w += w
	o.w2 += w * w
	o.sum = quat.Add(o.sum, quat.Scale(w, r))
}

// mean returns the weighted mean rotation and its standard error in
// radians. The norm of the mean of unit quaternions is ≈ 1 - E[θ²]/8 for a
// spread of angles θ about the mean.
func (o *orientations) mean() (q quat.Number, se float64, ok bool) {
	if o.n < 3 || o.w <= 0 || o.w2 <= 0 {
		return quat.Number{Real: 1}, math.Inf(1), false
	}
	avg := quat.Scale(1/o.w, o.sum)
	q, ok = fusion.NormalizeQuat(avg)
	if !ok {
		return quat.Number{Real: 1}, math.Inf(1), false
	}
	msd := math.Max(0, 8*(1-quat.Abs(avg)))
	return q, math.Sqrt(msd / (o.w * o.w / o.w2)), true
}

// Rotation sources of an estimate.
const (
	rotationFromPositions = iota
	rotationFromOrientations
	rotationUnobserved
)

// estimate is one solve of the weighted alignment problem.
type estimate struct {
	transform     fusion.Transform
	rmse          float64
	transSE       float64
	rotSE         float64
	effectivePair float64
	source        int
}

// solve runs the weighted Kabsch/Umeyama alignment on the accumulated
// moments. ok is false when the weights are degenerate or the SVD fails.
//
// Rotation is only taken from the point fit when the source points spread
// along at least two axes by more than the fit residual. Otherwise (a node
// held still, or moved along a line) rotation comes from orient when it
// holds enough paired orientations, and failing that the estimate is
// translation only with rotSE left at +Inf.
func (m *moments) solve(orient *orientations) (est estimate, ok bool) {
	if m.n < 3 || m.w <= 0 || m.w2 <= 0 {
		return est, false
	}
	pBar := r3.Scale(1/m.w, m.sp)
	qBar := r3.Scale(1/m.w, m.sq)
	pb := [3]float64{pBar.X, pBar.Y, pBar.Z}
	qb := [3]float64{qBar.X, qBar.Y, qBar.Z}

	// Centred cross-covariance H = Σw(p-p̄)(q-q̄)ᵀ and source spread.
	h := mat.NewDense(3, 3, nil)
	spread := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.Set(i, j, m.spq[3*i+j]-m.w*pb[i]*qb[j])
			if j >= i {
				spread.SetSym(i, j, (m.sppT[3*i+j]-m.w*pb[i]*pb[j])/m.w)
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return est, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V·diag(1,1,d)·Uᵀ with d correcting a reflection.
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	// Residual Σw|b - R·a|² = Σw|a|² + Σw|b|² - 2·tr(R·H) for centred a, b.
	sa := m.spp - m.w*r3.Dot(pBar, pBar)
	sb := m.sqq - m.w*r3.Dot(qBar, qBar)
	meanSquare := func(rot mat.Matrix) float64 {
		var rh mat.Dense
		rh.Mul(rot, h)
		return math.Max(0, (sa+sb-2*mat.Trace(&rh))/m.w)
	}
	mse := meanSquare(&r)
	rot := fusion.QuatFromRotationMatrix(&r)
	est = estimate{
		rotSE:         math.Inf(1),
		effectivePair: m.w * m.w / m.w2,
		source:        rotationUnobserved,
	}

	// Rotation about the least constrained axis is bounded by the middle
	// eigenvalue of the source spread.
	var eig mat.EigenSym
	if eig.Factorize(spread, false) {
		vals := eig.Values(nil) // ascending
		if lambda := vals[1]; lambda > 1e-12 && lambda > mse {
			est.rotSE = math.Sqrt(mse / (est.effectivePair * lambda))
			est.source = rotationFromPositions
		}
	}

	if est.source == rotationUnobserved {
		rot = quat.Number{Real: 1}
		if orient != nil {
			if q, se, ok := orient.mean(); ok {
				rot, est.rotSE, est.source = q, se, rotationFromOrientations
			}
		}
		mse = meanSquare(fusion.RotationMatrix(rot))
	}

	est.transform = fusion.NewTransform(rot, r3.Sub(qBar, r3.Rotation(rot).Rotate(pBar)))
	est.rmse = math.Sqrt(mse)
	est.transSE = math.Sqrt(mse / est.effectivePair)
	return est, true
}
