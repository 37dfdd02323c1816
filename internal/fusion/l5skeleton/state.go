package l5skeleton

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion"
)

// State is a node's pose estimate. Rotation is the identity for
// position-only models.
type State struct {
	Position r3.Vec
	Rotation quat.Number
	// Covariance is 3x3 over position for Cartesian nodes and 6x6 over
	// position then rotation vector for Twist nodes.
	Covariance *mat.SymDense
	Timestamp  float64
	// Valid is false until the node takes its first measurement.
	Valid bool
}

func initialState(dim int) State {
	return State{
		Rotation:   quat.Number{Real: 1},
		Covariance: mat.NewSymDense(dim, nil),
	}
}

// Transform returns the pose as a rigid transform.
func (s State) Transform() fusion.Transform {
	return fusion.NewTransform(s.Rotation, s.Position)
}

// RotationVector returns the orientation in axis-angle form.
func (s State) RotationVector() r3.Vec {
	return fusion.RotationVector(s.Rotation)
}

// PositionCovariance returns the 3x3 position block.
func (s State) PositionCovariance() *mat.SymDense {
	if s.Covariance == nil {
		return mat.NewSymDense(3, nil)
	}
	return block(s.Covariance, 0)
}

// RotationCovariance returns the 3x3 rotation vector block, or nil when
// the state does not track orientation.
func (s State) RotationCovariance() *mat.SymDense {
	if s.Covariance == nil || s.Covariance.SymmetricDim() < 6 {
		return nil
	}
	return block(s.Covariance, 3)
}

func (s State) clone() State {
	out := s
	if s.Covariance != nil {
		out.Covariance = mat.NewSymDense(s.Covariance.SymmetricDim(), nil)
		out.Covariance.CopySym(s.Covariance)
	}
	return out
}

func block(s *mat.SymDense, from int) *mat.SymDense {
	out := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			out.SetSym(i, j, s.At(from+i, from+j))
		}
	}
	return out
}

func setBlock(dst *mat.SymDense, from int, src mat.Symmetric, scale float64) {
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			dst.SetSym(from+i, from+j, scale*src.At(i, j))
		}
	}
}

func skew(v r3.Vec) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// compose places local, expressed in parent's frame, into the frame parent
// is expressed in. Covariance is propagated to first order: the parent's
// position and rotation uncertainty plus the rotated local uncertainty.
// Cross terms between position and rotation are dropped.
func compose(parent, local State) State {
	r := fusion.RotationMatrix(parent.Rotation)
	lever := r3.Rotation(parent.Rotation).Rotate(local.Position)
	rot, _ := fusion.NormalizeQuat(quat.Mul(parent.Rotation, local.Rotation))

	out := State{
		Position:  r3.Add(parent.Position, lever),
		Rotation:  rot,
		Timestamp: local.Timestamp,
		Valid:     local.Valid,
	}
	dim := 3
	if local.Covariance != nil {
		dim = local.Covariance.SymmetricDim()
	}
	out.Covariance = mat.NewSymDense(dim, nil)

	var posCov mat.SymDense
	posCov.AddSym(parent.PositionCovariance(), fusion.RotateCovariance(r, local.PositionCovariance()))
	parentRot := parent.RotationCovariance()
	if parentRot != nil {
		posCov.AddSym(&posCov, fusion.RotateCovariance(skew(lever), parentRot))
	}
	setBlock(out.Covariance, 0, &posCov, 1)

	if localRot := local.RotationCovariance(); localRot != nil {
		rotCov := fusion.RotateCovariance(r, localRot)
		if parentRot != nil {
			rotCov.AddSym(rotCov, parentRot)
		}
		setBlock(out.Covariance, 3, rotCov, 1)
	}
	return out
}
