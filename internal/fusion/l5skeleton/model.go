package l5skeleton

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
)

// ModelKind selects a node's state shape and update rule.
type ModelKind int

const (
	// ModelCartesian tracks position only: 3-vector, 3x3 covariance.
	ModelCartesian ModelKind = iota
	// ModelTwist tracks position and orientation: 6x6 covariance over
	// position and rotation vector.
	ModelTwist
)

func (k ModelKind) String() string {
	switch k {
	case ModelCartesian:
		return "cartesian"
	case ModelTwist:
		return "twist"
	default:
		return fmt.Sprintf("ModelKind(%d)", int(k))
	}
}

// ParseModel converts a model name to a ModelKind.
func ParseModel(s string) (ModelKind, error) {
	switch s {
	case "cartesian":
		return ModelCartesian, nil
	case "twist":
		return ModelTwist, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownModel, s)
	}
}

// Selector returns the queue winner among measurements accepted by accept,
// already expressed in the node's parent frame, or nil if none qualifies.
type Selector func(accept func(*l1measurements.Measurement) bool) *l1measurements.Measurement

// Model is the update rule for one state shape. Update replaces whatever
// parts of s the selected measurements carry and reports whether s changed.
type Model interface {
	Dim() int
	Update(s *State, sel Selector) bool
}

// models is the dispatch table. Graph traversal never switches on kind.
var models = map[ModelKind]Model{
	ModelCartesian: cartesian{},
	ModelTwist:     twist{},
}

func hasPosition(m *l1measurements.Measurement) bool { return m.Kind().HasPosition() }
func hasRotation(m *l1measurements.Measurement) bool { return m.Kind().HasRotation() }

type cartesian struct{}

func (cartesian) Dim() int { return 3 }

func (cartesian) Update(s *State, sel Selector) bool {
	m := sel(hasPosition)
	if m == nil {
		return false
	}
	p, _ := m.Position()
	cov, _ := m.PositionCovariance()
	s.Position = p
	s.Covariance = cov
	s.Timestamp = m.Timestamp()
	s.Valid = true
	return true
}

// twist replaces the position half from the newest position-bearing record
// and the rotation half from the newest rotation-bearing record.
type twist struct{}

func (twist) Dim() int { return 6 }

func (twist) Update(s *State, sel Selector) bool {
	mp := sel(hasPosition)
	mr := sel(hasRotation)
	if mp == nil && mr == nil {
		return false
	}

	cov := mat.NewSymDense(6, nil)
	if s.Covariance != nil && s.Covariance.SymmetricDim() == 6 {
		cov.CopySym(s.Covariance)
	}
	// Halves replaced independently lose their correlation.
	for i := 0; i < 3; i++ {
		for j := 3; j < 6; j++ {
			cov.SetSym(i, j, 0)
		}
	}

	ts := math.Inf(-1)
	if mp != nil {
		p, _ := mp.Position()
		pc, _ := mp.PositionCovariance()
		s.Position = p
		setBlock(cov, 0, pc, 1)
		ts = mp.Timestamp()
	}
	if mr != nil {
		q, _ := mr.Rotation()
		qc, _ := mr.RotationCovariance()
		s.Rotation = q
		// Small-angle map: rotation vector ≈ 2 × quaternion vector part.
		setBlock(cov, 3, vectorPart(qc), 4)
		ts = math.Max(ts, mr.Timestamp())
	}
	if mp != nil && mp == mr {
		full := mp.Covariance()
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				cov.SetSym(i, 3+j, 2*full.At(i, 4+j))
			}
		}
	}

	s.Covariance = cov
	s.Timestamp = ts
	s.Valid = true
	return true
}

// vectorPart extracts the x, y, z block of a 4x4 quaternion covariance.
func vectorPart(qc *mat.SymDense) *mat.SymDense {
	out := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			out.SetSym(i, j, qc.At(1+i, 1+j))
		}
	}
	return out
}
