package l4calibration

import (
	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
)

// CalibrationResult is the estimated rigid transform between two systems.
// Transform maps points expressed in Systems[0]'s frame into Systems[1]'s.
type CalibrationResult struct {
	Systems   [2]l1measurements.SystemDescriptor
	Transform fusion.Transform
	// Quality is the weighted residual RMSE of the fit in metres.
	Quality float64
	// Uncertainty is the larger of the translation standard error and the
	// rotation standard error projected over the lever arm, in metres. For
	// an offset-only result it is the translation standard error.
	Uncertainty float64
	// RotationError is the rotation standard error in radians. +Inf means
	// the pair never constrained rotation and Transform is a pure offset.
	RotationError float64
	PairCount     int
	Stable        bool
}

// Grade maps Quality onto the pose quality scale.
func (r CalibrationResult) Grade() fusion.PoseQuality {
	if r.PairCount == 0 {
		return fusion.PoseQualityUnknown
	}
	return fusion.GradeRMSE(r.Quality)
}

// Inverse returns the same calibration read in the other direction.
func (r CalibrationResult) Inverse() CalibrationResult {
	out := r
	out.Systems = [2]l1measurements.SystemDescriptor{r.Systems[1], r.Systems[0]}
	out.Transform = r.Transform.Inverse()
	return out
}

func identityResult(a, b l1measurements.SystemDescriptor) CalibrationResult {
	return CalibrationResult{
		Systems:   [2]l1measurements.SystemDescriptor{a, b},
		Transform: fusion.Identity(),
	}
}
