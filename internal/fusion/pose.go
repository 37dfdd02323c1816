package fusion

import "math"

// PoseQuality represents the assessed quality of a cross-system calibration.
type PoseQuality string

const (
	// PoseQualityExcellent indicates RMSE < 5mm
	PoseQualityExcellent PoseQuality = "excellent"
	// PoseQualityGood indicates RMSE 5-15mm - good for full-body tracking
	PoseQualityGood PoseQuality = "good"
	// PoseQualityFair indicates RMSE 15-30mm - usable but visibly jittery
	PoseQualityFair PoseQuality = "fair"
	// PoseQualityPoor indicates RMSE > 30mm
	PoseQualityPoor PoseQuality = "poor"
	// PoseQualityUnknown indicates RMSE not computed
	PoseQualityUnknown PoseQuality = "unknown"
)

// Calibration RMSE thresholds (meters)
const (
	RMSEThresholdExcellent = 0.005
	RMSEThresholdGood      = 0.015
	RMSEThresholdFair      = 0.030
	// MatrixValidationTolerance is the tolerance for checking rotation matrix validity
	MatrixValidationTolerance = 0.01
)

// GradeRMSE maps a residual RMSE to a PoseQuality. Zero means not computed.
func GradeRMSE(rmse float64) PoseQuality {
	switch {
	case rmse == 0 || math.IsNaN(rmse):
		return PoseQualityUnknown
	case rmse < RMSEThresholdExcellent:
		return PoseQualityExcellent
	case rmse < RMSEThresholdGood:
		return PoseQualityGood
	case rmse < RMSEThresholdFair:
		return PoseQualityFair
	default:
		return PoseQualityPoor
	}
}

// IsValidTransformMatrix checks if a 4x4 row-major matrix is a usable
// rigid transform between two tracking frames: every entry finite, a
// proper rotation block (det ≈ 1, so no mirror) and a [0 0 0 1] last row.
func IsValidTransformMatrix(T [16]float64) bool {
	for _, v := range T {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// Check determinant ≈ 1 (proper rotation, not reflection)
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}

// String returns a human-readable description of the pose quality.
func (q PoseQuality) String() string {
	switch q {
	case PoseQualityExcellent:
		return "excellent (RMSE < 5mm)"
	case PoseQualityGood:
		return "good (RMSE 5-15mm)"
	case PoseQualityFair:
		return "fair (RMSE 15-30mm)"
	case PoseQualityPoor:
		return "poor (RMSE > 30mm)"
	case PoseQualityUnknown:
		return "unknown (RMSE not computed)"
	default:
		return string(q)
	}
}
