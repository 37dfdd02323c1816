// Package units provides shared constants and conversions for the length
// and angle units accepted on measurement input. Fusion works in metres
// and radians throughout.
package units

import (
	"fmt"
	"math"
)

// Length unit constants
const (
	Metres      = "m"
	Centimetres = "cm"
	Millimetres = "mm"
	Inches      = "in"
)

// ValidLengthUnits contains all valid length unit values
var ValidLengthUnits = []string{Metres, Centimetres, Millimetres, Inches}

// IsValidLength checks if the given unit is a known length unit. The empty
// string is accepted and means metres.
func IsValidLength(unit string) bool {
	if unit == "" {
		return true
	}
	for _, valid := range ValidLengthUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// GetValidLengthUnitsString returns a comma-separated string of valid units for error messages
func GetValidLengthUnitsString() string {
	return "m, cm, mm, in"
}

// MetresPer returns how many metres one unit is.
func MetresPer(unit string) (float64, error) {
	switch unit {
	case Metres, "":
		return 1, nil
	case Centimetres:
		return 0.01, nil
	case Millimetres:
		return 0.001, nil
	case Inches:
		return 0.0254, nil
	default:
		return 0, fmt.Errorf("unknown length unit %q (valid: %s)", unit, GetValidLengthUnitsString())
	}
}

// ToMetres converts v from unit to metres.
func ToMetres(v float64, unit string) (float64, error) {
	scale, err := MetresPer(unit)
	if err != nil {
		return 0, err
	}
	return v * scale, nil
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }
