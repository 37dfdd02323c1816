package units

import (
	"math"
	"testing"
)

func TestIsValidLength(t *testing.T) {
	tests := []struct {
		unit string
		want bool
	}{
		{"m", true},
		{"cm", true},
		{"mm", true},
		{"in", true},
		{"", true},
		{"ft", false},
		{"M", false},
	}
	for _, tt := range tests {
		if got := IsValidLength(tt.unit); got != tt.want {
			t.Errorf("IsValidLength(%q) = %v, want %v", tt.unit, got, tt.want)
		}
	}
}

func TestToMetres(t *testing.T) {
	tests := []struct {
		v    float64
		unit string
		want float64
	}{
		{1.5, "m", 1.5},
		{150, "cm", 1.5},
		{1500, "mm", 1.5},
		{10, "in", 0.254},
		{2, "", 2},
	}
	for _, tt := range tests {
		got, err := ToMetres(tt.v, tt.unit)
		if err != nil {
			t.Fatalf("ToMetres(%v, %q): %v", tt.v, tt.unit, err)
		}
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ToMetres(%v, %q) = %v, want %v", tt.v, tt.unit, got, tt.want)
		}
	}

	if _, err := ToMetres(1, "furlong"); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestAngles(t *testing.T) {
	if got := DegToRad(180); math.Abs(got-math.Pi) > 1e-15 {
		t.Errorf("DegToRad(180) = %v", got)
	}
	if got := RadToDeg(DegToRad(37)); math.Abs(got-37) > 1e-12 {
		t.Errorf("round trip = %v", got)
	}
}
