// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files: assertion shorthands, deterministic random sources and
// synthetic tracker trajectories.
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear fails the test if any component of got differs from want
// by more than eps.
func AssertVecNear(t *testing.T, want, got r3.Vec, eps float64) {
	t.Helper()
	d := r3.Sub(got, want)
	if math.Abs(d.X) > eps || math.Abs(d.Y) > eps || math.Abs(d.Z) > eps {
		t.Errorf("vector = %+v, want %+v (±%g)", got, want, eps)
	}
}

// NewRand returns a deterministic random source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Noise adds independent zero-mean Gaussian noise of std sigma to each axis.
func Noise(rng *rand.Rand, v r3.Vec, sigma float64) r3.Vec {
	return r3.Vec{
		X: v.X + rng.NormFloat64()*sigma,
		Y: v.Y + rng.NormFloat64()*sigma,
		Z: v.Z + rng.NormFloat64()*sigma,
	}
}

// Path is a bounded random walk standing in for a tracked limb.
type Path struct {
	rng    *rand.Rand
	origin r3.Vec
	pos    r3.Vec
	step   float64
	bounds float64
}

// NewPath starts a walk at start taking steps of length step, kept within
// ±bounds of start on every axis.
func NewPath(seed uint64, start r3.Vec, step, bounds float64) *Path {
	return &Path{rng: NewRand(seed), origin: start, pos: start, step: step, bounds: bounds}
}

// Position returns the current point without advancing.
func (p *Path) Position() r3.Vec { return p.pos }

// Next advances the walk by one step and returns the new point. Step
// lengths vary between half and one and a half times the nominal step so
// consecutive displacements are distinguishable between walks.
func (p *Path) Next() r3.Vec {
	dir := r3.Unit(r3.Vec{X: p.rng.NormFloat64(), Y: p.rng.NormFloat64(), Z: p.rng.NormFloat64()})
	length := p.step * (0.5 + p.rng.Float64())
	step := r3.Scale(length, dir)
	p.pos = r3.Vec{
		X: p.reflect(p.pos.X, step.X, p.origin.X),
		Y: p.reflect(p.pos.Y, step.Y, p.origin.Y),
		Z: p.reflect(p.pos.Z, step.Z, p.origin.Z),
	}
	return p.pos
}

// reflect moves one axis by d, bouncing off the bounds around origin.
func (p *Path) reflect(x, d, origin float64) float64 {
	if math.Abs(x+d-origin) > p.bounds {
		return x - d
	}
	return x + d
}

// PositionMeasurement builds a stamped position record with isotropic std sigma.
func PositionMeasurement(p r3.Vec, sigma, timestamp, confidence float64) *l1measurements.Measurement {
	v := sigma * sigma
	m := l1measurements.NewPositionMeasurement(p, r3.Vec{X: v, Y: v, Z: v})
	m.SetMetadata(timestamp, confidence)
	return m
}
