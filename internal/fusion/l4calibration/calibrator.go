package l4calibration

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/config"
	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l2sensors"
)

// Config holds the calibrator's acceptance parameters.
type Config struct {
	MinPairs      int     // pairs required before a pair is solved
	Threshold     float64 // Uncertainty (m) below which a pair becomes stable
	LeverArm      float64 // distance (m) over which rotation error is projected
	PairingWindow float64 // max timestamp gap (s) between paired observations
	// ReferenceSystem fixes the output frame. Empty selects the first
	// system that delivers resolved data.
	ReferenceSystem l1measurements.SystemDescriptor
}

// DefaultConfig returns default calibrator configuration.
func DefaultConfig() Config {
	return Config{
		MinPairs:      20,
		Threshold:     0.005,
		LeverArm:      0.5,
		PairingWindow: 0.05,
	}
}

// ConfigFromFusion builds a Config from a loaded FusionConfig.
func ConfigFromFusion(cfg *config.FusionConfig) Config {
	return Config{
		MinPairs:        cfg.GetMinCalibrationPairs(),
		Threshold:       cfg.GetCalibrationThreshold(),
		LeverArm:        cfg.GetCalibrationLeverArm(),
		PairingWindow:   cfg.GetPairingWindow(),
		ReferenceSystem: l1measurements.SystemDescriptor(cfg.GetReferenceSystem()),
	}
}

// pairKey is an unordered system pair in canonical (lexicographic) order.
type pairKey struct {
	a, b l1measurements.SystemDescriptor
}

func canonical(s1, s2 l1measurements.SystemDescriptor) (pairKey, bool) {
	if s1 <= s2 {
		return pairKey{s1, s2}, false
	}
	return pairKey{s2, s1}, true
}

type observation struct {
	pos      r3.Vec
	variance float64
	hasPos   bool

	rot    quat.Number
	rotVar float64
	hasRot bool

	confidence float64
	timestamp  float64
}

type nodeKey struct {
	system l1measurements.SystemDescriptor
	node   l1measurements.NodeDescriptor
}

type pairState struct {
	stats  moments
	orient orientations
	result CalibrationResult
}

// Calibrator estimates the transform between every pair of systems that
// observe a common node. It is driven from a single goroutine by the
// pipeline.
type Calibrator struct {
	cfg      Config
	registry *l2sensors.Registry

	latest  map[nodeKey]observation
	systems []l1measurements.SystemDescriptor
	pairs   map[pairKey]*pairState
}

// NewCalibrator creates a calibrator reading sensor resolution from registry.
func NewCalibrator(cfg Config, registry *l2sensors.Registry) *Calibrator {
	return &Calibrator{
		cfg:      cfg,
		registry: registry,
		latest:   make(map[nodeKey]observation),
		pairs:    make(map[pairKey]*pairState),
	}
}

// AddMeasurementGroup pairs every measurement from a resolved sensor with
// the latest observation of the same node by each other system, when their
// timestamps lie within PairingWindow. Positions feed the point fit and
// orientations feed the rotation fallback. Measurements from unresolved
// sensors are skipped.
func (c *Calibrator) AddMeasurementGroup(batch []*l1measurements.Measurement) {
	for _, m := range batch {
		if !m.Valid() {
			continue
		}
		pos, hasPos := m.Position()
		rot, hasRot := m.Rotation()
		if !hasPos && !hasRot {
			continue
		}
		key, bound := m.Sensor()
		if !bound {
			continue
		}
		s, ok := c.registry.Sensor(key)
		if !ok {
			continue
		}
		node, ok := s.Node()
		if !ok {
			continue
		}
		c.noteSystem(key.System)

		obs := observation{
			pos:        pos,
			variance:   m.PositionVariance(),
			hasPos:     hasPos,
			rot:        rot,
			rotVar:     m.RotationVariance(),
			hasRot:     hasRot,
			confidence: m.Confidence(),
			timestamp:  m.Timestamp(),
		}
		for _, other := range c.systems {
			if other == key.System {
				continue
			}
			prev, ok := c.latest[nodeKey{other, node}]
			if !ok || math.Abs(prev.timestamp-obs.timestamp) > c.cfg.PairingWindow {
				continue
			}
			c.addPair(key.System, obs, other, prev)
		}
		nk := nodeKey{key.System, node}
		if prev, ok := c.latest[nk]; !ok || obs.timestamp >= prev.timestamp {
			c.latest[nk] = obs
		}
	}
}

func (c *Calibrator) noteSystem(s l1measurements.SystemDescriptor) {
	for _, known := range c.systems {
		if known == s {
			return
		}
	}
	c.systems = append(c.systems, s)
	fusion.Diagf("calibration: system %s delivered resolved data", s)
}

func (c *Calibrator) addPair(s1 l1measurements.SystemDescriptor, o1 observation, s2 l1measurements.SystemDescriptor, o2 observation) {
	key, swapped := canonical(s1, s2)
	p, q := o1, o2
	if swapped {
		p, q = o2, o1
	}
	st, ok := c.pairs[key]
	if !ok {
		st = &pairState{result: identityResult(key.a, key.b)}
		c.pairs[key] = st
	}
	if st.result.Stable {
		return
	}
	confidence := min(p.confidence, q.confidence)
	if confidence <= 0 {
		return
	}
	if p.hasPos && q.hasPos {
		st.stats.add(p.pos, q.pos, confidence/(p.variance+q.variance+1e-12))
	}
	if p.hasRot && q.hasRot {
		st.orient.add(p.rot, q.rot, confidence/(p.rotVar+q.rotVar+1e-12))
	}
}

// Calibrate re-solves every unstable pair with at least MinPairs pairs and
// returns the pairs that became stable on this call.
func (c *Calibrator) Calibrate() []CalibrationResult {
	var newlyStable []CalibrationResult
	for _, key := range c.sortedPairs() {
		st := c.pairs[key]
		if st.result.Stable || st.stats.n < c.cfg.MinPairs {
			continue
		}
		est, ok := st.stats.solve(&st.orient)
		if !ok {
			fusion.Diagf("calibration %s->%s: degenerate solve with %d pairs", key.a, key.b, st.stats.n)
			continue
		}
		if !fusion.IsValidTransformMatrix(est.transform.Matrix()) {
			fusion.Opsf("calibration %s->%s: solve produced an invalid transform, discarded", key.a, key.b)
			continue
		}
		// Without any rotation evidence the estimate is a pure offset and
		// only its translation error counts.
		uncertainty := est.transSE
		if est.source != rotationUnobserved {
			uncertainty = math.Max(est.transSE, est.rotSE*c.cfg.LeverArm)
		}
		st.result = CalibrationResult{
			Systems:       [2]l1measurements.SystemDescriptor{key.a, key.b},
			Transform:     est.transform,
			Quality:       est.rmse,
			Uncertainty:   uncertainty,
			RotationError: est.rotSE,
			PairCount:     st.stats.n,
			Stable:        uncertainty < c.cfg.Threshold,
		}
		fusion.Diagf("calibration %s->%s: pairs=%d n_eff=%.1f rmse=%.4f uncertainty=%.4f rotation=%s",
			key.a, key.b, st.stats.n, est.effectivePair, est.rmse, uncertainty, rotationSourceName(est.source))
		if st.result.Stable {
			newlyStable = append(newlyStable, st.result)
			fusion.Opsf("calibration: %s->%s stable after %d pairs (rmse %.4f m, %s)", key.a, key.b, st.stats.n, est.rmse, st.result.Grade())
		}
	}
	return newlyStable
}

func (c *Calibrator) sortedPairs() []pairKey {
	keys := make([]pairKey, 0, len(c.pairs))
	for k := range c.pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].a != keys[j].a {
			return keys[i].a < keys[j].a
		}
		return keys[i].b < keys[j].b
	})
	return keys
}

// Reference returns the system all fused state is expressed in. ok is
// false until one is configured or a system has delivered resolved data.
func (c *Calibrator) Reference() (l1measurements.SystemDescriptor, bool) {
	if c.cfg.ReferenceSystem != "" {
		return c.cfg.ReferenceSystem, true
	}
	if len(c.systems) == 0 {
		return "", false
	}
	return c.systems[0], true
}

// Systems returns the systems that delivered resolved data, in order of
// first appearance.
func (c *Calibrator) Systems() []l1measurements.SystemDescriptor {
	out := make([]l1measurements.SystemDescriptor, len(c.systems))
	copy(out, c.systems)
	return out
}

func rotationSourceName(source int) string {
	switch source {
	case rotationFromPositions:
		return "positions"
	case rotationFromOrientations:
		return "orientations"
	default:
		return "unobserved"
	}
}

// IsStable reports whether every pair with accumulated position pairs is
// stable. Systems that share no node with any other system form no pair
// and do not hold it false; their measurements have no path to the
// reference and are left out of fusion. A single system is trivially
// stable.
func (c *Calibrator) IsStable() bool {
	for _, st := range c.pairs {
		if st.stats.n > 0 && !st.result.Stable {
			return false
		}
	}
	return true
}

// GetResultsFor returns the calibration mapping points in s1's frame into
// s2's frame. Asking for a pair backwards returns the inverse of the stored
// result; asking for a system against itself returns a stable identity. An
// unknown pair returns an identity result that is not stable.
func (c *Calibrator) GetResultsFor(s1, s2 l1measurements.SystemDescriptor) CalibrationResult {
	if s1 == s2 {
		r := identityResult(s1, s2)
		r.Stable = true
		return r
	}
	key, swapped := canonical(s1, s2)
	st, ok := c.pairs[key]
	if !ok {
		return identityResult(s1, s2)
	}
	if swapped {
		return st.result.Inverse()
	}
	return st.result
}

// Results returns the stored result of every pair, in canonical order.
func (c *Calibrator) Results() []CalibrationResult {
	keys := c.sortedPairs()
	out := make([]CalibrationResult, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.pairs[k].result)
	}
	return out
}

// TransformToReference returns the transform taking points in system's
// frame into the reference frame, chaining stable pairs along the shortest
// path. ok is false when no stable chain exists.
func (c *Calibrator) TransformToReference(system l1measurements.SystemDescriptor) (fusion.Transform, bool) {
	ref, ok := c.Reference()
	if !ok {
		return fusion.Identity(), false
	}
	if system == ref {
		return fusion.Identity(), true
	}

	// Breadth-first from the reference; toRef[s] maps s into ref.
	toRef := map[l1measurements.SystemDescriptor]fusion.Transform{ref: fusion.Identity()}
	queue := []l1measurements.SystemDescriptor{ref}
	keys := c.sortedPairs()
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, k := range keys {
			st := c.pairs[k]
			if !st.result.Stable {
				continue
			}
			var next l1measurements.SystemDescriptor
			switch cur {
			case k.a:
				next = k.b
			case k.b:
				next = k.a
			default:
				continue
			}
			if _, seen := toRef[next]; seen {
				continue
			}
			// next -> cur, then cur -> ref.
			toRef[next] = toRef[cur].Compose(c.GetResultsFor(next, cur).Transform)
			if next == system {
				return toRef[next], true
			}
			queue = append(queue, next)
		}
	}
	return fusion.Identity(), false
}
