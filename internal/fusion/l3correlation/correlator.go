package l3correlation

import (
	"sort"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/config"
	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l2sensors"
)

// Config holds the correlator's decision parameters.
type Config struct {
	// Margin is the log-likelihood ratio the best candidate must hold over
	// the runner-up before a sensor collapses onto it.
	Margin float64
	// MinSamples is the number of compared motion samples every candidate
	// needs before a sensor is ranked at all.
	MinSamples int
	// NoiseFloor is added to every comparison variance (m² or rad²).
	NoiseFloor float64
	// ActiveBatches is how many batches a sensor stays active after its
	// last measurement. Only active sensors can hold IsStable false.
	ActiveBatches int
}

// DefaultConfig returns default correlator configuration.
func DefaultConfig() Config {
	return Config{
		Margin:        4.6, // ≈ ln(100)
		MinSamples:    5,
		NoiseFloor:    1e-6,
		ActiveBatches: 10,
	}
}

// ConfigFromFusion builds a Config from a loaded FusionConfig.
func ConfigFromFusion(cfg *config.FusionConfig) Config {
	return Config{
		Margin:        cfg.GetCorrelationMargin(),
		MinSamples:    cfg.GetMinCorrelationSamples(),
		NoiseFloor:    cfg.GetCorrelationNoiseFloor(),
		ActiveBatches: cfg.GetCorrelationActiveBatches(),
	}
}

// pose is the latest observation of one sensor within one batch.
type pose struct {
	batch      int
	timestamp  float64
	confidence float64

	pos    r3.Vec
	posVar float64
	hasPos bool

	rot    quat.Number
	rotVar float64
	hasRot bool
}

// motion is a sensor's frame-invariant movement between consecutive batches.
type motion struct {
	linear, linearVar   float64
	angular, angularVar float64
	hasLinear           bool
	hasAngular          bool
	confidence          float64
}

type evidence struct {
	logLik  float64
	samples int
}

// CandidateScore is one candidate's accumulated evidence.
type CandidateScore struct {
	Node          l1measurements.NodeDescriptor
	LogLikelihood float64
	Samples       int
}

// Ranking is an ambiguous sensor's candidates, best first.
type Ranking struct {
	Sensor     l1measurements.SensorKey
	Candidates []CandidateScore
	// Decidable is false while any candidate lacks MinSamples samples.
	Decidable bool
	// Margin is the log-likelihood lead of the first candidate over the second.
	Margin float64
}

// Correlator narrows each sensor's candidate set to the node it tracks.
// It is driven from a single goroutine by the pipeline.
type Correlator struct {
	cfg      Config
	registry *l2sensors.Registry

	batch    int
	last     map[l1measurements.SensorKey]pose
	seen     map[l1measurements.SensorKey]bool
	evidence map[l1measurements.SensorKey]map[l1measurements.NodeDescriptor]*evidence
}

// NewCorrelator creates a correlator reading and collapsing sensors in registry.
func NewCorrelator(cfg Config, registry *l2sensors.Registry) *Correlator {
	return &Correlator{
		cfg:      cfg,
		registry: registry,
		last:     make(map[l1measurements.SensorKey]pose),
		seen:     make(map[l1measurements.SensorKey]bool),
		evidence: make(map[l1measurements.SensorKey]map[l1measurements.NodeDescriptor]*evidence),
	}
}

// latestPerSensor reduces a batch to the newest pose of each sensor, with
// arrival order breaking timestamp ties. Position and rotation are taken
// independently so a rotation-only record does not hide a position.
func latestPerSensor(batch []*l1measurements.Measurement, index int) ([]l1measurements.SensorKey, map[l1measurements.SensorKey]pose) {
	type stamped struct {
		pose
		posT, rotT float64
	}
	var order []l1measurements.SensorKey
	acc := make(map[l1measurements.SensorKey]*stamped)
	for _, m := range batch {
		key, bound := m.Sensor()
		if !bound || !m.Valid() {
			continue
		}
		st, ok := acc[key]
		if !ok {
			st = &stamped{pose: pose{batch: index, timestamp: m.Timestamp()}}
			acc[key] = st
			order = append(order, key)
		}
		ts := m.Timestamp()
		if ts >= st.timestamp {
			st.timestamp = ts
			st.confidence = m.Confidence()
		}
		if pos, ok := m.Position(); ok && (!st.hasPos || ts >= st.posT) {
			st.pos, st.posVar, st.hasPos, st.posT = pos, m.PositionVariance(), true, ts
		}
		if rot, ok := m.Rotation(); ok && (!st.hasRot || ts >= st.rotT) {
			st.rot, st.rotVar, st.hasRot, st.rotT = rot, m.RotationVariance(), true, ts
		}
	}
	out := make(map[l1measurements.SensorKey]pose, len(acc))
	for key, st := range acc {
		out[key] = st.pose
	}
	return order, out
}

// AddMeasurementGroup absorbs one batch of sensor-bound measurements.
// Each batch is one correlation step: a sensor's motion is its pose change
// since the previous batch, and sensors are only compared when both moved
// across the same pair of batches.
// An empty batch is ignored and does not break motion continuity.
func (c *Correlator) AddMeasurementGroup(batch []*l1measurements.Measurement) {
	if len(batch) == 0 {
		return
	}
	c.batch++
	order, current := latestPerSensor(batch, c.batch)

	motions := make(map[l1measurements.SensorKey]motion)
	for _, key := range order {
		cur := current[key]
		c.seen[key] = true
		if prev, ok := c.last[key]; ok && prev.batch == c.batch-1 {
			motions[key] = motionBetween(prev, cur)
		}
		c.last[key] = cur
	}
	if len(motions) == 0 {
		return
	}

	refs := make(map[l1measurements.NodeDescriptor][]l1measurements.SensorKey)
	var ambiguous []*l2sensors.Sensor
	for _, key := range order {
		if _, ok := motions[key]; !ok {
			continue
		}
		s, ok := c.registry.Sensor(key)
		if !ok {
			continue
		}
		if node, ok := s.Node(); ok {
			refs[node] = append(refs[node], key)
		} else if len(s.Candidates()) > 1 {
			ambiguous = append(ambiguous, s)
		}
	}

	for _, s := range ambiguous {
		mine := motions[s.Key]
		for _, node := range s.Candidates() {
			for _, refKey := range refs[node] {
				c.accumulate(s.Key, node, mine, motions[refKey])
			}
		}
	}
}

func motionBetween(prev, cur pose) motion {
	mo := motion{confidence: min(prev.confidence, cur.confidence)}
	if prev.hasPos && cur.hasPos {
		mo.linear = r3.Norm(r3.Sub(cur.pos, prev.pos))
		mo.linearVar = prev.posVar + cur.posVar
		mo.hasLinear = true
	}
	if prev.hasRot && cur.hasRot {
		mo.angular = fusion.QuatAngle(prev.rot, cur.rot)
		// angle ≈ 2·|vector part| for small rotations
		mo.angularVar = 4 * (prev.rotVar + cur.rotVar)
		mo.hasAngular = true
	}
	return mo
}

func (c *Correlator) accumulate(key l1measurements.SensorKey, node l1measurements.NodeDescriptor, mine, ref motion) {
	w := min(mine.confidence, ref.confidence)
	var ll float64
	var n int
	if mine.hasLinear && ref.hasLinear {
		d := mine.linear - ref.linear
		ll += -0.5 * w * d * d / (mine.linearVar + ref.linearVar + c.cfg.NoiseFloor)
		n++
	}
	if mine.hasAngular && ref.hasAngular {
		d := mine.angular - ref.angular
		ll += -0.5 * w * d * d / (mine.angularVar + ref.angularVar + c.cfg.NoiseFloor)
		n++
	}
	if n == 0 {
		return
	}
	bySensor, ok := c.evidence[key]
	if !ok {
		bySensor = make(map[l1measurements.NodeDescriptor]*evidence)
		c.evidence[key] = bySensor
	}
	ev, ok := bySensor[node]
	if !ok {
		ev = &evidence{}
		bySensor[node] = ev
	}
	ev.logLik += ll
	ev.samples++
}

// Rankings returns the current ranking of every seen ambiguous sensor.
func (c *Correlator) Rankings() []Ranking {
	var out []Ranking
	for _, s := range c.registry.Sensors() {
		if !c.seen[s.Key] {
			continue
		}
		candidates := s.Candidates()
		if len(candidates) < 2 {
			continue
		}
		out = append(out, c.rank(s.Key, candidates))
	}
	return out
}

func (c *Correlator) rank(key l1measurements.SensorKey, candidates []l1measurements.NodeDescriptor) Ranking {
	r := Ranking{Sensor: key, Decidable: true}
	for _, node := range candidates {
		score := CandidateScore{Node: node}
		if ev, ok := c.evidence[key][node]; ok {
			score.LogLikelihood = ev.logLik
			score.Samples = ev.samples
		}
		if score.Samples < c.cfg.MinSamples {
			r.Decidable = false
		}
		r.Candidates = append(r.Candidates, score)
	}
	// Stable sort: equal evidence keeps candidate insertion order.
	sort.SliceStable(r.Candidates, func(i, j int) bool {
		return r.Candidates[i].LogLikelihood > r.Candidates[j].LogLikelihood
	})
	if len(r.Candidates) > 1 {
		r.Margin = r.Candidates[0].LogLikelihood - r.Candidates[1].LogLikelihood
	}
	return r
}

// Identify collapses every ambiguous sensor whose best candidate leads the
// runner-up by more than Margin and agrees with the joint assignment of its
// system's ambiguous sensors. It returns the sensors collapsed this call.
func (c *Correlator) Identify() []l1measurements.SensorKey {
	bySystem := make(map[l1measurements.SystemDescriptor][]Ranking)
	var systems []l1measurements.SystemDescriptor
	diag := fusion.Enabled(fusion.StreamDiag)
	for _, r := range c.Rankings() {
		if diag {
			fusion.Diagf("correlation sensor=%v decidable=%v margin=%.2f ranking=%v", r.Sensor, r.Decidable, r.Margin, r.Candidates)
		}
		if !r.Decidable {
			continue
		}
		if _, ok := bySystem[r.Sensor.System]; !ok {
			systems = append(systems, r.Sensor.System)
		}
		bySystem[r.Sensor.System] = append(bySystem[r.Sensor.System], r)
	}

	var collapsed []l1measurements.SensorKey
	for _, system := range systems {
		rankings := bySystem[system]
		assigned := c.jointAssignment(rankings)
		for i, r := range rankings {
			top := r.Candidates[0].Node
			if r.Margin <= c.cfg.Margin || assigned[i] != top {
				continue
			}
			s, ok := c.registry.Sensor(r.Sensor)
			if !ok || !s.Collapse(top) {
				continue
			}
			delete(c.evidence, r.Sensor)
			collapsed = append(collapsed, r.Sensor)
			fusion.Opsf("correlation: sensor %v resolved to %s (margin %.2f over %s)", r.Sensor, top, r.Margin, r.Candidates[1].Node)
		}
	}
	return collapsed
}

// jointAssignment solves the sensor-to-node assignment for one system's
// decidable ambiguous sensors, using mean negative log-likelihood as cost.
func (c *Correlator) jointAssignment(rankings []Ranking) []l1measurements.NodeDescriptor {
	var nodes []l1measurements.NodeDescriptor
	col := make(map[l1measurements.NodeDescriptor]int)
	for _, r := range rankings {
		for _, cs := range r.Candidates {
			if _, ok := col[cs.Node]; !ok {
				col[cs.Node] = len(nodes)
				nodes = append(nodes, cs.Node)
			}
		}
	}

	cost := make([][]float64, len(rankings))
	for i, r := range rankings {
		cost[i] = make([]float64, len(nodes))
		for j := range cost[i] {
			cost[i][j] = hungarianInf
		}
		for _, cs := range r.Candidates {
			if cs.Samples > 0 {
				cost[i][col[cs.Node]] = -cs.LogLikelihood / float64(cs.Samples)
			}
		}
	}

	out := make([]l1measurements.NodeDescriptor, len(rankings))
	for i, j := range HungarianAssign(cost) {
		if j >= 0 {
			out[i] = nodes[j]
		}
	}
	return out
}

// IsStable reports whether every active sensor has exactly one candidate
// node. A sensor is active while its last measurement arrived within the
// most recent ActiveBatches non-empty batches, so an ambiguous sensor that
// went silent stops holding the later stages back.
func (c *Correlator) IsStable() bool {
	for key := range c.seen {
		if !c.active(key) {
			continue
		}
		s, ok := c.registry.Sensor(key)
		if !ok || !s.Resolved() {
			return false
		}
	}
	return true
}

func (c *Correlator) active(key l1measurements.SensorKey) bool {
	last, ok := c.last[key]
	if !ok {
		return false
	}
	window := max(c.cfg.ActiveBatches, 1)
	return c.batch-last.batch < window
}
