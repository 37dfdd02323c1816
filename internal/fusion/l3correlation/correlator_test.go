package l3correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posefusion/internal/config"
	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l2sensors"
	"github.com/banshee-data/posefusion/internal/testutil"
)

const (
	handL l1measurements.NodeDescriptor = "hand_l"
	handR l1measurements.NodeDescriptor = "hand_r"
	foot  l1measurements.NodeDescriptor = "foot"

	htc    l1measurements.SystemDescriptor = "htc"
	oculus l1measurements.SystemDescriptor = "oculus"
)

// rig is a two-hand capture: htc tracks both hands with known placement,
// oculus sensors are declared against several nodes and live in their own
// rotated, shifted frame.
type rig struct {
	t        *testing.T
	registry *l2sensors.Registry
	corr     *Correlator
	left     *testutil.Path
	right    *testutil.Path
	frame    fusion.Transform
	step     int
}

func newRig(t *testing.T) *rig {
	t.Helper()
	reg := l2sensors.NewRegistry()
	for id, node := range map[l1measurements.SensorID]l1measurements.NodeDescriptor{1: handL, 2: handR} {
		key := l1measurements.SensorKey{System: htc, ID: id}
		reg.RegisterIfAbsent(key)
		require.NoError(t, reg.AddCandidates(key, node))
	}
	return &rig{
		t:        t,
		registry: reg,
		corr:     NewCorrelator(DefaultConfig(), reg),
		left:     testutil.NewPath(1, r3.Vec{}, 0.05, 0.4),
		right:    testutil.NewPath(2, r3.Vec{}, 0.05, 0.4),
		frame:    fusion.NewTransform(fusion.QuatFromRotationVector(r3.Vec{Z: 1.2}), r3.Vec{X: 0.1, Y: -2}),
	}
}

func (r *rig) declare(id l1measurements.SensorID, nodes ...l1measurements.NodeDescriptor) l1measurements.SensorKey {
	key := l1measurements.SensorKey{System: oculus, ID: id}
	r.registry.RegisterIfAbsent(key)
	require.NoError(r.t, r.registry.AddCandidates(key, nodes...))
	return key
}

func (r *rig) measure(system l1measurements.SystemDescriptor, id l1measurements.SensorID, p r3.Vec) *l1measurements.Measurement {
	m := testutil.PositionMeasurement(p, 0.001, float64(r.step), 1)
	require.NoError(r.t, r.registry.Attach(m, system, id))
	return m
}

// advance moves both hands and feeds one batch. follow maps each oculus
// sensor to the hand it physically sits on.
func (r *rig) advance(follow map[l1measurements.SensorID]*testutil.Path) {
	r.step++
	r.left.Next()
	r.right.Next()
	batch := []*l1measurements.Measurement{
		r.measure(htc, 1, r.left.Position()),
		r.measure(htc, 2, r.right.Position()),
	}
	for id, path := range follow {
		batch = append(batch, r.measure(oculus, id, r.frame.Apply(path.Position())))
	}
	r.corr.AddMeasurementGroup(batch)
}

func TestCorrelator_ConvergesOnMatchingMotion(t *testing.T) {
	r := newRig(t)
	key := r.declare(7, handL, handR)

	var collapsed []l1measurements.SensorKey
	for i := 0; i < 20 && len(collapsed) == 0; i++ {
		r.advance(map[l1measurements.SensorID]*testutil.Path{7: r.right})
		collapsed = r.corr.Identify()
	}

	require.Equal(t, []l1measurements.SensorKey{key}, collapsed)
	s, ok := r.registry.Sensor(key)
	require.True(t, ok)
	node, ok := s.Node()
	require.True(t, ok)
	assert.Equal(t, handR, node)
	assert.True(t, s.Collapsed())
	assert.True(t, r.corr.IsStable())
}

func TestCorrelator_WaitsForMinSamples(t *testing.T) {
	r := newRig(t)
	r.declare(7, handL, handR)

	// The first batch only establishes a pose; each later one adds a sample.
	for i := 0; i < DefaultConfig().MinSamples; i++ {
		r.advance(map[l1measurements.SensorID]*testutil.Path{7: r.right})
	}
	rankings := r.corr.Rankings()
	require.Len(t, rankings, 1)
	assert.False(t, rankings[0].Decidable)
	assert.Empty(t, r.corr.Identify())
	assert.False(t, r.corr.IsStable())
}

func TestCorrelator_CandidateWithoutReferenceStaysUndecided(t *testing.T) {
	r := newRig(t)
	key := r.declare(7, handR, foot)

	for i := 0; i < 30; i++ {
		r.advance(map[l1measurements.SensorID]*testutil.Path{7: r.right})
		assert.Empty(t, r.corr.Identify())
	}

	rankings := r.corr.Rankings()
	require.Len(t, rankings, 1)
	assert.Equal(t, key, rankings[0].Sensor)
	assert.False(t, rankings[0].Decidable)
	s, _ := r.registry.Sensor(key)
	assert.Len(t, s.Candidates(), 2)
}

func TestCorrelator_TieKeepsInsertionOrder(t *testing.T) {
	r := newRig(t)
	// Both hands move identically, so no evidence can separate them.
	r.right = testutil.NewPath(1, r3.Vec{}, 0.05, 0.4)
	r.declare(7, handL, handR)

	for i := 0; i < 15; i++ {
		r.advance(map[l1measurements.SensorID]*testutil.Path{7: r.right})
		assert.Empty(t, r.corr.Identify())
	}

	rankings := r.corr.Rankings()
	require.Len(t, rankings, 1)
	assert.True(t, rankings[0].Decidable)
	assert.Equal(t, 0.0, rankings[0].Margin)
	assert.Equal(t, handL, rankings[0].Candidates[0].Node)
	assert.Equal(t, handR, rankings[0].Candidates[1].Node)
}

func TestCorrelator_CollapseIsMonotonic(t *testing.T) {
	r := newRig(t)
	key := r.declare(7, handL, handR)
	for i := 0; i < 20 && !r.corr.IsStable(); i++ {
		r.advance(map[l1measurements.SensorID]*testutil.Path{7: r.right})
		r.corr.Identify()
	}
	require.True(t, r.corr.IsStable())

	// An outlier that tracks the other hand and a late candidate change nothing.
	for i := 0; i < 10; i++ {
		r.advance(map[l1measurements.SensorID]*testutil.Path{7: r.left})
		assert.Empty(t, r.corr.Identify())
	}
	require.NoError(t, r.registry.AddCandidates(key, handL))

	s, _ := r.registry.Sensor(key)
	assert.Equal(t, []l1measurements.NodeDescriptor{handR}, s.Candidates())
	assert.True(t, r.corr.IsStable())
}

func TestCorrelator_NewAmbiguousSensorBreaksStability(t *testing.T) {
	r := newRig(t)
	r.advance(nil)
	assert.True(t, r.corr.IsStable())

	r.declare(8, handL, handR)
	// Declared but silent sensors do not count.
	assert.True(t, r.corr.IsStable())

	r.advance(map[l1measurements.SensorID]*testutil.Path{8: r.left})
	assert.False(t, r.corr.IsStable())
}

func TestCorrelator_SilentAmbiguousSensorStopsBlocking(t *testing.T) {
	r := newRig(t)
	key := r.declare(9, handL, handR)
	r.advance(map[l1measurements.SensorID]*testutil.Path{9: r.left})
	require.False(t, r.corr.IsStable())

	// Only the resolved htc sensors keep reporting.
	window := DefaultConfig().ActiveBatches
	for i := 1; i < window; i++ {
		r.advance(nil)
		assert.False(t, r.corr.IsStable(), "batch %d is still inside the window", i)
	}
	r.advance(nil)
	assert.True(t, r.corr.IsStable())

	s, _ := r.registry.Sensor(key)
	assert.Len(t, s.Candidates(), 2, "going silent does not resolve the sensor")

	// Reporting again reopens the aggregate flag.
	r.advance(map[l1measurements.SensorID]*testutil.Path{9: r.left})
	assert.False(t, r.corr.IsStable())
}

func TestCorrelator_ActiveWindowFromConfig(t *testing.T) {
	window := 3
	cfg := config.EmptyFusionConfig()
	cfg.CorrelationActiveBatches = &window
	assert.Equal(t, 3, ConfigFromFusion(cfg).ActiveBatches)
}

func TestCorrelator_ContestedNodeResolvesOneSensorPerCycle(t *testing.T) {
	r := newRig(t)
	a := r.declare(7, handL, handR)
	b := r.declare(8, handL, handR)

	// Identical evidence for both sensors: the joint assignment can only
	// give hand_r to one of them per cycle.
	var first []l1measurements.SensorKey
	for i := 0; i < 20 && len(first) == 0; i++ {
		r.advance(map[l1measurements.SensorID]*testutil.Path{7: r.right, 8: r.right})
		first = r.corr.Identify()
	}
	require.Len(t, first, 1)

	second := r.corr.Identify()
	require.Len(t, second, 1)
	assert.ElementsMatch(t, []l1measurements.SensorKey{a, b}, append(first, second...))
	for _, key := range []l1measurements.SensorKey{a, b} {
		s, _ := r.registry.Sensor(key)
		node, ok := s.Node()
		require.True(t, ok)
		assert.Equal(t, handR, node)
	}
}

func TestCorrelator_IgnoresUnboundAndInvalid(t *testing.T) {
	reg := l2sensors.NewRegistry()
	c := NewCorrelator(DefaultConfig(), reg)

	unbound := testutil.PositionMeasurement(r3.Vec{}, 0.01, 0, 1)
	unstamped := l1measurements.NewPositionMeasurement(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})
	require.NoError(t, reg.Attach(unstamped, htc, 1))

	c.AddMeasurementGroup([]*l1measurements.Measurement{unbound, unstamped})
	assert.True(t, c.IsStable())
	assert.Empty(t, c.Rankings())
}

func TestConfigFromFusion_MatchesDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFromFusion(config.MustLoadDefaultConfig()))
}
