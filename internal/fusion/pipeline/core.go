package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/posefusion/internal/fusion"
	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
	"github.com/banshee-data/posefusion/internal/fusion/l2sensors"
	"github.com/banshee-data/posefusion/internal/fusion/l3correlation"
	"github.com/banshee-data/posefusion/internal/fusion/l4calibration"
	"github.com/banshee-data/posefusion/internal/fusion/l5skeleton"
)

var (
	// ErrInvalidMeasurement is returned for measurements whose metadata
	// failed validation or was never set.
	ErrInvalidMeasurement = errors.New("invalid measurement")
	// ErrUnboundMeasurement is returned for measurements with no sensor.
	ErrUnboundMeasurement = errors.New("measurement has no sensor")
	// ErrNoCandidates is returned when neither the call nor the sensor
	// names a node the measurement could belong to.
	ErrNoCandidates = errors.New("sensor has no candidate nodes")
	// ErrBufferFull is returned when MaxBuffer measurements are pending.
	ErrBufferFull = errors.New("measurement buffer full")
)

// CycleReport summarises one fusion cycle.
type CycleReport struct {
	RunID   uuid.UUID
	Cycle   int
	Drained int

	// Stage flags after this cycle. Calibrated implies Correlated, Fused
	// implies Calibrated.
	Correlated bool
	Calibrated bool
	Fused      bool

	Collapsed       []l1measurements.SensorKey
	NewlyCalibrated []l4calibration.CalibrationResult
	Updated         []l1measurements.NodeDescriptor
}

// Core owns the sensor registry, the measurement buffer and the three
// stages. Producers may call SetMeasurementSensorInfo and AddMeasurement
// from any goroutine; the buffer append is their only synchronisation
// point with Fuse. Fuse calls are serialised.
type Core struct {
	cfg   Config
	runID uuid.UUID

	registry *l2sensors.Registry

	bufMu  sync.Mutex
	buffer []*l1measurements.Measurement

	topoMu sync.RWMutex
	nodes  map[l1measurements.NodeDescriptor]struct{}

	// mu guards the stages and the cycle counter.
	mu         sync.RWMutex
	correlator *l3correlation.Correlator
	calibrator *l4calibration.Calibrator
	skeleton   *l5skeleton.Graph
	cycle      int
	correlated bool
	calibrated bool
	observer   func(CycleReport)
}

// NewCore creates a Core with an empty skeleton and registry.
func NewCore(cfg Config) *Core {
	registry := l2sensors.NewRegistry()
	return &Core{
		cfg:        cfg,
		runID:      uuid.New(),
		registry:   registry,
		nodes:      make(map[l1measurements.NodeDescriptor]struct{}),
		correlator: l3correlation.NewCorrelator(cfg.Correlation, registry),
		calibrator: l4calibration.NewCalibrator(cfg.Calibration, registry),
		skeleton:   l5skeleton.NewGraph(cfg.QueuePolicy),
	}
}

// RunID identifies this Core's lifetime in persisted records.
func (c *Core) RunID() uuid.UUID { return c.runID }

// AddNode adds node under parent with the configured default model. An
// empty parent declares the root.
func (c *Core) AddNode(node, parent l1measurements.NodeDescriptor) error {
	return c.AddNodeWithModel(node, parent, c.cfg.DefaultModel)
}

// AddNodeWithModel adds node under parent with an explicit model.
func (c *Core) AddNodeWithModel(node, parent l1measurements.NodeDescriptor, model l5skeleton.ModelKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.skeleton.AddNode(node, parent, model); err != nil {
		return err
	}
	c.topoMu.Lock()
	c.nodes[node] = struct{}{}
	c.topoMu.Unlock()
	return nil
}

// SetMeasurementSensorInfo binds m to sensor (system, id), registering the
// sensor on first sight.
func (c *Core) SetMeasurementSensorInfo(m *l1measurements.Measurement, system l1measurements.SystemDescriptor, id l1measurements.SensorID) error {
	return c.registry.Attach(m, system, id)
}

// AddMeasurement buffers m for the next cycle. nodes are the skeleton
// nodes m's sensor might be observing; they widen the sensor's candidate
// set until the correlator resolves it.
func (c *Core) AddMeasurement(m *l1measurements.Measurement, nodes ...l1measurements.NodeDescriptor) error {
	if m == nil || !m.Valid() {
		return ErrInvalidMeasurement
	}
	key, bound := m.Sensor()
	if !bound {
		return ErrUnboundMeasurement
	}
	c.topoMu.RLock()
	for _, n := range nodes {
		if _, ok := c.nodes[n]; !ok {
			c.topoMu.RUnlock()
			return fmt.Errorf("%w: %s", l5skeleton.ErrUnknownNode, n)
		}
	}
	c.topoMu.RUnlock()

	if err := c.registry.AddCandidates(key, nodes...); err != nil {
		return err
	}
	if s, ok := c.registry.Sensor(key); !ok || len(s.Candidates()) == 0 {
		return fmt.Errorf("%w: %v", ErrNoCandidates, key)
	}

	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	if c.cfg.MaxBuffer > 0 && len(c.buffer) >= c.cfg.MaxBuffer {
		return fmt.Errorf("%w: %d pending", ErrBufferFull, len(c.buffer))
	}
	c.buffer = append(c.buffer, m)
	return nil
}

// Pending returns the number of buffered measurements.
func (c *Core) Pending() int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return len(c.buffer)
}

// SetCycleObserver installs fn to be called after every Fuse, outside the
// Core's locks. A nil fn removes the observer.
func (c *Core) SetCycleObserver(fn func(CycleReport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// Fuse runs one cycle: it drains the buffer, then runs the correlator, the
// calibrator once correlation is stable, and the skeleton once calibration
// is stable. Calibrated measurements are re-expressed in the reference
// frame before they reach the skeleton.
func (c *Core) Fuse() CycleReport {
	c.mu.Lock()

	c.bufMu.Lock()
	batch := c.buffer
	c.buffer = nil
	c.bufMu.Unlock()

	c.cycle++
	report := CycleReport{RunID: c.runID, Cycle: c.cycle, Drained: len(batch)}

	c.correlator.AddMeasurementGroup(batch)
	report.Collapsed = c.correlator.Identify()
	report.Correlated = c.correlator.IsStable()
	if report.Correlated != c.correlated {
		c.correlated = report.Correlated
		fusion.Opsf("cycle %d: correlation stable=%v", c.cycle, report.Correlated)
	}

	if report.Correlated {
		c.calibrator.AddMeasurementGroup(batch)
		report.NewlyCalibrated = c.calibrator.Calibrate()
		report.Calibrated = c.calibrator.IsStable()
		if report.Calibrated != c.calibrated {
			c.calibrated = report.Calibrated
			ref, _ := c.calibrator.Reference()
			fusion.Opsf("cycle %d: calibration stable=%v (reference %s)", c.cycle, report.Calibrated, ref)
		}
	}

	if report.Calibrated {
		c.enqueue(batch)
		report.Updated = c.skeleton.Fuse()
		report.Fused = true
	}

	observer := c.observer
	c.mu.Unlock()

	fusion.Tracef("cycle %d: drained=%d correlated=%v calibrated=%v updated=%d",
		report.Cycle, report.Drained, report.Correlated, report.Calibrated, len(report.Updated))
	if observer != nil {
		observer(report)
	}
	return report
}

// enqueue routes each resolved measurement to its node in the reference frame.
func (c *Core) enqueue(batch []*l1measurements.Measurement) {
	for _, m := range batch {
		key, _ := m.Sensor()
		s, ok := c.registry.Sensor(key)
		if !ok {
			continue
		}
		node, ok := s.Node()
		if !ok {
			continue
		}
		toRef, ok := c.calibrator.TransformToReference(key.System)
		if !ok {
			fusion.Diagf("cycle %d: no calibrated path from %s to reference", c.cycle, key.System)
			continue
		}
		if err := c.skeleton.AddMeasurement(node, m.Transformed(toRef)); err != nil {
			fusion.Opsf("cycle %d: %v", c.cycle, err)
		}
	}
}

// GetCalibrationResult returns the calibration mapping s1's frame into
// s2's. Check Stable before trusting the transform.
func (c *Core) GetCalibrationResult(s1, s2 l1measurements.SystemDescriptor) l4calibration.CalibrationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calibrator.GetResultsFor(s1, s2)
}

// CalibrationResults returns every system pair's current result.
func (c *Core) CalibrationResults() []l4calibration.CalibrationResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calibrator.Results()
}

// Reference returns the system fused state is expressed in.
func (c *Core) Reference() (l1measurements.SystemDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calibrator.Reference()
}

// Stable reports the correlation and calibration stage flags as of the
// last cycle.
func (c *Core) Stable() (correlated, calibrated bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.correlated, c.calibrated
}

// Rankings returns the correlator's current evidence for ambiguous sensors.
func (c *Core) Rankings() []l3correlation.Ranking {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.correlator.Rankings()
}

// Sensor returns the registered sensor for key.
func (c *Core) Sensor(key l1measurements.SensorKey) (*l2sensors.Sensor, bool) {
	return c.registry.Sensor(key)
}

// State returns node's state relative to its parent.
func (c *Core) State(node l1measurements.NodeDescriptor) (l5skeleton.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skeleton.State(node)
}

// WorldState returns node's state in the reference frame.
func (c *Core) WorldState(node l1measurements.NodeDescriptor) (l5skeleton.State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skeleton.WorldState(node)
}

// Nodes returns skeleton node names in insertion order.
func (c *Core) Nodes() []l1measurements.NodeDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skeleton.Nodes()
}
