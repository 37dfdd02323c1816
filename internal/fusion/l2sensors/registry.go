package l2sensors

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/posefusion/internal/fusion/l1measurements"
)

// ErrUnknownSensor is returned when an operation names a sensor that was
// never registered.
var ErrUnknownSensor = errors.New("unknown sensor")

// Sensor tracks which skeleton nodes one physical sensor might observe.
// The candidate list starts as every node declared for the sensor and is
// narrowed to one by the correlator.
type Sensor struct {
	Key l1measurements.SensorKey

	mu         sync.RWMutex
	candidates []l1measurements.NodeDescriptor
	collapsed  bool
}

// Candidates returns the current candidate nodes in insertion order.
func (s *Sensor) Candidates() []l1measurements.NodeDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]l1measurements.NodeDescriptor, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// Resolved reports whether exactly one candidate remains.
func (s *Sensor) Resolved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candidates) == 1
}

// Collapsed reports whether the correlator narrowed this sensor.
func (s *Sensor) Collapsed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collapsed
}

// Node returns the single remaining candidate, if resolved.
func (s *Sensor) Node() (l1measurements.NodeDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candidates) != 1 {
		return "", false
	}
	return s.candidates[0], true
}

// HasCandidate reports whether node is among the candidates.
func (s *Sensor) HasCandidate(node l1measurements.NodeDescriptor) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasCandidateLocked(node)
}

func (s *Sensor) hasCandidateLocked(node l1measurements.NodeDescriptor) bool {
	for _, c := range s.candidates {
		if c == node {
			return true
		}
	}
	return false
}

// Collapse narrows the sensor to node. Called by the correlator only.
// It is a no-op if node is not a candidate.
func (s *Sensor) Collapse(node l1measurements.NodeDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasCandidateLocked(node) {
		return false
	}
	s.candidates = []l1measurements.NodeDescriptor{node}
	s.collapsed = true
	return true
}

func (s *Sensor) addCandidates(nodes []l1measurements.NodeDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collapsed {
		return
	}
	for _, n := range nodes {
		if !s.hasCandidateLocked(n) {
			s.candidates = append(s.candidates, n)
		}
	}
}

// Registry is the sensor arena: system -> id -> Sensor. Sensors are created
// on first sight and never evicted. Every method is safe for concurrent use
// by producers.
type Registry struct {
	mu      sync.Mutex
	sensors map[l1measurements.SystemDescriptor]map[l1measurements.SensorID]*Sensor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sensors: make(map[l1measurements.SystemDescriptor]map[l1measurements.SensorID]*Sensor),
	}
}

// RegisterIfAbsent returns the sensor for key, creating it on first sight.
func (r *Registry) RegisterIfAbsent(key l1measurements.SensorKey) *Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(key)
}

func (r *Registry) registerLocked(key l1measurements.SensorKey) *Sensor {
	bySystem, ok := r.sensors[key.System]
	if !ok {
		bySystem = make(map[l1measurements.SensorID]*Sensor)
		r.sensors[key.System] = bySystem
	}
	s, ok := bySystem[key.ID]
	if !ok {
		s = &Sensor{Key: key}
		bySystem[key.ID] = s
	}
	return s
}

// Attach binds m to the sensor (system, id), creating the sensor if needed.
func (r *Registry) Attach(m *l1measurements.Measurement, system l1measurements.SystemDescriptor, id l1measurements.SensorID) error {
	key := l1measurements.SensorKey{System: system, ID: id}
	r.RegisterIfAbsent(key)
	return m.BindSensor(key)
}

// Sensor looks up a sensor without creating it.
func (r *Registry) Sensor(key l1measurements.SensorKey) (*Sensor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sensors[key.System][key.ID]
	return s, ok
}

// AddCandidates widens an uncollapsed sensor's candidate set. Candidates
// offered to a sensor the correlator already collapsed are ignored.
func (r *Registry) AddCandidates(key l1measurements.SensorKey, nodes ...l1measurements.NodeDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sensors[key.System][key.ID]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownSensor, key)
	}
	s.addCandidates(nodes)
	return nil
}

// Sensors returns every sensor ordered by system then id.
func (r *Registry) Sensors() []*Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Sensor
	for _, bySystem := range r.sensors {
		for _, s := range bySystem {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.System != out[j].Key.System {
			return out[i].Key.System < out[j].Key.System
		}
		return out[i].Key.ID < out[j].Key.ID
	})
	return out
}

// Len returns the number of registered sensors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, bySystem := range r.sensors {
		n += len(bySystem)
	}
	return n
}
