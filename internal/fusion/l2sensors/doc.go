// Package l2sensors owns Layer 2 (Sensors) of the fusion model.
//
// Responsibilities: the sensor arena keyed by (system, id), lazy sensor
// creation, measurement-to-sensor binding, and each sensor's ordered set of
// candidate skeleton nodes.
// Key types: Registry, Sensor.
//
// Dependency rule: L2 may depend on L1, never on L3-L5.
package l2sensors
