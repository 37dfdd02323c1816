// Package l1measurements owns Layer 1 (Measurements) of the fusion model.
//
// Responsibilities: identifiers for nodes, tracking systems and sensors,
// the Measurement record, its construction helpers and validity checks,
// and re-expression of a measurement in another coordinate frame.
// Key types: Measurement, Kind, NodeDescriptor, SystemDescriptor, SensorKey.
//
// Dependency rule: L1 depends only on the fusion root package.
package l1measurements
