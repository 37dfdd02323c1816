// Package l4calibration owns Layer 4 (Calibration) of the fusion model.
//
// Responsibilities: estimating the rigid transform between every pair of
// tracking systems from simultaneous observations of the same skeleton
// node, deciding when each estimate is trustworthy, and chaining pairwise
// transforms into the reference frame.
// Key types: Calibrator, CalibrationResult.
//
// Dependency rule: L4 may depend on L1-L2, never on L3 or L5.
package l4calibration
