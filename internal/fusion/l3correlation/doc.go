// Package l3correlation owns Layer 3 (Correlation) of the fusion model.
//
// Responsibilities: deciding which skeleton node an ambiguous sensor
// actually tracks. Evidence is built from frame-invariant motion
// signatures (displacement length, rotation angle between consecutive
// batches) so it is usable before any cross-system calibration exists.
// A Hungarian assignment keeps sensors of one system from collapsing onto
// the same node in one cycle.
// Key types: Correlator, Ranking.
//
// Dependency rule: L3 may depend on L1-L2, never on L4-L5.
package l3correlation
