// Package fusion holds the pieces shared by every layer of the skeletal
// pose fusion model: rigid transforms, calibration quality grading, and the
// ops/diag/trace log streams.
//
// Layers:
//
//	L1 l1measurements  observations and their metadata
//	L2 l2sensors       sensor arena keyed by (system, id)
//	L3 l3correlation   sensor-to-node data association
//	L4 l4calibration   cross-system frame alignment
//	L5 l5skeleton      hierarchical state fusion
//
// Dependency rule: a layer may depend on lower layers and on this package,
// never on a higher layer. pipeline/ is the composition root.
package fusion
