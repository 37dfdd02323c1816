// Package l5skeleton owns Layer 5 (Skeleton) of the fusion model.
//
// Responsibilities: the node tree, per-node state models, per-cycle
// measurement queues, replacement updates and world pose composition.
// Node states are held relative to the parent node; measurements are
// queued in the reference frame and re-expressed in the parent frame at
// fuse time.
// Key types: Graph, State, ModelKind, QueuePolicy.
//
// Dependency rule: L5 may depend on L1, never on L2-L4.
package l5skeleton
