// Package pipeline provides the fusion Core that orchestrates the stages
// from L2 Sensors through L5 Skeleton.
//
// This package is the composition root: it imports from layer packages
// (l1measurements, l2sensors, l3correlation, l4calibration, l5skeleton)
// but none of those packages import pipeline/. Adapters (storage, report,
// ingest) observe the Core through cycle observers and never reach into
// the stages directly.
package pipeline
