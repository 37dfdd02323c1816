// Package ingest feeds recorded or live measurement streams into a Core.
//
// The wire format is JSON lines, one Record per line. A stream comes from a
// file (Replay, grouped into fuse cycles by timestamp) or from a serial
// device (Live, fused on a wall-clock cadence). Skeleton topologies are
// loaded from a separate JSON document.
package ingest
