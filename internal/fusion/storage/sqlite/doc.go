// Package sqlite persists fusion results: stable calibrations and per-cycle
// world pose snapshots.
//
// All SQL for the fusion layers lives here so that the layer packages
// (L1-L5) and the pipeline stay free of storage concerns. Rows are keyed by
// the Core's run id so several runs can share one database file.
//
// The schema is owned by the embedded migrations/ directory and applied by
// Open through golang-migrate.
package sqlite
