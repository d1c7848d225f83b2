// Package contract defines the records exchanged between pipeline stages and
// the single-method Stage interface every pluggable stage implements.
//
// Records are plain values. A stage builds a new record for every unit of
// work and never edits its input; the orchestrator checks each record with
// its Validate method at the stage boundary.
package contract
