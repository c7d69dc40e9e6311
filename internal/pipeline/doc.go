// Package pipeline defines the named bundles of importer, optimizer and
// renderer a run is executed with, along with the status subset each one
// emits, and a registry that resolves them by name.
package pipeline
