// Package engine provides the asynchronous run execution engine.
// It resolves pipelines via the registry, hands every run its own
// cancellation cell, drives the run's harness on a worker goroutine and
// dual-writes the run's messages to the store and to live subscribers.
package engine
