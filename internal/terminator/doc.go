// Package terminator provides the cooperative cancellation primitive used by
// long-running computations. A Flag is a lock-free boolean cell that a
// controller may flip from any goroutine; a Terminator pairs a Flag with a
// per-run monotonic deadline and is polled by the computation at a cadence it
// controls. Flags are owned by a process-scoped Registry and addressed by
// opaque Handles so that the sharing relationship stays explicit.
package terminator
