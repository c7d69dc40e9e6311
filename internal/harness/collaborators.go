package harness

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Instance is a problem instance in the optimizer's internal representation.
type Instance interface {
	Name() string
	TotalItemQty() int
}

// Solution is a snapshot of an optimizer's layout.
type Solution interface {
	// Summary is a short human-readable description for diagnostics.
	Summary() string
}

// Importer converts the external wire-format instance into an Instance.
type Importer interface {
	Import(raw json.RawMessage) (Instance, error)
}

// ReportKind classifies a solution reported to a Listener.
type ReportKind int

// Report kinds.
const (
	ReportExplore ReportKind = iota
	ReportCompress
	ReportFinal
)

func (k ReportKind) String() string {
	switch k {
	case ReportExplore:
		return "explore"
	case ReportCompress:
		return "compress"
	case ReportFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Listener receives solutions while the optimizer searches. The optimizer
// chooses the cadence.
type Listener interface {
	Report(kind ReportKind, sol Solution)
}

// NopListener ignores every report.
type NopListener struct{}

// Report does nothing.
func (NopListener) Report(ReportKind, Solution) {}

// Signal is polled by the optimizer to learn whether it must stop. Polling
// cadence bounds cancellation latency.
type Signal interface {
	Poll() bool
}

// OptimizeParams is everything an optimizer needs for one run.
type OptimizeParams struct {
	Instance Instance
	RNG      *rand.Rand
	Listener Listener
	Signal   Signal
	Explore  time.Duration
	Compress time.Duration
	Tuning   Tuning
	Logger   *slog.Logger
}

// Optimizer searches for a solution within the given budgets, polling
// Signal, and returns its best solution. A cancelled optimizer returns its
// best solution so far rather than an error.
type Optimizer interface {
	Optimize(p OptimizeParams) (Solution, error)
}

// Renderer converts a solution into a portable vector-graphics document.
type Renderer interface {
	Render(inst Instance, sol Solution) (string, error)
}

// Collaborators groups the external components one harness drives.
type Collaborators struct {
	Importer  Importer
	Optimizer Optimizer
	Renderer  Renderer
}
