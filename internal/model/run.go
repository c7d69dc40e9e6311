package model

import (
	"time"

	"github.com/seantiz/nester/internal/protocol"
)

// Run lifecycle states. They mirror the harness state machine.
const (
	StateIdle        = "idle"
	StateConfiguring = "configuring"
	StateImporting   = "importing"
	StateRunning     = "running"
	StateExporting   = "exporting"
	StateFinished    = "finished"
	StateError       = "error"
)

// Pipeline names.
const (
	PipelineSparrow = "sparrow"
	PipelineLBF     = "lbf"
)

// validTransitions maps each state to the states it may move to. Every
// non-terminal state may fail directly to error; nothing leaves a terminal
// state.
var validTransitions = map[string]map[string]bool{
	StateIdle: {
		StateConfiguring: true,
		StateError:       true,
	},
	StateConfiguring: {
		StateImporting: true,
		StateError:     true,
	},
	StateImporting: {
		StateRunning: true,
		StateError:   true,
	},
	StateRunning: {
		StateExporting: true,
		StateError:     true,
	},
	StateExporting: {
		StateFinished: true,
		StateError:    true,
	},
}

// ValidTransition reports whether moving from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether state ends a run.
func Terminal(state string) bool {
	return state == StateFinished || state == StateError
}

// Run is one computation submitted to the engine.
type Run struct {
	ID           string     `json:"id"`
	Pipeline     string     `json:"pipeline"`
	State        string     `json:"state"`
	CancelHandle uint32     `json:"cancel_handle"`
	Seed         *uint64    `json:"seed,omitempty"`
	TimeLimitS   *float64   `json:"time_limit_s,omitempty"`
	Cancelled    bool       `json:"cancelled"`
	Error        string     `json:"error,omitempty"`
	Artifact     string     `json:"artifact,omitempty"`
	DurationMS   *int       `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunMessage is one persisted protocol message of a run.
type RunMessage struct {
	ID        int64            `json:"id"`
	RunID     string           `json:"run_id"`
	Seq       int              `json:"seq"`
	Message   protocol.Message `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}
