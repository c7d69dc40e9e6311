package store

import (
	"context"
	"errors"

	"github.com/seantiz/nester/internal/model"
	"github.com/seantiz/nester/internal/protocol"
)

// ErrInvalidTransition is returned when a run state transition is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total           int            `json:"total"`
	CountByState    map[string]int `json:"count_by_state"`
	CountByPipeline map[string]int `json:"count_by_pipeline"`
	Cancelled       int            `json:"cancelled"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs and their messages.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunState(ctx context.Context, id, state string) error
	FinishRun(ctx context.Context, r *model.Run) error
	MarkCancelled(ctx context.Context, id string) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	InsertMessage(ctx context.Context, runID string, seq int, m protocol.Message) error
	GetMessages(ctx context.Context, runID string) ([]model.RunMessage, error)
	Close() error
}
