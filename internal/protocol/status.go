// Package protocol defines the progress and result messages a computation
// posts to its controller, the one-way sinks that carry them, and the
// per-run stream that enforces their ordering.
package protocol

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Status is the closed set of message kinds. The wire form is lowercase.
type Status string

// Message kinds.
const (
	StatusIdle         Status = "idle"
	StatusStart        Status = "start"
	StatusProcessing   Status = "processing"
	StatusIntermediate Status = "intermediate"
	StatusFinished     Status = "finished"
	StatusError        Status = "error"
)

// AllStatuses lists every Status in lifecycle order.
var AllStatuses = []Status{
	StatusIdle,
	StatusStart,
	StatusProcessing,
	StatusIntermediate,
	StatusFinished,
	StatusError,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// Terminal reports whether s closes a run's stream.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// Opening reports whether s may only appear before any progress message.
func (s Status) Opening() bool {
	return s == StatusIdle || s == StatusStart
}

func (s Status) String() string {
	return string(s)
}

// UnmarshalJSON rejects statuses outside the closed set.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st := Status(raw)
	if !st.Valid() {
		return fmt.Errorf("unknown status %q", raw)
	}
	*s = st
	return nil
}

// Subset is the set of statuses a pipeline actually emits. Pipelines declare
// their subset instead of redefining the status type.
type Subset []Status

// Has reports whether st belongs to the subset. An empty subset admits every
// status.
func (ss Subset) Has(st Status) bool {
	if len(ss) == 0 {
		return true
	}
	return slices.Contains(ss, st)
}

// Documented pipeline subsets.
var (
	// SubsetIterative is used by pipelines that report preview artifacts while
	// they search.
	SubsetIterative = Subset{StatusStart, StatusProcessing, StatusIntermediate, StatusFinished, StatusError}

	// SubsetOneShot is used by pipelines that produce a single result.
	SubsetOneShot = Subset{StatusStart, StatusProcessing, StatusFinished, StatusError}
)
