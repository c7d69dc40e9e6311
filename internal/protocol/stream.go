package protocol

import (
	"errors"
	"fmt"
	"sync"
)

// Stream errors.
var (
	ErrStreamClosed      = errors.New("stream already closed by a terminal message")
	ErrOutOfOrder        = errors.New("opening message after progress")
	ErrStatusNotInSubset = errors.New("status not used by this pipeline")
	ErrUnknownStatus     = errors.New("unknown status")
)

type streamPhase int

const (
	phaseOpening streamPhase = iota
	phaseProgress
	phaseClosed
)

// Stream frames the messages of a single run onto a Sink and enforces the
// protocol order: idle/start first, then any processing and intermediate
// messages, then exactly one finished or error message. Nothing is delivered
// after the terminal message.
//
// A Stream is safe for concurrent use; messages are delivered in the order
// Emit calls are serialized.
type Stream struct {
	sink   Sink
	subset Subset

	mu       sync.Mutex
	phase    streamPhase
	terminal Message
	posted   int
}

// NewStream creates a stream posting to sink. Messages outside subset are
// rejected; a nil subset admits every status.
func NewStream(sink Sink, subset Subset) *Stream {
	return &Stream{sink: sink, subset: subset}
}

// Emit validates m against the protocol and posts it.
func (s *Stream) Emit(m Message) error {
	if !m.Type.Valid() {
		return fmt.Errorf("emit %q: %w", m.Type, ErrUnknownStatus)
	}
	if !s.subset.Has(m.Type) {
		return fmt.Errorf("emit %s: %w", m.Type, ErrStatusNotInSubset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.phase == phaseClosed:
		return fmt.Errorf("emit %s: %w", m.Type, ErrStreamClosed)
	case m.Type.Opening() && s.phase != phaseOpening:
		return fmt.Errorf("emit %s: %w", m.Type, ErrOutOfOrder)
	case m.Type.Terminal():
		s.phase = phaseClosed
		s.terminal = m
	case !m.Type.Opening():
		s.phase = phaseProgress
	}

	s.posted++
	s.sink.Post(m)
	return nil
}

// Closed reports whether a terminal message has been emitted.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == phaseClosed
}

// Terminal returns the terminal message, if one has been emitted.
func (s *Stream) Terminal() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal, s.phase == phaseClosed
}

// Posted reports how many messages reached the sink.
func (s *Stream) Posted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posted
}

// Sink returns a Sink view of the stream for producers that cannot handle
// errors, such as log handlers. Rejected messages are dropped.
func (s *Stream) Sink() Sink {
	return SinkFunc(func(m Message) { _ = s.Emit(m) })
}

// Subset returns the statuses the stream admits.
func (s *Stream) Subset() Subset {
	return s.subset
}
