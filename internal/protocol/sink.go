package protocol

import (
	"context"
	"sync"
)

// Sink receives messages posted by a run. Post is a one-way, unacknowledged
// send: it must not block the caller and reports nothing back. A slow
// consumer accumulates a backlog on its own side.
type Sink interface {
	Post(m Message)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Message)

// Post calls f(m).
func (f SinkFunc) Post(m Message) { f(m) }

// Discard is a Sink that drops every message.
var Discard Sink = SinkFunc(func(Message) {})

// Tee returns a Sink that posts each message to every sink in order.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(m Message) {
		for _, s := range sinks {
			s.Post(m)
		}
	})
}

// Queue is an unbounded FIFO Sink. Post never blocks; consumers drain it with
// Next. Any number of goroutines may post; a single goroutine consumes.
type Queue struct {
	mu     sync.Mutex
	items  []Message
	closed bool
	ready  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Post appends m. Messages posted after Close are dropped.
func (q *Queue) Post(m Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.notify()
}

// Close marks the end of the stream. Pending messages remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

// Len reports the current backlog.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Next returns the oldest pending message, waiting until one is posted. It
// returns false once the queue is closed and drained, or when ctx is done.
func (q *Queue) Next(ctx context.Context) (Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Message{}, false
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Message{}, false
		}
	}
}

// Drain returns every pending message without waiting.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
