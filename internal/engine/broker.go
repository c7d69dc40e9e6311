package engine

import (
	"sync"

	"github.com/seantiz/nester/internal/protocol"
)

// subscriberBufferSize is the channel buffer for each message subscriber.
// Progress messages are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// MessageBroker manages per-run message streaming to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a run finishes) receive a closed channel instead of
// blocking forever.
type MessageBroker struct {
	mu     sync.Mutex
	topics map[string]*messageTopic
}

type messageTopic struct {
	subs   map[int]chan protocol.Message
	nextID int
	closed bool
}

// NewMessageBroker creates a new message broker.
func NewMessageBroker() *MessageBroker {
	return &MessageBroker{
		topics: make(map[string]*messageTopic),
	}
}

// Subscribe returns a channel that receives messages for the given run and
// an unsubscribe function. If the run has already finished (Close was
// called), the returned channel is immediately closed.
func (b *MessageBroker) Subscribe(runID string) (<-chan protocol.Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &messageTopic{subs: make(map[int]chan protocol.Message)}
		b.topics[runID] = t
	}

	ch := make(chan protocol.Message, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a message to all subscribers of the given run. Progress
// messages are dropped for subscribers whose buffers are full; a terminal
// message evicts the oldest buffered message instead, so every subscriber
// sees how the run ended.
func (b *MessageBroker) Publish(runID string, m protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- m:
			continue
		default:
		}
		if !m.Type.Terminal() {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- m:
		default:
		}
	}
}

// Close signals that no more messages will be published for the given run.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *MessageBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		b.topics[runID] = &messageTopic{subs: make(map[int]chan protocol.Message), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
