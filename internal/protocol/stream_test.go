package protocol_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/nester/internal/protocol"
)

func TestStatusWireForm(t *testing.T) {
	want := []string{"idle", "start", "processing", "intermediate", "finished", "error"}
	for i, st := range protocol.AllStatuses {
		assert.Equal(t, want[i], st.String())
	}

	data, err := json.Marshal(protocol.Finished("<svg/>"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"finished","artifact":"<svg/>"}`, string(data))

	data, err = json.Marshal(protocol.Processing("INFO", "hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"processing","level":"INFO","text":"hello"}`, string(data))
}

func TestStatusUnmarshalRejectsUnknown(t *testing.T) {
	var m protocol.Message
	err := json.Unmarshal([]byte(`{"type":"cancel"}`), &m)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"error","text":"boom"}`), &m))
	assert.Equal(t, protocol.Error("boom"), m)
}

func TestSubsetHas(t *testing.T) {
	assert.True(t, protocol.SubsetIterative.Has(protocol.StatusIntermediate))
	assert.False(t, protocol.SubsetOneShot.Has(protocol.StatusIntermediate))
	assert.False(t, protocol.SubsetOneShot.Has(protocol.StatusIdle))
	assert.True(t, protocol.Subset(nil).Has(protocol.StatusIdle))
}

// recorder collects posted messages.
type recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (r *recorder) Post(m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) types() []protocol.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Status, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

func TestStreamHappyPath(t *testing.T) {
	rec := &recorder{}
	s := protocol.NewStream(rec, protocol.SubsetIterative)

	require.NoError(t, s.Emit(protocol.Start()))
	require.NoError(t, s.Emit(protocol.Processing("INFO", "working")))
	require.NoError(t, s.Emit(protocol.Intermediate("<svg/>")))
	require.NoError(t, s.Emit(protocol.Finished("<svg/>")))

	assert.Equal(t, []protocol.Status{
		protocol.StatusStart, protocol.StatusProcessing, protocol.StatusIntermediate, protocol.StatusFinished,
	}, rec.types())
	assert.True(t, s.Closed())

	term, ok := s.Terminal()
	require.True(t, ok)
	assert.Equal(t, protocol.StatusFinished, term.Type)
	assert.Equal(t, 4, s.Posted())
}

func TestStreamNothingAfterTerminal(t *testing.T) {
	rec := &recorder{}
	s := protocol.NewStream(rec, nil)

	require.NoError(t, s.Emit(protocol.Error("boom")))
	err := s.Emit(protocol.Finished("late"))
	assert.True(t, errors.Is(err, protocol.ErrStreamClosed))
	err = s.Emit(protocol.Processing("INFO", "late"))
	assert.ErrorIs(t, err, protocol.ErrStreamClosed)

	assert.Equal(t, []protocol.Status{protocol.StatusError}, rec.types())
}

func TestStreamOpeningAfterProgressRejected(t *testing.T) {
	s := protocol.NewStream(&recorder{}, nil)
	require.NoError(t, s.Emit(protocol.Processing("INFO", "x")))
	assert.ErrorIs(t, s.Emit(protocol.Start()), protocol.ErrOutOfOrder)
}

func TestStreamIdleThenStart(t *testing.T) {
	s := protocol.NewStream(&recorder{}, nil)
	require.NoError(t, s.Emit(protocol.Idle()))
	require.NoError(t, s.Emit(protocol.Start()))
}

func TestStreamSubsetEnforced(t *testing.T) {
	rec := &recorder{}
	s := protocol.NewStream(rec, protocol.SubsetOneShot)
	assert.ErrorIs(t, s.Emit(protocol.Intermediate("x")), protocol.ErrStatusNotInSubset)
	assert.Empty(t, rec.types())
}

func TestStreamUnknownStatus(t *testing.T) {
	s := protocol.NewStream(&recorder{}, nil)
	assert.ErrorIs(t, s.Emit(protocol.Message{Type: "cancel"}), protocol.ErrUnknownStatus)
}

func TestStreamConcurrentTerminalsYieldOne(t *testing.T) {
	rec := &recorder{}
	s := protocol.NewStream(rec, nil)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Go(func() {
			if i%2 == 0 {
				_ = s.Emit(protocol.Finished("ok"))
			} else {
				_ = s.Emit(protocol.Error("no"))
			}
		})
	}
	wg.Wait()

	assert.Len(t, rec.types(), 1)
}

func TestQueueFIFOAndClose(t *testing.T) {
	q := protocol.NewQueue()
	q.Post(protocol.Start())
	q.Post(protocol.Processing("INFO", "a"))
	q.Post(protocol.Finished("b"))
	q.Close()
	q.Post(protocol.Error("dropped"))

	ctx := context.Background()
	var got []protocol.Status
	for {
		m, ok := q.Next(ctx)
		if !ok {
			break
		}
		got = append(got, m.Type)
	}
	assert.Equal(t, []protocol.Status{protocol.StatusStart, protocol.StatusProcessing, protocol.StatusFinished}, got)
}

func TestQueueNextWaitsForPost(t *testing.T) {
	q := protocol.NewQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Post(protocol.Start())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, ok := q.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, protocol.StatusStart, m.Type)
}

func TestQueueNextHonoursContext(t *testing.T) {
	q := protocol.NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok := q.Next(ctx)
	assert.False(t, ok)
}

func TestQueuePostNeverBlocks(t *testing.T) {
	q := protocol.NewQueue()
	for range 10_000 {
		q.Post(protocol.Processing("TRACE", "x"))
	}
	assert.Equal(t, 10_000, q.Len())
	assert.Len(t, q.Drain(), 10_000)
	assert.Zero(t, q.Len())
}

func TestTee(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	protocol.Tee(a, b).Post(protocol.Start())
	assert.Len(t, a.types(), 1)
	assert.Len(t, b.types(), 1)
}
