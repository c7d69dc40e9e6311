package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/nester/internal/harness"
	"github.com/seantiz/nester/internal/logbridge"
	"github.com/seantiz/nester/internal/model"
	"github.com/seantiz/nester/internal/pipeline"
	"github.com/seantiz/nester/internal/protocol"
	"github.com/seantiz/nester/internal/store"
	"github.com/seantiz/nester/internal/terminator"
	"github.com/seantiz/nester/internal/workpool"
)

var (
	// ErrRunFinished is returned when cancelling a run that already ended.
	ErrRunFinished = errors.New("run already finished")

	// ErrSignalClear is returned for a write that would lower a run's flag.
	// A raised flag stays raised until the run ends.
	ErrSignalClear = errors.New("a raised cancellation cannot be cleared")
)

// Options configures an Engine.
type Options struct {
	// Defaults are merged with each request's overrides.
	Defaults harness.Config

	// Verbosity is the log verbosity code (0 off .. 5 trace) applied to the
	// diagnostics each run streams as processing messages.
	Verbosity int

	// Instant streams diagnostics as they are logged instead of holding them
	// until the run ends.
	Instant bool

	// Signals owns the cancellation cells. A new registry is created when nil.
	Signals *terminator.Registry

	// Pool is the shared worker pool. When nil, one is created and
	// bootstrapped with Workers goroutines.
	Pool    *workpool.Pool
	Workers int
}

// Engine orchestrates asynchronous run execution.
type Engine struct {
	store    store.Store
	registry *pipeline.Registry
	signals  *terminator.Registry
	pool     *workpool.Pool
	defaults harness.Config
	level    slog.Level
	instant  bool
	logger   *slog.Logger
	wg       sync.WaitGroup
	broker   *MessageBroker

	mu      sync.Mutex
	active  map[string]*activeRun
	handles map[terminator.Handle]*activeRun
}

// activeRun tracks a submitted run until it finishes. A cancel that arrives
// before the harness is armed is held in pending, since arming clears the
// flag.
type activeRun struct {
	id      string
	term    *terminator.Terminator
	armed   bool
	pending bool
}

// NewEngine creates a new execution engine. It fails on an invalid
// verbosity code.
func NewEngine(s store.Store, reg *pipeline.Registry, logger *slog.Logger, opts Options) (*Engine, error) {
	level, err := logbridge.LevelForCode(opts.Verbosity)
	if err != nil {
		return nil, err
	}
	if opts.Defaults == (harness.Config{}) {
		opts.Defaults = harness.DefaultConfig()
	}
	if opts.Signals == nil {
		opts.Signals = terminator.NewRegistry()
	}
	if opts.Pool == nil {
		opts.Pool = workpool.New()
		opts.Pool.Bootstrap(opts.Workers)
	}

	return &Engine{
		store:    s,
		registry: reg,
		signals:  opts.Signals,
		pool:     opts.Pool,
		defaults: opts.Defaults,
		level:    level,
		instant:  opts.Instant,
		logger:   logger,
		broker:   NewMessageBroker(),
		active:   make(map[string]*activeRun),
		handles:  make(map[terminator.Handle]*activeRun),
	}, nil
}

// Broker returns the engine's message broker for SSE subscription.
func (e *Engine) Broker() *MessageBroker {
	return e.broker
}

// Pool returns the shared worker pool.
func (e *Engine) Pool() *workpool.Pool {
	return e.pool
}

// Signals returns the registry owning the runs' cancellation cells.
func (e *Engine) Signals() *terminator.Registry {
	return e.signals
}

// Submit resolves the run's pipeline, stores the run with a fresh
// cancellation cell and configures its harness before returning. A cancel
// that lands while the harness is configuring is held and replayed once it
// is armed, so arming never erases it. Execution continues on a goroutine. A malformed request is not an error here: the run is stored
// and ends with an error message.
func (e *Engine) Submit(ctx context.Context, r *model.Run, raw []byte) error {
	p, err := e.registry.Resolve(r.Pipeline)
	if err != nil {
		return fmt.Errorf("resolve pipeline: %w", err)
	}
	r.Pipeline = p.Name()
	r.State = model.StateIdle
	if req, err := harness.ParseRequest(raw); err == nil {
		r.Seed = req.Seed
		r.TimeLimitS = req.TimeLimitSeconds
	}

	handle := e.signals.Acquire()
	term, err := e.signals.Terminator(handle)
	if err != nil {
		return fmt.Errorf("signal cell: %w", err)
	}
	r.CancelHandle = uint32(handle)

	if err := e.store.CreateRun(ctx, r); err != nil {
		e.release(handle)
		return fmt.Errorf("create run: %w", err)
	}

	ar := &activeRun{id: r.ID, term: term}
	e.mu.Lock()
	e.active[r.ID] = ar
	e.handles[handle] = ar
	e.mu.Unlock()
	activeRuns.Inc()

	stream := protocol.NewStream(e.recorder(r.ID), p.Subset())
	bridge := logbridge.New(stream.Sink(), e.level, e.instant)

	h, err := harness.New(harness.Options{
		Collaborators: p.Collaborators(),
		Stream:        stream,
		Terminator:    term,
		Logger:        bridge.Logger(),
		Flush:         bridge.Flush,
		Defaults:      e.defaults,
		Pool:          e.pool,
		OnTransition:  e.persistTransition(r.ID),
	})
	if err != nil {
		e.detach(r.ID, handle)
		return fmt.Errorf("create harness: %w", err)
	}

	// The goroutine operates on a copy of the run to avoid data races with
	// the caller.
	rCopy := *r
	start := time.Now()
	err = h.Configure(raw)
	e.arm(ar)
	if err != nil {
		e.logger.Warn("run rejected during configuration", "run_id", r.ID, "error", err)
		e.finish(&rCopy, stream, term, start)
		return nil
	}

	e.wg.Go(func() {
		if err := h.Execute(); err != nil {
			e.logger.Warn("run failed", "run_id", rCopy.ID, "error", err)
		}
		e.finish(&rCopy, stream, term, start)
	})

	return nil
}

// Wait blocks until all in-flight run goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Cancel requests cancellation of an active run through its terminator.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	ar, ok := e.active[id]
	if ok {
		e.signal(ar)
	}
	e.mu.Unlock()

	if !ok {
		r, err := e.store.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if model.Terminal(r.State) {
			return ErrRunFinished
		}
		return fmt.Errorf("run %s is not active", id)
	}

	cancellationsTotal.WithLabelValues(cancelPathCall).Inc()
	e.logger.Info("cancellation requested", "run_id", id, "path", cancelPathCall)

	if err := e.store.MarkCancelled(ctx, id); err != nil {
		e.logger.Error("failed to mark run cancelled", "run_id", id, "error", err)
	}
	return nil
}

// CancelAll requests cancellation of every active run and returns how many
// were signalled. Used on shutdown.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	for _, ar := range e.active {
		e.signal(ar)
	}
	n := len(e.active)
	e.mu.Unlock()

	if n > 0 {
		cancellationsTotal.WithLabelValues(cancelPathCall).Add(float64(n))
	}
	return n
}

// WriteSignal raises the cell addressed by a run's published handle directly,
// bypassing the run. It returns the ID of the run holding the cell. Only
// handles of active runs resolve; the shared cell belongs to the CLI and is
// never addressed here. Writing false is rejected with ErrSignalClear.
func (e *Engine) WriteSignal(ctx context.Context, handle terminator.Handle, value bool) (string, error) {
	cell, err := e.signals.Cell(handle)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	ar, ok := e.handles[handle]
	if ok && value {
		if ar.armed {
			cell.Set()
		} else {
			ar.pending = true
		}
	}
	e.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("cell %d: %w", handle, terminator.ErrUnknownHandle)
	}
	if !value {
		return ar.id, ErrSignalClear
	}

	cancellationsTotal.WithLabelValues(cancelPathHandle).Inc()
	e.logger.Info("cancellation requested", "run_id", ar.id, "handle", handle, "path", cancelPathHandle)
	if err := e.store.MarkCancelled(ctx, ar.id); err != nil {
		e.logger.Error("failed to mark run cancelled", "run_id", ar.id, "error", err)
	}
	return ar.id, nil
}

// signal raises ar's flag, or holds the cancel until the run is armed.
// Callers hold e.mu.
func (e *Engine) signal(ar *activeRun) {
	if ar.armed {
		ar.term.RequestCancel()
		return
	}
	ar.pending = true
}

// arm marks ar as armed once Configure has run and replays a cancel that
// arrived while it was configuring.
func (e *Engine) arm(ar *activeRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ar.armed = true
	if ar.pending {
		ar.term.RequestCancel()
	}
}

// recorder returns the sink a run's stream posts to. It dual-writes:
// persist to SQLite for history, then publish to the broker for live SSE.
func (e *Engine) recorder(runID string) protocol.Sink {
	var seq atomic.Int32
	return protocol.SinkFunc(func(m protocol.Message) {
		currentSeq := int(seq.Add(1) - 1)
		if err := e.store.InsertMessage(context.Background(), runID, currentSeq, m); err != nil {
			e.logger.Error("failed to persist message", "run_id", runID, "seq", currentSeq, "error", err)
		}
		e.broker.Publish(runID, m)
		messagesTotal.WithLabelValues(string(m.Type)).Inc()
	})
}

// persistTransition records non-terminal states as the harness enters them.
// Terminal states are written by finish together with the outcome.
func (e *Engine) persistTransition(runID string) func(from, to string) {
	return func(from, to string) {
		if model.Terminal(to) {
			return
		}
		if err := e.store.UpdateRunState(context.Background(), runID, to); err != nil {
			e.logger.Error("failed to persist transition", "run_id", runID, "from", from, "to", to, "error", err)
		}
	}
}

// finish records the run's outcome from its terminal message, closes its
// message topic and returns its cancellation cell.
func (e *Engine) finish(r *model.Run, stream *protocol.Stream, term *terminator.Terminator, start time.Time) {
	defer e.broker.Close(r.ID)
	defer e.detach(r.ID, term.Handle())

	elapsed := time.Since(start)
	durationMS := int(elapsed.Milliseconds())
	now := time.Now().UTC()

	r.DurationMS = &durationMS
	r.FinishedAt = &now
	r.Cancelled = term.Cancelled()

	terminal, ok := stream.Terminal()
	switch {
	case !ok:
		r.State = model.StateError
		r.Error = "run ended without a terminal message"
	case terminal.Type == protocol.StatusFinished:
		r.State = model.StateFinished
		r.Artifact = terminal.Artifact
	default:
		r.State = model.StateError
		r.Error = terminal.Text
	}

	if err := e.store.FinishRun(context.Background(), r); err != nil {
		e.logger.Error("failed to record run outcome", "run_id", r.ID, "error", err)
	}

	runsTotal.WithLabelValues(r.Pipeline, r.State).Inc()
	runDuration.WithLabelValues(r.Pipeline).Observe(elapsed.Seconds())
	e.logger.Info("run finished",
		"run_id", r.ID,
		"pipeline", r.Pipeline,
		"state", r.State,
		"cancelled", r.Cancelled,
		"duration_ms", durationMS,
	)
}

func (e *Engine) detach(id string, handle terminator.Handle) {
	e.mu.Lock()
	delete(e.active, id)
	delete(e.handles, handle)
	e.mu.Unlock()
	activeRuns.Dec()
	e.release(handle)
}

func (e *Engine) release(handle terminator.Handle) {
	if err := e.signals.Release(handle); err != nil {
		e.logger.Error("failed to release signal cell", "handle", handle, "error", err)
	}
}
