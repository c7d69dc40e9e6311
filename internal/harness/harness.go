// Package harness drives one computation run from its raw request to exactly
// one terminal message. A Harness is configured in the controller's context,
// which arms the run's terminator, then executed on a worker: it imports the
// instance, hands the optimizer its signal and renders the result. Every
// failure is classified into one error message.
package harness

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/seantiz/nester/internal/model"
	"github.com/seantiz/nester/internal/protocol"
	"github.com/seantiz/nester/internal/terminator"
)

// seedStream derives the second PCG word from the seed.
const seedStream = 0x9e3779b97f4a7c15

// Pool is the shared worker pool the optimizer fans out on.
type Pool interface {
	Ready() bool
}

// Options configures a Harness.
type Options struct {
	Collaborators Collaborators

	// Stream receives lifecycle and result messages. Required.
	Stream *protocol.Stream

	// Terminator is armed during Configure and handed to the optimizer as
	// its Signal. Required.
	Terminator *terminator.Terminator

	// Logger receives diagnostics. Flush is called before the terminal
	// message so every record of the run precedes it.
	Logger *slog.Logger
	Flush  func()

	Defaults Config

	// Pool, when set, must be bootstrapped before the run starts running.
	Pool Pool

	// OnTransition is called after every state change.
	OnTransition func(from, to string)

	// Entropy draws a seed when the request names none. Defaults to
	// rand.Uint64.
	Entropy func() uint64
}

// Harness drives one run through configuring, importing, running and
// exporting. A harness is used once; a fresh run needs a fresh harness.
type Harness struct {
	opts   Options
	stream *protocol.Stream
	logger *slog.Logger
	flush  func()

	mu       sync.Mutex
	state    string
	req      Request
	settings Settings
	rng      *rand.Rand
}

// New validates opts and returns an idle harness.
func New(opts Options) (*Harness, error) {
	c := opts.Collaborators
	if c.Importer == nil || c.Optimizer == nil || c.Renderer == nil {
		return nil, errors.New("harness: importer, optimizer and renderer are required")
	}
	if opts.Stream == nil {
		return nil, errors.New("harness: stream is required")
	}
	if opts.Terminator == nil {
		return nil, errors.New("harness: terminator is required")
	}
	if opts.Defaults == (Config{}) {
		opts.Defaults = DefaultConfig()
	}
	if opts.Entropy == nil {
		opts.Entropy = rand.Uint64
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	flush := opts.Flush
	if flush == nil {
		flush = func() {}
	}

	return &Harness{
		opts:   opts,
		stream: opts.Stream,
		logger: logger,
		flush:  flush,
		state:  model.StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (h *Harness) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Settings returns the resolved settings. They are zero before Configure
// succeeds.
func (h *Harness) Settings() Settings {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.settings
}

// Run configures and executes in the calling goroutine.
func (h *Harness) Run(raw []byte) error {
	if err := h.Configure(raw); err != nil {
		return err
	}
	return h.Execute()
}

// Configure emits start, parses raw, resolves settings, seeds the RNG and
// arms the terminator. It must run in the controller's context before
// Execute is scheduled, so a cancel request can never precede arming.
//
// A malformed request ends the run with an error message and is returned.
func (h *Harness) Configure(raw []byte) error {
	h.mu.Lock()
	if h.state != model.StateIdle {
		h.mu.Unlock()
		return ErrAlreadyConfigured
	}
	h.mu.Unlock()

	if err := h.stream.Emit(protocol.Start()); err != nil {
		return fmt.Errorf("emit start: %w", err)
	}
	if err := h.transition(model.StateConfiguring); err != nil {
		return err
	}

	req, err := ParseRequest(raw)
	if err != nil {
		return h.fail(err)
	}

	s := h.opts.Defaults.Resolve(req, h.opts.Entropy)
	if !s.TimeLimitGiven {
		h.logger.Warn(fmt.Sprintf("no time limit provided, using default of %s", s.Total()))
	}
	h.logger.Info(fmt.Sprintf("configured to explore for %s and compress for %s", s.Explore, s.Compress))
	if s.EarlyTermination {
		h.logger.Warn("early termination enabled",
			"max_consecutive_failures", s.Tuning.MaxConsecutiveFailures,
			"fail_decay_ratio", s.Tuning.FailDecayRatio)
	}
	if s.SeedGiven {
		h.logger.Info(fmt.Sprintf("using seed: %d", s.Seed))
	} else {
		h.logger.Warn(fmt.Sprintf("no seed provided, using: %d", s.Seed))
	}

	h.mu.Lock()
	h.req = req
	h.settings = s
	h.rng = rand.New(rand.NewPCG(s.Seed, s.Seed^seedStream))
	h.mu.Unlock()

	h.opts.Terminator.Arm(s.Total())
	return nil
}

// Execute imports the instance, runs the optimizer, renders the result and
// emits the terminal message. Every failure ends the run with exactly one
// error message and is returned.
func (h *Harness) Execute() error {
	if st := h.State(); st != model.StateConfiguring {
		return fmt.Errorf("harness: execute in state %s", st)
	}

	h.mu.Lock()
	req, s, rng := h.req, h.settings, h.rng
	h.mu.Unlock()
	c := h.opts.Collaborators

	if err := h.transition(model.StateImporting); err != nil {
		return err
	}
	inst, err := c.Importer.Import(req.Instance)
	if err != nil {
		return h.fail(classify(ErrMalformedInstance, err))
	}
	h.logger.Info(fmt.Sprintf("loaded instance %s with #%d items", inst.Name(), inst.TotalItemQty()))

	if err := h.transition(model.StateRunning); err != nil {
		return err
	}
	if h.opts.Pool != nil && !h.opts.Pool.Ready() {
		return h.fail(fmt.Errorf("%w: worker pool not bootstrapped", ErrOptimizerAborted))
	}

	var listener Listener = NopListener{}
	if s.ShowPreview && h.stream.Subset().Has(protocol.StatusIntermediate) {
		listener = &previewListener{h: h, inst: inst, renderer: c.Renderer}
	}

	sol, err := h.optimize(OptimizeParams{
		Instance: inst,
		RNG:      rng,
		Listener: listener,
		Signal:   h.opts.Terminator,
		Explore:  s.Explore,
		Compress: s.Compress,
		Tuning:   s.Tuning,
		Logger:   h.logger,
	})
	if err != nil {
		return h.fail(err)
	}
	if h.opts.Terminator.Cancelled() {
		h.logger.Warn("cancellation requested, exporting best solution so far")
	}
	h.logger.Info("optimization finished", "solution", sol.Summary())

	if err := h.transition(model.StateExporting); err != nil {
		return err
	}
	svg, err := c.Renderer.Render(inst, sol)
	if err == nil && svg == "" {
		err = errors.New("empty document")
	}
	if err != nil {
		return h.fail(classify(ErrRenderFailed, err))
	}

	if err := h.transition(model.StateFinished); err != nil {
		return err
	}
	h.flush()
	if err := h.stream.Emit(protocol.Finished(svg)); err != nil {
		return fmt.Errorf("emit finished: %w", err)
	}
	return nil
}

func (h *Harness) optimize(p OptimizeParams) (sol Solution, err error) {
	defer func() {
		if r := recover(); r != nil {
			sol, err = nil, fmt.Errorf("%w: panic: %v", ErrOptimizerAborted, r)
		}
	}()

	sol, err = h.opts.Collaborators.Optimizer.Optimize(p)
	if err != nil {
		return nil, classify(ErrOptimizerAborted, err)
	}
	if sol == nil {
		return nil, fmt.Errorf("%w: no solution", ErrOptimizerAborted)
	}
	return sol, nil
}

// fail moves the run to error, flushes diagnostics and emits the single
// error message. It returns err.
func (h *Harness) fail(err error) error {
	h.logger.Error("run failed", "error", err)
	if terr := h.transition(model.StateError); terr != nil {
		return errors.Join(err, terr)
	}
	h.flush()
	if eerr := h.stream.Emit(protocol.Error(err.Error())); eerr != nil {
		return errors.Join(err, fmt.Errorf("emit error: %w", eerr))
	}
	return err
}

func (h *Harness) transition(to string) error {
	h.mu.Lock()
	from := h.state
	if !model.ValidTransition(from, to) {
		h.mu.Unlock()
		return fmt.Errorf("harness: invalid transition %s -> %s", from, to)
	}
	h.state = to
	h.mu.Unlock()

	if h.opts.OnTransition != nil {
		h.opts.OnTransition(from, to)
	}
	return nil
}

// classify prefixes err with class unless it already carries it.
func classify(class, err error) error {
	if errors.Is(err, class) {
		return err
	}
	return fmt.Errorf("%w: %v", class, err)
}

// previewListener renders reported solutions into intermediate messages.
type previewListener struct {
	h        *Harness
	inst     Instance
	renderer Renderer
}

func (l *previewListener) Report(kind ReportKind, sol Solution) {
	if kind == ReportFinal {
		return
	}
	svg, err := l.renderer.Render(l.inst, sol)
	if err != nil {
		l.h.logger.Warn("preview render failed", "kind", kind.String(), "error", err)
		return
	}
	_ = l.h.stream.Emit(protocol.Intermediate(svg))
}
