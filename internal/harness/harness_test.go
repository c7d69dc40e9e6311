package harness_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/nester/internal/harness"
	"github.com/seantiz/nester/internal/logbridge"
	"github.com/seantiz/nester/internal/model"
	"github.com/seantiz/nester/internal/protocol"
	"github.com/seantiz/nester/internal/terminator"
)

type fakeInstance struct {
	name string
	qty  int
}

func (i fakeInstance) Name() string      { return i.name }
func (i fakeInstance) TotalItemQty() int { return i.qty }

type fakeSolution struct{ value uint64 }

func (s fakeSolution) Summary() string { return fmt.Sprintf("value=%d", s.value) }

type fakeImporter struct{}

func (fakeImporter) Import(raw json.RawMessage) (harness.Instance, error) {
	var ext struct {
		Name  string `json:"name"`
		Items int    `json:"items"`
	}
	if err := json.Unmarshal(raw, &ext); err != nil {
		return nil, err
	}
	if ext.Items <= 0 {
		return nil, errors.New("instance has no items")
	}
	return fakeInstance{name: ext.Name, qty: ext.Items}, nil
}

// fakeOptimizer mixes RNG draws for its evaluation budget, reporting every
// tenth step. With untilCancelled it ignores the budget and spins until the
// signal fires.
type fakeOptimizer struct {
	untilCancelled bool
	panics         bool
}

func (o fakeOptimizer) Optimize(p harness.OptimizeParams) (harness.Solution, error) {
	if o.panics {
		panic("collision index corrupted")
	}
	var best uint64
	for i := 0; o.untilCancelled || i < p.Tuning.ExploreEvaluations; i++ {
		if p.Signal.Poll() {
			break
		}
		best ^= p.RNG.Uint64()
		if i%10 == 0 {
			p.Listener.Report(harness.ReportExplore, fakeSolution{best})
		}
		if o.untilCancelled {
			time.Sleep(time.Millisecond)
		}
	}
	p.Listener.Report(harness.ReportFinal, fakeSolution{best})
	return fakeSolution{best}, nil
}

type fakeRenderer struct{ fail bool }

func (r fakeRenderer) Render(_ harness.Instance, sol harness.Solution) (string, error) {
	if r.fail {
		return "", errors.New("unsupported shape")
	}
	return `<svg xmlns="http://www.w3.org/2000/svg"><!-- ` + sol.Summary() + ` --></svg>`, nil
}

type fakePool struct{ ready bool }

func (p fakePool) Ready() bool { return p.ready }

type fixture struct {
	queue *protocol.Queue
	term  *terminator.Terminator
	opts  harness.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	queue := protocol.NewQueue()
	stream := protocol.NewStream(queue, protocol.SubsetIterative)
	bridge := logbridge.New(stream.Sink(), slog.LevelDebug, false)
	term := terminator.New(&terminator.Flag{}, terminator.SharedHandle)

	defaults := harness.DefaultConfig()
	defaults.Tuning.ExploreEvaluations = 200

	return &fixture{
		queue: queue,
		term:  term,
		opts: harness.Options{
			Collaborators: harness.Collaborators{
				Importer:  fakeImporter{},
				Optimizer: fakeOptimizer{},
				Renderer:  fakeRenderer{},
			},
			Stream:     stream,
			Terminator: term,
			Logger:     bridge.Logger(),
			Flush:      bridge.Flush,
			Defaults:   defaults,
			Pool:       fakePool{ready: true},
		},
	}
}

func (f *fixture) run(t *testing.T, raw string) ([]protocol.Message, error) {
	t.Helper()
	h, err := harness.New(f.opts)
	require.NoError(t, err)
	runErr := h.Run([]byte(raw))
	return f.queue.Drain(), runErr
}

// requireWellFormed checks that msgs open with start and end with exactly
// one terminal message.
func requireWellFormed(t *testing.T, msgs []protocol.Message) protocol.Message {
	t.Helper()
	require.NotEmpty(t, msgs)
	assert.Equal(t, protocol.StatusStart, msgs[0].Type)

	var terminals int
	for _, m := range msgs {
		if m.Type.Terminal() {
			terminals++
		}
	}
	require.Equal(t, 1, terminals, "exactly one terminal message")
	last := msgs[len(msgs)-1]
	require.True(t, last.Type.Terminal(), "nothing may follow the terminal message")
	return last
}

const minimalRequest = `{"instance":{"name":"demo","items":3},"timeLimitSeconds":1,"seed":42}`

func TestRunScenarioFinishes(t *testing.T) {
	f := newFixture(t)
	msgs, err := f.run(t, minimalRequest)
	require.NoError(t, err)

	last := requireWellFormed(t, msgs)
	assert.Equal(t, protocol.StatusFinished, last.Type)
	assert.True(t, strings.HasPrefix(last.Artifact, "<svg"))

	for _, m := range msgs[1 : len(msgs)-1] {
		assert.Contains(t, []protocol.Status{protocol.StatusProcessing, protocol.StatusIntermediate}, m.Type)
	}
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	first, err := newFixture(t).run(t, minimalRequest)
	require.NoError(t, err)
	second, err := newFixture(t).run(t, minimalRequest)
	require.NoError(t, err)

	assert.Equal(t, first[len(first)-1].Artifact, second[len(second)-1].Artifact)
}

func TestRunLogsDrawnSeed(t *testing.T) {
	f := newFixture(t)
	f.opts.Entropy = func() uint64 { return 7 }

	msgs, err := f.run(t, `{"instance":{"name":"demo","items":1}}`)
	require.NoError(t, err)

	var found bool
	for _, m := range msgs {
		if m.Type == protocol.StatusProcessing && strings.Contains(m.Text, "no seed provided, using: 7") {
			found = true
			assert.Equal(t, "WARN", m.Level)
		}
	}
	assert.True(t, found, "drawn seed must be observable in the logs")
}

func TestConfigureUsesDefaultTimeLimit(t *testing.T) {
	f := newFixture(t)
	h, err := harness.New(f.opts)
	require.NoError(t, err)

	require.NoError(t, h.Configure([]byte(`{"instance":{"name":"demo","items":1},"seed":1}`)))
	s := h.Settings()
	assert.Equal(t, harness.DefaultTimeLimit, s.Total())
	assert.Equal(t, 480*time.Second, s.Explore)
	assert.Equal(t, 120*time.Second, s.Compress)

	deadline, armed := f.term.Deadline()
	require.True(t, armed)
	assert.WithinDuration(t, time.Now().Add(harness.DefaultTimeLimit), deadline, 5*time.Second)

	f.opts.Flush()
	var warned bool
	for _, m := range f.queue.Drain() {
		if strings.Contains(m.Text, "no time limit provided") {
			warned = true
			assert.Equal(t, "WARN", m.Level)
		}
	}
	assert.True(t, warned)
}

func TestConfigureTwiceFails(t *testing.T) {
	f := newFixture(t)
	h, err := harness.New(f.opts)
	require.NoError(t, err)

	require.NoError(t, h.Configure([]byte(minimalRequest)))
	assert.ErrorIs(t, h.Configure([]byte(minimalRequest)), harness.ErrAlreadyConfigured)
}

func TestExecuteBeforeConfigureFails(t *testing.T) {
	f := newFixture(t)
	h, err := harness.New(f.opts)
	require.NoError(t, err)

	assert.Error(t, h.Execute())
	assert.Empty(t, f.queue.Drain())
}

func TestRunFailureClasses(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		mutate func(*harness.Options)
		class  error
		prefix string
	}{
		{
			name:   "truncated request",
			raw:    `{"instance":{"name":"demo"`,
			class:  harness.ErrMalformedRequest,
			prefix: "malformed request: ",
		},
		{
			name:   "missing instance",
			raw:    `{"seed":1}`,
			class:  harness.ErrMalformedRequest,
			prefix: "malformed request: ",
		},
		{
			name:   "invalid instance",
			raw:    `{"instance":{"name":"demo","items":0},"seed":1}`,
			class:  harness.ErrMalformedInstance,
			prefix: "malformed instance: ",
		},
		{
			name:   "optimizer panic",
			raw:    minimalRequest,
			mutate: func(o *harness.Options) { o.Collaborators.Optimizer = fakeOptimizer{panics: true} },
			class:  harness.ErrOptimizerAborted,
			prefix: "optimizer aborted: panic",
		},
		{
			name:   "pool not bootstrapped",
			raw:    minimalRequest,
			mutate: func(o *harness.Options) { o.Pool = fakePool{} },
			class:  harness.ErrOptimizerAborted,
			prefix: "optimizer aborted: ",
		},
		{
			name:   "render failure",
			raw:    minimalRequest,
			mutate: func(o *harness.Options) { o.Collaborators.Renderer = fakeRenderer{fail: true} },
			class:  harness.ErrRenderFailed,
			prefix: "render failed: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.mutate != nil {
				tt.mutate(&f.opts)
			}
			msgs, err := f.run(t, tt.raw)
			assert.ErrorIs(t, err, tt.class)

			last := requireWellFormed(t, msgs)
			assert.Equal(t, protocol.StatusError, last.Type)
			assert.True(t, strings.HasPrefix(last.Text, tt.prefix), "error text %q", last.Text)
		})
	}
}

func TestRunCancelledEarlyFinishesWithBestEffort(t *testing.T) {
	f := newFixture(t)
	f.opts.Collaborators.Optimizer = fakeOptimizer{untilCancelled: true}

	h, err := harness.New(f.opts)
	require.NoError(t, err)
	require.NoError(t, h.Configure([]byte(`{"instance":{"name":"demo","items":2},"timeLimitSeconds":60,"seed":3}`)))

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- h.Execute() }()

	time.Sleep(10 * time.Millisecond)
	f.term.RequestCancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.Less(t, time.Since(start), 5*time.Second)

	last := requireWellFormed(t, f.queue.Drain())
	assert.Equal(t, protocol.StatusFinished, last.Type)
	assert.NotEmpty(t, last.Artifact)
}

func TestConfigureClearsStaleCancel(t *testing.T) {
	f := newFixture(t)
	f.term.RequestCancel()

	h, err := harness.New(f.opts)
	require.NoError(t, err)
	require.NoError(t, h.Configure([]byte(minimalRequest)))
	assert.False(t, f.term.Poll(), "arming must clear a cancel left by a previous run")
}

func TestPreviewEmitsIntermediate(t *testing.T) {
	f := newFixture(t)
	msgs, err := f.run(t, `{"instance":{"name":"demo","items":3},"seed":5,"timeLimitSeconds":1,"showPreview":true}`)
	require.NoError(t, err)
	requireWellFormed(t, msgs)

	var previews int
	for _, m := range msgs {
		if m.Type == protocol.StatusIntermediate {
			previews++
			assert.NotEmpty(t, m.Artifact)
		}
	}
	assert.Positive(t, previews)
}

func TestPreviewSuppressedForOneShotSubset(t *testing.T) {
	f := newFixture(t)
	f.opts.Stream = protocol.NewStream(f.queue, protocol.SubsetOneShot)
	f.opts.Logger = nil
	f.opts.Flush = nil

	msgs, err := f.run(t, `{"instance":{"name":"demo","items":3},"seed":5,"timeLimitSeconds":1,"showPreview":true}`)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotEqual(t, protocol.StatusIntermediate, m.Type)
	}
}

func TestLogsPrecedeTerminalMessage(t *testing.T) {
	f := newFixture(t)
	msgs, err := f.run(t, minimalRequest)
	require.NoError(t, err)

	last := requireWellFormed(t, msgs)
	assert.Equal(t, protocol.StatusFinished, last.Type)

	var processing int
	for _, m := range msgs {
		if m.Type == protocol.StatusProcessing {
			processing++
		}
	}
	assert.Positive(t, processing, "buffered logs must be flushed before the terminal message")
}

func TestTransitionsAreReported(t *testing.T) {
	f := newFixture(t)
	var path []string
	f.opts.OnTransition = func(_, to string) { path = append(path, to) }

	_, err := f.run(t, minimalRequest)
	require.NoError(t, err)
	assert.Equal(t, []string{
		model.StateConfiguring, model.StateImporting, model.StateRunning,
		model.StateExporting, model.StateFinished,
	}, path)
}

func TestFailedRunReportsErrorState(t *testing.T) {
	f := newFixture(t)
	var path []string
	f.opts.OnTransition = func(_, to string) { path = append(path, to) }

	h, err := harness.New(f.opts)
	require.NoError(t, err)
	assert.Error(t, h.Run([]byte(`not json`)))
	assert.Equal(t, []string{model.StateConfiguring, model.StateError}, path)
	assert.Equal(t, model.StateError, h.State())
}

func TestNewRequiresCollaborators(t *testing.T) {
	f := newFixture(t)
	f.opts.Collaborators.Renderer = nil
	_, err := harness.New(f.opts)
	assert.Error(t, err)
}
