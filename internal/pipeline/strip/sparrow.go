package strip

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/seantiz/nester/internal/harness"
)

// Mapper fans independent evaluations out over a worker pool.
type Mapper interface {
	Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error
}

// SparrowOptimizer searches over the order and orientation of item copies.
// The explore phase accepts sideways moves to escape plateaus; the compress
// phase only accepts improvements with a shrinking perturbation strength.
//
// Both phases are bounded by an evaluation budget and by their share of the
// time budget, and poll the signal before every batch. With a fixed seed
// the result depends only on the evaluation budgets unless time runs out.
type SparrowOptimizer struct {
	Pool Mapper

	// Now defaults to time.Now.
	Now func() time.Time
}

// Optimize implements harness.Optimizer.
func (o *SparrowOptimizer) Optimize(p harness.OptimizeParams) (harness.Solution, error) {
	in, ok := p.Instance.(*Instance)
	if !ok {
		return nil, fmt.Errorf("unexpected instance type %T", p.Instance)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}

	s := &search{
		in:     in,
		p:      p,
		pool:   o.Pool,
		now:    now,
		logger: logger,
		batch:  max(1, p.Tuning.BatchSize),
	}
	s.bestGenes = initialGenes(in)
	s.best = decode(in, s.bestGenes)
	logger.Info("initial solution", "solution", s.best.Summary())
	p.Listener.Report(harness.ReportExplore, s.best)

	if err := s.explore(); err != nil {
		return nil, err
	}
	if err := s.compress(); err != nil {
		return nil, err
	}

	logger.Info("search finished", "evaluations", s.evals, "solution", s.best.Summary())
	p.Listener.Report(harness.ReportFinal, s.best)
	return s.best, nil
}

type search struct {
	in     *Instance
	p      harness.OptimizeParams
	pool   Mapper
	now    func() time.Time
	logger *slog.Logger
	batch  int

	best      *Layout
	bestGenes []Gene
	evals     int
}

// stop reports whether the phase must end before the next batch.
func (s *search) stop(phase string, deadline time.Time) bool {
	if s.p.Signal != nil && s.p.Signal.Poll() {
		s.logger.Debug("terminated", "phase", phase)
		return true
	}
	if s.now().After(deadline) {
		s.logger.Debug("time limit reached", "phase", phase)
		return true
	}
	return false
}

func (s *search) explore() error {
	deadline := s.now().Add(s.p.Explore)
	budget := s.p.Tuning.ExploreEvaluations
	maxFails := s.p.Tuning.MaxConsecutiveFailures

	current := s.bestGenes
	currentWidth := s.best.Width
	fails := 0
	for used := 0; used < budget; {
		if s.stop("explore", deadline) {
			return nil
		}

		n := min(s.batch, budget-used)
		cands := make([][]Gene, n)
		for i := range cands {
			cands[i] = mutate(s.in, current, 1+s.p.RNG.IntN(2), s.p.RNG)
		}
		layouts, err := s.evaluate(cands)
		if err != nil {
			return err
		}
		used += n

		bi := bestIndex(layouts)
		switch {
		case layouts[bi].better(s.best):
			s.best, s.bestGenes = layouts[bi], cands[bi]
			current, currentWidth = cands[bi], layouts[bi].Width
			fails = 0
			s.logger.Debug("improved", "phase", "explore", "solution", s.best.Summary())
			s.p.Listener.Report(harness.ReportExplore, s.best)
		case layouts[bi].Width <= currentWidth+epsilon:
			current = cands[bi]
			fails += n
		default:
			fails += n
		}

		if maxFails > 0 && fails >= maxFails {
			s.logger.Info("early termination of explore phase", "consecutive_failures", fails)
			return nil
		}
	}
	return nil
}

func (s *search) compress() error {
	deadline := s.now().Add(s.p.Compress)
	budget := s.p.Tuning.CompressEvaluations
	decay := s.p.Tuning.FailDecayRatio

	strength := max(1.0, float64(len(s.bestGenes))/8)
	for used := 0; used < budget; {
		if s.stop("compress", deadline) {
			return nil
		}

		n := min(s.batch, budget-used)
		cands := make([][]Gene, n)
		for i := range cands {
			cands[i] = mutate(s.in, s.bestGenes, 1+s.p.RNG.IntN(int(strength)), s.p.RNG)
		}
		layouts, err := s.evaluate(cands)
		if err != nil {
			return err
		}
		used += n

		bi := bestIndex(layouts)
		if layouts[bi].better(s.best) {
			s.best, s.bestGenes = layouts[bi], cands[bi]
			s.logger.Debug("improved", "phase", "compress", "solution", s.best.Summary())
			s.p.Listener.Report(harness.ReportCompress, s.best)
			continue
		}
		if decay > 0 {
			strength = max(1, strength*decay)
		}
	}
	return nil
}

// evaluate decodes candidates in parallel. Results are indexed by candidate,
// so the outcome does not depend on scheduling.
func (s *search) evaluate(cands [][]Gene) ([]*Layout, error) {
	s.evals += len(cands)
	layouts := make([]*Layout, len(cands))
	if s.pool == nil {
		for i, c := range cands {
			layouts[i] = decode(s.in, c)
		}
		return layouts, nil
	}

	err := s.pool.Map(context.Background(), len(cands), func(_ context.Context, i int) error {
		layouts[i] = decode(s.in, cands[i])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate batch: %w", err)
	}
	return layouts, nil
}

// bestIndex returns the narrowest layout, preferring the lowest index on ties.
func bestIndex(layouts []*Layout) int {
	bi := 0
	for i, l := range layouts[1:] {
		if l.better(layouts[bi]) {
			bi = i + 1
		}
	}
	return bi
}

// mutate returns a copy of genes with k random moves applied: swapping two
// copies, reinserting one copy elsewhere or changing one copy's orientation.
func mutate(in *Instance, genes []Gene, k int, rng *rand.Rand) []Gene {
	out := make([]Gene, len(genes))
	copy(out, genes)
	if len(out) == 0 {
		return out
	}

	for range k {
		switch rng.IntN(3) {
		case 0:
			i, j := rng.IntN(len(out)), rng.IntN(len(out))
			out[i], out[j] = out[j], out[i]
		case 1:
			i, j := rng.IntN(len(out)), rng.IntN(len(out))
			g := out[i]
			if i < j {
				copy(out[i:j], out[i+1:j+1])
			} else {
				copy(out[j+1:i+1], out[j:i])
			}
			out[j] = g
		case 2:
			i := rng.IntN(len(out))
			if n := len(in.items[out[i].Item].Shapes); n > 1 {
				out[i].Orient = rng.IntN(n)
			}
		}
	}
	return out
}
