// Package workpool provides the process-wide worker pool optimizers fan out
// on. The pool is bootstrapped once and shared by every run.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrNotBootstrapped is returned by Map before Bootstrap has been called.
var ErrNotBootstrapped = errors.New("worker pool not bootstrapped")

// Pool bounds the parallelism of batch evaluations.
type Pool struct {
	once sync.Once
	mu   sync.RWMutex
	size int
}

// New returns a pool that has not been bootstrapped yet.
func New() *Pool {
	return &Pool{}
}

// Bootstrap sizes the pool. Only the first call has any effect; n <= 0 uses
// GOMAXPROCS. It returns the effective size.
func (p *Pool) Bootstrap(n int) int {
	p.once.Do(func() {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		p.mu.Lock()
		p.size = n
		p.mu.Unlock()
	})
	return p.Size()
}

// Ready reports whether Bootstrap has run.
func (p *Pool) Ready() bool {
	return p.Size() > 0
}

// Size returns the pool's parallelism, or zero before Bootstrap.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Map calls fn for every index in [0, n) with at most Size calls in flight.
// It returns the first error; the context passed to fn is cancelled once any
// call fails.
func (p *Pool) Map(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	size := p.Size()
	if size == 0 {
		return ErrNotBootstrapped
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(size)
	for i := range n {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(gctx, i); err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
