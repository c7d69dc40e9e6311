package strip

import (
	"fmt"

	"github.com/seantiz/nester/internal/harness"
)

// LBFOptimizer packs items once, tallest first, without searching.
type LBFOptimizer struct{}

// Optimize implements harness.Optimizer.
func (LBFOptimizer) Optimize(p harness.OptimizeParams) (harness.Solution, error) {
	in, ok := p.Instance.(*Instance)
	if !ok {
		return nil, fmt.Errorf("unexpected instance type %T", p.Instance)
	}

	l := decode(in, initialGenes(in))
	if p.Logger != nil {
		p.Logger.Debug("constructed layout", "solution", l.Summary())
	}
	p.Listener.Report(harness.ReportFinal, l)
	return l, nil
}
