package strip

import (
	"github.com/seantiz/nester/internal/harness"
	"github.com/seantiz/nester/internal/model"
	"github.com/seantiz/nester/internal/pipeline"
	"github.com/seantiz/nester/internal/protocol"
)

// Pipeline is a strip-packing pipeline.
type Pipeline struct {
	name          string
	subset        protocol.Subset
	collaborators harness.Collaborators
}

// Name implements pipeline.Pipeline.
func (p *Pipeline) Name() string { return p.name }

// Subset implements pipeline.Pipeline.
func (p *Pipeline) Subset() protocol.Subset { return p.subset }

// Collaborators implements pipeline.Pipeline.
func (p *Pipeline) Collaborators() harness.Collaborators { return p.collaborators }

// NewSparrow returns the searching pipeline. It reports previews and
// evaluates candidate batches on pool.
func NewSparrow(pool Mapper) *Pipeline {
	return &Pipeline{
		name:   model.PipelineSparrow,
		subset: protocol.SubsetIterative,
		collaborators: harness.Collaborators{
			Importer:  Importer{},
			Optimizer: &SparrowOptimizer{Pool: pool},
			Renderer:  Renderer{Title: "SPARROW"},
		},
	}
}

// NewLBF returns the single-pass pipeline.
func NewLBF() *Pipeline {
	return &Pipeline{
		name:   model.PipelineLBF,
		subset: protocol.SubsetOneShot,
		collaborators: harness.Collaborators{
			Importer:  Importer{},
			Optimizer: LBFOptimizer{},
			Renderer:  Renderer{Title: "LBF"},
		},
	}
}

// Register adds both strip pipelines to reg.
func Register(reg *pipeline.Registry, pool Mapper) {
	reg.Register(NewSparrow(pool))
	reg.Register(NewLBF())
}
