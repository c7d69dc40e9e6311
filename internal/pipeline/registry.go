package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/nester/internal/model"
)

// DefaultName is the pipeline used when a request names none.
const DefaultName = model.PipelineSparrow

// Registry holds registered pipelines and resolves them by name.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

// NewRegistry creates an empty pipeline registry.
func NewRegistry() *Registry {
	return &Registry{
		pipelines: make(map[string]Pipeline),
	}
}

// Register adds a pipeline under its own name, replacing any previous one.
func (r *Registry) Register(p Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.Name()] = p
}

// Resolve returns the named pipeline. An empty name resolves to DefaultName.
func (r *Registry) Resolve(name string) (Pipeline, error) {
	if name == "" {
		name = DefaultName
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %q is not registered", name)
	}
	return p, nil
}

// List returns information about all registered pipelines, sorted by name
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.pipelines))
	for name, p := range r.pipelines {
		infos = append(infos, Info{
			Name:     name,
			Statuses: p.Subset(),
			Default:  name == DefaultName,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
