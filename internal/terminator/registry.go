package terminator

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownHandle is returned when a handle does not address a live cell.
var ErrUnknownHandle = errors.New("unknown signal handle")

// Handle is an opaque capability addressing one Flag in a Registry. It is
// published once to a controller, which may then write the flag directly
// through Registry.Cell without going through the run that polls it. The low
// bits index the cell and the high bits carry the cell's generation, so a
// handle stops resolving once released and never aliases the cell's next
// holder.
type Handle uint32

const (
	indexBits = 16
	indexMask = 1<<indexBits - 1
)

// SharedHandle addresses the process-wide shared cell every Registry starts
// with. It is never released.
const SharedHandle Handle = 0

func makeHandle(index int, gen uint16) Handle {
	return Handle(uint32(gen)<<indexBits | uint32(index))
}

func (h Handle) index() int         { return int(h & indexMask) }
func (h Handle) generation() uint16 { return uint16(h >> indexBits) }

// Registry owns the process's cancellation cells. Cells are allocated once
// and never move, so a pointer obtained from Cell remains the same location
// for the life of the process; only the handle-to-cell lookup takes a lock,
// never the read or write of the flag itself.
type Registry struct {
	mu    sync.Mutex
	cells []*Flag
	gens  []uint16
	live  []bool
	free  []int
}

// NewRegistry creates a registry holding only the shared cell.
func NewRegistry() *Registry {
	return &Registry{
		cells: []*Flag{new(Flag)},
		gens:  []uint16{0},
		live:  []bool{true},
	}
}

// Shared returns the handle of the process-wide shared cell. Runs armed on
// the shared cell are cancelled together, so at most one independently
// cancellable run should use it at a time.
func (r *Registry) Shared() Handle {
	return SharedHandle
}

// Acquire allocates a per-run cell, reusing a released one when available.
// The returned cell is always cleared. It panics when every index is live.
func (r *Registry) Acquire() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.free); n > 0 {
		i := r.free[0]
		r.free = r.free[1:]
		r.cells[i].Clear()
		r.live[i] = true
		return makeHandle(i, r.gens[i])
	}

	i := len(r.cells)
	if i > indexMask {
		panic("terminator: signal registry exhausted")
	}
	r.cells = append(r.cells, new(Flag))
	r.gens = append(r.gens, 0)
	r.live = append(r.live, true)
	return makeHandle(i, 0)
}

// Release returns a per-run cell to the registry and retires h. Releasing the
// shared cell or an unknown handle is an error.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == SharedHandle {
		return fmt.Errorf("release handle %d: shared cell is permanent", h)
	}
	i, ok := r.resolve(h)
	if !ok {
		return fmt.Errorf("release handle %d: %w", h, ErrUnknownHandle)
	}
	r.live[i] = false
	r.gens[i]++
	r.free = append(r.free, i)
	return nil
}

// Cell returns the flag addressed by h.
func (r *Registry) Cell(h Handle) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.resolve(h)
	if !ok {
		return nil, fmt.Errorf("cell %d: %w", h, ErrUnknownHandle)
	}
	return r.cells[i], nil
}

// resolve maps a live handle of the current generation to its cell index.
// Callers hold r.mu.
func (r *Registry) resolve(h Handle) (int, bool) {
	i := h.index()
	if i >= len(r.cells) || !r.live[i] || r.gens[i] != h.generation() {
		return 0, false
	}
	return i, true
}

// Terminator builds an unarmed terminator over the cell addressed by h.
func (r *Registry) Terminator(h Handle) (*Terminator, error) {
	f, err := r.Cell(h)
	if err != nil {
		return nil, err
	}
	return New(f, h), nil
}

// Live reports the number of cells currently handed out, including the
// shared cell.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells) - len(r.free)
}
