package terminator

import "sync/atomic"

// Flag is a boolean cancellation cell shared between a controller and a
// worker with no lock between them. The zero value is an unset flag.
//
// Loads and stores are sequentially consistent on every platform, and the
// runtime aligns the underlying word to the native 32-bit atomic size. A Flag
// must not be copied after first use.
type Flag struct {
	_ noCopy
	v atomic.Bool
}

// Set raises the flag. Safe to call from any goroutine, any number of times.
func (f *Flag) Set() {
	f.v.Store(true)
}

// Store writes v into the flag. It is the direct write path for controllers
// holding the cell itself.
func (f *Flag) Store(v bool) {
	f.v.Store(v)
}

// Clear lowers the flag.
func (f *Flag) Clear() {
	f.v.Store(false)
}

// IsSet reports whether the flag is raised.
func (f *Flag) IsSet() bool {
	return f.v.Load()
}

// noCopy trips `go vet`'s copylocks check when a Flag is copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
