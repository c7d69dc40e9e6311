package terminator

import (
	"sync/atomic"
	"time"
)

// Terminator decides when a running computation must stop: once its deadline
// has passed or once its flag has been raised. The flag may be shared with
// other terminators; the deadline belongs to this terminator alone.
//
// Arm is expected from the controller before the run starts. Poll and
// RequestCancel may be called concurrently from any goroutine.
type Terminator struct {
	flag     *Flag
	handle   Handle
	deadline atomic.Pointer[time.Time]
	now      func() time.Time
}

// New creates an unarmed terminator over flag. handle is the capability under
// which the flag was published and is reported back by Handle.
func New(flag *Flag, handle Handle) *Terminator {
	return &Terminator{flag: flag, handle: handle, now: time.Now}
}

// Arm clears any stale cancellation left by an earlier run and sets the
// deadline to now+timeout. Deadlines are compared on the monotonic clock.
func (t *Terminator) Arm(timeout time.Duration) {
	t.flag.Clear()
	at := t.now().Add(timeout)
	t.deadline.Store(&at)
}

// Poll reports whether the computation should stop. An unarmed terminator
// only observes its flag. Once Poll returns true it keeps returning true
// until the next Arm.
func (t *Terminator) Poll() bool {
	if at := t.deadline.Load(); at != nil && t.now().After(*at) {
		return true
	}
	return t.flag.IsSet()
}

// RequestCancel raises the flag. It is the call-based equivalent of writing
// the published cell directly.
func (t *Terminator) RequestCancel() {
	t.flag.Set()
}

// Deadline returns the armed deadline, if any.
func (t *Terminator) Deadline() (time.Time, bool) {
	at := t.deadline.Load()
	if at == nil {
		return time.Time{}, false
	}
	return *at, true
}

// Cancelled reports whether the flag, as opposed to the deadline, is raised.
func (t *Terminator) Cancelled() bool {
	return t.flag.IsSet()
}

// Handle returns the capability addressing this terminator's flag.
func (t *Terminator) Handle() Handle {
	return t.handle
}
