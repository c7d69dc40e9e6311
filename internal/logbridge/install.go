package logbridge

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/seantiz/nester/internal/protocol"
)

// Options configures an installation.
type Options struct {
	// Instant posts each record immediately instead of holding it for Flush.
	Instant bool

	// SideChannel receives installation failures, which cannot travel over
	// the message protocol. Defaults to os.Stderr.
	SideChannel io.Writer
}

// Installer installs one bridge as the process-wide slog default. Only the
// first Install call has any effect; later calls return the same bridge, so
// records are never delivered twice.
type Installer struct {
	once   sync.Once
	bridge *Bridge
	err    error
}

var process Installer

// Install installs the process-wide bridge. See Installer.Install.
func Install(code int, sink protocol.Sink, opts Options) (*Bridge, error) {
	return process.Install(code, sink, opts)
}

// Install maps code to a level, wraps sink in a bridge and makes it the
// default slog logger. An invalid code is reported once on the side channel
// and leaves the default logger untouched; the returned bridge then discards
// everything. The failure is otherwise non-fatal.
func (in *Installer) Install(code int, sink protocol.Sink, opts Options) (*Bridge, error) {
	in.once.Do(func() {
		level, err := LevelForCode(code)
		if err != nil {
			side := opts.SideChannel
			if side == nil {
				side = os.Stderr
			}
			fmt.Fprintf(side, "logbridge: failed to apply logger: %v\n", err)
			in.bridge = New(protocol.Discard, levelOff, true)
			in.err = err
			return
		}

		Epoch()
		in.bridge = New(sink, level, opts.Instant)
		slog.SetDefault(in.bridge.Logger())
	})
	return in.bridge, in.err
}
