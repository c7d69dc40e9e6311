// Package logbridge turns diagnostic log records into processing messages so
// that code emitting logs through log/slog needs no protocol awareness.
package logbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/nester/internal/protocol"
)

// LevelTrace is the most verbose level, below slog.LevelDebug.
const LevelTrace = slog.Level(-8)

// levelOff disables every record.
const levelOff = slog.Level(1 << 30)

// prefixWidth is the column the message text starts at.
const prefixWidth = 27

// ErrInvalidVerbosity is returned for verbosity codes outside 0..5.
var ErrInvalidVerbosity = errors.New("invalid verbosity code")

// LevelForCode maps a verbosity code to the minimum enabled level:
// 0 off, 1 error, 2 warn, 3 info, 4 debug, 5 trace.
func LevelForCode(code int) (slog.Level, error) {
	switch code {
	case 0:
		return levelOff, nil
	case 1:
		return slog.LevelError, nil
	case 2:
		return slog.LevelWarn, nil
	case 3:
		return slog.LevelInfo, nil
	case 4:
		return slog.LevelDebug, nil
	case 5:
		return LevelTrace, nil
	default:
		return levelOff, fmt.Errorf("%w: %d", ErrInvalidVerbosity, code)
	}
}

// LevelName returns the label used in message prefixes.
func LevelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	case l >= slog.LevelDebug:
		return "DEBUG"
	default:
		return "TRACE"
	}
}

var epoch = sync.OnceValue(time.Now)

// Epoch returns the process epoch that elapsed times are measured from. It is
// captured on first use and never reset.
func Epoch() time.Time {
	return epoch()
}

// Format renders the text of a processing message: "[LEVEL] [hh:mm:ss]"
// padded to a fixed column, followed by msg.
func Format(level slog.Level, elapsed time.Duration, msg string) string {
	secs := int64(elapsed / time.Second)
	prefix := fmt.Sprintf("[%s] [%02d:%02d:%02d]", LevelName(level), secs/3600, (secs/60)%60, secs%60)
	return fmt.Sprintf("%-*s%s", prefixWidth, prefix, msg)
}

// Bridge delivers log records to a Sink as processing messages. In instant
// mode each record is posted as it is logged; otherwise records are held
// until Flush.
type Bridge struct {
	sink    protocol.Sink
	level   slog.Leveler
	instant bool

	mu      sync.Mutex
	pending []protocol.Message
}

// New creates a bridge posting records at or above level to sink.
func New(sink protocol.Sink, level slog.Leveler, instant bool) *Bridge {
	return &Bridge{sink: sink, level: level, instant: instant}
}

// Logger returns a logger whose records flow through the bridge.
func (b *Bridge) Logger() *slog.Logger {
	return slog.New(b.Handler())
}

// Handler returns the bridge's slog.Handler.
func (b *Bridge) Handler() slog.Handler {
	return &handler{bridge: b}
}

// Flush posts every held record in the order it was logged.
func (b *Bridge) Flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, m := range pending {
		b.sink.Post(m)
	}
}

func (b *Bridge) deliver(m protocol.Message) {
	if b.instant {
		b.sink.Post(m)
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, m)
	b.mu.Unlock()
}

type handler struct {
	bridge *Bridge
	attrs  string
	group  string
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.bridge.level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)
	sb.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.group, a)
		return true
	})

	text := Format(r.Level, time.Since(Epoch()), sb.String())
	h.bridge.deliver(protocol.Processing(LevelName(r.Level), text))
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var sb strings.Builder
	sb.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&sb, h.group, a)
	}
	return &handler{bridge: h.bridge, attrs: sb.String(), group: h.group}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &handler{bridge: h.bridge, attrs: h.attrs, group: group}
}

func writeAttr(sb *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		prefix := a.Key
		if group != "" && prefix != "" {
			prefix = group + "." + prefix
		} else if prefix == "" {
			prefix = group
		}
		for _, ga := range a.Value.Group() {
			writeAttr(sb, prefix, ga)
		}
		return
	}
	sb.WriteByte(' ')
	if group != "" {
		sb.WriteString(group)
		sb.WriteByte('.')
	}
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(a.Value.String())
}
