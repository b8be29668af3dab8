// Package logging installs the process slog handler and captures warnings
// for commands that report them.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
)

// Entry is a captured log record.
type Entry struct {
	Time    time.Time         `json:"time" yaml:"time" toml:"time"`
	Level   string            `json:"level" yaml:"level" toml:"level"`
	Message string            `json:"message" yaml:"message" toml:"message"`
	Group   string            `json:"group,omitempty" yaml:"group,omitempty" toml:"group,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty" toml:"attrs,omitempty"`
}

// EntryCallback receives each record at or above the tee threshold.
type EntryCallback func(Entry)

// TeeHandler forwards every record to base and copies records at or above
// minLevel to callback.
type TeeHandler struct {
	base     slog.Handler
	callback EntryCallback
	minLevel slog.Level
	group    string
	attrs    []slog.Attr
}

// NewTeeHandler wraps base. A nil callback makes it a plain pass-through.
func NewTeeHandler(base slog.Handler, minLevel slog.Level, callback EntryCallback) *TeeHandler {
	return &TeeHandler{
		base:     base,
		callback: callback,
		minLevel: minLevel,
	}
}

// Enabled defers to base; minLevel only gates the callback.
func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle forwards to base, then invokes the callback regardless of the base
// result. The base error is returned.
func (h *TeeHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.base.Handle(ctx, record)

	if h.callback != nil && record.Level >= h.minLevel {
		entry := Entry{
			Time:    record.Time,
			Level:   record.Level.String(),
			Message: record.Message,
			Group:   h.group,
		}
		if n := len(h.attrs) + record.NumAttrs(); n > 0 {
			entry.Attrs = make(map[string]string, n)
			for _, a := range h.attrs {
				entry.Attrs[a.Key] = a.Value.String()
			}
			record.Attrs(func(a slog.Attr) bool {
				entry.Attrs[a.Key] = a.Value.String()
				return true
			})
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					// stderr, not slog: logging from here would re-enter the tee.
					fmt.Fprintf(os.Stderr, "[logging] tee callback panicked: %v\n%s\n", r, debug.Stack())
				}
			}()
			h.callback(entry)
		}()
	}
	return err
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &TeeHandler{
		base:     h.base.WithAttrs(attrs),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    h.group,
		attrs:    append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &TeeHandler{
		base:     h.base.WithGroup(name),
		callback: h.callback,
		minLevel: h.minLevel,
		group:    group,
		attrs:    h.attrs,
	}
}
