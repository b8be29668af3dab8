// Package testutil holds helpers shared by package tests.
package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogCapture collects slog text output. Reads are safe while workers are
// still logging.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *LogCapture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Lines returns the captured records whose message carries tag, e.g.
// "[DEBUG-DISPATCH] key event".
func (c *LogCapture) Lines(tag string) []string {
	var out []string
	for line := range strings.Lines(c.String()) {
		if strings.Contains(line, tag) {
			out = append(out, strings.TrimRight(line, "\n"))
		}
	}
	return out
}

// CaptureLogs redirects the default slog logger at level into a
// LogCapture and restores the original logger in t.Cleanup.
func CaptureLogs(t *testing.T, level slog.Level) *LogCapture {
	t.Helper()
	originalLogger := slog.Default()
	capture := &LogCapture{}
	slog.SetDefault(slog.New(slog.NewTextHandler(capture, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() {
		slog.SetDefault(originalLogger)
	})
	return capture
}
