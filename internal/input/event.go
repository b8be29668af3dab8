// Package input captures raw key events from keyboard-class devices.
package input

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the edge a raw key event reports.
type Phase int

const (
	PhasePressed Phase = iota + 1
	PhaseReleased
)

func (p Phase) String() string {
	switch p {
	case PhasePressed:
		return "PRESSED"
	case PhaseReleased:
		return "RELEASED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// RawKeyEvent is one press or release read from an input device.
type RawKeyEvent struct {
	Code   int
	Phase  Phase
	Time   time.Time
	Device string
}

// Source yields raw key events. NextEvent blocks until an event arrives,
// the source fails, or Close is called.
type Source interface {
	NextEvent() (RawKeyEvent, error)
	Close() error
}

var (
	// ErrUnsupported is returned by Open on platforms without raw capture.
	ErrUnsupported = errors.New("raw key capture is not supported on this platform")
	// ErrClosed is returned by NextEvent after Close.
	ErrClosed = errors.New("input source closed")
	// ErrNoDevices is returned when no keyboard-class device is available
	// and hotplug watching is off.
	ErrNoDevices = errors.New("no key-capable input devices")
)

// Options selects the devices a Source reads.
type Options struct {
	// Patterns are filepath.Match globs, e.g. "/dev/input/event*".
	Patterns []string
	// Watch picks up devices created after Open.
	Watch bool
}

// DefaultPatterns is used when Options.Patterns is empty.
var DefaultPatterns = []string{"/dev/input/event*"}

// Kernel event type and key values, see linux/input-event-codes.h.
const (
	evKey = 0x01

	keyValueRelease = 0
	keyValuePress   = 1
	keyValueRepeat  = 2
)

// translate maps a kernel (type, value) pair to a Phase. Only EV_KEY
// press and release are reported; autorepeat is dropped.
func translate(typ uint16, value int32) (Phase, bool) {
	if typ != evKey {
		return 0, false
	}
	switch value {
	case keyValuePress:
		return PhasePressed, true
	case keyValueRelease:
		return PhaseReleased, true
	default:
		return 0, false
	}
}
