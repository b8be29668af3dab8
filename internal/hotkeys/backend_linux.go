//go:build linux && !(cgo && x11)

package hotkeys

import "hotkeyd/internal/input"

// NewBackend returns the platform combo backend. On Linux combos are
// matched on the evdev stream; build with -tags x11 (and cgo) to grab them
// through the X server instead.
func NewBackend(opts BackendOptions) Backend {
	return newEvdevBackend(func() (input.Source, error) {
		return input.Open(opts.Input)
	})
}
