package hotkeys

import "hotkeyd/internal/input"

// BackendOptions configures NewBackend.
type BackendOptions struct {
	// Input selects the devices read by the evdev backend. Other backends
	// ignore it.
	Input input.Options
}
