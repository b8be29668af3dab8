//go:build !linux && !windows

package hotkeys

import (
	"errors"
	"log/slog"
	"sync"
)

// validatingBackend accepts combos but never fires them. Builds without a
// desktop hotkey backend still resolve and validate their configuration;
// scan-code entries keep working through the dispatch loop.
type validatingBackend struct {
	mu     sync.Mutex
	active map[*validatingHook]struct{}
}

// NewBackend returns the platform combo backend.
func NewBackend(BackendOptions) Backend {
	return &validatingBackend{active: make(map[*validatingHook]struct{})}
}

type validatingHook struct {
	owner   *validatingBackend
	binding string
}

func (v *validatingBackend) RegisterCombo(b Binding, onTrigger func(), _ bool) (Hook, error) {
	if onTrigger == nil {
		return nil, errors.New("onTrigger callback is required")
	}
	slog.Warn("[DEBUG-hotkey] global hotkeys are not supported on this build; binding validated but will never fire",
		"binding", b.Normalized())

	h := &validatingHook{owner: v, binding: b.Normalized()}
	v.mu.Lock()
	v.active[h] = struct{}{}
	v.mu.Unlock()
	return h, nil
}

func (h *validatingHook) Unregister() error {
	h.owner.mu.Lock()
	delete(h.owner.active, h)
	h.owner.mu.Unlock()
	return nil
}

func (v *validatingBackend) UnregisterAll() error {
	v.mu.Lock()
	clear(v.active)
	v.mu.Unlock()
	return nil
}
