package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"hotkeyd/internal/keymap"
)

// Publisher delivers a notification identifier to the bus.
// Implementations must not block.
type Publisher interface {
	Publish(id string)
}

// Hook is one installed combo callback.
type Hook interface {
	Unregister() error
}

// Backend is the input-capture collaborator for symbolic combos.
// onTrigger runs on a goroutine owned by the backend.
type Backend interface {
	RegisterCombo(b Binding, onTrigger func(), onRelease bool) (Hook, error)
	UnregisterAll() error
}

// DuplicateBindingError reports an entry whose physical key is already
// owned by another entry in the same direction. The later entry is
// rejected; the owner stays registered.
type DuplicateBindingError struct {
	Direction keymap.Direction
	ID        string
	Key       string
	Owner     string
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("duplicate binding: %s %q for %q is already bound to %q", e.Direction, e.Key, e.ID, e.Owner)
}

// RegistrationError reports a combo the parser or the backend rejected.
type RegistrationError struct {
	Direction keymap.Direction
	ID        string
	Combo     string
	Err       error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s %q for %q: %v", e.Direction, e.Combo, e.ID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Registry binds resolved mappings to a Backend.
type Registry struct {
	backend Backend
	pub     Publisher
}

// NewRegistry creates a Registry publishing through pub.
func NewRegistry(backend Backend, pub Publisher) *Registry {
	return &Registry{backend: backend, pub: pub}
}

type installedHook struct {
	direction keymap.Direction
	id        string
	combo     string
	hook      Hook
}

// Registration is the handle returned by Register.
type Registration struct {
	mu       sync.Mutex
	hooks    []installedHook
	scan     keymap.KeyMapping
	released bool
}

// ScanTable returns the accepted scan-code entries. These are not
// registered with the backend; the dispatch loop matches them against the
// raw event stream.
func (reg *Registration) ScanTable() keymap.KeyMapping {
	if reg == nil {
		return keymap.KeyMapping{}
	}
	return reg.scan.Clone()
}

// Combos returns the normalized combos currently installed, per direction.
func (reg *Registration) Combos() map[keymap.Direction][]string {
	out := map[keymap.Direction][]string{}
	if reg == nil {
		return out
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, h := range reg.hooks {
		out[h.direction] = append(out[h.direction], h.combo)
	}
	return out
}

// PhysicalKey names the physical key k binds: "scancode:<n>" for scan
// codes, the normalized combo otherwise. A combo that does not parse is
// named by its trimmed lower-case text.
func PhysicalKey(k keymap.KeyID) string {
	if code, ok := k.Code(); ok {
		return "scancode:" + strconv.Itoa(code)
	}
	binding, err := ParseBinding(k.ComboString())
	if err != nil {
		return strings.ToLower(strings.TrimSpace(k.ComboString()))
	}
	return binding.Normalized()
}

// Register installs one callback per combo entry, in sorted id order,
// key_down entries triggering on press and key_up entries on release.
// Scan-code entries are collected into ScanTable instead.
//
// The returned Registration is never nil. The error joins every
// per-entry failure (*DuplicateBindingError, *RegistrationError); entries
// that did not fail remain registered.
func (r *Registry) Register(m keymap.KeyMapping) (*Registration, error) {
	reg := &Registration{}
	var errs []error

	for _, dir := range keymap.Directions {
		entries := m.Get(dir)
		owners := make(map[string]string, len(entries))
		scan := keymap.Mapping{}

		for _, id := range entries.IDs() {
			key := entries[id]

			if _, ok := key.Code(); ok {
				physical := PhysicalKey(key)
				if owner, taken := owners[physical]; taken {
					errs = append(errs, r.duplicate(dir, id, key.String(), owner))
					continue
				}
				owners[physical] = id
				scan[id] = key
				continue
			}

			binding, err := ParseBinding(key.ComboString())
			if err != nil {
				errs = append(errs, r.failed(dir, id, key.ComboString(), err))
				continue
			}
			if owner, taken := owners[binding.Normalized()]; taken {
				errs = append(errs, r.duplicate(dir, id, binding.Normalized(), owner))
				continue
			}

			hook, err := r.backend.RegisterCombo(binding, newTrigger(r.pub, id, binding.Normalized()), dir == keymap.Up)
			if err != nil {
				errs = append(errs, r.failed(dir, id, binding.Normalized(), err))
				continue
			}
			owners[binding.Normalized()] = id
			reg.hooks = append(reg.hooks, installedHook{direction: dir, id: id, combo: binding.Normalized(), hook: hook})
			slog.Info("[DEBUG-hotkey] combo registered", "direction", dir, "id", id, "combo", binding.Normalized())
		}

		if len(scan) > 0 {
			if dir == keymap.Up {
				reg.scan.KeyUp = scan
			} else {
				reg.scan.KeyDown = scan
			}
		}
	}

	return reg, errors.Join(errs...)
}

func (r *Registry) duplicate(dir keymap.Direction, id string, key string, owner string) error {
	err := &DuplicateBindingError{Direction: dir, ID: id, Key: key, Owner: owner}
	slog.Warn("[DEBUG-hotkey] duplicate binding rejected", "direction", dir, "id", id, "key", key, "owner", owner)
	return err
}

func (r *Registry) failed(dir keymap.Direction, id string, combo string, cause error) error {
	err := &RegistrationError{Direction: dir, ID: id, Combo: combo, Err: cause}
	slog.Warn("[DEBUG-hotkey] combo registration failed", "direction", dir, "id", id, "combo", combo, "error", cause)
	return err
}

// newTrigger builds the callback for one entry. id and combo are bound by
// value here, never through a loop variable.
func newTrigger(pub Publisher, id string, combo string) func() {
	return func() {
		slog.Debug("[DEBUG-hotkey] combo fired", "combo", combo, "id", id)
		pub.Publish(id)
	}
}

// Unregister releases every hook owned by reg and then asks the backend to
// drop anything left. reg may be nil (nothing was registered); calling it
// more than once is safe.
func (r *Registry) Unregister(reg *Registration) error {
	var errs []error
	if reg != nil {
		reg.mu.Lock()
		hooks := reg.hooks
		already := reg.released
		reg.hooks = nil
		reg.released = true
		reg.mu.Unlock()

		if !already {
			for _, h := range hooks {
				if err := h.hook.Unregister(); err != nil {
					slog.Warn("[DEBUG-hotkey] hook release failed", "id", h.id, "combo", h.combo, "error", err)
					errs = append(errs, fmt.Errorf("release %q: %w", h.combo, err))
				}
			}
		}
	}
	if err := r.backend.UnregisterAll(); err != nil {
		errs = append(errs, fmt.Errorf("unregister all: %w", err))
	}
	return errors.Join(errs...)
}
