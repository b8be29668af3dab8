//go:build (linux && cgo && x11) || windows

package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.design/x/hotkey"
)

var keyCodes = map[Key]hotkey.Key{
	"SPACE":  hotkey.KeySpace,
	"TAB":    hotkey.KeyTab,
	"ENTER":  hotkey.KeyReturn,
	"ESC":    hotkey.KeyEscape,
	"DELETE": hotkey.KeyDelete,
	"LEFT":   hotkey.KeyLeft,
	"RIGHT":  hotkey.KeyRight,
	"UP":     hotkey.KeyUp,
	"DOWN":   hotkey.KeyDown,
	"0":      hotkey.Key0,
	"1":      hotkey.Key1,
	"2":      hotkey.Key2,
	"3":      hotkey.Key3,
	"4":      hotkey.Key4,
	"5":      hotkey.Key5,
	"6":      hotkey.Key6,
	"7":      hotkey.Key7,
	"8":      hotkey.Key8,
	"9":      hotkey.Key9,
	"A":      hotkey.KeyA,
	"B":      hotkey.KeyB,
	"C":      hotkey.KeyC,
	"D":      hotkey.KeyD,
	"E":      hotkey.KeyE,
	"F":      hotkey.KeyF,
	"G":      hotkey.KeyG,
	"H":      hotkey.KeyH,
	"I":      hotkey.KeyI,
	"J":      hotkey.KeyJ,
	"K":      hotkey.KeyK,
	"L":      hotkey.KeyL,
	"M":      hotkey.KeyM,
	"N":      hotkey.KeyN,
	"O":      hotkey.KeyO,
	"P":      hotkey.KeyP,
	"Q":      hotkey.KeyQ,
	"R":      hotkey.KeyR,
	"S":      hotkey.KeyS,
	"T":      hotkey.KeyT,
	"U":      hotkey.KeyU,
	"V":      hotkey.KeyV,
	"W":      hotkey.KeyW,
	"X":      hotkey.KeyX,
	"Y":      hotkey.KeyY,
	"Z":      hotkey.KeyZ,
	"F1":     hotkey.KeyF1,
	"F2":     hotkey.KeyF2,
	"F3":     hotkey.KeyF3,
	"F4":     hotkey.KeyF4,
	"F5":     hotkey.KeyF5,
	"F6":     hotkey.KeyF6,
	"F7":     hotkey.KeyF7,
	"F8":     hotkey.KeyF8,
	"F9":     hotkey.KeyF9,
	"F10":    hotkey.KeyF10,
	"F11":    hotkey.KeyF11,
	"F12":    hotkey.KeyF12,
}

// desktopBackend registers combos with the desktop session through
// golang.design/x/hotkey (X11 on Linux, RegisterHotKey on Windows). On
// Linux it is only built with the x11 tag: the library needs a display at
// package init.
type desktopBackend struct {
	mu    sync.Mutex
	hooks map[*desktopHook]struct{}
}

// NewBackend returns the platform combo backend.
func NewBackend(BackendOptions) Backend {
	return &desktopBackend{hooks: make(map[*desktopHook]struct{})}
}

type desktopHook struct {
	owner   *desktopBackend
	hk      *hotkey.Hotkey
	binding string
	doneCh  chan struct{}
	once    sync.Once
	err     error
}

func toHotkey(b Binding) ([]hotkey.Modifier, hotkey.Key, error) {
	key, ok := keyCodes[b.Key()]
	if !ok {
		return nil, 0, fmt.Errorf("key %s is not supported by the desktop hotkey backend", b.Key())
	}
	var mods []hotkey.Modifier
	for _, m := range orderedModifiers {
		if !b.Has(m) {
			continue
		}
		native, ok := nativeModifiers[m]
		if !ok {
			return nil, 0, fmt.Errorf("modifier %s is not supported on this platform", m)
		}
		mods = append(mods, native)
	}
	return mods, key, nil
}

func (d *desktopBackend) RegisterCombo(b Binding, onTrigger func(), onRelease bool) (Hook, error) {
	if onTrigger == nil {
		return nil, errors.New("onTrigger callback is required")
	}
	mods, key, err := toHotkey(b)
	if err != nil {
		return nil, err
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return nil, err
	}

	h := &desktopHook{owner: d, hk: hk, binding: b.Normalized(), doneCh: make(chan struct{})}
	d.mu.Lock()
	d.hooks[h] = struct{}{}
	d.mu.Unlock()

	go h.run(onTrigger, onRelease)
	return h, nil
}

// run drains both event channels and fires onTrigger for the requested
// phase. The other phase is read and dropped so the library never backs up.
func (h *desktopHook) run(onTrigger func(), onRelease bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] hotkey loop recovered",
				"binding", h.binding,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()

	down, up := h.hk.Keydown(), h.hk.Keyup()
	for {
		select {
		case <-h.doneCh:
			return
		case _, ok := <-down:
			if !ok {
				return
			}
			if !onRelease {
				onTrigger()
			}
		case _, ok := <-up:
			if !ok {
				return
			}
			if onRelease {
				onTrigger()
			}
		}
	}
}

func (h *desktopHook) Unregister() error {
	h.once.Do(func() {
		close(h.doneCh)
		h.err = h.hk.Unregister()
		h.owner.mu.Lock()
		delete(h.owner.hooks, h)
		h.owner.mu.Unlock()
	})
	return h.err
}

func (d *desktopBackend) UnregisterAll() error {
	d.mu.Lock()
	hooks := make([]*desktopHook, 0, len(d.hooks))
	for h := range d.hooks {
		hooks = append(hooks, h)
	}
	d.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("unregister %q: %w", h.binding, err))
		}
	}
	return errors.Join(errs...)
}
