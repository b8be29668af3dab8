package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"hotkeyd/internal/input"
)

// evdevBackend matches combos against the raw key stream of the input
// devices. It needs no display server: modifier state is tracked from the
// same stream, so a combo fires only when exactly its modifiers are held.
//
// The source is opened on the first RegisterCombo and closed when the last
// hook is released.
type evdevBackend struct {
	open func() (input.Source, error)

	mu    sync.Mutex
	hooks map[*evdevHook]struct{}
	src   input.Source
	done  chan struct{}
}

func newEvdevBackend(open func() (input.Source, error)) *evdevBackend {
	return &evdevBackend{open: open, hooks: make(map[*evdevHook]struct{})}
}

type evdevHook struct {
	owner     *evdevBackend
	binding   Binding
	onTrigger func()
	onRelease bool
}

func (b *evdevBackend) RegisterCombo(binding Binding, onTrigger func(), onRelease bool) (Hook, error) {
	if onTrigger == nil {
		return nil, errors.New("onTrigger callback is required")
	}
	if _, ok := evdevKeyCodes[binding.Key()]; !ok {
		return nil, fmt.Errorf("key %s has no input event code", binding.Key())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.src == nil {
		src, err := b.open()
		if err != nil {
			return nil, fmt.Errorf("open input devices: %w", err)
		}
		b.src = src
		b.done = make(chan struct{})
		go b.read(src, b.done)
		slog.Debug("[DEBUG-hotkey] combo input source opened")
	}

	h := &evdevHook{owner: b, binding: binding, onTrigger: onTrigger, onRelease: onRelease}
	b.hooks[h] = struct{}{}
	return h, nil
}

func (h *evdevHook) Unregister() error {
	b := h.owner
	b.mu.Lock()
	if _, ok := b.hooks[h]; !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.hooks, h)
	if len(b.hooks) > 0 {
		b.mu.Unlock()
		return nil
	}
	src, done := b.detachLocked()
	b.mu.Unlock()
	return closeSource(src, done)
}

func (b *evdevBackend) UnregisterAll() error {
	b.mu.Lock()
	clear(b.hooks)
	src, done := b.detachLocked()
	b.mu.Unlock()
	return closeSource(src, done)
}

// detachLocked hands the open source to the caller. b.mu must be held.
func (b *evdevBackend) detachLocked() (input.Source, chan struct{}) {
	src, done := b.src, b.done
	b.src, b.done = nil, nil
	return src, done
}

// closeSource closes src and waits for its reader. It must be called
// without b.mu held: the reader takes b.mu to snapshot hooks.
func closeSource(src input.Source, done chan struct{}) error {
	if src == nil {
		return nil
	}
	err := src.Close()
	<-done
	slog.Debug("[DEBUG-hotkey] combo input source closed")
	return err
}

func (b *evdevBackend) read(src input.Source, done chan struct{}) {
	defer close(done)

	var st comboState
	for {
		ev, err := src.NextEvent()
		if err != nil {
			if !errors.Is(err, input.ErrClosed) {
				slog.Warn("[DEBUG-hotkey] combo input stopped", "error", err)
			}
			return
		}
		mods, key, release, ok := st.apply(ev)
		if !ok {
			continue
		}
		for _, h := range b.matching(mods, key, release) {
			fire(h)
		}
	}
}

func (b *evdevBackend) matching(mods Modifier, key Key, release bool) []*evdevHook {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*evdevHook
	for h := range b.hooks {
		if h.onRelease == release && h.binding.Modifiers() == mods && h.binding.Key() == key {
			out = append(out, h)
		}
	}
	return out
}

func fire(h *evdevHook) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("[DEBUG-PANIC] combo callback recovered",
				"binding", h.binding.Normalized(),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	h.onTrigger()
}

// comboState follows held modifiers across every device of a source.
// A key release is matched against the modifiers held when that key went
// down, so releasing ctrl before space still completes ctrl+space.
type comboState struct {
	held        map[int]bool
	pressedWith map[int]Modifier
}

func (s *comboState) modifiers() Modifier {
	var m Modifier
	for code := range s.held {
		m |= evdevModifierCodes[code]
	}
	return m
}

// apply folds ev into the state and reports the combo edge it completes,
// if any.
func (s *comboState) apply(ev input.RawKeyEvent) (Modifier, Key, bool, bool) {
	if s.held == nil {
		s.held = make(map[int]bool)
		s.pressedWith = make(map[int]Modifier)
	}

	if _, isMod := evdevModifierCodes[ev.Code]; isMod {
		if ev.Phase == input.PhasePressed {
			s.held[ev.Code] = true
		} else {
			delete(s.held, ev.Code)
		}
		return 0, "", false, false
	}

	key, ok := evdevKeysByCode[ev.Code]
	if !ok {
		return 0, "", false, false
	}
	switch ev.Phase {
	case input.PhasePressed:
		mods := s.modifiers()
		s.pressedWith[ev.Code] = mods
		return mods, key, false, true
	case input.PhaseReleased:
		mods, down := s.pressedWith[ev.Code]
		if !down {
			return 0, "", false, false
		}
		delete(s.pressedWith, ev.Code)
		return mods, key, true, true
	}
	return 0, "", false, false
}
