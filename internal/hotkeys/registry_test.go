package hotkeys

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"hotkeyd/internal/keymap"
)

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPublisher) Publish(id string) {
	p.mu.Lock()
	p.ids = append(p.ids, id)
	p.mu.Unlock()
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

type fakeHook struct {
	backend   *fakeBackend
	combo     string
	onRelease bool
	trigger   func()
	released  int
}

func (h *fakeHook) Unregister() error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	h.released++
	delete(h.backend.active, h.combo+dirSuffix(h.onRelease))
	return nil
}

type fakeBackend struct {
	mu            sync.Mutex
	active        map[string]*fakeHook
	registered    []*fakeHook
	reject        map[string]error
	unregisterAll int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{active: map[string]*fakeHook{}, reject: map[string]error{}}
}

func dirSuffix(onRelease bool) string {
	if onRelease {
		return "/up"
	}
	return "/down"
}

func (b *fakeBackend) RegisterCombo(binding Binding, onTrigger func(), onRelease bool) (Hook, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.reject[binding.Normalized()]; ok {
		return nil, err
	}
	h := &fakeHook{backend: b, combo: binding.Normalized(), onRelease: onRelease, trigger: onTrigger}
	b.active[h.combo+dirSuffix(onRelease)] = h
	b.registered = append(b.registered, h)
	return h, nil
}

func (b *fakeBackend) UnregisterAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unregisterAll++
	clear(b.active)
	return nil
}

func (b *fakeBackend) fire(combo string, onRelease bool) bool {
	b.mu.Lock()
	h, ok := b.active[combo+dirSuffix(onRelease)]
	b.mu.Unlock()
	if !ok {
		return false
	}
	h.trigger()
	return true
}

func TestRegisterSingleComboPublishesOnce(t *testing.T) {
	backend := newFakeBackend()
	pub := &recordingPublisher{}
	registry := NewRegistry(backend, pub)

	reg, err := registry.Register(keymap.KeyMapping{
		KeyDown: keymap.Mapping{"listen": keymap.Combo("ctrl+space")},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(backend.registered) != 1 {
		t.Fatalf("backend registrations = %d, want 1", len(backend.registered))
	}
	h := backend.registered[0]
	if h.combo != "Ctrl+SPACE" || h.onRelease {
		t.Fatalf("registered %q onRelease=%v, want Ctrl+SPACE on press", h.combo, h.onRelease)
	}

	if !backend.fire("Ctrl+SPACE", false) {
		t.Fatal("combo not active after Register")
	}
	if got := pub.published(); !reflect.DeepEqual(got, []string{"listen"}) {
		t.Fatalf("published = %v, want [listen]", got)
	}
	if got := reg.Combos()[keymap.Down]; !reflect.DeepEqual(got, []string{"Ctrl+SPACE"}) {
		t.Fatalf("Combos()[down] = %v", got)
	}
}

func TestRegisterKeyUpTriggersOnRelease(t *testing.T) {
	backend := newFakeBackend()
	pub := &recordingPublisher{}
	if _, err := NewRegistry(backend, pub).Register(keymap.KeyMapping{
		KeyUp: keymap.Mapping{"stop": keymap.Combo("esc")},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if backend.fire("ESC", false) {
		t.Fatal("key_up entry fired on press")
	}
	if !backend.fire("ESC", true) {
		t.Fatal("key_up entry not registered for release")
	}
	if got := pub.published(); !reflect.DeepEqual(got, []string{"stop"}) {
		t.Fatalf("published = %v, want [stop]", got)
	}
}

func TestRegisterDuplicateComboRejectsLaterEntry(t *testing.T) {
	backend := newFakeBackend()
	pub := &recordingPublisher{}
	registry := NewRegistry(backend, pub)

	reg, err := registry.Register(keymap.KeyMapping{
		KeyDown: keymap.Mapping{"a": keymap.Combo("x"), "b": keymap.Combo("X")},
	})
	var dup *DuplicateBindingError
	if !errors.As(err, &dup) {
		t.Fatalf("Register() error = %v, want *DuplicateBindingError", err)
	}
	if dup.ID != "b" || dup.Owner != "a" || dup.Direction != keymap.Down {
		t.Fatalf("duplicate = %+v, want b rejected in favour of a", dup)
	}
	if len(backend.registered) != 1 {
		t.Fatalf("backend registrations = %d, want 1", len(backend.registered))
	}

	backend.fire("X", false)
	if got := pub.published(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("published = %v, want [a]", got)
	}
	if reg == nil {
		t.Fatal("Register() returned nil registration")
	}
}

func TestRegisterSameComboInBothDirectionsIsAllowed(t *testing.T) {
	backend := newFakeBackend()
	_, err := NewRegistry(backend, &recordingPublisher{}).Register(keymap.KeyMapping{
		KeyDown: keymap.Mapping{"mute": keymap.Combo("ctrl+m")},
		KeyUp:   keymap.Mapping{"unmute": keymap.Combo("ctrl+m")},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(backend.registered) != 2 {
		t.Fatalf("backend registrations = %d, want 2", len(backend.registered))
	}
}

func TestRegisterScanCodesGoToScanTable(t *testing.T) {
	backend := newFakeBackend()
	reg, err := NewRegistry(backend, &recordingPublisher{}).Register(keymap.KeyMapping{
		KeyDown: keymap.Mapping{"listen": keymap.Combo("ctrl+l"), "vol": keymap.ScanCode(115)},
		KeyUp:   keymap.Mapping{"mute": keymap.ScanCode(57)},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(backend.registered) != 1 {
		t.Fatalf("backend registrations = %d, want only the combo", len(backend.registered))
	}
	want := keymap.KeyMapping{
		KeyDown: keymap.Mapping{"vol": keymap.ScanCode(115)},
		KeyUp:   keymap.Mapping{"mute": keymap.ScanCode(57)},
	}
	if got := reg.ScanTable(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ScanTable() = %#v, want %#v", got, want)
	}
}

func TestRegisterDuplicateScanCodeRejected(t *testing.T) {
	reg, err := NewRegistry(newFakeBackend(), &recordingPublisher{}).Register(keymap.KeyMapping{
		KeyUp: keymap.Mapping{"a": keymap.ScanCode(57), "b": keymap.ScanCode(57)},
	})
	var dup *DuplicateBindingError
	if !errors.As(err, &dup) || dup.ID != "b" {
		t.Fatalf("Register() error = %v, want duplicate for b", err)
	}
	if got := reg.ScanTable().KeyUp; !reflect.DeepEqual(got, keymap.Mapping{"a": keymap.ScanCode(57)}) {
		t.Fatalf("ScanTable().KeyUp = %v, want only a", got)
	}
}

func TestRegisterFailuresDoNotAbortRemainingEntries(t *testing.T) {
	backend := newFakeBackend()
	backend.reject["Ctrl+B"] = errors.New("grabbed by another client")

	reg, err := NewRegistry(backend, &recordingPublisher{}).Register(keymap.KeyMapping{
		KeyDown: keymap.Mapping{
			"a": keymap.Combo("ctrl+a"),
			"b": keymap.Combo("ctrl+b"),
			"c": keymap.Combo("hyper+c"),
			"d": keymap.Combo("ctrl+d"),
		},
	})
	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("Register() error = %v, want *RegistrationError", err)
	}
	if got := reg.Combos()[keymap.Down]; !reflect.DeepEqual(got, []string{"Ctrl+A", "Ctrl+D"}) {
		t.Fatalf("Combos()[down] = %v, want [Ctrl+A Ctrl+D]", got)
	}
}

func TestCallbacksBindTheirOwnEntry(t *testing.T) {
	backend := newFakeBackend()
	pub := &recordingPublisher{}
	if _, err := NewRegistry(backend, pub).Register(keymap.KeyMapping{
		KeyDown: keymap.Mapping{
			"one":   keymap.Combo("1"),
			"two":   keymap.Combo("2"),
			"three": keymap.Combo("3"),
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	backend.fire("1", false)
	backend.fire("3", false)
	backend.fire("2", false)
	if got, want := pub.published(), []string{"one", "three", "two"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("published = %v, want %v", got, want)
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	registry := NewRegistry(backend, &recordingPublisher{})

	if err := registry.Unregister(nil); err != nil {
		t.Fatalf("Unregister(nil) error = %v", err)
	}

	reg, err := registry.Register(keymap.KeyMapping{
		KeyDown: keymap.Mapping{"a": keymap.Combo("ctrl+a")},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	hook := backend.registered[0]

	for i := range 2 {
		if err := registry.Unregister(reg); err != nil {
			t.Fatalf("Unregister() #%d error = %v", i+1, err)
		}
	}
	if hook.released != 1 {
		t.Fatalf("hook released %d times, want 1", hook.released)
	}
	if len(backend.active) != 0 {
		t.Fatalf("active hooks = %d, want 0", len(backend.active))
	}
	if backend.unregisterAll != 3 {
		t.Fatalf("UnregisterAll calls = %d, want 3", backend.unregisterAll)
	}
	if got := reg.Combos(); len(got) != 0 {
		t.Fatalf("Combos() after Unregister = %v, want empty", got)
	}
}

func TestUnregisterAfterPartialFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.reject["Ctrl+A"] = errors.New("rejected")
	registry := NewRegistry(backend, &recordingPublisher{})

	reg, _ := registry.Register(keymap.KeyMapping{
		KeyDown: keymap.Mapping{"a": keymap.Combo("ctrl+a"), "b": keymap.Combo("ctrl+b")},
	})
	if err := registry.Unregister(reg); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if len(backend.active) != 0 {
		t.Fatalf("active hooks = %d, want 0", len(backend.active))
	}
}

func TestPhysicalKey(t *testing.T) {
	tests := []struct {
		name string
		key  keymap.KeyID
		want string
	}{
		{name: "scan code", key: keymap.ScanCode(57), want: "scancode:57"},
		{name: "combo is normalized", key: keymap.Combo(" shift+CTRL+space "), want: "Ctrl+Shift+SPACE"},
		{name: "unparsable combo", key: keymap.Combo(" Hyper+X "), want: "hyper+x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PhysicalKey(tt.key); got != tt.want {
				t.Fatalf("PhysicalKey(%v) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}
