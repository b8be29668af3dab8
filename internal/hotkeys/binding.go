package hotkeys

// Modifier is a platform-neutral modifier bitmask.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModSuper
)

// orderedModifiers fixes the order modifiers appear in normalized form so
// that "shift+ctrl+l" and "ctrl+shift+l" normalize identically.
var orderedModifiers = [...]Modifier{ModCtrl, ModAlt, ModShift, ModSuper}

// Key is the canonical upper-case name of a non-modifier key
// ("A", "7", "F12", "SPACE").
type Key string

// Binding describes a parsed combo.
// Construct only via ParseBinding to guarantee invariant consistency.
type Binding struct {
	modifiers  Modifier
	key        Key
	normalized string
}

// Modifiers returns the modifier bitmask.
func (b Binding) Modifiers() Modifier { return b.modifiers }

// Has reports whether m is part of the binding.
func (b Binding) Has(m Modifier) bool { return b.modifiers&m != 0 }

// Key returns the non-modifier key.
func (b Binding) Key() Key { return b.key }

// Normalized returns the canonical human-readable binding string. Two
// combos name the same physical chord iff their normalized forms match.
func (b Binding) Normalized() string { return b.normalized }

func (m Modifier) String() string {
	switch m {
	case ModCtrl:
		return "Ctrl"
	case ModAlt:
		return "Alt"
	case ModShift:
		return "Shift"
	case ModSuper:
		return "Super"
	default:
		return "Mod"
	}
}
