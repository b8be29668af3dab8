// Package keymap holds the key mapping data model shared by the resolver,
// the hotkey registry and the dispatch loop.
//
// A KeyMapping carries two independent directions, key_down and key_up.
// Each direction maps a notification identifier to a KeyID, which is either
// a symbolic combo ("ctrl+space") or a numeric hardware scan code (57).
package keymap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Direction selects one half of a KeyMapping.
type Direction uint8

const (
	// Down entries fire when a key is pressed.
	Down Direction = iota
	// Up entries fire when a key is released.
	Up
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	if d == Up {
		return "key_up"
	}
	return "key_down"
}

// Directions lists both directions in processing order.
var Directions = [...]Direction{Down, Up}

// KeyID identifies a physical key: either a combo string or a scan code.
// The zero value is an empty combo and is never valid in a mapping.
type KeyID struct {
	combo  string
	code   int
	isCode bool
}

// Combo returns a KeyID for a symbolic combo string.
func Combo(s string) KeyID { return KeyID{combo: s} }

// ScanCode returns a KeyID for a numeric hardware scan code.
func ScanCode(code int) KeyID { return KeyID{code: code, isCode: true} }

// IsScanCode reports whether the key is a numeric scan code.
func (k KeyID) IsScanCode() bool { return k.isCode }

// Code returns the scan code and true, or 0 and false for combos.
func (k KeyID) Code() (int, bool) { return k.code, k.isCode }

// ComboString returns the combo string, or "" for scan codes.
func (k KeyID) ComboString() string {
	if k.isCode {
		return ""
	}
	return k.combo
}

// IsZero reports whether k carries no key at all.
func (k KeyID) IsZero() bool { return !k.isCode && k.combo == "" }

func (k KeyID) String() string {
	if k.isCode {
		return strconv.Itoa(k.code)
	}
	return k.combo
}

// Value returns the key as a plain Go value (int or string) for encoders
// that do not know about KeyID.
func (k KeyID) Value() any {
	if k.isCode {
		return k.code
	}
	return k.combo
}

// MarshalJSON encodes scan codes as numbers and combos as strings.
func (k KeyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Value())
}

// UnmarshalJSON accepts a JSON number (scan code) or string (combo).
func (k *KeyID) UnmarshalJSON(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("keymap: empty key identifier")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*k = Combo(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("keymap: key identifier must be a string or integer: %w", err)
	}
	code, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("keymap: scan code %s is not an integer", n)
	}
	*k = ScanCode(code)
	return nil
}

// MarshalYAML encodes scan codes as ints and combos as strings.
func (k KeyID) MarshalYAML() (any, error) {
	return k.Value(), nil
}

// UnmarshalYAML accepts an integer scalar (scan code) or any other scalar
// (combo).
func (k *KeyID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("keymap: line %d: key identifier must be a scalar", node.Line)
	}
	if node.Tag == "!!int" {
		var code int
		if err := node.Decode(&code); err != nil {
			return err
		}
		*k = ScanCode(code)
		return nil
	}
	*k = Combo(node.Value)
	return nil
}

// Mapping maps notification identifiers to keys for one direction.
type Mapping map[string]KeyID

// IDs returns the notification identifiers in sorted order. Every consumer
// walks a mapping in this order so "earlier" and "later" are deterministic.
func (m Mapping) IDs() []string {
	return slices.Sorted(maps.Keys(m))
}

// Clone returns a copy of m. A nil mapping clones to nil.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Plain converts m to map[string]any, with scan codes as ints.
func (m Mapping) Plain() map[string]any {
	out := make(map[string]any, len(m))
	for id, key := range m {
		out[id] = key.Value()
	}
	return out
}

// KeyMapping is the pair of directional mappings.
type KeyMapping struct {
	KeyDown Mapping `json:"key_down,omitempty" yaml:"key_down,omitempty"`
	KeyUp   Mapping `json:"key_up,omitempty" yaml:"key_up,omitempty"`
}

// Get returns the mapping for d.
func (k KeyMapping) Get(d Direction) Mapping {
	if d == Up {
		return k.KeyUp
	}
	return k.KeyDown
}

// Empty reports whether neither direction has an entry.
func (k KeyMapping) Empty() bool {
	return len(k.KeyDown) == 0 && len(k.KeyUp) == 0
}

// Len returns the number of entries across both directions.
func (k KeyMapping) Len() int {
	return len(k.KeyDown) + len(k.KeyUp)
}

// Clone returns a deep copy of k.
func (k KeyMapping) Clone() KeyMapping {
	return KeyMapping{KeyDown: k.KeyDown.Clone(), KeyUp: k.KeyUp.Clone()}
}

// PhysicalKeyFunc names the physical key a KeyID is bound to. Two entries
// with the same name cannot both be registered in one direction.
type PhysicalKeyFunc func(KeyID) string

// Conflict is a supplementary entry left out of a merge because a primary
// entry in the same direction already holds its physical key.
type Conflict struct {
	Direction Direction
	ID        string
	Key       KeyID
	Owner     string
}

// Merge composes primary (higher precedence) with supplementary. Each
// direction is merged independently: entries only in supplementary are
// added, entries present in both keep primary's value. When physical is
// non-nil, a supplementary entry whose physical key is already bound by a
// primary entry of the same direction is reported as a Conflict instead of
// being added. Neither argument is modified.
func Merge(primary, supplementary KeyMapping, physical PhysicalKeyFunc) (KeyMapping, []Conflict) {
	var conflicts []Conflict
	out := KeyMapping{}
	for _, d := range Directions {
		merged, dropped := mergeMapping(d, primary.Get(d), supplementary.Get(d), physical)
		conflicts = append(conflicts, dropped...)
		if d == Up {
			out.KeyUp = merged
		} else {
			out.KeyDown = merged
		}
	}
	return out, conflicts
}

func mergeMapping(d Direction, primary, supplementary Mapping, physical PhysicalKeyFunc) (Mapping, []Conflict) {
	if len(primary) == 0 && len(supplementary) == 0 {
		return nil, nil
	}
	out := make(Mapping, len(primary)+len(supplementary))
	maps.Copy(out, primary)

	var owners map[string]string
	if physical != nil {
		owners = make(map[string]string, len(primary))
		for _, id := range primary.IDs() {
			if key := physical(primary[id]); key != "" {
				if _, taken := owners[key]; !taken {
					owners[key] = id
				}
			}
		}
	}

	var conflicts []Conflict
	for _, id := range supplementary.IDs() {
		if _, exists := out[id]; exists {
			continue
		}
		key := supplementary[id]
		if physical != nil {
			if owner, taken := owners[physical(key)]; taken {
				conflicts = append(conflicts, Conflict{Direction: d, ID: id, Key: key, Owner: owner})
				continue
			}
		}
		out[id] = key
	}
	return out, conflicts
}

// InvalidEntryError describes one entry that can never be registered.
type InvalidEntryError struct {
	Direction Direction
	ID        string
	Reason    string
}

func (e *InvalidEntryError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("keymap: %s: %s", e.Direction, e.Reason)
	}
	return fmt.Sprintf("keymap: %s entry %q: %s", e.Direction, e.ID, e.Reason)
}

// Validate reports entries that can never be registered: empty
// notification identifiers or zero keys. The result joins one
// *InvalidEntryError per entry.
func (k KeyMapping) Validate() error {
	var errs []error
	for _, d := range Directions {
		m := k.Get(d)
		for _, id := range m.IDs() {
			switch {
			case strings.TrimSpace(id) == "":
				errs = append(errs, &InvalidEntryError{Direction: d, ID: id, Reason: "empty notification identifier"})
			case m[id].IsZero():
				errs = append(errs, &InvalidEntryError{Direction: d, ID: id, Reason: "empty key"})
			}
		}
	}
	return errors.Join(errs...)
}

// ParseJSON decodes a JSON document carrying optional key_down and key_up
// objects. Unknown top-level keys are ignored.
func ParseJSON(raw []byte) (KeyMapping, error) {
	var km KeyMapping
	if err := json.Unmarshal(raw, &km); err != nil {
		return KeyMapping{}, err
	}
	return km, nil
}
