// Package probe detects known audio boards from kernel-exposed state.
//
// Each probe is a zero-argument predicate. The resolver asks them in a fixed
// order and uses the board profile paired with the first positive one.
package probe

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Func reports whether a board is attached.
type Func func() bool

// Rule pairs a probe with the board profile it selects.
type Rule struct {
	Name  string
	Board string
	Probe Func
}

// Prober reads kernel state beneath Root ("" or "/" for the live system).
type Prober struct {
	Root string
}

func (p Prober) path(elem ...string) string {
	root := p.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(append([]string{root}, elem...)...)
}

// Respeaker reports a ReSpeaker-class HAT: a wm8960 codec registered as a
// sound card, or the codec visible on the i2c bus at 0x1a.
func (p Prober) Respeaker() bool {
	if p.soundCardMatches("seeed", "wm8960") {
		return true
	}
	return p.i2cDeviceNamed("wm8960") || p.i2cAddressPresent(0x1a)
}

// SJ201 reports an SJ201 board: its TAS5806 amplifier answers at 0x2f and
// the XMOS voice processor at 0x2c.
func (p Prober) SJ201() bool {
	if p.soundCardMatches("sj201") {
		return true
	}
	return p.i2cAddressPresent(0x2f) && p.i2cAddressPresent(0x2c)
}

// DefaultRules returns the fixed probe order: respeaker-class first, then
// sj201-class.
func (p Prober) DefaultRules() []Rule {
	return []Rule{
		{Name: "respeaker", Board: "wm8960", Probe: p.Respeaker},
		{Name: "sj201", Board: "SJ201", Probe: p.SJ201},
	}
}

func (p Prober) soundCardMatches(needles ...string) bool {
	raw, err := os.ReadFile(p.path("proc", "asound", "cards"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("[DEBUG-PROBE] sound card list unreadable", "error", err)
		}
		return false
	}
	cards := strings.ToLower(string(raw))
	for _, needle := range needles {
		if strings.Contains(cards, needle) {
			return true
		}
	}
	return false
}

// i2cAddressPresent checks /sys/bus/i2c/devices/<bus>-00<addr> on any bus.
func (p Prober) i2cAddressPresent(addr uint8) bool {
	suffix := fmt.Sprintf("-%04x", addr)
	entries, err := os.ReadDir(p.path("sys", "bus", "i2c", "devices"))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			return true
		}
	}
	return false
}

func (p Prober) i2cDeviceNamed(name string) bool {
	matches, err := filepath.Glob(p.path("sys", "bus", "i2c", "devices", "*", "name"))
	if err != nil {
		return false
	}
	for _, match := range matches {
		raw, readErr := os.ReadFile(match)
		if readErr != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(raw)), name) {
			return true
		}
	}
	return false
}
