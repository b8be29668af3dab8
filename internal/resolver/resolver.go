// Package resolver decides which key mapping applies to this process.
//
// Resolution walks a fixed precedence chain and stops at the first tier
// that yields a non-empty mapping:
//
//  1. explicit key_down/key_up in the settings (autoconfigure output is
//     merged in as supplementary entries when requested)
//  2. the board named by user_device
//  3. the platform-identification file
//  4. hardware probes, in order
//
// A source that fails to parse is logged and treated as absent. When no
// tier yields a mapping Resolve returns a *ConfigurationError.
package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"hotkeyd/internal/board"
	"hotkeyd/internal/config"
	"hotkeyd/internal/hotkeys"
	"hotkeyd/internal/keymap"
	"hotkeyd/internal/probe"
)

// Tier names used in Resolved.Source and ConfigurationError.
const (
	TierInline       = "inline"
	TierUserDevice   = "user_device"
	TierPlatformFile = "platform_file"
	TierProbe        = "probe"
)

// ErrNoConfiguration is matched by every *ConfigurationError.
var ErrNoConfiguration = errors.New("no key mapping could be resolved")

// ConfigurationError reports that no tier produced a usable mapping.
type ConfigurationError struct {
	// Attempts describes each tier tried and why it produced nothing.
	Attempts []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoConfiguration.Error()
	}
	return fmt.Sprintf("%s (tried: %s)", ErrNoConfiguration, strings.Join(e.Attempts, "; "))
}

func (e *ConfigurationError) Unwrap() error { return ErrNoConfiguration }

// Resolved is the mapping in effect for the process lifetime.
type Resolved struct {
	Mapping       keymap.KeyMapping
	Debug         bool
	Autoconfigure bool
	// Source describes the tier that produced the primary mapping,
	// e.g. "inline" or "platform_file:/etc/hotkeyd/platform".
	Source string
	// Supplements lists sources merged in below the primary one.
	Supplements []string
	// Skipped holds the malformed sources passed over during resolution.
	Skipped []error
}

// Options wires the resolver to its collaborators.
type Options struct {
	// Catalog is consulted before any on-disk board directory.
	Catalog *board.Catalog
	// SearchDirs are the on-disk board directories in precedence order.
	SearchDirs []string
	// PlatformFile is the platform-identification file; "" disables it.
	PlatformFile string
	// Probes are asked in order; the first positive selects its board.
	Probes []probe.Rule
}

// Resolver runs the precedence chain.
type Resolver struct {
	opts Options
}

var readDocumentFn = board.ReadDocument

// New creates a Resolver.
func New(opts Options) *Resolver {
	return &Resolver{opts: opts}
}

// resolution accumulates diagnostics for one Resolve call.
type resolution struct {
	attempts []string
	skipped  []error
}

func (rs *resolution) attempt(format string, args ...any) {
	rs.attempts = append(rs.attempts, fmt.Sprintf(format, args...))
}

func (rs *resolution) malformed(err *board.MalformedSourceError) {
	slog.Warn("[WARN-CONFIG] malformed configuration source, skipping", "path", err.Path, "error", err.Err)
	rs.skipped = append(rs.skipped, err)
}

// Resolve produces the mapping for cfg.
func (r *Resolver) Resolve(cfg config.Config) (Resolved, error) {
	rs := &resolution{}
	out := Resolved{Debug: cfg.Debug, Autoconfigure: cfg.Autoconfigure}

	if inline := usable(cfg.KeyMapping(), TierInline); !inline.Empty() {
		out.Mapping = inline.Clone()
		out.Source = TierInline
		if cfg.Autoconfigure {
			if detected, origin, ok := r.autodetect(cfg, rs); ok {
				merged, conflicts := keymap.Merge(out.Mapping, usable(detected, origin), hotkeys.PhysicalKey)
				for _, c := range conflicts {
					slog.Warn("[WARN-CONFIG] autodetected entry dropped, key already bound by inline mapping",
						"source", origin,
						"direction", c.Direction,
						"id", c.ID,
						"key", c.Key.String(),
						"owner", c.Owner,
					)
				}
				out.Mapping = merged
				out.Supplements = append(out.Supplements, origin)
				slog.Info("[DEBUG-RESOLVE] merged autodetected mapping under inline mapping", "source", origin)
			} else {
				slog.Info("[DEBUG-RESOLVE] autoconfigure found nothing to merge")
			}
		}
		out.Skipped = rs.skipped
		return out, nil
	}
	rs.attempt("%s: no key_down/key_up entries", TierInline)

	detected, origin, ok := r.autodetect(cfg, rs)
	if !ok {
		slog.Error("[DEBUG-RESOLVE] no key mapping resolvable", "attempts", rs.attempts)
		return Resolved{}, &ConfigurationError{Attempts: rs.attempts}
	}
	if detected = usable(detected, origin); detected.Empty() {
		rs.attempt("%s: no usable entries", origin)
		slog.Error("[DEBUG-RESOLVE] no key mapping resolvable", "attempts", rs.attempts)
		return Resolved{}, &ConfigurationError{Attempts: rs.attempts}
	}
	out.Mapping = detected
	out.Source = origin
	out.Skipped = rs.skipped
	return out, nil
}

// usable returns m without the entries Validate rejects, logging each one.
func usable(m keymap.KeyMapping, origin string) keymap.KeyMapping {
	err := m.Validate()
	if err == nil {
		return m
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	out := m.Clone()
	for _, e := range errs {
		var invalid *keymap.InvalidEntryError
		if !errors.As(e, &invalid) {
			continue
		}
		delete(out.Get(invalid.Direction), invalid.ID)
		slog.Warn("[WARN-CONFIG] unusable key mapping entry dropped",
			"source", origin,
			"direction", invalid.Direction,
			"id", invalid.ID,
			"reason", invalid.Reason,
		)
	}
	return out
}

// autodetect runs tiers 2-4 and returns the first non-empty mapping.
func (r *Resolver) autodetect(cfg config.Config, rs *resolution) (keymap.KeyMapping, string, bool) {
	if name := strings.TrimSpace(cfg.UserDevice); name != "" {
		if m, origin, ok := r.resolveNamed(Source{Kind: SourceNamedProfile, Name: name}, rs); ok {
			return m, TierUserDevice + ":" + origin, true
		}
		rs.attempt("%s: %q not found", TierUserDevice, name)
	} else {
		rs.attempt("%s: not set", TierUserDevice)
	}

	if m, origin, ok := r.fromPlatformFile(rs); ok {
		return m, TierPlatformFile + ":" + origin, true
	}

	for _, rule := range r.opts.Probes {
		if rule.Probe == nil || !rule.Probe() {
			continue
		}
		slog.Info("[DEBUG-RESOLVE] hardware probe matched", "probe", rule.Name, "board", rule.Board)
		if m, origin, ok := r.resolveNamed(Source{Kind: SourceNamedProfile, Name: rule.Board}, rs); ok {
			return m, TierProbe + ":" + rule.Name + ":" + origin, true
		}
		// A positive probe selects its board; a missing profile ends the
		// probe tier rather than falling through to a lower-priority board.
		rs.attempt("%s: %s detected but profile %q not found", TierProbe, rule.Name, rule.Board)
		return keymap.KeyMapping{}, "", false
	}
	rs.attempt("%s: no board detected", TierProbe)
	return keymap.KeyMapping{}, "", false
}

func (r *Resolver) fromPlatformFile(rs *resolution) (keymap.KeyMapping, string, bool) {
	path := r.opts.PlatformFile
	if path == "" {
		rs.attempt("%s: disabled", TierPlatformFile)
		return keymap.KeyMapping{}, "", false
	}
	raw, err := readDocumentFn(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			rs.attempt("%s: %s does not exist", TierPlatformFile, path)
		} else {
			slog.Warn("[WARN-CONFIG] platform file unreadable, skipping", "path", path, "error", err)
			rs.attempt("%s: %s unreadable", TierPlatformFile, path)
		}
		return keymap.KeyMapping{}, "", false
	}

	src, err := classifyPlatformFile(path, raw)
	if err != nil {
		var malformed *board.MalformedSourceError
		if errors.As(err, &malformed) {
			rs.malformed(malformed)
			rs.attempt("%s: %s malformed", TierPlatformFile, path)
		} else {
			rs.attempt("%s: %s %v", TierPlatformFile, path, err)
		}
		return keymap.KeyMapping{}, "", false
	}

	switch src.Kind {
	case SourceInline:
		if src.Mapping.Empty() {
			rs.attempt("%s: %s has empty mapping", TierPlatformFile, path)
			return keymap.KeyMapping{}, "", false
		}
		return src.Mapping, path, true
	case SourcePlainText:
		if m, origin, ok := r.resolveNamed(src, rs); ok {
			return m, path + "->" + origin, true
		}
		rs.attempt("%s: board %q named in %s not found", TierPlatformFile, src.Name, path)
		return keymap.KeyMapping{}, "", false
	default:
		rs.attempt("%s: unexpected source kind %s", TierPlatformFile, src.Kind)
		return keymap.KeyMapping{}, "", false
	}
}

// resolveNamed loads a board profile by name: catalog first, then each
// on-disk search directory.
func (r *Resolver) resolveNamed(src Source, rs *resolution) (keymap.KeyMapping, string, bool) {
	if p, err := r.opts.Catalog.Lookup(src.Name); err == nil && !p.Mapping.Empty() {
		return p.Mapping.Clone(), "catalog:" + p.Name, true
	}
	p, err := board.FindInDirs(src.Name, r.opts.SearchDirs, rs.malformed)
	if err != nil {
		slog.Debug("[DEBUG-RESOLVE] board profile not found", "board", src.Name, "error", err)
		return keymap.KeyMapping{}, "", false
	}
	if p.Mapping.Empty() {
		slog.Warn("[WARN-CONFIG] board profile has no entries", "board", src.Name, "path", p.Origin)
		return keymap.KeyMapping{}, "", false
	}
	return p.Mapping, p.Origin, true
}
