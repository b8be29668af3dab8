package resolver

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"hotkeyd/internal/board"
	"hotkeyd/internal/config"
	"hotkeyd/internal/keymap"
	"hotkeyd/internal/probe"
	"hotkeyd/internal/testutil"
)

func writeFile(t *testing.T, path string, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func wm8960Catalog() *board.Catalog {
	return board.New(board.Profile{
		Name:    "wm8960",
		Mapping: keymap.KeyMapping{KeyUp: keymap.Mapping{"mute": keymap.ScanCode(57)}},
	})
}

func constProbe(name string, boardName string, result bool, calls *[]string) probe.Rule {
	return probe.Rule{
		Name:  name,
		Board: boardName,
		Probe: func() bool {
			if calls != nil {
				*calls = append(*calls, name)
			}
			return result
		},
	}
}

func TestResolveInlineMappingIsIdentity(t *testing.T) {
	tests := []struct {
		name   string
		inline keymap.KeyMapping
	}{
		{name: "key_down only", inline: keymap.KeyMapping{KeyDown: keymap.Mapping{"listen": keymap.Combo("ctrl+space")}}},
		{name: "key_up only", inline: keymap.KeyMapping{KeyUp: keymap.Mapping{"mute": keymap.ScanCode(57)}}},
		{
			name: "both directions",
			inline: keymap.KeyMapping{
				KeyDown: keymap.Mapping{"a": keymap.Combo("ctrl+a"), "b": keymap.ScanCode(30)},
				KeyUp:   keymap.Mapping{"c": keymap.Combo("alt+c")},
			},
		},
	}
	for _, tt := range tests {
		inline := tt.inline
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.KeyDown = inline.KeyDown
			cfg.KeyUp = inline.KeyUp
			// Lower tiers are populated and must not leak in without autoconfigure.
			cfg.UserDevice = "wm8960"

			r := New(Options{Catalog: wm8960Catalog()})
			got, err := r.Resolve(cfg)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(got.Mapping, inline) {
				t.Fatalf("Resolve().Mapping = %#v, want %#v", got.Mapping, inline)
			}
			if got.Source != TierInline {
				t.Fatalf("Source = %q, want %q", got.Source, TierInline)
			}
		})
	}
}

func TestResolveInlineWithAutoconfigureMergesSupplementary(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.KeyDown = keymap.Mapping{"listen": keymap.Combo("ctrl+space")}
	cfg.KeyUp = keymap.Mapping{"mute": keymap.Combo("ctrl+m")}
	cfg.Autoconfigure = true
	cfg.UserDevice = "board"

	catalog := board.New(board.Profile{
		Name: "board",
		Mapping: keymap.KeyMapping{
			KeyDown: keymap.Mapping{"stop": keymap.ScanCode(1)},
			KeyUp:   keymap.Mapping{"mute": keymap.ScanCode(57), "listen": keymap.ScanCode(28)},
		},
	})
	got, err := New(Options{Catalog: catalog}).Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := keymap.KeyMapping{
		KeyDown: keymap.Mapping{"listen": keymap.Combo("ctrl+space"), "stop": keymap.ScanCode(1)},
		KeyUp:   keymap.Mapping{"mute": keymap.Combo("ctrl+m"), "listen": keymap.ScanCode(28)},
	}
	if !reflect.DeepEqual(got.Mapping, want) {
		t.Fatalf("Resolve().Mapping = %#v, want %#v", got.Mapping, want)
	}
	if len(got.Supplements) != 1 || !strings.HasPrefix(got.Supplements[0], TierUserDevice) {
		t.Fatalf("Supplements = %v, want one user_device entry", got.Supplements)
	}
}

func TestResolveAutoconfigureKeepsInlineKeys(t *testing.T) {
	logs := testutil.CaptureLogs(t, slog.LevelWarn)
	cfg := config.DefaultConfig()
	cfg.KeyDown = keymap.Mapping{"toggle.listen": keymap.Combo("ctrl+space")}
	cfg.Autoconfigure = true
	cfg.UserDevice = "board"

	catalog := board.New(board.Profile{
		Name: "board",
		Mapping: keymap.KeyMapping{
			KeyDown: keymap.Mapping{
				"mycroft.mic.listen": keymap.Combo("Ctrl+Space"),
				"mycroft.stop":       keymap.Combo("esc"),
			},
		},
	})
	got, err := New(Options{Catalog: catalog}).Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := keymap.KeyMapping{
		KeyDown: keymap.Mapping{
			"toggle.listen": keymap.Combo("ctrl+space"),
			"mycroft.stop":  keymap.Combo("esc"),
		},
	}
	if !reflect.DeepEqual(got.Mapping, want) {
		t.Fatalf("Resolve().Mapping = %#v, want %#v", got.Mapping, want)
	}
	lines := logs.Lines("[WARN-CONFIG] autodetected entry dropped")
	if len(lines) != 1 || !strings.Contains(lines[0], "mycroft.mic.listen") || !strings.Contains(lines[0], "owner=toggle.listen") {
		t.Fatalf("conflict warning = %v, want one line for mycroft.mic.listen", lines)
	}
}

func TestResolveDropsUnusableEntries(t *testing.T) {
	logs := testutil.CaptureLogs(t, slog.LevelWarn)
	cfg := config.DefaultConfig()
	cfg.KeyDown = keymap.Mapping{"": keymap.Combo("ctrl+x"), "listen": keymap.Combo("ctrl+l")}
	cfg.KeyUp = keymap.Mapping{"blank": {}}

	got, err := New(Options{}).Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := keymap.KeyMapping{
		KeyDown: keymap.Mapping{"listen": keymap.Combo("ctrl+l")},
		KeyUp:   keymap.Mapping{},
	}
	if !reflect.DeepEqual(got.Mapping, want) {
		t.Fatalf("Resolve().Mapping = %#v, want %#v", got.Mapping, want)
	}
	if n := len(logs.Lines("[WARN-CONFIG] unusable key mapping entry dropped")); n != 2 {
		t.Fatalf("dropped-entry warnings = %d, want 2:\n%s", n, logs.String())
	}
}

func TestResolveOnlyUnusableEntriesIsConfigurationError(t *testing.T) {
	platform := writeFile(t, filepath.Join(t.TempDir(), "platform"), `{"key_down": {"": "ctrl+x"}}`)
	cfg := config.DefaultConfig()
	cfg.KeyDown = keymap.Mapping{"": keymap.Combo("ctrl+y")}

	_, err := New(Options{PlatformFile: platform}).Resolve(cfg)
	if !errors.Is(err, ErrNoConfiguration) {
		t.Fatalf("Resolve() error = %v, want ErrNoConfiguration", err)
	}
}

func TestResolveInlineWithAutoconfigureNothingDetected(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.KeyDown = keymap.Mapping{"listen": keymap.Combo("ctrl+space")}
	cfg.Autoconfigure = true

	got, err := New(Options{PlatformFile: filepath.Join(t.TempDir(), "platform")}).Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Mapping.Len() != 1 || len(got.Supplements) != 0 {
		t.Fatalf("Resolve() = %#v, want inline mapping only", got)
	}
}

func TestResolveUserDeviceFromDisk(t *testing.T) {
	dirs := []string{t.TempDir(), t.TempDir()}
	writeFile(t, filepath.Join(dirs[1], "Custom.json"), `{"key_down": {"listen": 30}}`)

	cfg := config.DefaultConfig()
	cfg.UserDevice = "custom"
	got, err := New(Options{Catalog: board.Bundled(), SearchDirs: dirs}).Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Mapping.KeyDown["listen"] != keymap.ScanCode(30) {
		t.Fatalf("listen = %v, want 30", got.Mapping.KeyDown["listen"])
	}
	if !strings.HasPrefix(got.Source, TierUserDevice+":") {
		t.Fatalf("Source = %q", got.Source)
	}
}

func TestResolveUserDevicePrefersCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "wm8960.json"), `{"key_up": {"other": 1}}`)

	cfg := config.DefaultConfig()
	cfg.UserDevice = "WM8960"
	got, err := New(Options{Catalog: wm8960Catalog(), SearchDirs: []string{dir}}).Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Mapping.KeyUp["mute"] != keymap.ScanCode(57) {
		t.Fatalf("Resolve().Mapping = %#v, want catalog profile", got.Mapping)
	}
}

func TestResolvePlatformFilePlainText(t *testing.T) {
	platform := writeFile(t, filepath.Join(t.TempDir(), "platform"), "wm8960\n")

	got, err := New(Options{Catalog: wm8960Catalog(), PlatformFile: platform}).Resolve(config.DefaultConfig())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := keymap.KeyMapping{KeyUp: keymap.Mapping{"mute": keymap.ScanCode(57)}}
	if !reflect.DeepEqual(got.Mapping, want) {
		t.Fatalf("Resolve().Mapping = %#v, want %#v", got.Mapping, want)
	}
	if !strings.HasPrefix(got.Source, TierPlatformFile+":") {
		t.Fatalf("Source = %q", got.Source)
	}
}

func TestResolvePlatformFileJSON(t *testing.T) {
	platform := writeFile(t, filepath.Join(t.TempDir(), "platform"),
		`{"key_down": {"listen": "ctrl+l"}, "key_up": {"mute": 57}}`)

	got, err := New(Options{PlatformFile: platform}).Resolve(config.DefaultConfig())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := keymap.KeyMapping{
		KeyDown: keymap.Mapping{"listen": keymap.Combo("ctrl+l")},
		KeyUp:   keymap.Mapping{"mute": keymap.ScanCode(57)},
	}
	if !reflect.DeepEqual(got.Mapping, want) {
		t.Fatalf("Resolve().Mapping = %#v, want %#v", got.Mapping, want)
	}
}

func TestResolveMalformedPlatformFileFallsToProbe(t *testing.T) {
	platform := writeFile(t, filepath.Join(t.TempDir(), "platform"), `{"key_up": {"mute": `)

	var calls []string
	r := New(Options{
		Catalog:      wm8960Catalog(),
		PlatformFile: platform,
		Probes: []probe.Rule{
			constProbe("respeaker", "wm8960", true, &calls),
		},
	})
	got, err := r.Resolve(config.DefaultConfig())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Mapping.KeyUp["mute"] != keymap.ScanCode(57) {
		t.Fatalf("Resolve().Mapping = %#v, want probe board", got.Mapping)
	}
	if len(got.Skipped) != 1 {
		t.Fatalf("Skipped = %v, want one malformed source", got.Skipped)
	}
	var malformed *board.MalformedSourceError
	if !errors.As(got.Skipped[0], &malformed) || malformed.Path != platform {
		t.Fatalf("Skipped[0] = %v, want MalformedSourceError for %s", got.Skipped[0], platform)
	}
}

func TestResolveMalformedBoardFileFallsToNextTier(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "custom.json"), `{oops`)
	platform := writeFile(t, filepath.Join(t.TempDir(), "platform"), "wm8960")

	cfg := config.DefaultConfig()
	cfg.UserDevice = "custom"
	got, err := New(Options{
		Catalog:      wm8960Catalog(),
		SearchDirs:   []string{dir},
		PlatformFile: platform,
	}).Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.HasPrefix(got.Source, TierPlatformFile) {
		t.Fatalf("Source = %q, want platform file tier", got.Source)
	}
}

func TestResolvePlatformJSONWithoutKeysIsAbsent(t *testing.T) {
	platform := writeFile(t, filepath.Join(t.TempDir(), "platform"), `{"name": "mark2"}`)
	_, err := New(Options{PlatformFile: platform}).Resolve(config.DefaultConfig())
	if !errors.Is(err, ErrNoConfiguration) {
		t.Fatalf("Resolve() error = %v, want ErrNoConfiguration", err)
	}
}

func TestResolveProbeOrder(t *testing.T) {
	catalog := board.New(
		board.Profile{Name: "wm8960", Mapping: keymap.KeyMapping{KeyUp: keymap.Mapping{"a": keymap.ScanCode(1)}}},
		board.Profile{Name: "SJ201", Mapping: keymap.KeyMapping{KeyUp: keymap.Mapping{"b": keymap.ScanCode(2)}}},
	)

	tests := []struct {
		name      string
		respeaker bool
		sj201     bool
		wantID    string
		wantCalls []string
	}{
		{name: "respeaker wins", respeaker: true, sj201: true, wantID: "a", wantCalls: []string{"respeaker"}},
		{name: "sj201 second", respeaker: false, sj201: true, wantID: "b", wantCalls: []string{"respeaker", "sj201"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []string
			r := New(Options{
				Catalog: catalog,
				Probes: []probe.Rule{
					constProbe("respeaker", "wm8960", tt.respeaker, &calls),
					constProbe("sj201", "SJ201", tt.sj201, &calls),
				},
			})
			got, err := r.Resolve(config.DefaultConfig())
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if _, ok := got.Mapping.KeyUp[tt.wantID]; !ok {
				t.Fatalf("Resolve().Mapping = %#v, want entry %q", got.Mapping, tt.wantID)
			}
			if !reflect.DeepEqual(calls, tt.wantCalls) {
				t.Fatalf("probe calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestResolveNothingReturnsConfigurationError(t *testing.T) {
	var calls []string
	r := New(Options{
		Catalog:      board.Bundled(),
		SearchDirs:   []string{t.TempDir()},
		PlatformFile: filepath.Join(t.TempDir(), "absent"),
		Probes: []probe.Rule{
			constProbe("respeaker", "wm8960", false, &calls),
			constProbe("sj201", "SJ201", false, &calls),
		},
	})
	got, err := r.Resolve(config.DefaultConfig())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Resolve() error = %v, want *ConfigurationError", err)
	}
	if !errors.Is(err, ErrNoConfiguration) {
		t.Fatalf("errors.Is(err, ErrNoConfiguration) = false")
	}
	if !got.Mapping.Empty() {
		t.Fatalf("Resolve().Mapping = %#v, want empty", got.Mapping)
	}
	if len(cfgErr.Attempts) < 4 {
		t.Fatalf("Attempts = %v, want every tier listed", cfgErr.Attempts)
	}
	if len(calls) != 2 {
		t.Fatalf("probe calls = %v, want both probes asked", calls)
	}
}

func TestResolvePlatformFileUnreadable(t *testing.T) {
	original := readDocumentFn
	readDocumentFn = func(string) ([]byte, error) { return nil, errors.New("permission denied") }
	t.Cleanup(func() { readDocumentFn = original })

	_, err := New(Options{PlatformFile: "/etc/hotkeyd/platform"}).Resolve(config.DefaultConfig())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Resolve() error = %v, want *ConfigurationError", err)
	}
	found := false
	for _, attempt := range cfgErr.Attempts {
		if strings.Contains(attempt, "unreadable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Attempts = %v, want an unreadable platform file entry", cfgErr.Attempts)
	}
}
