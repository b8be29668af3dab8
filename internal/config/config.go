package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"hotkeyd/internal/keymap"

	"go.yaml.in/yaml/v3"
)

const (
	maxConfigFileBytes int64 = 1 << 20 // 1MB

	appDirName = "hotkeyd"

	// DefaultPlatformFile is the platform-identification file consulted
	// during autodetection.
	DefaultPlatformFile = "/etc/hotkeyd/platform"

	// BusModeHub hosts the websocket bus in-process.
	BusModeHub = "hub"
	// BusModeClient joins an existing websocket bus.
	BusModeClient = "client"
)

var userHomeDirFn = os.UserHomeDir

var defaultPathWarningState struct {
	mu       sync.Mutex
	messages []string
}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	defaultPathWarningState.mu.Lock()
	defaultPathWarningState.messages = append(defaultPathWarningState.messages, trimmed)
	defaultPathWarningState.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultPath() calls.
func ConsumeDefaultPathWarnings() []string {
	defaultPathWarningState.mu.Lock()
	defer defaultPathWarningState.mu.Unlock()
	if len(defaultPathWarningState.messages) == 0 {
		return nil
	}
	out := slices.Clone(defaultPathWarningState.messages)
	defaultPathWarningState.messages = nil
	return out
}

// Config is the hotkeyd settings object. The first five fields are the
// inline plugin configuration; the rest wire the daemon to its
// collaborators.
type Config struct {
	KeyDown       keymap.Mapping `yaml:"key_down,omitempty" json:"key_down,omitempty"`
	KeyUp         keymap.Mapping `yaml:"key_up,omitempty" json:"key_up,omitempty"`
	Autoconfigure bool           `yaml:"autoconfigure" json:"autoconfigure"`
	UserDevice    string         `yaml:"user_device,omitempty" json:"user_device,omitempty"`
	Debug         bool           `yaml:"debug" json:"debug"`

	// PlatformFile overrides DefaultPlatformFile.
	PlatformFile string `yaml:"platform_file,omitempty" json:"platform_file,omitempty"`
	// BoardDirs are searched for <board>.json before the XDG data dirs.
	BoardDirs []string    `yaml:"board_dirs,omitempty" json:"board_dirs,omitempty"`
	LogLevel  string      `yaml:"log_level" json:"log_level"`
	Bus       BusConfig   `yaml:"bus" json:"bus"`
	Input     InputConfig `yaml:"input" json:"input"`
}

// BusConfig selects how notifications reach subscribers.
type BusConfig struct {
	// Mode is BusModeHub or BusModeClient.
	Mode string `yaml:"mode" json:"mode"`
	// Addr is the hub listen address.
	Addr string `yaml:"addr" json:"addr"`
	// Path is the HTTP path the hub serves websocket upgrades on.
	Path string `yaml:"path" json:"path"`
	// URL is the bus a client connects to.
	URL string `yaml:"url" json:"url"`
}

// InputConfig configures the raw scan-code event source.
type InputConfig struct {
	// Devices are glob patterns of evdev nodes to read.
	Devices []string `yaml:"devices" json:"devices"`
	// Watch enables hotplug pickup of new devices.
	Watch bool `yaml:"watch" json:"watch"`
}

// KeyMapping returns the inline key mapping.
func (c Config) KeyMapping() keymap.KeyMapping {
	return keymap.KeyMapping{KeyDown: c.KeyDown, KeyUp: c.KeyUp}
}

// DefaultConfig returns default values.
func DefaultConfig() Config {
	return Config{
		PlatformFile: DefaultPlatformFile,
		BoardDirs:    []string{filepath.Join("/etc", appDirName, "boards")},
		LogLevel:     "info",
		Bus: BusConfig{
			Mode: BusModeHub,
			Addr: "127.0.0.1:8181",
			Path: "/core",
			URL:  "ws://127.0.0.1:8181/core",
		},
		Input: InputConfig{
			Devices: []string{"/dev/input/event*"},
			Watch:   true,
		},
	}
}

// DefaultPath resolves the settings file path: $XDG_CONFIG_HOME first, then
// ~/.config, and os.TempDir() if the home directory cannot be resolved.
// The temp-dir fallback is recorded as a warning for the caller to surface.
func DefaultPath() string {
	base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if base == "" {
		home, err := userHomeDirFn()
		if err != nil {
			slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
			recordDefaultPathWarning(
				"Config path fallback: failed to resolve XDG_CONFIG_HOME/home directory. Using temp directory.",
			)
			base = os.TempDir()
		} else {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, appDirName, "config.yaml")
}

// DataDirs returns the system-wide XDG data directories in precedence order.
func DataDirs() []string {
	raw := strings.TrimSpace(os.Getenv("XDG_DATA_DIRS"))
	if raw == "" {
		raw = "/usr/local/share:/usr/share"
	}
	var dirs []string
	for _, dir := range filepath.SplitList(raw) {
		dir = strings.TrimSpace(dir)
		if dir == "" || !filepath.IsAbs(dir) {
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs
}

// DataHome returns the user's XDG data directory, or "" if it cannot be
// resolved.
func DataHome() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dir != "" && filepath.IsAbs(dir) {
		return dir
	}
	home, err := userHomeDirFn()
	if err != nil {
		slog.Debug("[DEBUG-CONFIG] home directory unavailable, skipping data home", "error", err)
		return ""
	}
	return filepath.Join(home, ".local", "share")
}

// BoardSearchDirs returns the on-disk board directories in the order they
// are consulted: configured board dirs, each system data dir, then the
// user data home.
func (c Config) BoardSearchDirs() []string {
	dirs := slices.Clone(c.BoardDirs)
	for _, dir := range DataDirs() {
		dirs = append(dirs, filepath.Join(dir, appDirName, "boards"))
	}
	if home := DataHome(); home != "" {
		dirs = append(dirs, filepath.Join(home, appDirName, "boards"))
	}
	return dirs
}

// Load reads the settings file. If the file does not exist, defaults are
// returned. On parse failure defaults are returned together with the error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	parsed, err := Parse(raw)
	if err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), fmt.Errorf("parse config %s: %w", path, err)
	}
	return parsed, nil
}

// Parse decodes a settings document held in memory.
func Parse(raw []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return DefaultConfig(), err
	}
	applyDefaultsAndValidate(&cfg)
	return cfg, nil
}

func applyDefaultsAndValidate(cfg *Config) {
	defaults := DefaultConfig()

	if strings.TrimSpace(cfg.PlatformFile) == "" {
		cfg.PlatformFile = defaults.PlatformFile
	}
	cfg.UserDevice = strings.TrimSpace(cfg.UserDevice)

	switch strings.ToLower(strings.TrimSpace(cfg.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	case "":
		cfg.LogLevel = defaults.LogLevel
	default:
		slog.Warn("[WARN-CONFIG] unknown log_level, using default", "value", cfg.LogLevel, "default", defaults.LogLevel)
		cfg.LogLevel = defaults.LogLevel
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Bus.Mode)) {
	case BusModeHub, BusModeClient:
		cfg.Bus.Mode = strings.ToLower(strings.TrimSpace(cfg.Bus.Mode))
	case "":
		cfg.Bus.Mode = defaults.Bus.Mode
	default:
		slog.Warn("[WARN-CONFIG] unknown bus mode, using default", "value", cfg.Bus.Mode, "default", defaults.Bus.Mode)
		cfg.Bus.Mode = defaults.Bus.Mode
	}
	if strings.TrimSpace(cfg.Bus.Addr) == "" {
		cfg.Bus.Addr = defaults.Bus.Addr
	}
	if !strings.HasPrefix(cfg.Bus.Path, "/") {
		cfg.Bus.Path = defaults.Bus.Path
	}
	if strings.TrimSpace(cfg.Bus.URL) == "" {
		cfg.Bus.URL = defaults.Bus.URL
	}
	if len(cfg.Input.Devices) == 0 {
		cfg.Input.Devices = defaults.Input.Devices
	}
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}
