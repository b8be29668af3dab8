package main

import (
	"log/slog"
	"strings"

	"hotkeyd/internal/board"
	"hotkeyd/internal/bus"
	"hotkeyd/internal/config"
	"hotkeyd/internal/hotkeys"
	"hotkeyd/internal/input"
	"hotkeyd/internal/probe"
	"hotkeyd/internal/resolver"
	"hotkeyd/internal/singleinstance"
)

var (
	loadConfigFn      = config.Load
	defaultConfigPath = config.DefaultPath
	bundledCatalogFn  = board.Bundled
	probeRulesFn      = probe.Prober{}.DefaultRules
	tryLockFn         = singleinstance.TryLock
	defaultLockPathFn = singleinstance.DefaultLockPath
	newTransportFn    = bus.New
	newBackendFn      = hotkeys.NewBackend
	openInputFn       = input.Open
)

// settingsOptions are the flags shared by every command that reads the
// settings file.
type settingsOptions struct {
	configPath string
	boardDirs  []string
}

// loadSettings reads the settings file. A parse failure is logged and the
// defaults are used, as the daemon must still come up.
func loadSettings(opts settingsOptions) config.Config {
	path := strings.TrimSpace(opts.configPath)
	if path == "" {
		path = defaultConfigPath()
		for _, message := range config.ConsumeDefaultPathWarnings() {
			slog.Warn("[WARN-CONFIG] " + message)
		}
	}
	cfg, err := loadConfigFn(path)
	if err != nil {
		slog.Warn("[WARN-CONFIG] settings load failed, using defaults", "path", path, "error", err)
	}
	if len(opts.boardDirs) > 0 {
		cfg.BoardDirs = append(append([]string(nil), opts.boardDirs...), cfg.BoardDirs...)
	}
	slog.Debug("[DEBUG-CONFIG] settings loaded", "path", path, "busMode", cfg.Bus.Mode)
	return cfg
}

func newResolver(cfg config.Config) *resolver.Resolver {
	return resolver.New(resolver.Options{
		Catalog:      bundledCatalogFn(),
		SearchDirs:   cfg.BoardSearchDirs(),
		PlatformFile: cfg.PlatformFile,
		Probes:       probeRulesFn(),
	})
}
