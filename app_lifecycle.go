package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"hotkeyd/internal/bus"
	"hotkeyd/internal/config"
	"hotkeyd/internal/dispatch"
	"hotkeyd/internal/hotkeys"
	"hotkeyd/internal/input"
	"hotkeyd/internal/keymap"
	"hotkeyd/internal/logging"
	"hotkeyd/internal/resolver"
	"hotkeyd/internal/singleinstance"
)

var shutdownWaitTimeout = 5 * time.Second

type runOptions struct {
	settingsOptions
	lockPath  string
	debug     bool
	logOutput io.Writer
}

// daemon owns the collaborators started for one run.
type daemon struct {
	cfg      config.Config
	resolved resolver.Resolved

	transport    bus.Transport
	registry     *hotkeys.Registry
	registration *hotkeys.Registration
	source       input.Source
	loop         *dispatch.Loop
}

// runDaemon resolves the mapping, starts every collaborator and blocks
// until ctx is cancelled. A mapping that cannot be resolved is returned
// before anything is registered.
func runDaemon(ctx context.Context, opts runOptions) error {
	cfg := loadSettings(opts.settingsOptions)
	if opts.debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		slog.Warn("[WARN-CONFIG] invalid log level, using info", "level", cfg.LogLevel)
	}
	out := opts.logOutput
	if out == nil {
		out = os.Stderr
	}
	rec := logging.NewRecorder(0)
	logging.Setup(out, level, rec)
	defer reportWarnings(rec)

	lockPath := strings.TrimSpace(opts.lockPath)
	if lockPath == "" {
		lockPath = defaultLockPathFn()
	}
	lock, err := tryLockFn(lockPath)
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		slog.Info("[DEBUG-SINGLE] another instance is already running", "lock", lockPath)
		return err
	}
	if err != nil {
		slog.Warn("[DEBUG-SINGLE] lock failed, proceeding without single-instance guard", "lock", lockPath, "error", err)
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			slog.Warn("[DEBUG-SINGLE] lock release failed", "error", releaseErr)
		}
	}()

	resolved, err := newResolver(cfg).Resolve(cfg)
	if err != nil {
		return err
	}
	slog.Info("[DEBUG-RESOLVE] key mapping resolved",
		"source", resolved.Source,
		"supplements", resolved.Supplements,
		"entries", resolved.Mapping.Len(),
	)

	d := &daemon{cfg: cfg, resolved: resolved}
	if err := d.start(ctx); err != nil {
		return errors.Join(err, d.shutdown())
	}
	slog.Info("[DEBUG-LIFECYCLE] hotkeyd running")

	<-ctx.Done()
	slog.Info("[DEBUG-LIFECYCLE] shutting down")
	return d.shutdown()
}

func (d *daemon) start(ctx context.Context) error {
	transport, err := newTransportFn(d.cfg.Bus)
	if err != nil {
		return err
	}
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	d.transport = transport

	d.registry = hotkeys.NewRegistry(newBackendFn(hotkeys.BackendOptions{Input: d.inputOptions()}), transport)
	reg, err := d.registry.Register(d.resolved.Mapping)
	d.registration = reg
	if err != nil {
		// Each rejected entry was already logged; the rest stay live.
		slog.Warn("[DEBUG-hotkey] some key mapping entries were not registered", "error", err)
	}
	combos := reg.Combos()
	slog.Info("[DEBUG-hotkey] combos active",
		"key_down", combos[keymap.Down],
		"key_up", combos[keymap.Up],
	)

	// Debug mode reads the raw stream even without scan-code entries so
	// every event can be logged.
	table := reg.ScanTable()
	if table.Empty() && !d.resolved.Debug {
		slog.Debug("[DEBUG-DISPATCH] no scan-code entries, input devices not opened")
		return nil
	}
	src, err := openInputFn(d.inputOptions())
	if err != nil {
		slog.Warn("[DEBUG-DISPATCH] input source unavailable, scan-code entries inactive",
			"entries", table.Len(), "error", err)
		return nil
	}
	d.source = src
	d.loop = dispatch.New(src, transport, table, dispatch.Options{Debug: d.resolved.Debug})
	if err := d.loop.Start(ctx); err != nil {
		return fmt.Errorf("start dispatch loop: %w", err)
	}
	return nil
}

func (d *daemon) inputOptions() input.Options {
	return input.Options{Patterns: d.cfg.Input.Devices, Watch: d.cfg.Input.Watch}
}

// reportWarnings summarizes the warnings logged during the run.
func reportWarnings(rec *logging.Recorder) {
	entries := rec.Entries()
	if len(entries) == 0 {
		return
	}
	messages := make([]string, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	slog.Info("[DEBUG-LIFECYCLE] warnings recorded during run",
		"count", len(entries),
		"dropped", rec.Dropped(),
		"messages", messages,
	)
}

// shutdown stops the loop, closes the input source so a blocked read
// returns, releases every hook and finally stops the bus.
func (d *daemon) shutdown() error {
	var errs []error
	if d.loop != nil {
		d.loop.Stop()
	}
	if d.source != nil {
		if err := d.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input: %w", err))
		}
	}
	if d.loop != nil {
		select {
		case <-d.loop.Done():
		case <-time.After(shutdownWaitTimeout):
			slog.Warn("[DEBUG-LIFECYCLE] dispatch loop did not stop in time", "timeout", shutdownWaitTimeout)
		}
	}
	if d.registry != nil {
		if err := d.registry.Unregister(d.registration); err != nil {
			errs = append(errs, err)
		}
	}
	if d.transport != nil {
		if err := d.transport.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop bus: %w", err))
		}
	}
	return errors.Join(errs...)
}
