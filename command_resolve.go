package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"hotkeyd/internal/logging"

	toml "github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"
	formatText = "text"
)

type ResolveCommand struct {
	stdout io.Writer
	stderr io.Writer
}

type resolveOutput struct {
	Source        string          `json:"source" yaml:"source" toml:"source"`
	Supplements   []string        `json:"supplements,omitempty" yaml:"supplements,omitempty" toml:"supplements,omitempty"`
	Autoconfigure bool            `json:"autoconfigure" yaml:"autoconfigure" toml:"autoconfigure"`
	Debug         bool            `json:"debug" yaml:"debug" toml:"debug"`
	KeyDown       map[string]any  `json:"key_down" yaml:"key_down" toml:"key_down"`
	KeyUp         map[string]any  `json:"key_up" yaml:"key_up" toml:"key_up"`
	Warnings      []logging.Entry `json:"warnings,omitempty" yaml:"warnings,omitempty" toml:"warnings,omitempty"`
	// DroppedWarnings counts warnings evicted from Warnings.
	DroppedWarnings int `json:"dropped_warnings,omitempty" yaml:"dropped_warnings,omitempty" toml:"dropped_warnings,omitempty"`
}

func NewResolveCommand(stdout, stderr io.Writer) *ResolveCommand {
	return &ResolveCommand{stdout: stdout, stderr: stderr}
}

func (c *ResolveCommand) Run(args []string) error {
	fs := newFlagSet("resolve", c.stderr)
	configPath := fs.String("config", "", "settings file")
	format := fs.String("format", formatJSON, "output format: json|yaml|toml")
	var boardDirs stringList
	fs.Var(&boardDirs, "board-dir", "extra board profile directory (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resolvedFormat, err := resolveOutputFormat(*format, formatJSON, formatYAML, formatTOML)
	if err != nil {
		return err
	}

	rec := logging.NewRecorder(0)
	previous := slog.Default()
	logging.Setup(c.stderr, slog.LevelWarn, rec)
	defer slog.SetDefault(previous)

	cfg := loadSettings(settingsOptions{configPath: *configPath, boardDirs: boardDirs})
	resolved, err := newResolver(cfg).Resolve(cfg)
	if err != nil {
		return err
	}
	return writeStructured(c.stdout, resolvedFormat, resolveOutput{
		Source:          resolved.Source,
		Supplements:     resolved.Supplements,
		Autoconfigure:   resolved.Autoconfigure,
		Debug:           resolved.Debug,
		KeyDown:         resolved.Mapping.KeyDown.Plain(),
		KeyUp:           resolved.Mapping.KeyUp.Plain(),
		Warnings:        rec.Entries(),
		DroppedWarnings: rec.Dropped(),
	})
}

func resolveOutputFormat(raw string, allowed ...string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for _, candidate := range allowed {
		if value == candidate {
			return value, nil
		}
	}
	return "", fmt.Errorf("invalid format %q (want %s)", raw, strings.Join(allowed, "|"))
}

func writeStructured(w io.Writer, format string, payload any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(payload); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	case formatTOML:
		return toml.NewEncoder(w).Encode(payload)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
