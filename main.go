package main

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
)

const usageText = `hotkeyd maps keyboard shortcuts to message-bus notifications.

Usage:
  hotkeyd [command] [flags]

Commands:
  run       run the daemon (default)
  resolve   print the resolved key mapping and where it came from
  boards    list known board profiles
  version   print build information
  help      show help

Common flags:
  --config PATH   settings file (default $XDG_CONFIG_HOME/hotkeyd/config.yaml)

Run flags:
  --debug         log every key event read from input devices
  --lock PATH     single-instance lock (default per-user runtime dir)

Resolve flags:
  --format json|yaml|toml

Examples:
  hotkeyd run --debug
  hotkeyd resolve --format yaml
  hotkeyd boards --board-dir ./boards
`

func printUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"run"}
	}

	switch args[0] {
	case "-h", "--help", "help":
		printUsage(os.Stderr)
		return
	}

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	commands := buildCommands(wiring)

	name := args[0]
	rest := args[1:]
	if len(name) > 0 && name[0] == '-' {
		// Flags without a command belong to run.
		name, rest = "run", args
	}
	runner, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", name)
		printUsage(os.Stderr)
		os.Exit(2)
	}
	exitOnErr(name, runner.Run(rest), wiring.stderr)
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "devel"
	}
	version := info.Main.Version
	if version == "" || version == "(devel)" {
		version = "devel"
	}
	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		}
	}
	if revision != "" {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		version += " " + revision
		if modified == "true" {
			version += "-dirty"
		}
	}
	return version
}
