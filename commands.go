package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

type commandRunner interface {
	Run(args []string) error
}

type commandWiring struct {
	stdout    io.Writer
	stderr    io.Writer
	runDaemon func(ctx context.Context, opts runOptions) error
	version   string
}

func defaultCommandWiring(stdout, stderr io.Writer) commandWiring {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return commandWiring{
		stdout:    stdout,
		stderr:    stderr,
		runDaemon: runDaemon,
		version:   buildVersion(),
	}
}

func buildCommands(wiring commandWiring) map[string]commandRunner {
	return map[string]commandRunner{
		"run":     NewRunCommand(wiring.stderr, wiring.runDaemon),
		"resolve": NewResolveCommand(wiring.stdout, wiring.stderr),
		"boards":  NewBoardsCommand(wiring.stdout, wiring.stderr),
		"version": versionCommand{stdout: wiring.stdout, version: wiring.version},
	}
}

type versionCommand struct {
	stdout  io.Writer
	version string
}

func (c versionCommand) Run([]string) error {
	_, err := fmt.Fprintf(c.stdout, "hotkeyd %s\n", c.version)
	return err
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty value")
	}
	*s = append(*s, value)
	return nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
