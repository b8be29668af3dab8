package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

type RunCommand struct {
	stderr io.Writer
	run    func(ctx context.Context, opts runOptions) error
}

func NewRunCommand(stderr io.Writer, run func(ctx context.Context, opts runOptions) error) *RunCommand {
	return &RunCommand{stderr: stderr, run: run}
}

func (c *RunCommand) Run(args []string) error {
	fs := newFlagSet("run", c.stderr)
	configPath := fs.String("config", "", "settings file")
	debug := fs.Bool("debug", false, "log every key event and enable debug logging")
	lockPath := fs.String("lock", "", "single-instance lock path")
	var boardDirs stringList
	fs.Var(&boardDirs, "board-dir", "extra board profile directory (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.run(ctx, runOptions{
		settingsOptions: settingsOptions{configPath: *configPath, boardDirs: boardDirs},
		lockPath:        *lockPath,
		debug:           *debug,
		logOutput:       c.stderr,
	})
}
