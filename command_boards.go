package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"text/tabwriter"

	"hotkeyd/internal/board"
)

type BoardsCommand struct {
	stdout io.Writer
	stderr io.Writer
}

type boardListing struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	KeyDown int    `json:"key_down" yaml:"key_down" toml:"key_down"`
	KeyUp   int    `json:"key_up" yaml:"key_up" toml:"key_up"`
	Source  string `json:"source" yaml:"source" toml:"source"`
}

func NewBoardsCommand(stdout, stderr io.Writer) *BoardsCommand {
	return &BoardsCommand{stdout: stdout, stderr: stderr}
}

func (c *BoardsCommand) Run(args []string) error {
	fs := newFlagSet("boards", c.stderr)
	configPath := fs.String("config", "", "settings file")
	format := fs.String("format", formatText, "output format: text|json|yaml|toml")
	var boardDirs stringList
	fs.Var(&boardDirs, "board-dir", "extra board profile directory (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resolvedFormat, err := resolveOutputFormat(*format, formatText, formatJSON, formatYAML, formatTOML)
	if err != nil {
		return err
	}

	cfg := loadSettings(settingsOptions{configPath: *configPath, boardDirs: boardDirs})
	listings := listBoards(cfg.BoardSearchDirs())
	if resolvedFormat != formatText {
		return writeStructured(c.stdout, resolvedFormat, struct {
			Boards []boardListing `json:"boards" yaml:"boards" toml:"boards"`
		}{Boards: listings})
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKEY_DOWN\tKEY_UP\tSOURCE")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", l.Name, l.KeyDown, l.KeyUp, l.Source)
	}
	return tw.Flush()
}

// listBoards returns the bundled profiles followed by every profile found
// in dirs, in lookup order. A name may appear more than once; the first
// listing is the one resolution would use.
func listBoards(dirs []string) []boardListing {
	var out []boardListing
	add := func(c *board.Catalog, source func(board.Profile) string) {
		for _, name := range c.Names() {
			p, err := c.Lookup(name)
			if err != nil {
				continue
			}
			out = append(out, boardListing{
				Name:    p.Name,
				KeyDown: len(p.Mapping.KeyDown),
				KeyUp:   len(p.Mapping.KeyUp),
				Source:  source(p),
			})
		}
	}

	add(bundledCatalogFn(), func(board.Profile) string { return "bundled" })
	for _, dir := range dirs {
		catalog, err := board.LoadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("[WARN-BOARD] board directory unreadable", "dir", dir, "error", err)
			}
			continue
		}
		add(catalog, func(p board.Profile) string { return filepath.Join(dir, filepath.Base(p.Origin)) })
	}
	return out
}
