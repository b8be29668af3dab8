// Package board holds the catalog of known hardware-platform key maps.
//
// Profiles are data, not code: the bundled set is the JSON files under
// boards/, embedded at build time, and further profiles are read from JSON
// documents on disk whose file name (minus extension) is the board name.
package board

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"hotkeyd/internal/keymap"
)

const maxDocumentBytes int64 = 1 << 20 // 1MB

//go:embed boards/*.json
var bundledFS embed.FS

// ErrNotFound is returned when no profile matches a board name.
var ErrNotFound = errors.New("board profile not found")

// MalformedSourceError reports a configuration document that exists but
// could not be parsed. Callers treat the source as absent.
type MalformedSourceError struct {
	Path string
	Err  error
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("malformed configuration source %s: %v", e.Path, e.Err)
}

func (e *MalformedSourceError) Unwrap() error { return e.Err }

// Profile is a named key mapping for one hardware platform.
type Profile struct {
	Name    string
	Mapping keymap.KeyMapping
	// Origin is the file the profile was read from.
	Origin string
}

// Catalog is an immutable set of profiles keyed by case-insensitive name.
type Catalog struct {
	profiles map[string]Profile
}

// New builds a catalog from profiles. Later profiles with the same
// case-insensitive name replace earlier ones.
func New(profiles ...Profile) *Catalog {
	c := &Catalog{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		c.profiles[normalizeName(p.Name)] = p
	}
	return c
}

// Bundled returns the catalog compiled into the binary.
func Bundled() *Catalog {
	c, err := LoadFS(bundledFS, "boards")
	if err != nil {
		// The embedded directory always exists; a read failure here is a
		// broken build.
		panic(fmt.Sprintf("board: bundled catalog unreadable: %v", err))
	}
	return c
}

// LoadDir builds a catalog from every *.json file in dir.
func LoadDir(dir string) (*Catalog, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// LoadFS builds a catalog from every *.json file in dir within fsys.
// Malformed files are logged and skipped.
func LoadFS(fsys fs.FS, dir string) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("board: read catalog dir %q: %w", dir, err)
	}
	var profiles []Profile
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(path.Ext(entry.Name()), ".json") {
			continue
		}
		name := path.Join(dir, entry.Name())
		raw, readErr := fs.ReadFile(fsys, name)
		if readErr != nil {
			slog.Warn("[WARN-BOARD] failed to read board profile, skipping", "path", name, "error", readErr)
			continue
		}
		profile, parseErr := ParseProfile(profileName(entry.Name()), raw)
		if parseErr != nil {
			slog.Warn("[WARN-BOARD] malformed board profile, skipping", "path", name, "error", parseErr)
			continue
		}
		profile.Origin = name
		profiles = append(profiles, profile)
	}
	return New(profiles...), nil
}

// ParseProfile decodes a board document.
func ParseProfile(name string, raw []byte) (Profile, error) {
	mapping, err := keymap.ParseJSON(raw)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Name: name, Mapping: mapping}, nil
}

// Lookup returns the profile named name, ignoring case.
func (c *Catalog) Lookup(name string) (Profile, error) {
	if c != nil {
		if p, ok := c.profiles[normalizeName(name)]; ok {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Names returns the profile names in sorted order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.profiles))
	for _, p := range c.profiles {
		names = append(names, p.Name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return strings.Compare(normalizeName(a), normalizeName(b))
	})
	return names
}

// FindInDirs searches dirs in order for a JSON document named after the
// board. Within a directory the match is case-insensitive on the file name
// minus extension; the first directory holding a match wins. A malformed
// match is reported through onMalformed and the search moves on to the
// next directory. Missing directories are skipped silently.
func FindInDirs(name string, dirs []string, onMalformed func(*MalformedSourceError)) (Profile, error) {
	want := normalizeName(name)
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		match, ok := matchInDir(dir, want)
		if !ok {
			continue
		}
		raw, err := ReadDocument(match)
		if err == nil {
			var profile Profile
			profile, err = ParseProfile(profileName(filepath.Base(match)), raw)
			if err == nil {
				profile.Origin = match
				return profile, nil
			}
		}
		malformed := &MalformedSourceError{Path: match, Err: err}
		if onMalformed != nil {
			onMalformed(malformed)
		}
	}
	return Profile{}, fmt.Errorf("%w: %q in %d directories", ErrNotFound, name, len(dirs))
}

func matchInDir(dir string, want string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("[DEBUG-BOARD] board dir unreadable, skipping", "dir", dir, "error", err)
		}
		return "", false
	}
	// os.ReadDir sorts by file name, so the pick is deterministic when two
	// files differ only by case or extension.
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if normalizeName(profileName(entry.Name())) == want {
			return filepath.Join(dir, entry.Name()), true
		}
	}
	return "", false
}

// ReadDocument reads a configuration document, refusing anything larger
// than 1MB.
func ReadDocument(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxDocumentBytes {
		return nil, fmt.Errorf("document %s exceeds %d bytes", path, maxDocumentBytes)
	}
	return raw, nil
}

func profileName(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
