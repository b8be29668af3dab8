package resolver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"hotkeyd/internal/board"
	"hotkeyd/internal/keymap"

	"github.com/tidwall/gjson"
)

// SourceKind tags how a configuration source must be interpreted.
type SourceKind uint8

const (
	// SourceInline carries a key mapping directly.
	SourceInline SourceKind = iota + 1
	// SourceNamedProfile names a board profile to look up.
	SourceNamedProfile
	// SourcePlainText is a single line of text naming a board.
	SourcePlainText
)

func (k SourceKind) String() string {
	switch k {
	case SourceInline:
		return "inline"
	case SourceNamedProfile:
		return "named-profile"
	case SourcePlainText:
		return "plain-text"
	default:
		return fmt.Sprintf("SourceKind(%d)", uint8(k))
	}
}

// Source is one configuration input, classified when it is loaded.
// Mapping is set for SourceInline; Name for the other kinds.
type Source struct {
	Kind    SourceKind
	Mapping keymap.KeyMapping
	Name    string
	Origin  string
}

// errNoKeys marks a well-formed JSON document that carries neither
// key_down nor key_up; the source is absent rather than malformed.
var errNoKeys = errors.New("document has no key_down or key_up")

// errEmptySource marks a source with no content.
var errEmptySource = errors.New("source is empty")

// classifyPlatformFile decides once, from the raw bytes, whether a platform
// file holds an inline JSON mapping or a board name.
func classifyPlatformFile(origin string, raw []byte) (Source, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Source{}, errEmptySource
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		if !gjson.ValidBytes(trimmed) {
			return Source{}, &board.MalformedSourceError{Path: origin, Err: errors.New("invalid JSON")}
		}
		doc := gjson.ParseBytes(trimmed)
		if !doc.IsObject() {
			return Source{}, &board.MalformedSourceError{Path: origin, Err: errors.New("JSON document is not an object")}
		}
		if !doc.Get("key_down").Exists() && !doc.Get("key_up").Exists() {
			return Source{}, errNoKeys
		}
		mapping, err := keymap.ParseJSON(trimmed)
		if err != nil {
			return Source{}, &board.MalformedSourceError{Path: origin, Err: err}
		}
		return Source{Kind: SourceInline, Mapping: mapping, Origin: origin}, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return Source{Kind: SourcePlainText, Name: line, Origin: origin}, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Source{}, &board.MalformedSourceError{Path: origin, Err: err}
	}
	return Source{}, errEmptySource
}
