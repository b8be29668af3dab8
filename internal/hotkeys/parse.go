package hotkeys

import (
	"fmt"
	"strconv"
	"strings"
)

var modifierByName = map[string]Modifier{
	"CTRL":    ModCtrl,
	"CONTROL": ModCtrl,
	"SHIFT":   ModShift,
	"ALT":     ModAlt,
	"OPTION":  ModAlt,
	"WIN":     ModSuper,
	"SUPER":   ModSuper,
	"CMD":     ModSuper,
	"META":    ModSuper,
}

var keyAliases = map[string]Key{
	"SPACE":  "SPACE",
	"TAB":    "TAB",
	"ENTER":  "ENTER",
	"RETURN": "ENTER",
	"ESC":    "ESC",
	"ESCAPE": "ESC",
	"DELETE": "DELETE",
	"DEL":    "DELETE",
	"LEFT":   "LEFT",
	"RIGHT":  "RIGHT",
	"UP":     "UP",
	"DOWN":   "DOWN",
}

// maxFunctionKey is the highest F-key accepted by the parser.
const maxFunctionKey = 12

// ParseBinding parses a combo like "ctrl+shift+l". Modifiers are optional;
// the last token is the key.
func ParseBinding(spec string) (Binding, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Binding{}, fmt.Errorf("hotkey spec is empty")
	}

	parts := strings.Split(raw, "+")
	var modifiers Modifier
	for _, token := range parts[:len(parts)-1] {
		name := strings.ToUpper(strings.TrimSpace(token))
		mod, ok := modifierByName[name]
		if !ok {
			return Binding{}, fmt.Errorf("unknown modifier %q in hotkey %q", token, raw)
		}
		modifiers |= mod
	}

	key, err := parseKey(parts[len(parts)-1])
	if err != nil {
		return Binding{}, fmt.Errorf("%w in hotkey %q", err, raw)
	}

	var normalized []string
	for _, mod := range orderedModifiers {
		if modifiers&mod != 0 {
			normalized = append(normalized, mod.String())
		}
	}
	normalized = append(normalized, string(key))

	return Binding{
		modifiers:  modifiers,
		key:        key,
		normalized: strings.Join(normalized, "+"),
	}, nil
}

func parseKey(raw string) (Key, error) {
	token := strings.ToUpper(strings.TrimSpace(raw))
	if token == "" {
		return "", fmt.Errorf("missing hotkey key token")
	}
	if key, ok := keyAliases[token]; ok {
		return key, nil
	}
	if len(token) == 1 {
		ch := token[0]
		if (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			return Key(token), nil
		}
	}
	if rest, ok := strings.CutPrefix(token, "F"); ok {
		n, err := strconv.Atoi(rest)
		if err == nil && n >= 1 && n <= maxFunctionKey {
			return Key("F" + strconv.Itoa(n)), nil
		}
	}
	return "", fmt.Errorf("unknown key %q", raw)
}
