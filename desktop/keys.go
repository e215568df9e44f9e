package desktop

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Chord is a parsed key press: zero or more modifiers plus one key. Key is
// either a canonical name (see KeyNames) or a single literal character.
type Chord struct {
	Modifiers []string
	Key       string
}

// Literal reports whether Key is a single character rather than a named key.
func (c Chord) Literal() bool {
	return utf8.RuneCountInString(c.Key) == 1
}

func (c Chord) String() string {
	if len(c.Modifiers) == 0 {
		return c.Key
	}
	return strings.Join(c.Modifiers, "-") + "-" + c.Key
}

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"alt":     "alt",
	"option":  "alt",
	"shift":   "shift",
	"meta":    "meta",
	"cmd":     "meta",
	"command": "meta",
	"super":   "super",
	"win":     "super",
}

var keyAliases = map[string]string{
	"enter":     "enter",
	"return":    "enter",
	"tab":       "tab",
	"esc":       "esc",
	"escape":    "esc",
	"bsp":       "backspace",
	"backspace": "backspace",
	"del":       "delete",
	"delete":    "delete",
	"ins":       "insert",
	"insert":    "insert",
	"home":      "home",
	"end":       "end",
	"pgup":      "pgup",
	"pageup":    "pgup",
	"pgdn":      "pgdn",
	"pagedown":  "pgdn",
	"up":        "up",
	"down":      "down",
	"left":      "left",
	"right":     "right",
	"space":     "space",
	"spacebar":  "space",
}

func init() {
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("f%d", i)
		keyAliases[name] = name
	}
	for name, canonical := range modifierAliases {
		keyAliases[name] = canonical
	}
}

// KeyNames lists the canonical named keys backends must understand.
func KeyNames() []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, v := range keyAliases {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ParseChord parses "ctrl-a", "alt-f4", "enter" or a single character. A
// lone "-" and a trailing "--" both denote the minus key.
func ParseChord(keys string) (Chord, error) {
	if utf8.RuneCountInString(keys) == 1 {
		return Chord{Key: keys}, nil
	}
	keys = strings.TrimSpace(keys)
	if keys == "" {
		return Chord{}, fmt.Errorf("empty key chord")
	}
	if utf8.RuneCountInString(keys) == 1 {
		return Chord{Key: keys}, nil
	}
	minus := strings.HasSuffix(keys, "--")
	if minus {
		keys = strings.TrimSuffix(keys, "--")
	}
	parts := strings.Split(keys, "-")
	if minus {
		parts = append(parts, "-")
	}
	chord := Chord{}
	for i, part := range parts {
		last := i == len(parts)-1
		if part == "" {
			return Chord{}, fmt.Errorf("malformed key chord %q", keys)
		}
		if !last {
			mod, ok := modifierAliases[strings.ToLower(part)]
			if !ok {
				return Chord{}, fmt.Errorf("unknown modifier %q in chord %q", part, keys)
			}
			chord.Modifiers = append(chord.Modifiers, mod)
			continue
		}
		if utf8.RuneCountInString(part) == 1 {
			chord.Key = part
			if len(chord.Modifiers) > 0 {
				chord.Key = strings.ToLower(part)
			}
			continue
		}
		name, ok := keyAliases[strings.ToLower(part)]
		if !ok {
			return Chord{}, fmt.Errorf("unknown key %q in chord %q", part, keys)
		}
		chord.Key = name
	}
	return chord, nil
}

// IsModifier reports whether a canonical key name is a modifier.
func IsModifier(name string) bool {
	_, ok := modifierAliases[name]
	return ok && modifierAliases[name] == name
}
