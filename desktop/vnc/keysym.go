package vnc

import (
	"fmt"
	"unicode/utf8"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
)

// X11 keysyms for the canonical key names in the desktop package.
var namedKeysyms = map[string]uint32{
	"backspace": 0xff08,
	"tab":       0xff09,
	"enter":     0xff0d,
	"esc":       0xff1b,
	"delete":    0xffff,
	"home":      0xff50,
	"left":      0xff51,
	"up":        0xff52,
	"right":     0xff53,
	"down":      0xff54,
	"pgup":      0xff55,
	"pgdn":      0xff56,
	"end":       0xff57,
	"insert":    0xff63,
	"space":     0x0020,
	"shift":     0xffe1,
	"ctrl":      0xffe3,
	"meta":      0xffe7,
	"alt":       0xffe9,
	"super":     0xffeb,
}

func init() {
	for i := 1; i <= 12; i++ {
		namedKeysyms[fmt.Sprintf("f%d", i)] = 0xffbe + uint32(i-1)
	}
}

// keysymFor maps a chord key to an X11 keysym.
func keysymFor(key string) (uint32, error) {
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		switch r {
		case '\n', '\r':
			return namedKeysyms["enter"], nil
		case '\t':
			return namedKeysyms["tab"], nil
		case '\b':
			return namedKeysyms["backspace"], nil
		}
		if r >= 0x20 && r <= 0xff {
			return uint32(r), nil
		}
		return 0x01000000 | uint32(r), nil
	}
	sym, ok := namedKeysyms[key]
	if !ok {
		return 0, fmt.Errorf("no keysym for key %q", key)
	}
	return sym, nil
}

// chordKeysyms resolves the modifiers then the key of a chord.
func chordKeysyms(chord desktop.Chord) ([]uint32, error) {
	out := make([]uint32, 0, len(chord.Modifiers)+1)
	for _, m := range chord.Modifiers {
		sym, err := keysymFor(m)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	sym, err := keysymFor(chord.Key)
	if err != nil {
		return nil, err
	}
	return append(out, sym), nil
}
