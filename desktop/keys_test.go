package desktop

import (
	"errors"
	"testing"
)

func TestParseChord(t *testing.T) {
	tests := []struct {
		in   string
		mods []string
		key  string
	}{
		{in: "a", key: "a"},
		{in: "A", key: "A"},
		{in: " ", key: " "},
		{in: "-", key: "-"},
		{in: "enter", key: "enter"},
		{in: "Return", key: "enter"},
		{in: "ctrl-a", mods: []string{"ctrl"}, key: "a"},
		{in: "control-shift-T", mods: []string{"ctrl", "shift"}, key: "t"},
		{in: "alt-f4", mods: []string{"alt"}, key: "f4"},
		{in: "ctrl-alt-delete", mods: []string{"ctrl", "alt"}, key: "delete"},
		{in: "ctrl--", mods: []string{"ctrl"}, key: "-"},
		{in: "pgdn", key: "pgdn"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			chord, err := ParseChord(tt.in)
			if err != nil {
				t.Fatalf("ParseChord(%q): %v", tt.in, err)
			}
			if chord.Key != tt.key {
				t.Fatalf("expected key %q, got %q", tt.key, chord.Key)
			}
			if len(chord.Modifiers) != len(tt.mods) {
				t.Fatalf("expected modifiers %v, got %v", tt.mods, chord.Modifiers)
			}
			for i := range tt.mods {
				if chord.Modifiers[i] != tt.mods[i] {
					t.Fatalf("expected modifiers %v, got %v", tt.mods, chord.Modifiers)
				}
			}
		})
	}
}

func TestParseChordErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "hyper-a", "ctrl-nonsense", "ctrl--x-"} {
		if _, err := ParseChord(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestChordString(t *testing.T) {
	chord, _ := ParseChord("control-c")
	if chord.String() != "ctrl-c" {
		t.Fatalf("unexpected chord string %q", chord.String())
	}
	if !chord.Literal() {
		t.Fatal("expected literal key")
	}
}

func TestIsModifier(t *testing.T) {
	if !IsModifier("ctrl") || IsModifier("control") || IsModifier("enter") {
		t.Fatal("unexpected modifier classification")
	}
}

func TestConnectionErrorUnwrap(t *testing.T) {
	base := errors.New("refused")
	err := &ConnectionError{Address: "host:5900", Err: base}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error")
	}
	if err.Error() != "connect host:5900: refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
