package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
)

func TestKeyAction(t *testing.T) {
	for _, keys := range []string{"a", "\n", "enter", "ctrl-a", "alt-f4", "ctrl-shift-t", "pgdn", "delete", "space"} {
		if _, err := keyAction(keys); err != nil {
			t.Fatalf("keyAction(%q): %v", keys, err)
		}
	}
	if _, err := keyAction("hyper-x"); err == nil {
		t.Fatal("expected error for unknown modifier")
	}
}

func TestUnconnectedController(t *testing.T) {
	c := New(WithViewport(800, 600))
	if _, err := c.ScreenSize(); !errors.Is(err, desktop.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := c.CaptureFrame(context.Background()); !errors.Is(err, desktop.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := c.Location(context.Background()); !errors.Is(err, desktop.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}
