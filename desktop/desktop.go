// Package desktop defines the remote-desktop collaborator the executor
// drives. All coordinates here are device pixels.
package desktop

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("desktop not connected")
	ErrSizeUnknown  = errors.New("screen size unknown; capture a frame first")
)

// ConnectionError wraps a failure to establish or keep a desktop session.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return "connect " + e.Address + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type Target struct {
	Address  string
	Username string
	Password string
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Button int

const (
	ButtonLeft Button = iota + 1
	ButtonMiddle
	ButtonRight
)

type Controller interface {
	Connect(ctx context.Context, target Target) error
	Disconnect() error
	// CaptureFrame returns the current screen as PNG and refreshes ScreenSize.
	CaptureFrame(ctx context.Context) ([]byte, error)
	ScreenSize() (Size, error)
	MoveTo(ctx context.Context, x, y int) error
	Press(ctx context.Context, button Button) error
	Release(ctx context.Context, button Button) error
	// KeyPress sends a single key or a chord such as "ctrl-a".
	KeyPress(ctx context.Context, keys string) error
	// DragTo moves the pointer with the left button held.
	DragTo(ctx context.Context, x, y int) error
}

// Locator is implemented by desktops that can report where they are, such
// as the current URL of a browser page.
type Locator interface {
	Location(ctx context.Context) (string, error)
}

// Navigator is implemented by desktops with browser history.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
}
