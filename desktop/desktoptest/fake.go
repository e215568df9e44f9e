// Package desktoptest provides an in-memory desktop for tests.
package desktoptest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
)

// Fake records every primitive it receives as a string such as
// "move 720,450", "press 1", "key ctrl-a" or "drag 10,20".
type Fake struct {
	mu        sync.Mutex
	connected bool
	size      desktop.Size
	sized     bool
	ops       []string
	captures  int

	// Frame is returned by CaptureFrame. A generated PNG of the configured
	// size is used when nil.
	Frame []byte
	// CaptureErr makes CaptureFrame fail.
	CaptureErr error
	// ConnectErr makes Connect fail.
	ConnectErr error
	// FailOn makes the named primitive ("move", "press", "key", ...) fail.
	FailOn map[string]error
	// PanicOn makes the named primitive panic.
	PanicOn map[string]string
}

var _ desktop.Controller = (*Fake)(nil)

func New(width, height int) *Fake {
	return &Fake{size: desktop.Size{Width: width, Height: height}}
}

// Connected returns a fake that is already connected and sized.
func Connected(width, height int) *Fake {
	f := New(width, height)
	f.connected = true
	f.sized = true
	return f
}

func (f *Fake) Connect(_ context.Context, target desktop.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return &desktop.ConnectionError{Address: target.Address, Err: f.ConnectErr}
	}
	f.connected = true
	f.ops = append(f.ops, "connect "+target.Address)
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.sized = false
	f.ops = append(f.ops, "disconnect")
	return nil
}

func (f *Fake) CaptureFrame(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, desktop.ErrNotConnected
	}
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	f.captures++
	f.sized = true
	if f.Frame != nil {
		return append([]byte(nil), f.Frame...), nil
	}
	return solidFrame(f.size), nil
}

func (f *Fake) ScreenSize() (desktop.Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return desktop.Size{}, desktop.ErrNotConnected
	}
	if !f.sized {
		return desktop.Size{}, desktop.ErrSizeUnknown
	}
	return f.size, nil
}

func (f *Fake) MoveTo(_ context.Context, x, y int) error {
	return f.record("move", fmt.Sprintf("move %d,%d", x, y))
}

func (f *Fake) Press(_ context.Context, b desktop.Button) error {
	return f.record("press", fmt.Sprintf("press %d", b))
}

func (f *Fake) Release(_ context.Context, b desktop.Button) error {
	return f.record("release", fmt.Sprintf("release %d", b))
}

func (f *Fake) KeyPress(_ context.Context, keys string) error {
	return f.record("key", "key "+keys)
}

func (f *Fake) DragTo(_ context.Context, x, y int) error {
	return f.record("drag", fmt.Sprintf("drag %d,%d", x, y))
}

func (f *Fake) record(kind, op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return desktop.ErrNotConnected
	}
	if msg, ok := f.PanicOn[kind]; ok {
		panic(msg)
	}
	if err, ok := f.FailOn[kind]; ok {
		return err
	}
	f.ops = append(f.ops, op)
	return nil
}

// Ops returns a copy of the recorded primitives.
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *Fake) Captures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
	f.captures = 0
}

// Browser is a Fake that also tracks a URL history.
type Browser struct {
	*Fake
	mu      sync.Mutex
	history []string
	cursor  int
}

var (
	_ desktop.Locator   = (*Browser)(nil)
	_ desktop.Navigator = (*Browser)(nil)
)

func NewBrowser(width, height int, start string) *Browser {
	return &Browser{Fake: Connected(width, height), history: []string{start}}
}

func (b *Browser) Location(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history[b.cursor], nil
}

func (b *Browser) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history[:b.cursor+1], url)
	b.cursor = len(b.history) - 1
	return nil
}

func (b *Browser) Back(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor > 0 {
		b.cursor--
	}
	return nil
}

func (b *Browser) Forward(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor < len(b.history)-1 {
		b.cursor++
	}
	return nil
}

func solidFrame(size desktop.Size) []byte {
	w, h := size.Width, size.Height
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.Set(0, 0, color.Gray{Y: 0})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
