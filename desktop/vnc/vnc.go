// Package vnc drives a remote desktop over the RFB protocol.
package vnc

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net"
	"sync"
	"time"

	rfb "github.com/mitchellh/go-vnc"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/internal/imageutil"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultCaptureTimeout = 5 * time.Second
	dragSteps             = 10
)

type Controller struct {
	logger         *zap.Logger
	dialTimeout    time.Duration
	captureTimeout time.Duration

	mu      sync.Mutex
	conn    *rfb.ClientConn
	fb      *image.RGBA
	size    desktop.Size
	sized   bool
	buttons rfb.ButtonMask
	x, y    uint16
	updates chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ desktop.Controller = (*Controller)(nil)

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithCaptureTimeout bounds how long CaptureFrame waits for the server to
// deliver a framebuffer update.
func WithCaptureTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.captureTimeout = d
		}
	}
}

func New(opts ...Option) *Controller {
	c := &Controller{
		logger:         zap.NewNop(),
		dialTimeout:    defaultDialTimeout,
		captureTimeout: defaultCaptureTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("vnc")
	return c
}

func (c *Controller) Connect(ctx context.Context, target desktop.Target) error {
	addr, err := ParseServerAddress(target.Address)
	if err != nil {
		return &desktop.ConnectionError{Address: target.Address, Err: err}
	}
	c.logger.Info("connecting to vnc server", zap.String("address", addr))

	dialer := net.Dialer{Timeout: c.dialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &desktop.ConnectionError{Address: addr, Err: err}
	}

	auth := []rfb.ClientAuth{new(rfb.ClientAuthNone)}
	if target.Password != "" {
		auth = []rfb.ClientAuth{&rfb.PasswordAuth{Password: target.Password}}
	}
	msgs := make(chan rfb.ServerMessage, 16)
	conn, err := rfb.Client(nc, &rfb.ClientConfig{Auth: auth, ServerMessageCh: msgs})
	if err != nil {
		_ = nc.Close()
		return &desktop.ConnectionError{Address: addr, Err: err}
	}
	if err := conn.SetEncodings([]rfb.Encoding{new(rfb.RawEncoding)}); err != nil {
		_ = conn.Close()
		return &desktop.ConnectionError{Address: addr, Err: fmt.Errorf("set encodings: %w", err)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.size = desktop.Size{Width: int(conn.FrameBufferWidth), Height: int(conn.FrameBufferHeight)}
	c.sized = false
	c.fb = image.NewRGBA(image.Rect(0, 0, c.size.Width, c.size.Height))
	c.updates = make(chan struct{}, 1)
	c.done = make(chan struct{})
	c.wg.Add(1)
	go c.readLoop(conn.PixelFormat, msgs, c.updates, c.done)

	c.logger.Info("vnc connection established",
		zap.String("desktop", conn.DesktopName),
		zap.Int("width", c.size.Width),
		zap.Int("height", c.size.Height))
	return nil
}

func (c *Controller) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.done = nil
	c.sized = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	close(done)
	c.wg.Wait()
	c.logger.Info("vnc connection closed")
	return err
}

// readLoop applies framebuffer updates until the connection closes.
func (c *Controller) readLoop(pf rfb.PixelFormat, msgs <-chan rfb.ServerMessage, updates chan<- struct{}, done <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			update, ok := msg.(*rfb.FramebufferUpdateMessage)
			if !ok {
				continue
			}
			c.mu.Lock()
			for _, rect := range update.Rectangles {
				raw, ok := rect.Enc.(*rfb.RawEncoding)
				if !ok {
					continue
				}
				c.paint(pf, rect, raw.Colors)
			}
			c.mu.Unlock()
			select {
			case updates <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Controller) paint(pf rfb.PixelFormat, rect rfb.Rectangle, colors []rfb.Color) {
	if c.fb == nil {
		return
	}
	w := int(rect.Width)
	for i, col := range colors {
		px := int(rect.X) + i%w
		py := int(rect.Y) + i/w
		c.fb.SetRGBA(px, py, color.RGBA{
			R: scale(col.R, pf.RedMax),
			G: scale(col.G, pf.GreenMax),
			B: scale(col.B, pf.BlueMax),
			A: 0xff,
		})
	}
}

func scale(v, limit uint16) uint8 {
	if limit == 0 {
		return uint8(v >> 8)
	}
	return uint8(uint32(v) * 255 / uint32(limit))
}

func (c *Controller) CaptureFrame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	conn, updates := c.conn, c.updates
	w, h := c.size.Width, c.size.Height
	c.mu.Unlock()
	if conn == nil {
		return nil, desktop.ErrNotConnected
	}
	select {
	case <-updates:
	default:
	}
	if err := conn.FramebufferUpdateRequest(false, 0, 0, uint16(w), uint16(h)); err != nil {
		return nil, fmt.Errorf("request framebuffer: %w", err)
	}
	timer := time.NewTimer(c.captureTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("framebuffer update timed out after %s", c.captureTimeout)
	case <-updates:
	}

	c.mu.Lock()
	snapshot := image.NewRGBA(c.fb.Bounds())
	copy(snapshot.Pix, c.fb.Pix)
	c.sized = true
	c.mu.Unlock()
	frame, err := imageutil.EncodePNG(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	c.logger.Debug("frame captured", zap.Int("bytes", len(frame)))
	return frame, nil
}

func (c *Controller) ScreenSize() (desktop.Size, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return desktop.Size{}, desktop.ErrNotConnected
	}
	if !c.sized {
		return desktop.Size{}, desktop.ErrSizeUnknown
	}
	return c.size, nil
}

func (c *Controller) pointer(mask rfb.ButtonMask, x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return desktop.ErrNotConnected
	}
	px, py := clamp(x, c.size.Width), clamp(y, c.size.Height)
	if err := c.conn.PointerEvent(mask, px, py); err != nil {
		return err
	}
	c.buttons, c.x, c.y = mask, px, py
	return nil
}

func clamp(v, size int) uint16 {
	if v < 0 {
		return 0
	}
	if size > 0 && v >= size {
		return uint16(size - 1)
	}
	return uint16(v)
}

func (c *Controller) MoveTo(_ context.Context, x, y int) error {
	c.mu.Lock()
	mask := c.buttons
	c.mu.Unlock()
	return c.pointer(mask, x, y)
}

func buttonMask(b desktop.Button) (rfb.ButtonMask, error) {
	switch b {
	case desktop.ButtonLeft:
		return rfb.ButtonLeft, nil
	case desktop.ButtonMiddle:
		return rfb.ButtonMiddle, nil
	case desktop.ButtonRight:
		return rfb.ButtonRight, nil
	default:
		return 0, fmt.Errorf("unsupported button %d", b)
	}
}

func (c *Controller) Press(_ context.Context, b desktop.Button) error {
	bit, err := buttonMask(b)
	if err != nil {
		return err
	}
	c.mu.Lock()
	mask, x, y := c.buttons|bit, int(c.x), int(c.y)
	c.mu.Unlock()
	return c.pointer(mask, x, y)
}

func (c *Controller) Release(_ context.Context, b desktop.Button) error {
	bit, err := buttonMask(b)
	if err != nil {
		return err
	}
	c.mu.Lock()
	mask, x, y := c.buttons&^bit, int(c.x), int(c.y)
	c.mu.Unlock()
	return c.pointer(mask, x, y)
}

// DragTo moves in small steps so servers see a continuous drag.
func (c *Controller) DragTo(ctx context.Context, x, y int) error {
	c.mu.Lock()
	mask, x0, y0 := c.buttons|rfb.ButtonLeft, int(c.x), int(c.y)
	c.mu.Unlock()
	for i := 1; i <= dragSteps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		px := x0 + (x-x0)*i/dragSteps
		py := y0 + (y-y0)*i/dragSteps
		if err := c.pointer(mask, px, py); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) KeyPress(_ context.Context, keys string) error {
	chord, err := desktop.ParseChord(keys)
	if err != nil {
		return err
	}
	syms, err := chordKeysyms(chord)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return desktop.ErrNotConnected
	}
	for _, sym := range syms {
		if err := c.conn.KeyEvent(sym, true); err != nil {
			return err
		}
	}
	for i := len(syms) - 1; i >= 0; i-- {
		if err := c.conn.KeyEvent(syms[i], false); err != nil {
			return err
		}
	}
	return nil
}
