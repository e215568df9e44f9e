// Package browser is a desktop backed by a Chromium page. It exposes the
// page URL as the action locator and supports history navigation.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
)

const (
	defaultWidth    = 1440
	defaultHeight   = 900
	defaultStartURL = "about:blank"
)

type Controller struct {
	logger   *zap.Logger
	width    int
	height   int
	startURL string
	headless bool
	execPath string

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	allocEnd context.CancelFunc
	sized    bool
	button   input.MouseButton
	x, y     float64
}

var (
	_ desktop.Controller = (*Controller)(nil)
	_ desktop.Locator    = (*Controller)(nil)
	_ desktop.Navigator  = (*Controller)(nil)
)

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithViewport(width, height int) Option {
	return func(c *Controller) {
		if width > 0 && height > 0 {
			c.width, c.height = width, height
		}
	}
}

func WithStartURL(url string) Option {
	return func(c *Controller) {
		if url != "" {
			c.startURL = url
		}
	}
}

func WithHeadless(headless bool) Option {
	return func(c *Controller) { c.headless = headless }
}

func WithExecPath(path string) Option {
	return func(c *Controller) { c.execPath = path }
}

func New(opts ...Option) *Controller {
	c := &Controller{
		logger:   zap.NewNop(),
		width:    defaultWidth,
		height:   defaultHeight,
		startURL: defaultStartURL,
		headless: true,
		button:   input.None,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("browser")
	return c
}

// Connect launches a local Chromium, or attaches to a running one when
// target.Address is a DevTools websocket URL.
func (c *Controller) Connect(ctx context.Context, target desktop.Target) error {
	var (
		allocCtx context.Context
		allocEnd context.CancelFunc
	)
	addr := strings.TrimSpace(target.Address)
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		allocCtx, allocEnd = chromedp.NewRemoteAllocator(context.Background(), addr)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(c.width, c.height),
			chromedp.Flag("headless", c.headless),
		)
		if c.execPath != "" {
			opts = append(opts, chromedp.ExecPath(c.execPath))
		}
		allocCtx, allocEnd = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	start := c.startURL
	if addr != "" && !strings.HasPrefix(addr, "ws") {
		start = addr
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(tabCtx,
			chromedp.EmulateViewport(int64(c.width), int64(c.height)),
			chromedp.Navigate(start),
		)
	}()
	select {
	case <-ctx.Done():
		cancel()
		allocEnd()
		return &desktop.ConnectionError{Address: addr, Err: ctx.Err()}
	case err := <-errCh:
		if err != nil {
			cancel()
			allocEnd()
			return &desktop.ConnectionError{Address: addr, Err: err}
		}
	}

	c.mu.Lock()
	c.ctx, c.cancel, c.allocEnd = tabCtx, cancel, allocEnd
	c.sized = false
	c.mu.Unlock()
	c.logger.Info("browser session started", zap.String("url", start), zap.Int("width", c.width), zap.Int("height", c.height))
	return nil
}

func (c *Controller) Disconnect() error {
	c.mu.Lock()
	cancel, allocEnd := c.cancel, c.allocEnd
	c.ctx, c.cancel, c.allocEnd = nil, nil, nil
	c.sized = false
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	allocEnd()
	c.logger.Info("browser session closed")
	return nil
}

func (c *Controller) run(actions ...chromedp.Action) error {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		return desktop.ErrNotConnected
	}
	return chromedp.Run(ctx, actions...)
}

func (c *Controller) CaptureFrame(context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sized = true
	c.mu.Unlock()
	return buf, nil
}

func (c *Controller) ScreenSize() (desktop.Size, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return desktop.Size{}, desktop.ErrNotConnected
	}
	if !c.sized {
		return desktop.Size{}, desktop.ErrSizeUnknown
	}
	return desktop.Size{Width: c.width, Height: c.height}, nil
}

func (c *Controller) mouse(typ input.MouseType, x, y float64, button input.MouseButton) error {
	return c.run(chromedp.ActionFunc(func(ctx context.Context) error {
		p := input.DispatchMouseEvent(typ, x, y).WithButton(button)
		if button == input.Left {
			p = p.WithButtons(1)
		}
		if typ != input.MouseMoved {
			p = p.WithClickCount(1)
		}
		return p.Do(ctx)
	}))
}

func (c *Controller) MoveTo(_ context.Context, x, y int) error {
	c.mu.Lock()
	button := c.button
	c.mu.Unlock()
	if err := c.mouse(input.MouseMoved, float64(x), float64(y), button); err != nil {
		return err
	}
	c.mu.Lock()
	c.x, c.y = float64(x), float64(y)
	c.mu.Unlock()
	return nil
}

func mouseButton(b desktop.Button) (input.MouseButton, error) {
	switch b {
	case desktop.ButtonLeft:
		return input.Left, nil
	case desktop.ButtonMiddle:
		return input.Middle, nil
	case desktop.ButtonRight:
		return input.Right, nil
	default:
		return input.None, fmt.Errorf("unsupported button %d", b)
	}
}

func (c *Controller) Press(_ context.Context, b desktop.Button) error {
	button, err := mouseButton(b)
	if err != nil {
		return err
	}
	c.mu.Lock()
	x, y := c.x, c.y
	c.mu.Unlock()
	if err := c.mouse(input.MousePressed, x, y, button); err != nil {
		return err
	}
	c.mu.Lock()
	c.button = button
	c.mu.Unlock()
	return nil
}

func (c *Controller) Release(_ context.Context, b desktop.Button) error {
	button, err := mouseButton(b)
	if err != nil {
		return err
	}
	c.mu.Lock()
	x, y := c.x, c.y
	c.mu.Unlock()
	if err := c.mouse(input.MouseReleased, x, y, button); err != nil {
		return err
	}
	c.mu.Lock()
	c.button = input.None
	c.mu.Unlock()
	return nil
}

func (c *Controller) DragTo(ctx context.Context, x, y int) error {
	c.mu.Lock()
	c.button = input.Left
	c.mu.Unlock()
	return c.MoveTo(ctx, x, y)
}

var namedKeys = map[string]string{
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"esc":       kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"insert":    kb.Insert,
	"home":      kb.Home,
	"end":       kb.End,
	"pgup":      kb.PageUp,
	"pgdn":      kb.PageDown,
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"space":     " ",
	"shift":     kb.Shift,
	"ctrl":      kb.Control,
	"alt":       kb.Alt,
	"meta":      kb.Meta,
	"super":     kb.Super,
	"f1":        kb.F1,
	"f2":        kb.F2,
	"f3":        kb.F3,
	"f4":        kb.F4,
	"f5":        kb.F5,
	"f6":        kb.F6,
	"f7":        kb.F7,
	"f8":        kb.F8,
	"f9":        kb.F9,
	"f10":       kb.F10,
	"f11":       kb.F11,
	"f12":       kb.F12,
}

var modifierBits = map[string]input.Modifier{
	"ctrl":  input.ModifierCtrl,
	"alt":   input.ModifierAlt,
	"shift": input.ModifierShift,
	"meta":  input.ModifierMeta,
	"super": input.ModifierMeta,
}

// keyAction translates a chord into a chromedp key event.
func keyAction(keys string) (chromedp.Action, error) {
	chord, err := desktop.ParseChord(keys)
	if err != nil {
		return nil, err
	}
	key := chord.Key
	if !chord.Literal() {
		mapped, ok := namedKeys[key]
		if !ok {
			return nil, fmt.Errorf("unsupported key %q", key)
		}
		key = mapped
	} else if key == "\n" {
		key = kb.Enter
	}
	mods := make([]input.Modifier, 0, len(chord.Modifiers))
	for _, m := range chord.Modifiers {
		mods = append(mods, modifierBits[m])
	}
	if len(mods) == 0 {
		return chromedp.KeyEvent(key), nil
	}
	return chromedp.KeyEvent(key, chromedp.KeyModifiers(mods...)), nil
}

func (c *Controller) KeyPress(_ context.Context, keys string) error {
	action, err := keyAction(keys)
	if err != nil {
		return err
	}
	return c.run(action)
}

func (c *Controller) Location(context.Context) (string, error) {
	var url string
	if err := c.run(chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (c *Controller) Navigate(_ context.Context, url string) error {
	return c.run(chromedp.Navigate(url))
}

func (c *Controller) Back(context.Context) error {
	return c.run(chromedp.NavigateBack())
}

func (c *Controller) Forward(context.Context) error {
	return c.run(chromedp.NavigateForward())
}
