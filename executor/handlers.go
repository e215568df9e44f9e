package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
)

var scrollKeys = map[string]string{
	"up":    "pgup",
	"down":  "pgdn",
	"left":  "left",
	"right": "right",
}

func (e *Executor) click(ctx context.Context, x, y int) error {
	if err := e.desktop.MoveTo(ctx, x, y); err != nil {
		return err
	}
	if err := e.desktop.Press(ctx, desktop.ButtonLeft); err != nil {
		return err
	}
	return e.desktop.Release(ctx, desktop.ButtonLeft)
}

func (e *Executor) handleClick(ctx context.Context, size desktop.Size, a args) error {
	x, y, err := point(size, a, "x", "y")
	if err != nil {
		return err
	}
	return e.click(ctx, x, y)
}

func (e *Executor) handleDoubleClick(ctx context.Context, size desktop.Size, a args) error {
	x, y, err := point(size, a, "x", "y")
	if err != nil {
		return err
	}
	if err := e.click(ctx, x, y); err != nil {
		return err
	}
	if err := e.desktop.Press(ctx, desktop.ButtonLeft); err != nil {
		return err
	}
	return e.desktop.Release(ctx, desktop.ButtonLeft)
}

func (e *Executor) handleHover(ctx context.Context, size desktop.Size, a args) error {
	x, y, err := point(size, a, "x", "y")
	if err != nil {
		return err
	}
	return e.desktop.MoveTo(ctx, x, y)
}

func (e *Executor) handleTypeText(ctx context.Context, size desktop.Size, a args) error {
	x, y, err := point(size, a, "x", "y")
	if err != nil {
		return err
	}
	text, err := a.string("text")
	if err != nil {
		return err
	}
	if err := e.click(ctx, x, y); err != nil {
		return err
	}
	if a.bool("clear_before_typing") {
		if err := e.desktop.KeyPress(ctx, "ctrl-a"); err != nil {
			return err
		}
		if err := e.desktop.KeyPress(ctx, "delete"); err != nil {
			return err
		}
	}
	for _, r := range text {
		if err := e.desktop.KeyPress(ctx, string(r)); err != nil {
			return fmt.Errorf("type %q: %w", r, err)
		}
	}
	if a.bool("press_enter") {
		return e.desktop.KeyPress(ctx, "enter")
	}
	return nil
}

// NormalizeKeys converts "Control+Shift+t" style input into the dash form
// the desktop expects.
func NormalizeKeys(keys string) string {
	keys = strings.ReplaceAll(keys, "+", "-")
	return strings.ReplaceAll(keys, "control", "ctrl")
}

func (e *Executor) handleKeyCombination(ctx context.Context, _ desktop.Size, a args) error {
	keys, err := a.string("keys")
	if err != nil {
		return err
	}
	return e.desktop.KeyPress(ctx, NormalizeKeys(keys))
}

func (e *Executor) scroll(ctx context.Context, a args) error {
	direction, err := a.string("direction")
	if err != nil {
		return err
	}
	key, ok := scrollKeys[strings.ToLower(strings.TrimSpace(direction))]
	if !ok {
		return fmt.Errorf("invalid scroll direction %q", direction)
	}
	magnitude, err := a.intOr("magnitude", DefaultScrollMagnitude)
	if err != nil {
		return err
	}
	repeats := ScrollRepeats(magnitude)
	for i := 0; i < repeats; i++ {
		if err := e.desktop.KeyPress(ctx, key); err != nil {
			return err
		}
	}
	e.logger.Debug("scrolled", zap.String("direction", direction), zap.Int("magnitude", magnitude), zap.Int("repeats", repeats))
	return nil
}

// ScrollRepeats is the number of paging key presses for a scroll magnitude.
func ScrollRepeats(magnitude int) int {
	n := magnitude / scrollStep
	if n < 1 {
		return 1
	}
	return n
}

func (e *Executor) handleScrollDocument(ctx context.Context, _ desktop.Size, a args) error {
	return e.scroll(ctx, a)
}

func (e *Executor) handleScrollAt(ctx context.Context, size desktop.Size, a args) error {
	x, y, err := point(size, a, "x", "y")
	if err != nil {
		return err
	}
	if err := e.desktop.MoveTo(ctx, x, y); err != nil {
		return err
	}
	return e.scroll(ctx, a)
}

func (e *Executor) handleDragAndDrop(ctx context.Context, size desktop.Size, a args) error {
	x0, y0, err := point(size, a, "x", "y")
	if err != nil {
		return err
	}
	x1, y1, err := point(size, a, "destination_x", "destination_y")
	if err != nil {
		return err
	}
	if err := e.desktop.MoveTo(ctx, x0, y0); err != nil {
		return err
	}
	if err := e.desktop.Press(ctx, desktop.ButtonLeft); err != nil {
		return err
	}
	if err := e.desktop.DragTo(ctx, x1, y1); err != nil {
		_ = e.desktop.Release(ctx, desktop.ButtonLeft)
		return err
	}
	return e.desktop.Release(ctx, desktop.ButtonLeft)
}

func (e *Executor) handleWait(ctx context.Context, _ desktop.Size, _ args) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.wait):
		return nil
	}
}

func (e *Executor) handleOpenBrowser(context.Context, desktop.Size, args) error {
	e.logger.Info("open_web_browser is a no-op; the desktop is expected to have a browser available")
	return nil
}

func (e *Executor) navigator(name string) (desktop.Navigator, error) {
	nav, ok := e.desktop.(desktop.Navigator)
	if !ok {
		return nil, fmt.Errorf("action %q requires a browser desktop", name)
	}
	return nav, nil
}

func (e *Executor) handleNavigate(ctx context.Context, _ desktop.Size, a args) error {
	nav, err := e.navigator("navigate")
	if err != nil {
		return err
	}
	url, err := a.string("url")
	if err != nil {
		return err
	}
	return nav.Navigate(ctx, url)
}

func (e *Executor) handleGoBack(ctx context.Context, _ desktop.Size, _ args) error {
	nav, err := e.navigator("go_back")
	if err != nil {
		return err
	}
	return nav.Back(ctx)
}

func (e *Executor) handleGoForward(ctx context.Context, _ desktop.Size, _ args) error {
	nav, err := e.navigator("go_forward")
	if err != nil {
		return err
	}
	return nav.Forward(ctx)
}

func (e *Executor) handleSearch(ctx context.Context, _ desktop.Size, _ args) error {
	nav, err := e.navigator("search")
	if err != nil {
		return err
	}
	return nav.Navigate(ctx, e.searchURL)
}
