// Package executor turns planner action calls into desktop primitives.
// Coordinates arrive on a 0-999 grid and are mapped to device pixels using
// the desktop's current screen size.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

var ErrUnknownAction = errors.New("unrecognized action")

const (
	DefaultScrollMagnitude = 800
	scrollStep             = 400
	defaultWait            = 5 * time.Second
	defaultSearchURL       = "https://www.google.com"
)

// Denormalize maps a 0-999 grid coordinate onto an axis of size pixels,
// rounding half to even.
func Denormalize(coord, size int) int {
	return int(math.RoundToEven(float64(coord) * float64(size) / 1000))
}

type handler func(ctx context.Context, size desktop.Size, a args) error

type Executor struct {
	desktop   desktop.Controller
	logger    *zap.Logger
	handlers  map[string]handler
	wait      time.Duration
	searchURL string
}

type Option func(*Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWaitDuration overrides the pause used by wait_5_seconds.
func WithWaitDuration(d time.Duration) Option {
	return func(e *Executor) { e.wait = d }
}

// WithSearchURL sets the page the search action opens.
func WithSearchURL(url string) Option {
	return func(e *Executor) {
		if url != "" {
			e.searchURL = url
		}
	}
}

func New(d desktop.Controller, opts ...Option) *Executor {
	e := &Executor{
		desktop:   d,
		logger:    zap.NewNop(),
		handlers:  map[string]handler{},
		wait:      defaultWait,
		searchURL: defaultSearchURL,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("executor")
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers["click_at"] = e.handleClick
	e.handlers["double_click_at"] = e.handleDoubleClick
	e.handlers["hover_at"] = e.handleHover
	e.handlers["type_text_at"] = e.handleTypeText
	e.handlers["key_combination"] = e.handleKeyCombination
	e.handlers["scroll_document"] = e.handleScrollDocument
	e.handlers["scroll_at"] = e.handleScrollAt
	e.handlers["drag_and_drop"] = e.handleDragAndDrop
	e.handlers["wait_5_seconds"] = e.handleWait
	e.handlers["open_web_browser"] = e.handleOpenBrowser
	e.handlers["navigate"] = e.handleNavigate
	e.handlers["go_back"] = e.handleGoBack
	e.handlers["go_forward"] = e.handleGoForward
	e.handlers["search"] = e.handleSearch
}

// Vocabulary lists the action names the executor understands.
func (e *Executor) Vocabulary() []string {
	out := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs one action and captures a fresh frame afterwards. Action
// failures are reported in the result; the returned error is reserved for
// exceptional failures such as a panicking desktop backend.
func (e *Executor) Execute(ctx context.Context, call types.ActionCall) (res types.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("action panicked",
				zap.String("action", call.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = types.ActionResult{}
			err = fmt.Errorf("action %s panicked: %v", call.Name, r)
		}
	}()

	actErr := e.dispatch(ctx, call)
	res = types.ActionResult{Success: actErr == nil}
	if actErr != nil {
		res.Error = actErr.Error()
		e.logger.Warn("action failed", zap.String("action", call.Name), zap.Error(actErr))
	} else {
		e.logger.Debug("action executed", zap.String("action", call.Name), zap.Any("args", call.Args))
	}
	res.Frame = e.captureQuiet(ctx)
	res.Locator = e.locate(ctx)
	return res, nil
}

// Capture returns a fresh frame from the desktop.
func (e *Executor) Capture(ctx context.Context) ([]byte, error) {
	return e.desktop.CaptureFrame(ctx)
}

func (e *Executor) dispatch(ctx context.Context, call types.ActionCall) error {
	h, ok := e.handlers[call.Name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownAction, call.Name)
	}
	size, err := e.desktop.ScreenSize()
	if err != nil {
		return err
	}
	return h(ctx, size, args(call.Args))
}

func (e *Executor) captureQuiet(ctx context.Context) []byte {
	frame, err := e.desktop.CaptureFrame(ctx)
	if err != nil {
		e.logger.Warn("post-action capture failed", zap.Error(err))
		return []byte{}
	}
	return frame
}

func (e *Executor) locate(ctx context.Context) string {
	loc, ok := e.desktop.(desktop.Locator)
	if !ok {
		return ""
	}
	url, err := loc.Location(ctx)
	if err != nil {
		e.logger.Debug("location unavailable", zap.Error(err))
		return ""
	}
	return url
}

func point(size desktop.Size, a args, xKey, yKey string) (int, int, error) {
	x, err := a.int(xKey)
	if err != nil {
		return 0, 0, err
	}
	y, err := a.int(yKey)
	if err != nil {
		return 0, 0, err
	}
	return Denormalize(x, size.Width), Denormalize(y, size.Height), nil
}
