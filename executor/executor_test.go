package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/desktop/desktoptest"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

func TestDenormalize(t *testing.T) {
	cases := []struct{ coord, size, want int }{
		{0, 1440, 0},
		{999, 1440, 1439},
		{999, 1920, 1918},
		{500, 1440, 720},
		{500, 900, 450},
		{500, 1441, 720},
	}
	for _, c := range cases {
		if got := Denormalize(c.coord, c.size); got != c.want {
			t.Fatalf("Denormalize(%d, %d) = %d, want %d", c.coord, c.size, got, c.want)
		}
	}
}

func TestDenormalizeMonotonic(t *testing.T) {
	for _, size := range []int{1, 7, 640, 1366, 1440, 1920, 3840} {
		prev := Denormalize(0, size)
		if prev != 0 {
			t.Fatalf("Denormalize(0, %d) = %d", size, prev)
		}
		for c := 1; c < 1000; c++ {
			cur := Denormalize(c, size)
			if cur < prev {
				t.Fatalf("not monotonic at coord %d size %d: %d < %d", c, size, cur, prev)
			}
			prev = cur
		}
	}
}

func TestScrollRepeats(t *testing.T) {
	cases := map[int]int{0: 1, 100: 1, 399: 1, 400: 1, 800: 2, 1200: 3, -50: 1}
	for magnitude, want := range cases {
		if got := ScrollRepeats(magnitude); got != want {
			t.Fatalf("ScrollRepeats(%d) = %d, want %d", magnitude, got, want)
		}
	}
}

func TestNormalizeKeys(t *testing.T) {
	if got := NormalizeKeys("control+shift+t"); got != "ctrl-shift-t" {
		t.Fatalf("unexpected keys %q", got)
	}
	if got := NormalizeKeys("alt+f4"); got != "alt-f4" {
		t.Fatalf("unexpected keys %q", got)
	}
}

func call(name string, args map[string]any) types.ActionCall {
	return types.ActionCall{Name: name, Args: args}
}

func equalOps(t *testing.T, got, want []string) {
	t.Helper()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("ops mismatch\n got: %v\nwant: %v", got, want)
	}
}

func TestExecuteVocabulary(t *testing.T) {
	tests := []struct {
		name string
		call types.ActionCall
		want []string
	}{
		{
			name: "click",
			call: call("click_at", map[string]any{"x": 500.0, "y": 500.0}),
			want: []string{"move 720,450", "press 1", "release 1"},
		},
		{
			name: "double click",
			call: call("double_click_at", map[string]any{"x": 0, "y": 999}),
			want: []string{"move 0,899", "press 1", "release 1", "press 1", "release 1"},
		},
		{
			name: "hover",
			call: call("hover_at", map[string]any{"x": "250", "y": 100}),
			want: []string{"move 360,90"},
		},
		{
			name: "type with clear and enter",
			call: call("type_text_at", map[string]any{
				"x": 500, "y": 500, "text": "hi", "press_enter": true, "clear_before_typing": true,
			}),
			want: []string{"move 720,450", "press 1", "release 1", "key ctrl-a", "key delete", "key h", "key i", "key enter"},
		},
		{
			name: "type plain",
			call: call("type_text_at", map[string]any{"x": 500, "y": 500, "text": "ok"}),
			want: []string{"move 720,450", "press 1", "release 1", "key o", "key k"},
		},
		{
			name: "key combination",
			call: call("key_combination", map[string]any{"keys": "control+c"}),
			want: []string{"key ctrl-c"},
		},
		{
			name: "scroll document default",
			call: call("scroll_document", map[string]any{"direction": "down"}),
			want: []string{"key pgdn", "key pgdn"},
		},
		{
			name: "scroll at",
			call: call("scroll_at", map[string]any{"x": 500, "y": 500, "direction": "up", "magnitude": 1200}),
			want: []string{"move 720,450", "key pgup", "key pgup", "key pgup"},
		},
		{
			name: "scroll left small",
			call: call("scroll_document", map[string]any{"direction": "left", "magnitude": 100}),
			want: []string{"key left"},
		},
		{
			name: "drag and drop",
			call: call("drag_and_drop", map[string]any{"x": 100, "y": 100, "destination_x": 900, "destination_y": 900}),
			want: []string{"move 144,90", "press 1", "drag 1296,810", "release 1"},
		},
		{
			name: "open browser no-op",
			call: call("open_web_browser", nil),
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := desktoptest.Connected(1440, 900)
			ex := New(fake)
			res, err := ex.Execute(context.Background(), tt.call)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if !res.Success {
				t.Fatalf("expected success, got error %q", res.Error)
			}
			if len(res.Frame) == 0 {
				t.Fatal("expected post-action frame")
			}
			equalOps(t, fake.Ops(), tt.want)
		})
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	fake := desktoptest.Connected(800, 600)
	res, err := New(fake).Execute(context.Background(), call("teleport", nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "unrecognized action") {
		t.Fatalf("expected unrecognized action failure, got %+v", res)
	}
	if len(res.Frame) == 0 {
		t.Fatal("expected frame even on failure")
	}
	if fake.Captures() != 1 {
		t.Fatalf("expected one capture, got %d", fake.Captures())
	}
}

func TestExecuteSizeUnknown(t *testing.T) {
	fake := desktoptest.New(800, 600)
	if err := fake.Connect(context.Background(), desktop.Target{Address: "x"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fake.CaptureErr = errors.New("no framebuffer")
	res, err := New(fake).Execute(context.Background(), call("click_at", map[string]any{"x": 1, "y": 1}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "screen size unknown") {
		t.Fatalf("expected size unknown failure, got %+v", res)
	}
	if res.Frame == nil || len(res.Frame) != 0 {
		t.Fatalf("expected empty non-nil frame on capture failure, got %d bytes", len(res.Frame))
	}
}

func TestExecuteNotConnected(t *testing.T) {
	res, err := New(desktoptest.New(800, 600)).Execute(context.Background(), call("hover_at", map[string]any{"x": 1, "y": 1}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "not connected") {
		t.Fatalf("expected not connected failure, got %+v", res)
	}
}

func TestExecuteMissingArgument(t *testing.T) {
	fake := desktoptest.Connected(800, 600)
	res, _ := New(fake).Execute(context.Background(), call("type_text_at", map[string]any{"x": 1, "y": 1}))
	if res.Success || !strings.Contains(res.Error, `missing argument "text"`) {
		t.Fatalf("expected missing text failure, got %+v", res)
	}
	if len(fake.Ops()) != 0 {
		t.Fatalf("expected no primitives before validation, got %v", fake.Ops())
	}
}

func TestExecuteInvalidDirection(t *testing.T) {
	res, _ := New(desktoptest.Connected(800, 600)).Execute(context.Background(), call("scroll_document", map[string]any{"direction": "sideways"}))
	if res.Success || !strings.Contains(res.Error, "invalid scroll direction") {
		t.Fatalf("expected direction failure, got %+v", res)
	}
}

func TestExecutePrimitiveFailureIsReported(t *testing.T) {
	fake := desktoptest.Connected(800, 600)
	fake.FailOn = map[string]error{"press": errors.New("button stuck")}
	res, err := New(fake).Execute(context.Background(), call("click_at", map[string]any{"x": 1, "y": 1}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || res.Error != "button stuck" {
		t.Fatalf("expected button stuck, got %+v", res)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	fake := desktoptest.Connected(800, 600)
	fake.PanicOn = map[string]string{"move": "driver exploded"}
	_, err := New(fake).Execute(context.Background(), call("hover_at", map[string]any{"x": 1, "y": 1}))
	if err == nil || !strings.Contains(err.Error(), "driver exploded") {
		t.Fatalf("expected recovered panic error, got %v", err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	fake := desktoptest.Connected(800, 600)
	ex := New(fake, WithWaitDuration(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := ex.Execute(ctx, call("wait_5_seconds", nil))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "context canceled") {
		t.Fatalf("expected canceled wait, got %+v", res)
	}

	res, _ = New(fake, WithWaitDuration(time.Millisecond)).Execute(context.Background(), call("wait_5_seconds", nil))
	if !res.Success {
		t.Fatalf("expected short wait to succeed, got %+v", res)
	}
}

func TestBrowserActionsNeedNavigator(t *testing.T) {
	res, _ := New(desktoptest.Connected(800, 600)).Execute(context.Background(), call("go_back", nil))
	if res.Success || !strings.Contains(res.Error, "requires a browser desktop") {
		t.Fatalf("expected navigator failure, got %+v", res)
	}

	browser := desktoptest.NewBrowser(800, 600, "about:blank")
	ex := New(browser, WithSearchURL("https://search.example"))
	res, _ = ex.Execute(context.Background(), call("navigate", map[string]any{"url": "https://example.com"}))
	if !res.Success || res.Locator != "https://example.com" {
		t.Fatalf("expected navigation with locator, got %+v", res)
	}
	res, _ = ex.Execute(context.Background(), call("go_back", nil))
	if res.Locator != "about:blank" {
		t.Fatalf("expected back to about:blank, got %q", res.Locator)
	}
	res, _ = ex.Execute(context.Background(), call("go_forward", nil))
	if res.Locator != "https://example.com" {
		t.Fatalf("expected forward to example.com, got %q", res.Locator)
	}
	res, _ = ex.Execute(context.Background(), call("search", nil))
	if res.Locator != "https://search.example" {
		t.Fatalf("expected search page, got %q", res.Locator)
	}
}

func TestVocabulary(t *testing.T) {
	vocab := New(desktoptest.Connected(1, 1)).Vocabulary()
	joined := strings.Join(vocab, ",")
	for _, name := range []string{"click_at", "type_text_at", "key_combination", "scroll_document", "scroll_at", "drag_and_drop", "hover_at"} {
		if !strings.Contains(joined, name) {
			t.Fatalf("vocabulary missing %s: %v", name, vocab)
		}
	}
}
