package anthropic

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PipeOpsHQ/vnc-use-go/internal/imageutil"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

func frame(t *testing.T, w, h int) []byte {
	t.Helper()
	out, err := imageutil.EncodePNG(image.NewGray(image.Rect(0, 0, w, h)))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestClientPropose_ToolUse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("missing auth headers")
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !strings.Contains(req.System, "Current task: rename the file") {
			t.Errorf("unexpected system prompt %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content[1].Source == nil || req.Messages[0].Content[1].Source.MediaType != "image/png" {
			t.Errorf("expected an image block")
		}
		for _, tl := range req.Tools {
			if tl.Name == "search" {
				t.Errorf("search must be excluded")
			}
		}
		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "The file is selected."},
				{"type": "text", "text": "Typing the new name."},
				{"type": "tool_use", "id": "tu_1", "name": "type_text_at", "input": {"x": 300, "y": 410, "text": "report.txt", "press_enter": true}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 900, "output_tokens": 40}
		}`))
	}))
	defer ts.Close()

	c, err := New("sk-test", WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Propose(context.Background(), types.ProposeRequest{Task: "rename the file", Frame: frame(t, 1280, 720)})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if got.Observation != "The file is selected. Typing the new name." {
		t.Fatalf("unexpected observation %q", got.Observation)
	}
	if len(got.Calls) != 1 || got.Calls[0].Name != "type_text_at" || got.Calls[0].Args["text"] != "report.txt" {
		t.Fatalf("unexpected calls %+v", got.Calls)
	}
	if got.Verdict != nil || got.Usage.TotalTokens != 940 {
		t.Fatalf("unexpected verdict/usage %+v %+v", got.Verdict, got.Usage)
	}
}

func TestParseResponse_Refusals(t *testing.T) {
	heuristic := parseResponse(messagesResponse{Content: []contentBlock{{Type: "text", Text: "That would be dangerous, so I won't."}}})
	if heuristic.Verdict == nil || heuristic.Verdict.Action != types.VerdictBlock {
		t.Fatalf("expected heuristic block, got %+v", heuristic.Verdict)
	}
	native := parseResponse(messagesResponse{StopReason: "refusal"})
	if native.Verdict == nil || native.Verdict.Reason != "Model refused: refusal" {
		t.Fatalf("expected native refusal block, got %+v", native.Verdict)
	}
	done := parseResponse(messagesResponse{Content: []contentBlock{{Type: "text", Text: "The task is complete."}}})
	if done.Verdict != nil || len(done.Calls) != 0 {
		t.Fatalf("completion must not block, got %+v", done)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}
