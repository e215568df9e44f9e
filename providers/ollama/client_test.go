package ollama

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PipeOpsHQ/vnc-use-go/internal/imageutil"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

type seen struct {
	path, auth, model string
}

// fakeOllama answers every chat request with reply and records what it saw.
func fakeOllama(t *testing.T, reply string, got *seen) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		*got = seen{path: r.URL.Path, auth: r.Header.Get("Authorization"), model: body.Model}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func grayFrame(t *testing.T) []byte {
	t.Helper()
	frame, err := imageutil.EncodePNG(image.NewGray(image.Rect(0, 0, 8, 8)))
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestProposeSendsModelAndAuth(t *testing.T) {
	tests := []struct {
		name      string
		opts      []Option
		wantModel string
		wantAuth  string
	}{
		{name: "defaults", wantModel: defaultModel},
		{name: "custom", opts: []Option{WithModel("llava"), WithAPIKey(" proxy-key ")}, wantModel: "llava", wantAuth: "Bearer proxy-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got seen
			ts := fakeOllama(t, `{"choices":[{"message":{"content":"all done"}}]}`, &got)
			client, err := New(append([]Option{WithBaseURL(ts.URL + "/"), WithHTTPClient(ts.Client())}, tt.opts...)...)
			if err != nil {
				t.Fatal(err)
			}
			if client.Name() != "ollama" || client.Model() != tt.wantModel {
				t.Fatalf("unexpected client %s/%s", client.Name(), client.Model())
			}
			p, err := client.Propose(context.Background(), types.ProposeRequest{Task: "check mail", Frame: grayFrame(t)})
			if err != nil {
				t.Fatal(err)
			}
			if got.path != "/v1/chat/completions" || got.model != tt.wantModel || got.auth != tt.wantAuth {
				t.Fatalf("server saw %+v", got)
			}
			if len(p.Calls) != 0 || p.Observation != "all done" {
				t.Fatalf("unexpected proposal %+v", p)
			}
		})
	}
}

func TestProposeDecodesToolCalls(t *testing.T) {
	var got seen
	ts := fakeOllama(t, `{"choices":[{"message":{"role":"assistant","tool_calls":[
		{"id":"a","type":"function","function":{"name":"key_combination","arguments":"{\"keys\":\"control+s\"}"}},
		{"id":"b","type":"function","function":{"name":"wait_5_seconds","arguments":"{}"}}
	]}}]}`, &got)
	client, err := New(WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatal(err)
	}
	p, err := client.Propose(context.Background(), types.ProposeRequest{Task: "save", Frame: grayFrame(t)})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Calls) != 2 || p.Calls[0].Args["keys"] != "control+s" || p.Calls[1].Name != "wait_5_seconds" {
		t.Fatalf("unexpected calls %+v", p.Calls)
	}
	if p.Usage != nil {
		t.Fatal("no usage was reported")
	}
}
