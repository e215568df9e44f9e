package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/PipeOpsHQ/vnc-use-go/agent"
	"github.com/PipeOpsHQ/vnc-use-go/credentials"
	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/desktop/desktoptest"
	"github.com/PipeOpsHQ/vnc-use-go/executor"
	"github.com/PipeOpsHQ/vnc-use-go/observe"
	"github.com/PipeOpsHQ/vnc-use-go/planner"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stepPlanner proposes the given rounds and then declares the task done. A
// non-nil gate blocks the first proposal until it is closed.
type stepPlanner struct {
	mu     sync.Mutex
	rounds []types.Proposal
	calls  int
	gate   chan struct{}
}

func (p *stepPlanner) Name() string { return "step" }

func (p *stepPlanner) Capabilities() planner.Capabilities { return planner.Capabilities{} }

func (p *stepPlanner) Propose(ctx context.Context, _ types.ProposeRequest) (types.Proposal, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return types.Proposal{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.rounds) {
		prop := p.rounds[i]
		prop.Calls = types.CloneCalls(prop.Calls)
		return prop, nil
	}
	return types.Proposal{Observation: "done"}, nil
}

var click = types.ActionCall{Name: "click_at", Args: map[string]any{"x": 500, "y": 500}}

type harness struct {
	srv     *Server
	ts      *httptest.Server
	fake    *desktoptest.Fake
	planner *stepPlanner
	targets []desktop.Target
	mu      sync.Mutex
}

func newHarness(t *testing.T, p *stepPlanner, creds credentials.Store, maxConcurrent int) *harness {
	t.Helper()
	h := &harness{fake: desktoptest.New(1440, 900), planner: p}
	factory := func(_ context.Context, _ RunRequest, target desktop.Target, observer observe.Sink) (*agent.Session, error) {
		h.mu.Lock()
		h.targets = append(h.targets, target)
		h.mu.Unlock()
		a, err := agent.New(p, executor.New(h.fake), agent.WithObserver(observer))
		if err != nil {
			return nil, err
		}
		return agent.NewSession(a, h.fake, target), nil
	}
	srv, err := New(Config{Sessions: factory, Credentials: creds, MaxConcurrent: maxConcurrent})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.srv = srv
	h.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(h.ts.Close)
	return h
}

func (h *harness) post(t *testing.T, path string, body any) (int, RunResponse) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := h.ts.Client().Post(h.ts.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

func TestExecuteRunsTask(t *testing.T) {
	h := newHarness(t, &stepPlanner{rounds: []types.Proposal{{Calls: []types.ActionCall{click}}}}, nil, 1)
	code, resp := h.post(t, "/v1/runs", RunRequest{Task: "click the middle", Server: "lab::5901", Password: "pw"})
	if code != http.StatusOK || !resp.Success || resp.Steps != 1 || resp.RunID == "" {
		t.Fatalf("unexpected response %d %+v", code, resp)
	}
	if len(resp.ActionHistory) != 1 || !strings.HasPrefix(resp.ActionHistory[0], "Executed click_at") {
		t.Fatalf("unexpected history %v", resp.ActionHistory)
	}
	if h.targets[0].Address != "lab::5901" || h.targets[0].Password != "pw" {
		t.Fatalf("unexpected target %+v", h.targets[0])
	}
	ops := strings.Join(h.fake.Ops(), "|")
	if !strings.HasPrefix(ops, "connect lab::5901") || !strings.HasSuffix(ops, "disconnect") {
		t.Fatalf("session lifecycle not honoured: %s", ops)
	}

	getResp, err := h.ts.Client().Get(h.ts.URL + "/v1/runs/" + resp.RunID)
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	var got RunResponse
	_ = json.NewDecoder(getResp.Body).Decode(&got)
	if got.RunID != resp.RunID || !got.Success {
		t.Fatalf("unexpected stored run %+v", got)
	}
}

func TestExecuteValidation(t *testing.T) {
	empty := credentials.EnvStore{Lookup: func(string) (string, bool) { return "", false }}
	h := newHarness(t, &stepPlanner{}, empty, 1)
	if code, resp := h.post(t, "/v1/runs", RunRequest{Task: "  ", Server: "x"}); code != http.StatusBadRequest || resp.Error != "task is required" {
		t.Fatalf("unexpected %d %+v", code, resp)
	}
	if code, resp := h.post(t, "/v1/runs", RunRequest{Task: "t"}); code != http.StatusBadRequest || !strings.Contains(resp.Error, "server or hostname") {
		t.Fatalf("unexpected %d %+v", code, resp)
	}
	if code, resp := h.post(t, "/v1/runs", RunRequest{Task: "t", Hostname: "ghost"}); code != http.StatusBadRequest || !strings.Contains(resp.Error, "ghost") {
		t.Fatalf("unexpected %d %+v", code, resp)
	}
}

func TestExecuteResolvesHostname(t *testing.T) {
	env := credentials.EnvStore{Lookup: func(k string) (string, bool) {
		switch k {
		case "VNC_SERVER":
			return "vault-host::5902", true
		case "VNC_PASSWORD":
			return "stored", true
		}
		return "", false
	}}
	h := newHarness(t, &stepPlanner{}, env, 1)
	code, resp := h.post(t, "/v1/runs", RunRequest{Task: "look around", Hostname: "vault-host"})
	if code != http.StatusOK || !resp.Success || resp.Steps != 0 {
		t.Fatalf("unexpected %d %+v", code, resp)
	}
	if h.targets[0].Address != "vault-host::5902" || h.targets[0].Password != "stored" {
		t.Fatalf("unexpected target %+v", h.targets[0])
	}
}

func TestExecuteConnectionFailureIsStructured(t *testing.T) {
	h := newHarness(t, &stepPlanner{}, nil, 1)
	h.fake.ConnectErr = errors.New("connection refused")
	code, resp := h.post(t, "/v1/runs", RunRequest{Task: "t", Server: "down::5900"})
	if code != http.StatusOK || resp.Success || !strings.HasPrefix(resp.Error, "connection failed") || resp.Status != types.RunStatusFailed {
		t.Fatalf("unexpected %d %+v", code, resp)
	}
}

func TestSuspendAndResume(t *testing.T) {
	p := &stepPlanner{rounds: []types.Proposal{{
		Calls:   []types.ActionCall{click},
		Verdict: &types.SafetyVerdict{Action: types.VerdictRequireConfirmation, Reason: "submits payment"},
	}}}
	h := newHarness(t, p, nil, 1)
	code, resp := h.post(t, "/v1/runs", RunRequest{Task: "pay", Server: "lab::1"})
	if code != http.StatusOK || resp.Status != types.RunStatusAwaitingApproval || resp.Interrupt == nil {
		t.Fatalf("expected suspension, got %d %+v", code, resp)
	}
	if resp.Interrupt.Reason != "submits payment" || len(resp.Interrupt.PendingCalls) != 1 {
		t.Fatalf("unexpected interrupt %+v", resp.Interrupt)
	}

	if code, _ := h.post(t, "/v1/runs/"+resp.RunID+"/resume", ResumeRequest{}); code != http.StatusBadRequest {
		t.Fatalf("expected decision required, got %d", code)
	}
	code, resumed := h.post(t, "/v1/runs/"+resp.RunID+"/resume", ResumeRequest{Decision: "approve"})
	if code != http.StatusOK || !resumed.Success || resumed.Steps != 1 || len(resumed.ActionHistory) != 1 {
		t.Fatalf("unexpected resume %d %+v", code, resumed)
	}
	if code, _ := h.post(t, "/v1/runs/"+resp.RunID+"/resume", ResumeRequest{Decision: "approve"}); code != http.StatusNotFound {
		t.Fatalf("second resume should be rejected, got %d", code)
	}
}

func TestResumeDeny(t *testing.T) {
	p := &stepPlanner{rounds: []types.Proposal{{
		Calls:   []types.ActionCall{click},
		Verdict: &types.SafetyVerdict{Action: types.VerdictRequireConfirmation, Reason: "r"},
	}}}
	h := newHarness(t, p, nil, 1)
	_, resp := h.post(t, "/v1/runs", RunRequest{Task: "pay", Server: "lab::1"})
	code, denied := h.post(t, "/v1/runs/"+resp.RunID+"/resume", ResumeRequest{Decision: "DENY"})
	if code != http.StatusOK || denied.Success || denied.Error != "user denied action" {
		t.Fatalf("unexpected %d %+v", code, denied)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	p := &stepPlanner{gate: make(chan struct{})}
	h := newHarness(t, p, nil, 1)
	code, first := h.post(t, "/v1/runs?async=true", RunRequest{Task: "slow", Server: "lab::1"})
	if code != http.StatusAccepted || first.RunID == "" {
		t.Fatalf("unexpected async response %d %+v", code, first)
	}
	if code, _ := h.post(t, "/v1/runs", RunRequest{Task: "second", Server: "lab::1"}); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	close(p.gate)

	deadline := time.Now().Add(5 * time.Second)
	for {
		h.srv.mu.Lock()
		resp := h.srv.results[first.RunID]
		h.srv.mu.Unlock()
		if resp.Status == types.RunStatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("async run did not finish: %+v", resp)
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.srv.inflight.Wait()
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t, &stepPlanner{rounds: []types.Proposal{{Calls: []types.ActionCall{click}}}}, nil, 1)
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, resp := h.post(t, "/v1/runs", RunRequest{Task: "click", Server: "lab::1"})

	seen := map[string]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !seen[string(types.EventRunCompleted)] {
		var ev observe.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v (seen %v)", err, seen)
		}
		if ev.RunID != resp.RunID {
			t.Fatalf("event for unexpected run %q", ev.RunID)
		}
		seen[string(ev.Type)] = true
	}
	for _, want := range []types.EventType{types.EventRunStarted, types.EventRoundStarted, types.EventAfterAction} {
		if !seen[string(want)] {
			t.Fatalf("missing %s in %v", want, seen)
		}
	}
}

func TestHubFiltersByRun(t *testing.T) {
	hub := NewHub(nil)
	id, ch := hub.Subscribe("run-a", 4)
	_ = hub.Emit(context.Background(), observe.Event{RunID: "run-b", Type: "x"})
	_ = hub.Emit(context.Background(), observe.Event{RunID: "run-a", Type: "y"})
	ev := <-ch
	if ev.Type != "y" {
		t.Fatalf("unexpected event %+v", ev)
	}
	hub.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	hub.Unsubscribe(id)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv, err := New(Config{Sessions: func(context.Context, RunRequest, desktop.Target, observe.Sink) (*agent.Session, error) {
		return nil, errors.New("unused")
	}})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestNewRequiresFactory(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRequestsAreTraced(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	srv, err := New(Config{
		Sessions: func(context.Context, RunRequest, desktop.Target, observe.Sink) (*agent.Session, error) {
			return nil, errors.New("unused")
		},
		TracerProvider: tp,
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "GET /healthz" {
		t.Fatalf("unexpected spans %+v", spans)
	}
}
