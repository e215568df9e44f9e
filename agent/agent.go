// Package agent runs the observe, propose, act loop against a desktop.
//
// A run starts in the proposing phase with the initial frame. Each round asks
// the planner for calls, optionally gates them behind human approval and then
// executes them one at a time. The run ends when the planner proposes nothing,
// a step or time bound fires, the planner blocks, or approval is denied.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/observe"
	"github.com/PipeOpsHQ/vnc-use-go/planner"
	"github.com/PipeOpsHQ/vnc-use-go/safety"
	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

const (
	DefaultStepLimit = 40
	DefaultTimeout   = 300 * time.Second
)

// ErrNoPendingApproval is returned by Resume when the run is not suspended,
// including when the suspension was already resumed.
var ErrNoPendingApproval = errors.New("no pending approval for run")

// ActionExecutor performs one action and reports the outcome. A returned error
// means the action failed exceptionally; ordinary failures are reported in
// the result.
type ActionExecutor interface {
	Execute(ctx context.Context, call types.ActionCall) (types.ActionResult, error)
	Capture(ctx context.Context) ([]byte, error)
}

type Agent struct {
	planner      planner.Planner
	executor     ActionExecutor
	store        state.Store
	recorder     Recorder
	approver     safety.Approver
	guards       *safety.Pipeline
	hooks        []Hook
	observer     observe.Sink
	logger       *zap.Logger
	stepLimit    int
	timeout      time.Duration
	hitl         bool
	captureRetry RetryPolicy
	lockTTL      time.Duration
	now          func() time.Time

	mu        sync.Mutex
	suspended map[string]*RunState
}

type Option func(*Agent)

func WithStepLimit(limit int) Option {
	return func(a *Agent) {
		if limit > 0 {
			a.stepLimit = limit
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithHITL toggles the approval gate. When off, confirmation verdicts are
// ignored; block verdicts still end the run.
func WithHITL(enabled bool) Option {
	return func(a *Agent) { a.hitl = enabled }
}

// WithApprover answers confirmation requests inline. Without an approver the
// run suspends and must be continued with Resume.
func WithApprover(approver safety.Approver) Option {
	return func(a *Agent) { a.approver = approver }
}

func WithGuards(p *safety.Pipeline) Option {
	return func(a *Agent) { a.guards = p }
}

func WithStore(store state.Store) Option {
	return func(a *Agent) { a.store = store }
}

func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

func WithHooks(hooks ...Hook) Option {
	return func(a *Agent) {
		for _, h := range hooks {
			if h != nil {
				a.hooks = append(a.hooks, h)
			}
		}
	}
}

func WithObserver(observer observe.Sink) Option {
	return func(a *Agent) { a.observer = observer }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

func WithCaptureRetry(policy RetryPolicy) Option {
	return func(a *Agent) { a.captureRetry = policy.withDefaults() }
}

func New(p planner.Planner, executor ActionExecutor, opts ...Option) (*Agent, error) {
	if p == nil {
		return nil, errors.New("planner is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}

	a := &Agent{
		planner:      p,
		executor:     executor,
		logger:       zap.NewNop(),
		stepLimit:    DefaultStepLimit,
		timeout:      DefaultTimeout,
		hitl:         true,
		captureRetry: RetryPolicy{}.withDefaults(),
		lockTTL:      30 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
		suspended:    make(map[string]*RunState),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("agent")
	return a, nil
}

type runConfig struct {
	runID     string
	sessionID string
}

type RunOption func(*runConfig)

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = strings.TrimSpace(id) }
}

func WithSessionID(id string) RunOption {
	return func(c *runConfig) { c.sessionID = strings.TrimSpace(id) }
}

// Run executes task until the run finishes or suspends for approval. Terminal
// outcomes, including failures, are reported in the result; the error is
// reserved for invalid input and persistence failures.
func (a *Agent) Run(ctx context.Context, task string, opts ...RunOption) (types.RunResult, error) {
	if strings.TrimSpace(task) == "" {
		return types.RunResult{}, errors.New("task is required")
	}
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}

	rs := newRunState(cfg.runID, cfg.sessionID, task, a.planner.Name(), a.now())
	log := a.logger.With(zap.String("run_id", rs.RunID))
	log.Info("run started", zap.String("task", task), zap.String("provider", rs.Provider))

	if a.recorder != nil {
		dir, err := a.recorder.StartRun(ctx, rs.RunID, task, rs.StartTime)
		if err != nil {
			log.Warn("recorder start failed", zap.Error(err))
		}
		rs.RunDir = dir
	}
	if err := a.saveRun(ctx, rs); err != nil {
		return types.RunResult{}, fmt.Errorf("failed to persist run start: %w", err)
	}
	a.emit(ctx, rs, types.Event{Type: types.EventRunStarted, Message: task})

	verdict, results, err := a.guards.CheckTask(ctx, task)
	if err != nil {
		log.Warn("task guard failed", zap.Error(err))
	}
	if safety.Blocks(verdict) {
		log.Warn("task blocked by guard", zap.String("guards", safety.Summary(results)))
		rs.Safety = verdict
		rs.finish("blocked: " + verdict.Reason)
		return a.complete(ctx, rs)
	}

	frame, err := a.captureWithRetry(ctx)
	if err != nil {
		log.Warn("initial capture failed", zap.Error(err))
	}
	rs.LastFrame = frame
	if len(frame) > 0 {
		a.saveFrame(rs, 0, FrameInitial, frame)
		a.emit(ctx, rs, types.Event{Type: types.EventFrameCaptured, Attributes: map[string]any{"bytes": len(frame)}})
	}

	return a.drive(ctx, rs)
}

// Resume continues a suspended run with a decision. Only "deny" (any case)
// denies; every other value approves. Each suspension can be resumed once.
func (a *Agent) Resume(ctx context.Context, runID, decision string) (types.RunResult, error) {
	a.mu.Lock()
	rs, ok := a.suspended[runID]
	if ok {
		delete(a.suspended, runID)
	}
	a.mu.Unlock()

	rs, err := a.claimSuspended(ctx, runID, rs)
	if err != nil {
		return types.RunResult{}, err
	}

	approved := safety.Decide(decision)
	a.logger.Info("run resumed",
		zap.String("run_id", runID),
		zap.Bool("approved", approved),
		zap.Int("step", rs.Step))
	a.emit(ctx, rs, types.Event{
		Type:       types.EventApprovalResolved,
		Attributes: map[string]any{"approved": approved, "decision": decision},
	})

	rs.Interrupt = nil
	if approved {
		// A reconnected desktop has no known size until a frame is captured.
		frame, err := a.captureWithRetry(ctx)
		if err != nil {
			a.logger.Warn("resume capture failed", zap.String("run_id", runID), zap.Error(err))
		} else {
			rs.LastFrame = frame
			a.emit(ctx, rs, types.Event{Type: types.EventFrameCaptured, Attributes: map[string]any{"bytes": len(frame)}})
		}
		rs.Phase = PhaseActing
	} else {
		rs.finish("user denied action")
	}
	return a.drive(ctx, rs)
}

// Pending returns the interrupt of a suspended run held in memory.
func (a *Agent) Pending(runID string) (*types.Interrupt, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs, ok := a.suspended[runID]
	if !ok || rs.Interrupt == nil {
		return nil, false
	}
	in := *rs.Interrupt
	in.PendingCalls = types.CloneCalls(rs.Interrupt.PendingCalls)
	return &in, true
}

// Suspended lists the run IDs currently waiting for approval in memory.
func (a *Agent) Suspended() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.suspended))
	for id := range a.suspended {
		out = append(out, id)
	}
	return out
}
