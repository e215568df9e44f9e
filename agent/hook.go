package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// Hook observes the loop at fixed points. Hooks cannot alter the run; a
// panicking hook is recovered and logged.
type Hook interface {
	OnRoundStart(ctx context.Context, event *RoundEvent)
	OnActionExecuted(ctx context.Context, event *ActionEvent)
	OnApprovalRequired(ctx context.Context, event *ApprovalEvent)
	OnRunEnd(ctx context.Context, result types.RunResult)
}

type NoopHook struct{}

func (NoopHook) OnRoundStart(context.Context, *RoundEvent)          {}
func (NoopHook) OnActionExecuted(context.Context, *ActionEvent)     {}
func (NoopHook) OnApprovalRequired(context.Context, *ApprovalEvent) {}
func (NoopHook) OnRunEnd(context.Context, types.RunResult)          {}

// HookFuncs adapts plain functions to Hook. Nil fields are skipped.
type HookFuncs struct {
	RoundStart       func(ctx context.Context, event *RoundEvent)
	ActionExecuted   func(ctx context.Context, event *ActionEvent)
	ApprovalRequired func(ctx context.Context, event *ApprovalEvent)
	RunEnd           func(ctx context.Context, result types.RunResult)
}

func (h HookFuncs) OnRoundStart(ctx context.Context, event *RoundEvent) {
	if h.RoundStart != nil {
		h.RoundStart(ctx, event)
	}
}

func (h HookFuncs) OnActionExecuted(ctx context.Context, event *ActionEvent) {
	if h.ActionExecuted != nil {
		h.ActionExecuted(ctx, event)
	}
}

func (h HookFuncs) OnApprovalRequired(ctx context.Context, event *ApprovalEvent) {
	if h.ApprovalRequired != nil {
		h.ApprovalRequired(ctx, event)
	}
}

func (h HookFuncs) OnRunEnd(ctx context.Context, result types.RunResult) {
	if h.RunEnd != nil {
		h.RunEnd(ctx, result)
	}
}

type RoundEvent struct {
	RunID     string
	Provider  string
	Step      int
	StepLimit int
	Elapsed   time.Duration
	History   []string
}

type ActionEvent struct {
	RunID        string
	Provider     string
	Step         int
	Call         types.ActionCall
	Result       types.ActionResult
	Err          error
	HistoryEntry string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type ApprovalEvent struct {
	RunID     string
	Provider  string
	Step      int
	Verdict   types.SafetyVerdict
	Pending   []types.ActionCall
	Interrupt *types.Interrupt
}

func (a *Agent) eachHook(stage string, fn func(h Hook)) {
	for _, h := range a.hooks {
		func(h Hook) {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("hook panicked", zap.String("stage", stage), zap.Any("panic", r))
				}
			}()
			fn(h)
		}(h)
	}
}
