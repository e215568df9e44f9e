package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/safety"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// drive advances the state machine until the run is done or suspended.
func (a *Agent) drive(ctx context.Context, rs *RunState) (types.RunResult, error) {
	for !rs.Done {
		switch rs.Phase {
		case PhaseProposing:
			a.propose(ctx, rs)
		case PhaseAwaitingApproval:
			if a.approver == nil {
				return a.suspend(ctx, rs)
			}
			a.approve(ctx, rs)
		case PhaseActing:
			if roundDone := a.act(ctx, rs); roundDone {
				if err := a.roundComplete(ctx, rs); err != nil {
					return rs.Result(), err
				}
			}
		default:
			rs.finish(fmt.Sprintf("invalid phase %q", rs.Phase))
		}
	}
	return a.complete(ctx, rs)
}

func (a *Agent) propose(ctx context.Context, rs *RunState) {
	elapsed := a.now().Sub(rs.StartTime)
	switch {
	case rs.Step >= a.stepLimit:
		rs.finish("step limit reached")
		return
	case elapsed >= a.timeout:
		rs.finish("timeout reached")
		return
	case len(rs.LastFrame) == 0:
		rs.finish("no frame available")
		return
	case ctx.Err() != nil:
		rs.finish("run canceled")
		return
	}

	history := append([]string(nil), rs.ActionHistory...)
	a.eachHook("round_start", func(h Hook) {
		h.OnRoundStart(ctx, &RoundEvent{
			RunID:     rs.RunID,
			Provider:  rs.Provider,
			Step:      rs.Step + 1,
			StepLimit: a.stepLimit,
			Elapsed:   elapsed,
			History:   history,
		})
	})
	a.emit(ctx, rs, types.Event{Type: types.EventRoundStarted, Step: rs.Step + 1})
	a.emit(ctx, rs, types.Event{Type: types.EventBeforePropose, Step: rs.Step + 1})

	started := a.now()
	proposal, err := a.planner.Propose(ctx, types.ProposeRequest{
		Task:    rs.Task,
		History: history,
		Frame:   rs.LastFrame,
	})
	duration := a.now().Sub(started)
	if err != nil {
		a.logger.Warn("planner failed", zap.String("run_id", rs.RunID), zap.Error(err))
		a.emit(ctx, rs, types.Event{
			Type:       types.EventAfterPropose,
			Step:       rs.Step + 1,
			Error:      err.Error(),
			DurationMs: duration.Milliseconds(),
		})
		rs.finish("planner failed: " + err.Error())
		return
	}
	rs.addUsage(proposal.Usage)
	a.emit(ctx, rs, types.Event{
		Type:       types.EventAfterPropose,
		Step:       rs.Step + 1,
		Message:    proposal.Observation,
		DurationMs: duration.Milliseconds(),
		Attributes: map[string]any{"calls": len(proposal.Calls)},
	})

	verdict := proposal.Verdict
	if safety.Blocks(verdict) {
		rs.Safety = verdict
		rs.Observation = proposal.Observation
		rs.finish("blocked: " + verdict.Reason)
		return
	}
	if len(proposal.Calls) == 0 {
		rs.Safety = verdict
		rs.Observation = proposal.Observation
		rs.finish("")
		return
	}

	calls := types.CloneCalls(proposal.Calls)
	guardVerdict, results, err := a.guards.CheckCalls(ctx, calls)
	if err != nil {
		a.logger.Warn("action guard failed", zap.String("run_id", rs.RunID), zap.Error(err))
		guardVerdict = &types.SafetyVerdict{Action: types.VerdictRequireConfirmation, Reason: err.Error()}
	}
	if guardVerdict != nil {
		a.logger.Info("action guards fired",
			zap.String("run_id", rs.RunID),
			zap.String("summary", safety.Summary(results)))
	}
	verdict = safety.Merge(verdict, guardVerdict)
	if safety.Blocks(verdict) {
		rs.Safety = verdict
		rs.Observation = proposal.Observation
		rs.finish("blocked: " + verdict.Reason)
		return
	}

	rs.PendingCalls = calls
	rs.Proposed = types.CloneCalls(calls)
	rs.Step++
	rs.Observation = proposal.Observation
	rs.Safety = verdict

	if a.hitl && safety.RequiresConfirmation(verdict) {
		rs.Phase = PhaseAwaitingApproval
		return
	}
	rs.Phase = PhaseActing
}

func (a *Agent) approvalEvent(rs *RunState) *ApprovalEvent {
	return &ApprovalEvent{
		RunID:     rs.RunID,
		Provider:  rs.Provider,
		Step:      rs.Step,
		Verdict:   *rs.Safety,
		Pending:   types.CloneCalls(rs.PendingCalls),
		Interrupt: rs.Interrupt,
	}
}

func (a *Agent) approve(ctx context.Context, rs *RunState) {
	event := a.approvalEvent(rs)
	a.eachHook("approval_required", func(h Hook) { h.OnApprovalRequired(ctx, event) })
	a.emit(ctx, rs, types.Event{Type: types.EventApprovalRequired, Message: rs.Safety.Reason})

	ok, err := a.approver.Approve(ctx, *rs.Safety, types.CloneCalls(rs.PendingCalls))
	if err != nil {
		rs.finish("approval failed: " + err.Error())
		return
	}
	a.emit(ctx, rs, types.Event{Type: types.EventApprovalResolved, Attributes: map[string]any{"approved": ok}})
	if !ok {
		rs.finish("user denied action")
		return
	}
	rs.Phase = PhaseActing
}

// suspend parks the run until Resume is called with a decision.
func (a *Agent) suspend(ctx context.Context, rs *RunState) (types.RunResult, error) {
	rs.Interrupt = safety.NewInterrupt(rs.RunID, rs.Step, rs.Safety, rs.PendingCalls)

	a.mu.Lock()
	a.suspended[rs.RunID] = rs
	a.mu.Unlock()

	event := a.approvalEvent(rs)
	a.eachHook("approval_required", func(h Hook) { h.OnApprovalRequired(ctx, event) })
	a.emit(ctx, rs, types.Event{Type: types.EventApprovalRequired, Message: rs.Interrupt.Reason})
	a.logger.Info("run suspended for approval",
		zap.String("run_id", rs.RunID),
		zap.Int("step", rs.Step),
		zap.String("reason", rs.Interrupt.Reason))

	if err := a.saveRun(ctx, rs); err != nil {
		return rs.Result(), fmt.Errorf("failed to persist suspension: %w", err)
	}
	if err := a.checkpoint(ctx, rs); err != nil {
		return rs.Result(), fmt.Errorf("failed to checkpoint suspension: %w", err)
	}
	a.emit(ctx, rs, types.Event{Type: types.EventRunSuspended, Message: rs.Interrupt.Reason})
	return rs.Result(), nil
}

// act executes the head of the queue. It reports true when the queue was
// already empty, meaning the round is over.
func (a *Agent) act(ctx context.Context, rs *RunState) bool {
	call, ok := rs.pop()
	if !ok {
		rs.Phase = PhaseProposing
		return true
	}

	a.emit(ctx, rs, types.Event{Type: types.EventBeforeAction, Step: rs.Step, ActionName: call.Name})
	started := a.now()
	result, err := a.execute(ctx, call)
	finished := a.now()

	var (
		entry      string
		resultText string
		label      FrameLabel
	)
	switch {
	case err != nil:
		result = types.ActionResult{Success: false, Error: err.Error(), Frame: a.diagnosticFrame(ctx)}
		resultText = "Exception: " + err.Error()
		label = FrameError
		a.recordError(rs, err.Error())
	case result.Success:
		resultText = "Success"
		label = FrameAfter
	default:
		resultText = "Error: " + result.Error
		label = FrameError
		a.recordError(rs, result.Error)
	}
	entry = fmt.Sprintf("Executed %s - %s", call.String(), resultText)

	rs.LastFrame = result.Frame
	frameRef := a.saveFrame(rs, rs.Step, label, result.Frame)
	log := types.StepLog{
		Step:        rs.Step,
		Observation: rs.Observation,
		Proposed:    types.CloneCalls(rs.Proposed),
		Executed:    call.Clone(),
		Result:      resultText,
		FrameRef:    frameRef,
		Locator:     result.Locator,
		Timestamp:   finished,
	}
	rs.StepLogs = append(rs.StepLogs, log)
	rs.ActionHistory = append(rs.ActionHistory, entry)
	if a.recorder != nil {
		if rerr := a.recorder.RecordStep(rs.RunID, log); rerr != nil {
			a.logger.Warn("recorder step failed", zap.String("run_id", rs.RunID), zap.Error(rerr))
		}
	}

	a.logger.Info("action executed",
		zap.String("run_id", rs.RunID),
		zap.Int("step", rs.Step),
		zap.String("action", call.Name),
		zap.String("result", resultText))
	ev := types.Event{
		Type:       types.EventAfterAction,
		Step:       rs.Step,
		ActionName: call.Name,
		Message:    entry,
		DurationMs: finished.Sub(started).Milliseconds(),
	}
	if !result.Success {
		ev.Error = result.Error
	}
	a.emit(ctx, rs, ev)
	a.eachHook("action_executed", func(h Hook) {
		h.OnActionExecuted(ctx, &ActionEvent{
			RunID:        rs.RunID,
			Provider:     rs.Provider,
			Step:         rs.Step,
			Call:         call.Clone(),
			Result:       result,
			Err:          err,
			HistoryEntry: entry,
			StartedAt:    started,
			FinishedAt:   finished,
		})
	})
	return false
}

// execute shields the loop from executors that panic despite their contract.
func (a *Agent) execute(ctx context.Context, call types.ActionCall) (res types.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("executor panicked",
				zap.String("action", call.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = types.ActionResult{}
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return a.executor.Execute(ctx, call)
}

func (a *Agent) diagnosticFrame(ctx context.Context) []byte {
	frame, err := a.executor.Capture(ctx)
	if err != nil {
		a.logger.Warn("diagnostic capture failed", zap.Error(err))
		return []byte{}
	}
	return frame
}

func (a *Agent) roundComplete(ctx context.Context, rs *RunState) error {
	if err := a.saveRun(ctx, rs); err != nil {
		return fmt.Errorf("failed to persist round: %w", err)
	}
	if err := a.checkpoint(ctx, rs); err != nil {
		return fmt.Errorf("failed to checkpoint round: %w", err)
	}
	return nil
}

// complete finalises a done run: artifacts, persistence, events and hooks.
func (a *Agent) complete(ctx context.Context, rs *RunState) (types.RunResult, error) {
	now := a.now()
	rs.completedAt = &now
	result := rs.Result()

	if a.recorder != nil {
		if err := a.recorder.FinishRun(result); err != nil {
			a.logger.Warn("recorder finish failed", zap.String("run_id", rs.RunID), zap.Error(err))
		}
	}

	var persistErr error
	if err := a.saveRun(ctx, rs); err != nil {
		persistErr = fmt.Errorf("failed to persist run completion: %w", err)
	} else if err := a.checkpoint(ctx, rs); err != nil {
		persistErr = fmt.Errorf("failed to checkpoint run completion: %w", err)
	}

	if result.Success {
		a.logger.Info("run completed", zap.String("run_id", rs.RunID), zap.Int("steps", rs.Step))
		a.emit(ctx, rs, types.Event{Type: types.EventRunCompleted, Message: "run completed"})
	} else {
		a.logger.Warn("run failed", zap.String("run_id", rs.RunID), zap.Int("steps", rs.Step), zap.String("error", rs.Error))
		a.emit(ctx, rs, types.Event{Type: types.EventRunFailed, Error: rs.Error, Message: "run failed"})
	}
	a.eachHook("run_end", func(h Hook) { h.OnRunEnd(ctx, result) })
	return result, persistErr
}
