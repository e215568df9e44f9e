package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/observe"
	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

func (a *Agent) saveRun(ctx context.Context, rs *RunState) error {
	if a.store == nil {
		return nil
	}
	now := a.now()
	created := rs.StartTime
	record := state.RunRecord{
		RunID:         rs.RunID,
		SessionID:     rs.SessionID,
		Provider:      rs.Provider,
		Status:        string(rs.status()),
		Task:          rs.Task,
		Step:          rs.Step,
		Done:          rs.Done,
		Success:       rs.Done && rs.Error == "",
		ActionHistory: append([]string(nil), rs.ActionHistory...),
		StepLogs:      append([]types.StepLog(nil), rs.StepLogs...),
		Interrupt:     rs.Interrupt,
		RunDir:        rs.RunDir,
		Usage:         rs.Usage,
		Error:         rs.Error,
		CreatedAt:     &created,
		UpdatedAt:     &now,
		CompletedAt:   rs.completedAt,
	}
	if err := a.store.SaveRun(ctx, record); err != nil {
		return fmt.Errorf("save run %s: %w", rs.RunID, err)
	}
	return nil
}

// checkpoint snapshots the loop. Runs that are finished are recorded under
// the "done" node.
func (a *Agent) checkpoint(ctx context.Context, rs *RunState) error {
	if a.store == nil {
		return nil
	}
	snapshot, err := rs.snapshot()
	if err != nil {
		return err
	}
	node := string(rs.Phase)
	if rs.Done {
		node = string(PhaseDone)
	}
	seq := rs.checkpoints
	if err := a.store.SaveCheckpoint(ctx, state.CheckpointRecord{
		RunID:     rs.RunID,
		Seq:       seq,
		NodeID:    node,
		State:     snapshot,
		CreatedAt: a.now(),
	}); err != nil {
		return fmt.Errorf("save checkpoint %s/%d: %w", rs.RunID, seq, err)
	}
	rs.checkpoints++
	a.emit(ctx, rs, types.Event{
		Type:       types.EventCheckpointSaved,
		Attributes: map[string]any{"seq": seq, "node": node},
	})
	return nil
}

// claimSuspended marks a suspension as taken so it resumes once. held is the
// in-memory state when this Agent suspended the run; otherwise the state is
// rebuilt from the latest checkpoint, as when another process suspended it.
func (a *Agent) claimSuspended(ctx context.Context, runID string, held *RunState) (*RunState, error) {
	if a.store == nil {
		if held == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoPendingApproval, runID)
		}
		return held, nil
	}

	if locker, ok := a.store.(state.Locker); ok {
		owner := uuid.NewString()
		acquired, err := locker.AcquireRunLock(ctx, runID, owner, a.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("lock run %s: %w", runID, err)
		}
		if !acquired {
			return nil, fmt.Errorf("%w: %s is being resumed elsewhere", ErrNoPendingApproval, runID)
		}
		defer func() {
			if err := locker.ReleaseRunLock(context.WithoutCancel(ctx), runID, owner); err != nil {
				a.logger.Warn("release run lock failed", zap.String("run_id", runID), zap.Error(err))
			}
		}()
	}

	record, err := a.store.LoadRun(ctx, runID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoPendingApproval, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if record.Status != string(types.RunStatusAwaitingApproval) {
		return nil, fmt.Errorf("%w: %s has status %s", ErrNoPendingApproval, runID, record.Status)
	}

	rs := held
	if rs == nil {
		latest, err := a.store.LoadLatestCheckpoint(ctx, runID)
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s has no checkpoint", ErrNoPendingApproval, runID)
		}
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
		}
		if latest.NodeID != string(PhaseAwaitingApproval) {
			return nil, fmt.Errorf("%w: %s checkpoint is at %s", ErrNoPendingApproval, runID, latest.NodeID)
		}
		rs, err = restoreRunState(latest.State, latest.Seq+1)
		if err != nil {
			return nil, err
		}
		if rs.Done || len(rs.PendingCalls) == 0 {
			return nil, fmt.Errorf("%w: %s has nothing pending", ErrNoPendingApproval, runID)
		}
		a.logger.Info("restored suspended run", zap.String("run_id", runID), zap.Int("seq", latest.Seq))
	}

	// The record must leave awaiting_approval before the lock is released.
	claimed := *rs
	claimed.Interrupt = nil
	claimed.Phase = PhaseActing
	if err := a.saveRun(ctx, &claimed); err != nil {
		return nil, fmt.Errorf("claim run %s: %w", runID, err)
	}
	return rs, nil
}

func (a *Agent) emit(ctx context.Context, rs *RunState, event types.Event) {
	if a.observer == nil {
		return
	}
	event.RunID = rs.RunID
	event.Provider = rs.Provider
	if event.Step == 0 {
		event.Step = rs.Step
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}
	if err := a.observer.Emit(ctx, observe.FromRuntimeEvent(event)); err != nil {
		a.logger.Debug("observer emit failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}

// saveFrame hands a frame to the recorder and returns its reference, or ""
// when there is no recorder or it failed.
func (a *Agent) saveFrame(rs *RunState, step int, label FrameLabel, frame []byte) string {
	if a.recorder == nil || len(frame) == 0 {
		return ""
	}
	ref, err := a.recorder.SaveFrame(rs.RunID, step, label, frame)
	if err != nil {
		a.logger.Warn("save frame failed",
			zap.String("run_id", rs.RunID),
			zap.Int("step", step),
			zap.String("label", string(label)),
			zap.Error(err))
		return ""
	}
	return ref
}

func (a *Agent) recordError(rs *RunState, message string) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.RecordError(rs.RunID, rs.Step, message); err != nil {
		a.logger.Warn("recorder error log failed", zap.String("run_id", rs.RunID), zap.Error(err))
	}
}
