package agent

import (
	"context"
	"time"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// FrameLabel names why a frame was saved.
type FrameLabel string

const (
	FrameInitial FrameLabel = "initial"
	FrameAfter   FrameLabel = "after"
	FrameError   FrameLabel = "error"
)

// Recorder writes per-run artifacts. Recorder failures never fail a run; the
// loop logs them and carries on.
type Recorder interface {
	// StartRun prepares storage for a run and returns its artifact location.
	StartRun(ctx context.Context, runID, task string, startedAt time.Time) (string, error)
	// SaveFrame stores a frame and returns a reference usable in a StepLog.
	SaveFrame(runID string, step int, label FrameLabel, frame []byte) (string, error)
	RecordStep(runID string, log types.StepLog) error
	RecordError(runID string, step int, message string) error
	FinishRun(result types.RunResult) error
}
