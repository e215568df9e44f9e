package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// Phase is the loop's position in its state machine.
type Phase string

const (
	PhaseProposing        Phase = "proposing"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseActing           Phase = "acting"
	PhaseDone             Phase = "done"
)

// RunState is the mutable record of one run. Only the loop writes to it.
// ActionHistory and StepLogs are append-only, LastFrame is replaced
// wholesale after every capture and Done is never cleared once set.
type RunState struct {
	RunID         string
	SessionID     string
	Task          string
	Provider      string
	ActionHistory []string
	StepLogs      []types.StepLog
	PendingCalls  []types.ActionCall
	LastFrame     []byte
	Step          int
	Done          bool
	Safety        *types.SafetyVerdict
	StartTime     time.Time
	Error         string
	Phase         Phase
	Observation   string
	Proposed      []types.ActionCall
	Usage         *types.Usage
	Interrupt     *types.Interrupt
	RunDir        string

	checkpoints int
	completedAt *time.Time
}

func newRunState(runID, sessionID, task, provider string, start time.Time) *RunState {
	return &RunState{
		RunID:         runID,
		SessionID:     sessionID,
		Task:          task,
		Provider:      provider,
		ActionHistory: []string{},
		StepLogs:      []types.StepLog{},
		StartTime:     start,
		Phase:         PhaseProposing,
	}
}

// finish latches the run as done. The first terminal error wins.
func (rs *RunState) finish(errText string) {
	if rs.Done {
		return
	}
	rs.Done = true
	rs.Error = errText
	rs.Phase = PhaseDone
	rs.PendingCalls = nil
}

func (rs *RunState) pop() (types.ActionCall, bool) {
	if len(rs.PendingCalls) == 0 {
		return types.ActionCall{}, false
	}
	call := rs.PendingCalls[0]
	rs.PendingCalls = rs.PendingCalls[1:]
	return call, true
}

func (rs *RunState) addUsage(u *types.Usage) {
	if u == nil {
		return
	}
	if rs.Usage == nil {
		rs.Usage = &types.Usage{}
	}
	rs.Usage.InputTokens += u.InputTokens
	rs.Usage.OutputTokens += u.OutputTokens
	rs.Usage.TotalTokens += u.TotalTokens
}

func (rs *RunState) status() types.RunStatus {
	switch {
	case rs.Done && rs.Error == "":
		return types.RunStatusCompleted
	case rs.Done:
		return types.RunStatusFailed
	case rs.Phase == PhaseAwaitingApproval && rs.Interrupt != nil:
		return types.RunStatusAwaitingApproval
	default:
		return types.RunStatusRunning
	}
}

// Result snapshots the state as a RunResult. Slices are copied.
func (rs *RunState) Result() types.RunResult {
	start := rs.StartTime
	res := types.RunResult{
		RunID:         rs.RunID,
		Task:          rs.Task,
		Provider:      rs.Provider,
		Status:        rs.status(),
		Success:       rs.Done && rs.Error == "",
		Done:          rs.Done,
		Error:         rs.Error,
		Steps:         rs.Step,
		ActionHistory: append([]string(nil), rs.ActionHistory...),
		StepLogs:      append([]types.StepLog(nil), rs.StepLogs...),
		Interrupt:     rs.Interrupt,
		RunDir:        rs.RunDir,
		StartedAt:     &start,
		CompletedAt:   rs.completedAt,
	}
	if rs.Usage != nil {
		u := *rs.Usage
		res.Usage = &u
	}
	return res
}

// checkpointState is the serialisable part of RunState. The frame is left
// out; a restored run captures a new one on its first action.
type checkpointState struct {
	RunID         string               `json:"runId"`
	SessionID     string               `json:"sessionId,omitempty"`
	Task          string               `json:"task"`
	Provider      string               `json:"provider"`
	ActionHistory []string             `json:"actionHistory"`
	StepLogs      []types.StepLog      `json:"stepLogs"`
	PendingCalls  []types.ActionCall   `json:"pendingCalls"`
	Step          int                  `json:"step"`
	Done          bool                 `json:"done"`
	Safety        *types.SafetyVerdict `json:"safety,omitempty"`
	StartTime     time.Time            `json:"startTime"`
	Error         string               `json:"error,omitempty"`
	Phase         Phase                `json:"phase"`
	Observation   string               `json:"observation,omitempty"`
	Proposed      []types.ActionCall   `json:"proposed,omitempty"`
	Usage         *types.Usage         `json:"usage,omitempty"`
	Interrupt     *types.Interrupt     `json:"interrupt,omitempty"`
	RunDir        string               `json:"runDir,omitempty"`
}

func (rs *RunState) snapshot() (map[string]any, error) {
	raw, err := json.Marshal(checkpointState{
		RunID:         rs.RunID,
		SessionID:     rs.SessionID,
		Task:          rs.Task,
		Provider:      rs.Provider,
		ActionHistory: rs.ActionHistory,
		StepLogs:      rs.StepLogs,
		PendingCalls:  rs.PendingCalls,
		Step:          rs.Step,
		Done:          rs.Done,
		Safety:        rs.Safety,
		StartTime:     rs.StartTime,
		Error:         rs.Error,
		Phase:         rs.Phase,
		Observation:   rs.Observation,
		Proposed:      rs.Proposed,
		Usage:         rs.Usage,
		Interrupt:     rs.Interrupt,
		RunDir:        rs.RunDir,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run state: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode run state: %w", err)
	}
	return out, nil
}

func restoreRunState(snapshot map[string]any, nextSeq int) (*RunState, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("decode run state: %w", err)
	}
	var cs checkpointState
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, fmt.Errorf("decode run state: %w", err)
	}
	rs := &RunState{
		RunID:         cs.RunID,
		SessionID:     cs.SessionID,
		Task:          cs.Task,
		Provider:      cs.Provider,
		ActionHistory: cs.ActionHistory,
		StepLogs:      cs.StepLogs,
		PendingCalls:  cs.PendingCalls,
		Step:          cs.Step,
		Done:          cs.Done,
		Safety:        cs.Safety,
		StartTime:     cs.StartTime,
		Error:         cs.Error,
		Phase:         cs.Phase,
		Observation:   cs.Observation,
		Proposed:      cs.Proposed,
		Usage:         cs.Usage,
		Interrupt:     cs.Interrupt,
		RunDir:        cs.RunDir,
		checkpoints:   nextSeq,
	}
	if rs.ActionHistory == nil {
		rs.ActionHistory = []string{}
	}
	if rs.StepLogs == nil {
		rs.StepLogs = []types.StepLog{}
	}
	return rs, nil
}
