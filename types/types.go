package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ActionCall is one action proposed by a planner. Coordinate arguments
// (x, y, destination_x, destination_y) are on the 0-999 normalized grid.
type ActionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FormatArgs renders args as "k=v, k=v" with keys in lexical order.
func (c ActionCall) FormatArgs() string {
	if len(c.Args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.Args[k]))
	}
	return strings.Join(parts, ", ")
}

func (c ActionCall) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.FormatArgs())
}

// Clone returns a copy whose Args map can be mutated independently.
func (c ActionCall) Clone() ActionCall {
	out := ActionCall{ID: c.ID, Name: c.Name}
	if c.Args != nil {
		out.Args = make(map[string]any, len(c.Args))
		for k, v := range c.Args {
			out.Args[k] = v
		}
	}
	return out
}

func CloneCalls(in []ActionCall) []ActionCall {
	if in == nil {
		return nil
	}
	out := make([]ActionCall, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// SafetyVerdict is a planner's classification of a proposed batch. Action is
// free text; use the safety package to interpret it. A nil verdict means
// proceed.
type SafetyVerdict struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

const (
	VerdictProceed             = "proceed"
	VerdictRequireConfirmation = "require_confirmation"
	VerdictBlock               = "block"
)

type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

// ProposeRequest is the planner input for one proposal round.
type ProposeRequest struct {
	Task    string   `json:"task"`
	History []string `json:"history,omitempty"`
	Frame   []byte   `json:"-"`
}

// Proposal is the planner output for one proposal round. Empty Calls means
// the planner considers the task complete.
type Proposal struct {
	Observation string         `json:"observation,omitempty"`
	Calls       []ActionCall   `json:"calls,omitempty"`
	Verdict     *SafetyVerdict `json:"verdict,omitempty"`
	Usage       *Usage         `json:"usage,omitempty"`
}

// ActionResult is what the executor reports for a single action.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Frame   []byte `json:"-"`
	Locator string `json:"locator,omitempty"`
}

// StepLog is the audit record of one executed action.
type StepLog struct {
	Step        int          `json:"step"`
	Observation string       `json:"observation,omitempty"`
	Proposed    []ActionCall `json:"proposed,omitempty"`
	Executed    ActionCall   `json:"executed"`
	Result      string       `json:"result"`
	FrameRef    string       `json:"frameRef,omitempty"`
	Locator     string       `json:"locator,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

type RunStatus string

const (
	RunStatusRunning          RunStatus = "running"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
)

// Interrupt is the payload handed to an external caller when a run suspends
// for approval. Token identifies this particular suspension.
type Interrupt struct {
	Token        string         `json:"token"`
	RunID        string         `json:"runId"`
	Step         int            `json:"step"`
	Reason       string         `json:"reason"`
	Verdict      *SafetyVerdict `json:"verdict,omitempty"`
	PendingCalls []ActionCall   `json:"pendingCalls"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type RunResult struct {
	RunID         string     `json:"runId"`
	Task          string     `json:"task"`
	Provider      string     `json:"provider,omitempty"`
	Status        RunStatus  `json:"status"`
	Success       bool       `json:"success"`
	Done          bool       `json:"done"`
	Error         string     `json:"error,omitempty"`
	Steps         int        `json:"steps"`
	ActionHistory []string   `json:"actionHistory,omitempty"`
	StepLogs      []StepLog  `json:"stepLogs,omitempty"`
	Interrupt     *Interrupt `json:"interrupt,omitempty"`
	RunDir        string     `json:"runDir,omitempty"`
	Usage         *Usage     `json:"usage,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}
