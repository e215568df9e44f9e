// Package observe fans agent loop events out to sinks: the structured log,
// the trace exporter and the server's websocket feed.
package observe

import (
	"fmt"
	"time"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// Kind groups events by the part of the loop that produced them.
type Kind string

const (
	KindRun        Kind = "run"
	KindRound      Kind = "round"
	KindAction     Kind = "action"
	KindApproval   Kind = "approval"
	KindCheckpoint Kind = "checkpoint"
	KindOther      Kind = "other"
)

type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
)

// Event is a loop event as seen by sinks. Type is the loop event it came
// from; Kind and Status are derived from it.
type Event struct {
	Type       types.EventType `json:"type"`
	Kind       Kind            `json:"kind"`
	Status     Status          `json:"status,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RunID      string          `json:"runId,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Step       int             `json:"step,omitempty"`
	ActionName string          `json:"actionName,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// Scope names where in the run the event happened: the run itself, one
// round, or one action within a round. parent is the enclosing scope and is
// empty for the run.
func (e Event) Scope() (scope, parent string) {
	switch {
	case e.RunID == "":
		return "", ""
	case e.ActionName != "":
		round := fmt.Sprintf("%s/round/%d", e.RunID, e.Step)
		return round + "/" + e.ActionName, round
	case e.Step > 0 && e.Kind != KindRun:
		return fmt.Sprintf("%s/round/%d", e.RunID, e.Step), e.RunID
	default:
		return e.RunID, ""
	}
}

func (e Event) Failed() bool { return e.Status == StatusFailed }

// Normalize fills the timestamp and kind when a caller built the event by
// hand.
func (e *Event) Normalize() {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Kind == "" {
		e.Kind = KindOther
	}
}
