package types

import "time"

type EventType string

const (
	EventRunStarted       EventType = "run.started"
	EventRoundStarted     EventType = "run.round_started"
	EventBeforePropose    EventType = "run.before_propose"
	EventAfterPropose     EventType = "run.after_propose"
	EventApprovalRequired EventType = "run.approval_required"
	EventApprovalResolved EventType = "run.approval_resolved"
	EventBeforeAction     EventType = "run.before_action"
	EventAfterAction      EventType = "run.after_action"
	EventFrameCaptured    EventType = "run.frame_captured"
	EventCheckpointSaved  EventType = "checkpoint.saved"
	EventRunSuspended     EventType = "run.suspended"
	EventRunCompleted     EventType = "run.completed"
	EventRunFailed        EventType = "run.failed"
)

type Event struct {
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	RunID      string         `json:"runId,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Step       int            `json:"step,omitempty"`
	ActionName string         `json:"actionName,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}
