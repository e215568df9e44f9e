package observe

import (
	"maps"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

type class struct {
	kind   Kind
	status Status
}

var classes = map[types.EventType]class{
	types.EventRunStarted:       {KindRun, StatusStarted},
	types.EventRunSuspended:     {KindRun, StatusSuspended},
	types.EventRunCompleted:     {KindRun, StatusCompleted},
	types.EventRunFailed:        {KindRun, StatusFailed},
	types.EventRoundStarted:     {KindRound, StatusStarted},
	types.EventBeforePropose:    {KindRound, StatusStarted},
	types.EventAfterPropose:     {KindRound, StatusCompleted},
	types.EventBeforeAction:     {KindAction, StatusStarted},
	types.EventAfterAction:      {KindAction, StatusCompleted},
	types.EventFrameCaptured:    {KindAction, StatusCompleted},
	types.EventApprovalRequired: {KindApproval, StatusSuspended},
	types.EventApprovalResolved: {KindApproval, StatusCompleted},
	types.EventCheckpointSaved:  {KindCheckpoint, StatusCompleted},
}

// FromRuntimeEvent converts a loop event. Any event that carries an error is
// reported as failed.
func FromRuntimeEvent(in types.Event) Event {
	c, ok := classes[in.Type]
	if !ok {
		c = class{KindOther, StatusCompleted}
	}
	e := Event{
		Type:       in.Type,
		Kind:       c.kind,
		Status:     c.status,
		Timestamp:  in.Timestamp,
		RunID:      in.RunID,
		Provider:   in.Provider,
		Step:       in.Step,
		ActionName: in.ActionName,
		Message:    in.Message,
		Error:      in.Error,
		DurationMs: in.DurationMs,
		Attributes: maps.Clone(in.Attributes),
	}
	if in.Error != "" {
		e.Status = StatusFailed
	}
	e.Normalize()
	return e
}
