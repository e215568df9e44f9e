// Package safety classifies safety verdicts and gates risky actions behind
// human approval.
//
// A verdict's action field is free text from the planner. Two predicates
// interpret it: RequiresConfirmation and Blocks. Local guards can add their
// own verdicts, which are merged with the planner's so the strongest wins.
package safety

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// RequiresConfirmation is true when the verdict action contains "confirm"
// (case-insensitive) or equals "require_confirmation".
func RequiresConfirmation(v *types.SafetyVerdict) bool {
	if v == nil {
		return false
	}
	action := strings.ToLower(v.Action)
	return strings.Contains(action, "confirm") || action == types.VerdictRequireConfirmation
}

// Blocks is true when the verdict action is block, deny or reject.
func Blocks(v *types.SafetyVerdict) bool {
	if v == nil {
		return false
	}
	switch strings.ToLower(v.Action) {
	case "block", "deny", "reject":
		return true
	default:
		return false
	}
}

// Level orders verdicts by strength.
type Level int

const (
	LevelProceed Level = iota
	LevelConfirm
	LevelBlock
)

func LevelOf(v *types.SafetyVerdict) Level {
	switch {
	case Blocks(v):
		return LevelBlock
	case RequiresConfirmation(v):
		return LevelConfirm
	default:
		return LevelProceed
	}
}

// Merge returns the stronger of two verdicts, preferring a on ties. The
// result is nil only when both are nil.
func Merge(a, b *types.SafetyVerdict) *types.SafetyVerdict {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if LevelOf(b) > LevelOf(a) {
		return b
	}
	return a
}

// Decide interprets a resume decision string. Only "deny" denies.
func Decide(decision string) bool {
	return !strings.EqualFold(strings.TrimSpace(decision), "deny")
}

// NewInterrupt builds the payload handed to an external approver when a run
// suspends. The pending calls are copied.
func NewInterrupt(runID string, step int, verdict *types.SafetyVerdict, pending []types.ActionCall) *types.Interrupt {
	reason := "confirmation required"
	var v *types.SafetyVerdict
	if verdict != nil {
		copied := *verdict
		v = &copied
		if verdict.Reason != "" {
			reason = verdict.Reason
		}
	}
	return &types.Interrupt{
		Token:        uuid.NewString(),
		RunID:        runID,
		Step:         step,
		Reason:       reason,
		Verdict:      v,
		PendingCalls: types.CloneCalls(pending),
		CreatedAt:    time.Now().UTC(),
	}
}
