package state

import (
	"time"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// RunRecord is the persisted view of one agent run.
type RunRecord struct {
	RunID         string           `json:"runId"`
	SessionID     string           `json:"sessionId,omitempty"`
	Provider      string           `json:"provider"`
	Status        string           `json:"status"`
	Task          string           `json:"task"`
	Step          int              `json:"step"`
	Done          bool             `json:"done"`
	Success       bool             `json:"success"`
	ActionHistory []string         `json:"actionHistory,omitempty"`
	StepLogs      []types.StepLog  `json:"stepLogs,omitempty"`
	Interrupt     *types.Interrupt `json:"interrupt,omitempty"`
	RunDir        string           `json:"runDir,omitempty"`
	Usage         *types.Usage     `json:"usage,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     *time.Time       `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time       `json:"updatedAt,omitempty"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
}

// CheckpointRecord is a snapshot of the loop state. NodeID is the loop phase
// the snapshot was taken in.
type CheckpointRecord struct {
	RunID     string         `json:"runId"`
	Seq       int            `json:"seq"`
	NodeID    string         `json:"nodeId"`
	State     map[string]any `json:"state,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
