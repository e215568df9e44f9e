// Package state persists agent runs and the loop snapshots that let an
// interrupted run be resumed by another process.
package state

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a run or checkpoint does not exist.
	ErrNotFound = errors.New("state: record not found")
	// ErrConflict is returned when a checkpoint sequence number is reused.
	ErrConflict = errors.New("state: checkpoint sequence already written")
)

// ListRunsQuery filters ListRuns. Zero fields match everything; results are
// newest first.
type ListRunsQuery struct {
	Status    string
	Provider  string
	SessionID string

	Limit  int
	Offset int
}

// Matches reports whether run passes the query's filters. Paging is not
// considered.
func (q ListRunsQuery) Matches(run RunRecord) bool {
	if q.Status != "" && run.Status != q.Status {
		return false
	}
	if q.Provider != "" && run.Provider != q.Provider {
		return false
	}
	return q.SessionID == "" || run.SessionID == q.SessionID
}

// RunStore keeps the latest view of each run.
type RunStore interface {
	SaveRun(ctx context.Context, run RunRecord) error
	LoadRun(ctx context.Context, runID string) (RunRecord, error)
	ListRuns(ctx context.Context, query ListRunsQuery) ([]RunRecord, error)
}

// CheckpointStore keeps an append-only sequence of snapshots per run.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, checkpoint CheckpointRecord) error
	LoadLatestCheckpoint(ctx context.Context, runID string) (CheckpointRecord, error)
	ListCheckpoints(ctx context.Context, runID string, limit int) ([]CheckpointRecord, error)
}

type Store interface {
	RunStore
	CheckpointStore
	Close() error
}

// Locker is implemented by stores that can keep two processes from resuming
// the same run. A lock expires after ttl unless released first.
type Locker interface {
	AcquireRunLock(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, runID, owner string) error
}
