// Package memory is a process-local state.Store. It backs the "memory" state
// backend and tests that need a store without touching disk.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

type Store struct {
	mu          sync.Mutex
	runs        map[string]state.RunRecord
	checkpoints map[string][]state.CheckpointRecord
	locks       map[string]lock
}

type lock struct {
	owner   string
	expires time.Time
}

func New() *Store {
	return &Store{
		runs:        map[string]state.RunRecord{},
		checkpoints: map[string][]state.CheckpointRecord{},
		locks:       map[string]lock{},
	}
}

func (m *Store) SaveRun(_ context.Context, run state.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.runs[run.RunID]; ok && prev.CreatedAt != nil {
		run.CreatedAt = prev.CreatedAt
	}
	m.runs[run.RunID] = copyRun(run)
	return nil
}

func (m *Store) LoadRun(_ context.Context, runID string) (state.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return state.RunRecord{}, state.ErrNotFound
	}
	return copyRun(run), nil
}

func (m *Store) ListRuns(_ context.Context, query state.ListRunsQuery) ([]state.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]state.RunRecord, 0, len(m.runs))
	for _, run := range m.runs {
		if query.Matches(run) {
			out = append(out, copyRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return createdAt(out[i]).After(createdAt(out[j]))
	})
	if query.Offset > 0 {
		if query.Offset >= len(out) {
			return []state.RunRecord{}, nil
		}
		out = out[query.Offset:]
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (m *Store) SaveCheckpoint(_ context.Context, checkpoint state.CheckpointRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.checkpoints[checkpoint.RunID]
	for _, item := range existing {
		if item.Seq == checkpoint.Seq {
			return state.ErrConflict
		}
	}
	if checkpoint.CreatedAt.IsZero() {
		checkpoint.CreatedAt = time.Now().UTC()
	}
	m.checkpoints[checkpoint.RunID] = append(existing, checkpoint)
	return nil
}

func (m *Store) LoadLatestCheckpoint(_ context.Context, runID string) (state.CheckpointRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.checkpoints[runID]
	if len(list) == 0 {
		return state.CheckpointRecord{}, state.ErrNotFound
	}
	latest := list[0]
	for _, item := range list[1:] {
		if item.Seq > latest.Seq {
			latest = item
		}
	}
	return latest, nil
}

func (m *Store) ListCheckpoints(_ context.Context, runID string, limit int) ([]state.CheckpointRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]state.CheckpointRecord(nil), m.checkpoints[runID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].Seq > list[j].Seq })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *Store) AcquireRunLock(_ context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if held, ok := m.locks[runID]; ok && held.owner != owner && now.Before(held.expires) {
		return false, nil
	}
	m.locks[runID] = lock{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (m *Store) ReleaseRunLock(_ context.Context, runID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.locks[runID]; ok && held.owner == owner {
		delete(m.locks, runID)
	}
	return nil
}

func (m *Store) Close() error { return nil }

func copyRun(in state.RunRecord) state.RunRecord {
	out := in
	out.ActionHistory = append([]string(nil), in.ActionHistory...)
	out.StepLogs = append([]types.StepLog(nil), in.StepLogs...)
	return out
}

func createdAt(run state.RunRecord) time.Time {
	if run.CreatedAt == nil {
		return time.Time{}
	}
	return *run.CreatedAt
}
