package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PipeOpsHQ/vnc-use-go/state"
)

func TestMemoryStore_RunsAndCheckpoints(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := time.Now().UTC()
	second := first.Add(time.Second)
	if err := s.SaveRun(ctx, state.RunRecord{RunID: "a", Status: "completed", CreatedAt: &first}); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := s.SaveRun(ctx, state.RunRecord{RunID: "b", Status: "failed", Provider: "gemini", CreatedAt: &second}); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	later := second.Add(time.Hour)
	if err := s.SaveRun(ctx, state.RunRecord{RunID: "a", Status: "completed", CreatedAt: &later}); err != nil {
		t.Fatalf("SaveRun upsert failed: %v", err)
	}

	runs, _ := s.ListRuns(ctx, state.ListRunsQuery{})
	if len(runs) != 2 || runs[0].RunID != "b" {
		t.Fatalf("expected newest first with created_at preserved, got %#v", runs)
	}
	runs, _ = s.ListRuns(ctx, state.ListRunsQuery{Status: "completed"})
	if len(runs) != 1 || runs[0].RunID != "a" {
		t.Fatalf("unexpected status filter result: %#v", runs)
	}

	runs, _ = s.ListRuns(ctx, state.ListRunsQuery{Provider: "gemini"})
	if len(runs) != 1 || runs[0].RunID != "b" {
		t.Fatalf("unexpected provider filter result: %#v", runs)
	}

	if _, err := s.LoadRun(ctx, "missing"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for seq := 0; seq < 3; seq++ {
		if err := s.SaveCheckpoint(ctx, state.CheckpointRecord{RunID: "a", Seq: seq, NodeID: "acting"}); err != nil {
			t.Fatalf("SaveCheckpoint %d failed: %v", seq, err)
		}
	}
	if err := s.SaveCheckpoint(ctx, state.CheckpointRecord{RunID: "a", Seq: 1}); !errors.Is(err, state.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	latest, err := s.LoadLatestCheckpoint(ctx, "a")
	if err != nil || latest.Seq != 2 {
		t.Fatalf("unexpected latest checkpoint %#v (%v)", latest, err)
	}
	list, _ := s.ListCheckpoints(ctx, "a", 2)
	if len(list) != 2 || list[0].Seq != 2 || list[1].Seq != 1 {
		t.Fatalf("unexpected checkpoint list %#v", list)
	}
}

func TestMemoryStore_RunLock(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, _ := s.AcquireRunLock(ctx, "run", "one", time.Minute)
	if !ok {
		t.Fatal("expected first acquisition to succeed")
	}
	ok, _ = s.AcquireRunLock(ctx, "run", "two", time.Minute)
	if ok {
		t.Fatal("expected second owner to be refused")
	}
	_ = s.ReleaseRunLock(ctx, "run", "two")
	ok, _ = s.AcquireRunLock(ctx, "run", "two", time.Minute)
	if ok {
		t.Fatal("release by a non-owner must not free the lock")
	}
	_ = s.ReleaseRunLock(ctx, "run", "one")
	ok, _ = s.AcquireRunLock(ctx, "run", "two", time.Minute)
	if !ok {
		t.Fatal("expected acquisition after release")
	}
}
