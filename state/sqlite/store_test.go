package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

func openAt(t *testing.T, path string) *Store {
	t.Helper()
	s, err := New(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunDetailSurvivesRoundTrip(t *testing.T) {
	s := openAt(t, filepath.Join(t.TempDir(), "state.db"))
	ctx := context.Background()

	created := time.Now().UTC()
	in := state.RunRecord{
		RunID:         "run-1",
		SessionID:     "desk-1",
		Provider:      "gemini",
		Status:        string(types.RunStatusAwaitingApproval),
		Task:          "open the calculator",
		Step:          2,
		RunDir:        "/tmp/runs/20260101_000000_run-1",
		ActionHistory: []string{"Executed click_at(x=500, y=500) - Success"},
		StepLogs: []types.StepLog{{
			Step:     1,
			Executed: types.ActionCall{Name: "click_at", Args: map[string]any{"x": 500.0, "y": 500.0}},
			Result:   "Success",
		}},
		Interrupt: &types.Interrupt{Token: "tok", RunID: "run-1", Reason: "payment"},
		Usage:     &types.Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3},
		Metadata:  map[string]any{"source": "cli"},
		CreatedAt: &created,
	}
	if err := s.SaveRun(ctx, in); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.LoadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	switch {
	case got.Task != in.Task || got.Step != 2 || got.RunDir != in.RunDir:
		t.Fatalf("scalar columns lost: %#v", got)
	case got.Interrupt == nil || got.Interrupt.Token != "tok":
		t.Fatalf("interrupt lost: %#v", got.Interrupt)
	case got.Usage == nil || got.Usage.TotalTokens != 3:
		t.Fatalf("usage lost: %#v", got.Usage)
	case len(got.StepLogs) != 1 || got.StepLogs[0].Executed.Name != "click_at":
		t.Fatalf("step logs lost: %#v", got.StepLogs)
	case got.Metadata["source"] != "cli" || len(got.ActionHistory) != 1:
		t.Fatalf("detail lost: %#v", got)
	case !got.CreatedAt.Equal(created) || got.UpdatedAt == nil || got.CompletedAt != nil:
		t.Fatalf("timestamps wrong: %v %v %v", got.CreatedAt, got.UpdatedAt, got.CompletedAt)
	}
}

func TestSaveRunUpdatesInPlace(t *testing.T) {
	s := openAt(t, filepath.Join(t.TempDir(), "state.db"))
	ctx := context.Background()

	created := time.Now().UTC()
	run := state.RunRecord{RunID: "r", Provider: "gemini", Status: "running", Task: "t", CreatedAt: &created}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	finished := created.Add(time.Minute)
	run.Status, run.Done, run.Success = "completed", true, true
	run.CreatedAt, run.CompletedAt = &finished, &finished
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun update: %v", err)
	}

	got, _ := s.LoadRun(ctx, "r")
	if got.Status != "completed" || !got.Done || !got.Success || got.CompletedAt == nil {
		t.Fatalf("update not applied: %#v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at moved to %v", got.CreatedAt)
	}
}

func TestListRunsFilters(t *testing.T) {
	s := openAt(t, filepath.Join(t.TempDir(), "state.db"))
	ctx := context.Background()

	base := time.Now().UTC()
	seed := []struct{ id, status, provider string }{
		{"a", "completed", "gemini"},
		{"b", "failed", "anthropic"},
		{"c", "completed", "anthropic"},
		{"d", "completed", "gemini"},
	}
	for i, r := range seed {
		created := base.Add(time.Duration(i) * time.Second)
		err := s.SaveRun(ctx, state.RunRecord{RunID: r.id, Status: r.status, Provider: r.provider, Task: "t", CreatedAt: &created})
		if err != nil {
			t.Fatalf("SaveRun %s: %v", r.id, err)
		}
	}

	tests := []struct {
		name  string
		query state.ListRunsQuery
		want  []string
	}{
		{"all newest first", state.ListRunsQuery{}, []string{"d", "c", "b", "a"}},
		{"status", state.ListRunsQuery{Status: "completed"}, []string{"d", "c", "a"}},
		{"status and provider", state.ListRunsQuery{Status: "completed", Provider: "gemini"}, []string{"d", "a"}},
		{"paged", state.ListRunsQuery{Limit: 2, Offset: 1}, []string{"c", "b"}},
		{"no match", state.ListRunsQuery{SessionID: "other"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.query)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("got %d runs, want %v", len(runs), tt.want)
			}
			for i, id := range tt.want {
				if runs[i].RunID != id {
					t.Fatalf("position %d: got %s, want %s", i, runs[i].RunID, id)
				}
			}
		})
	}
}

func TestCheckpointSequence(t *testing.T) {
	s := openAt(t, filepath.Join(t.TempDir(), "state.db"))
	ctx := context.Background()

	if _, err := s.LoadLatestCheckpoint(ctx, "r"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any checkpoint, got %v", err)
	}
	for seq, phase := range []string{"planning", "acting", "awaiting_approval"} {
		cp := state.CheckpointRecord{RunID: "r", Seq: seq, NodeID: phase, State: map[string]any{"step": seq}}
		if err := s.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint %d: %v", seq, err)
		}
	}
	if err := s.SaveCheckpoint(ctx, state.CheckpointRecord{RunID: "r", Seq: 1, NodeID: "acting"}); !errors.Is(err, state.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	latest, err := s.LoadLatestCheckpoint(ctx, "r")
	if err != nil {
		t.Fatalf("LoadLatestCheckpoint: %v", err)
	}
	if latest.Seq != 2 || latest.NodeID != "awaiting_approval" || latest.State["step"] != float64(2) || latest.CreatedAt.IsZero() {
		t.Fatalf("unexpected latest %#v", latest)
	}
	two, _ := s.ListCheckpoints(ctx, "r", 2)
	if len(two) != 2 || two[0].Seq != 2 || two[1].Seq != 1 {
		t.Fatalf("expected seq 2,1, got %#v", two)
	}
}

func TestReopenKeepsDataAndSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()

	first, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.SaveRun(ctx, state.RunRecord{RunID: "kept", Status: "failed", Task: "t"}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	first.Close()

	second := openAt(t, path)
	if _, err := second.LoadRun(ctx, "kept"); err != nil {
		t.Fatalf("run lost across reopen: %v", err)
	}
	var version int
	if err := second.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != len(migrations) {
		t.Fatalf("schema version %d, want %d", version, len(migrations))
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error")
	}
}
