package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/state/memory"
)

// brokenStore fails every write.
type brokenStore struct {
	*memory.Store
}

var errBroken = errors.New("disk on fire")

func (brokenStore) SaveRun(context.Context, state.RunRecord) error               { return errBroken }
func (brokenStore) SaveCheckpoint(context.Context, state.CheckpointRecord) error { return errBroken }

func TestCacheFailuresAreLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	durable := memory.New()
	h, err := New(durable, brokenStore{memory.New()}, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := h.SaveRun(ctx, state.RunRecord{RunID: "r", Status: "running", Task: "t"}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := h.SaveCheckpoint(ctx, state.CheckpointRecord{RunID: "r", Seq: 0}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if _, err := durable.LoadRun(ctx, "r"); err != nil {
		t.Fatalf("durable store missed the write: %v", err)
	}
	if n := logs.FilterMessage("cache write failed").Len(); n != 2 {
		t.Fatalf("expected 2 cache warnings, got %d", n)
	}
}

func TestDurableFailuresAreReturned(t *testing.T) {
	h, _ := New(brokenStore{memory.New()}, memory.New())
	err := h.SaveRun(context.Background(), state.RunRecord{RunID: "r", Status: "running", Task: "t"})
	if !errors.Is(err, errBroken) {
		t.Fatalf("expected durable error, got %v", err)
	}
}

func TestReadsBackfillTheCache(t *testing.T) {
	durable, cache := memory.New(), memory.New()
	h, _ := New(durable, cache)
	ctx := context.Background()

	durable.SaveRun(ctx, state.RunRecord{RunID: "r", Status: "awaiting_approval", Task: "t"})
	durable.SaveCheckpoint(ctx, state.CheckpointRecord{RunID: "r", Seq: 3, NodeID: "awaiting_approval"})

	if run, err := h.LoadRun(ctx, "r"); err != nil || run.Status != "awaiting_approval" {
		t.Fatalf("LoadRun: %#v %v", run, err)
	}
	if cp, err := h.LoadLatestCheckpoint(ctx, "r"); err != nil || cp.Seq != 3 {
		t.Fatalf("LoadLatestCheckpoint: %#v %v", cp, err)
	}
	if _, err := cache.LoadRun(ctx, "r"); err != nil {
		t.Fatalf("run not backfilled: %v", err)
	}
	if cp, err := cache.LoadLatestCheckpoint(ctx, "r"); err != nil || cp.Seq != 3 {
		t.Fatalf("checkpoint not backfilled: %#v %v", cp, err)
	}
	if _, err := h.LoadRun(ctx, "missing"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLockUsesCache(t *testing.T) {
	cache := memory.New()
	h, _ := New(memory.New(), cache)
	ctx := context.Background()

	if ok, err := h.AcquireRunLock(ctx, "r", "a", time.Minute); err != nil || !ok {
		t.Fatalf("expected lock, got %v %v", ok, err)
	}
	if ok, _ := cache.AcquireRunLock(ctx, "r", "b", time.Minute); ok {
		t.Fatal("cache should hold the lock")
	}

	solo, _ := New(memory.New(), nil)
	if ok, _ := solo.AcquireRunLock(ctx, "r", "x", time.Minute); !ok {
		t.Fatal("lock must be granted without a cache")
	}
	if err := solo.ReleaseRunLock(ctx, "r", "x"); err != nil {
		t.Fatal(err)
	}
}

func TestNewRequiresDurable(t *testing.T) {
	if _, err := New(nil, memory.New()); err == nil {
		t.Fatal("expected error")
	}
}
