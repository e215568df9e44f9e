// Package hybrid layers a disposable cache (usually Redis) over a durable
// store (usually SQLite).
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/state"
)

// HybridStore writes to the durable store first and mirrors into the cache.
// Cache failures are logged and never surface to the caller. Listings always
// come from the durable store, since the cache expires entries.
type HybridStore struct {
	durable state.Store
	cache   state.Store
	logger  *zap.Logger
}

var _ state.Locker = (*HybridStore)(nil)

type Option func(*HybridStore)

func WithLogger(logger *zap.Logger) Option {
	return func(h *HybridStore) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func New(durable state.Store, cache state.Store, opts ...Option) (*HybridStore, error) {
	if durable == nil {
		return nil, fmt.Errorf("hybrid: durable store is required")
	}
	h := &HybridStore{durable: durable, cache: cache, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("state.hybrid")
	return h, nil
}

// mirror applies write to the cache, if any, and only logs a failure.
func (h *HybridStore) mirror(op, runID string, write func(state.Store) error) {
	if h.cache == nil {
		return
	}
	if err := write(h.cache); err != nil && !errors.Is(err, state.ErrConflict) {
		h.logger.Warn("cache write failed", zap.String("op", op), zap.String("run_id", runID), zap.Error(err))
	}
}

// readThrough serves from the cache when it has the record and otherwise
// loads from the durable store and backfills the cache.
func readThrough[T any](ctx context.Context, h *HybridStore, op, runID string,
	load func(context.Context, state.Store) (T, error),
	backfill func(context.Context, state.Store, T) error,
) (T, error) {
	if h.cache != nil {
		v, err := load(ctx, h.cache)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, state.ErrNotFound) {
			h.logger.Warn("cache read failed", zap.String("op", op), zap.String("run_id", runID), zap.Error(err))
		}
	}
	v, err := load(ctx, h.durable)
	if err != nil {
		return v, err
	}
	h.mirror(op+".backfill", runID, func(c state.Store) error { return backfill(ctx, c, v) })
	return v, nil
}

func (h *HybridStore) SaveRun(ctx context.Context, run state.RunRecord) error {
	if err := h.durable.SaveRun(ctx, run); err != nil {
		return err
	}
	h.mirror("save_run", run.RunID, func(c state.Store) error { return c.SaveRun(ctx, run) })
	return nil
}

func (h *HybridStore) LoadRun(ctx context.Context, runID string) (state.RunRecord, error) {
	return readThrough(ctx, h, "load_run", runID,
		func(ctx context.Context, s state.Store) (state.RunRecord, error) { return s.LoadRun(ctx, runID) },
		func(ctx context.Context, s state.Store, run state.RunRecord) error { return s.SaveRun(ctx, run) },
	)
}

func (h *HybridStore) ListRuns(ctx context.Context, query state.ListRunsQuery) ([]state.RunRecord, error) {
	return h.durable.ListRuns(ctx, query)
}

func (h *HybridStore) SaveCheckpoint(ctx context.Context, checkpoint state.CheckpointRecord) error {
	if err := h.durable.SaveCheckpoint(ctx, checkpoint); err != nil {
		return err
	}
	h.mirror("save_checkpoint", checkpoint.RunID, func(c state.Store) error { return c.SaveCheckpoint(ctx, checkpoint) })
	return nil
}

func (h *HybridStore) LoadLatestCheckpoint(ctx context.Context, runID string) (state.CheckpointRecord, error) {
	return readThrough(ctx, h, "load_checkpoint", runID,
		func(ctx context.Context, s state.Store) (state.CheckpointRecord, error) {
			return s.LoadLatestCheckpoint(ctx, runID)
		},
		func(ctx context.Context, s state.Store, cp state.CheckpointRecord) error { return s.SaveCheckpoint(ctx, cp) },
	)
}

func (h *HybridStore) ListCheckpoints(ctx context.Context, runID string, limit int) ([]state.CheckpointRecord, error) {
	return h.durable.ListCheckpoints(ctx, runID, limit)
}

// AcquireRunLock uses the cache's lock when it has one. Without a locking
// cache only one process is assumed and the lock is always granted.
func (h *HybridStore) AcquireRunLock(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	if l, ok := h.cache.(state.Locker); ok {
		return l.AcquireRunLock(ctx, runID, owner, ttl)
	}
	return true, nil
}

func (h *HybridStore) ReleaseRunLock(ctx context.Context, runID, owner string) error {
	if l, ok := h.cache.(state.Locker); ok {
		return l.ReleaseRunLock(ctx, runID, owner)
	}
	return nil
}

func (h *HybridStore) Close() error {
	var errs []error
	if h.cache != nil {
		errs = append(errs, h.cache.Close())
	}
	errs = append(errs, h.durable.Close())
	return errors.Join(errs...)
}
