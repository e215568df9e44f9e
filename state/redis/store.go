// Package redis is an expiring state.Store. Entries age out after the TTL,
// so it is normally used as the cache half of the hybrid backend.
//
// Key layout under the prefix:
//
//	run:<id>                 JSON run record
//	runs                     sorted set of run ids by created time
//	runs:status:<status>     same, per status
//	runs:session:<session>   same, per session
//	ckpt:<id>                sorted set of checkpoint seqs
//	ckpt:<id>:data           hash of seq to JSON checkpoint
//	lock:<id>                resume lock owner
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

const (
	defaultTTL     = 72 * time.Hour
	defaultLockTTL = 15 * time.Second
	defaultPrefix  = "vncuse"
	pageSize       = 50
)

var statuses = []types.RunStatus{
	types.RunStatusRunning,
	types.RunStatusAwaitingApproval,
	types.RunStatusCompleted,
	types.RunStatusFailed,
}

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
	prefix string
	opts   goredis.Options
}

var _ state.Locker = (*Store)(nil)

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.opts.Password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.opts.DB = db }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if p := strings.Trim(strings.TrimSpace(prefix), ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithClient uses an existing client instead of dialing addr.
func WithClient(client goredis.UniversalClient) Option {
	return func(s *Store) { s.client = client }
}

// New connects to addr and pings it before returning.
func New(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	s := &Store{ttl: defaultTTL, prefix: defaultPrefix}
	s.opts.Addr = strings.TrimSpace(addr)
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		if s.opts.Addr == "" {
			return nil, errors.New("redis: addr is required")
		}
		s.client = goredis.NewClient(&s.opts)
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", s.opts.Addr, err)
	}
	return s, nil
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Store) SaveRun(ctx context.Context, run state.RunRecord) error {
	if run.RunID == "" {
		return errors.New("redis: run id is required")
	}
	now := time.Now().UTC()
	if run.CreatedAt == nil {
		run.CreatedAt = &now
	}
	if run.UpdatedAt == nil {
		run.UpdatedAt = &now
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("redis: encode run %s: %w", run.RunID, err)
	}

	member := goredis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: run.RunID}
	indexes := []string{s.key("runs"), s.key("runs", "status", run.Status)}
	if run.SessionID != "" {
		indexes = append(indexes, s.key("runs", "session", run.SessionID))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key("run", run.RunID), raw, s.ttl)
		// A run sits in exactly one status index.
		for _, st := range statuses {
			if string(st) != run.Status {
				pipe.ZRem(ctx, s.key("runs", "status", string(st)), run.RunID)
			}
		}
		for _, idx := range indexes {
			pipe.ZAdd(ctx, idx, member)
			pipe.Expire(ctx, idx, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *Store) LoadRun(ctx context.Context, runID string) (state.RunRecord, error) {
	raw, err := s.client.Get(ctx, s.key("run", runID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return state.RunRecord{}, state.ErrNotFound
	}
	if err != nil {
		return state.RunRecord{}, fmt.Errorf("redis: load run %s: %w", runID, err)
	}
	var run state.RunRecord
	if err := json.Unmarshal(raw, &run); err != nil {
		return state.RunRecord{}, fmt.Errorf("redis: decode run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns walks the narrowest index page by page and applies the remaining
// filters to the loaded records. Ids whose record has expired are pruned from
// the index as they are found.
func (s *Store) ListRuns(ctx context.Context, query state.ListRunsQuery) ([]state.RunRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = pageSize
	}
	index := s.key("runs")
	switch {
	case query.Status != "":
		index = s.key("runs", "status", query.Status)
	case query.SessionID != "":
		index = s.key("runs", "session", query.SessionID)
	}

	skip := max(query.Offset, 0)
	out := make([]state.RunRecord, 0, limit)
	for start := int64(0); len(out) < limit; start += pageSize {
		ids, err := s.client.ZRevRange(ctx, index, start, start+pageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list run ids: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.key("run", id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: load runs: %w", err)
		}

		var expired []any
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				expired = append(expired, ids[i])
				continue
			}
			var run state.RunRecord
			if json.Unmarshal([]byte(raw), &run) != nil || !query.Matches(run) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			if len(out) < limit {
				out = append(out, run)
			}
		}
		if len(expired) > 0 && s.client.ZRem(ctx, index, expired...).Err() == nil {
			start -= int64(len(expired))
		}
		if len(ids) < pageSize {
			break
		}
	}
	return out, nil
}

// SaveCheckpoint refuses to overwrite an existing sequence number.
func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint state.CheckpointRecord) error {
	if checkpoint.RunID == "" {
		return errors.New("redis: run id is required")
	}
	if checkpoint.CreatedAt.IsZero() {
		checkpoint.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("redis: encode checkpoint: %w", err)
	}

	seqs, data := s.key("ckpt", checkpoint.RunID), s.key("ckpt", checkpoint.RunID, "data")
	field := strconv.Itoa(checkpoint.Seq)
	added, err := s.client.HSetNX(ctx, data, field, raw).Result()
	if err != nil {
		return fmt.Errorf("redis: save checkpoint %s/%d: %w", checkpoint.RunID, checkpoint.Seq, err)
	}
	if !added {
		return state.ErrConflict
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, seqs, goredis.Z{Score: float64(checkpoint.Seq), Member: field})
		pipe.Expire(ctx, seqs, s.ttl)
		pipe.Expire(ctx, data, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: index checkpoint %s/%d: %w", checkpoint.RunID, checkpoint.Seq, err)
	}
	return nil
}

func (s *Store) LoadLatestCheckpoint(ctx context.Context, runID string) (state.CheckpointRecord, error) {
	list, err := s.ListCheckpoints(ctx, runID, 1)
	if err != nil {
		return state.CheckpointRecord{}, err
	}
	if len(list) == 0 {
		return state.CheckpointRecord{}, state.ErrNotFound
	}
	return list[0], nil
}

// ListCheckpoints returns up to limit checkpoints, highest sequence first.
func (s *Store) ListCheckpoints(ctx context.Context, runID string, limit int) ([]state.CheckpointRecord, error) {
	if limit <= 0 {
		limit = pageSize
	}
	fields, err := s.client.ZRevRange(ctx, s.key("ckpt", runID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list checkpoints %s: %w", runID, err)
	}
	if len(fields) == 0 {
		return []state.CheckpointRecord{}, nil
	}
	values, err := s.client.HMGet(ctx, s.key("ckpt", runID, "data"), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load checkpoints %s: %w", runID, err)
	}
	out := make([]state.CheckpointRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var cp state.CheckpointRecord
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("redis: decode checkpoint %s: %w", runID, err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// AcquireRunLock reports false when another owner holds an unexpired lock.
func (s *Store) AcquireRunLock(ctx context.Context, runID, owner string, ttl time.Duration) (bool, error) {
	if runID == "" || owner == "" {
		return false, errors.New("redis: run id and owner are required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	ok, err := s.client.SetNX(ctx, s.key("lock", runID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: lock run %s: %w", runID, err)
	}
	return ok, nil
}

// ReleaseRunLock drops the lock only if owner still holds it.
func (s *Store) ReleaseRunLock(ctx context.Context, runID, owner string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key("lock", runID)}, owner).Err(); err != nil {
		return fmt.Errorf("redis: unlock run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
