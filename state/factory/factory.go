package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/state/hybrid"
	"github.com/PipeOpsHQ/vnc-use-go/state/memory"
	redisstore "github.com/PipeOpsHQ/vnc-use-go/state/redis"
	sqlitestore "github.com/PipeOpsHQ/vnc-use-go/state/sqlite"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendHybrid = "hybrid"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Options selects and configures a state backend.
type Options struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	RedisPrefix   string
	Logger        *zap.Logger
}

// New builds the configured store. BackendNone returns a nil store, which
// disables persistence. A hybrid backend whose cache is unreachable degrades
// to the durable store alone.
func New(ctx context.Context, opts Options) (state.Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = BackendSQLite
	}
	switch backend {
	case BackendSQLite:
		store, err := sqlitestore.New(sqlitePath(opts))
		if err != nil {
			return nil, err
		}
		return store, nil

	case BackendRedis:
		return newRedisStore(ctx, opts)

	case BackendHybrid:
		durable, err := sqlitestore.New(sqlitePath(opts))
		if err != nil {
			return nil, err
		}
		cache, err := newRedisStore(ctx, opts)
		if err != nil {
			logger.Warn("redis cache unavailable, using sqlite only", zap.String("addr", opts.RedisAddr), zap.Error(err))
			return hybrid.New(durable, nil, hybrid.WithLogger(logger))
		}
		return hybrid.New(durable, cache, hybrid.WithLogger(logger))

	case BackendMemory:
		return memory.New(), nil

	case BackendNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported state backend %q (use sqlite, redis, hybrid, memory, or none)", backend)
	}
}

func sqlitePath(opts Options) string {
	if strings.TrimSpace(opts.SQLitePath) == "" {
		return "./.vnc-use/state.db"
	}
	return opts.SQLitePath
}

func newRedisStore(ctx context.Context, opts Options) (state.Store, error) {
	addr := strings.TrimSpace(opts.RedisAddr)
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	ttl := opts.RedisTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	ropts := []redisstore.Option{
		redisstore.WithPassword(opts.RedisPassword),
		redisstore.WithDB(opts.RedisDB),
		redisstore.WithTTL(ttl),
	}
	if opts.RedisPrefix != "" {
		ropts = append(ropts, redisstore.WithPrefix(opts.RedisPrefix))
	}
	store, err := redisstore.New(ctx, addr, ropts...)
	if err != nil {
		return nil, err
	}
	return store, nil
}
