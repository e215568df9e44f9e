// Package sqlite is the durable state.Store, one database file per host.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/vnc-use-go/state"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

//go:embed schema.sql
var schemaV1 string

// migrations[i] moves the database from user_version i to i+1.
var migrations = []string{schemaV1}

const defaultLimit = 50

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	wal         bool
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) { s.wal = enabled }
}

// New opens (creating if needed) the database at path and brings its schema
// up to date.
func New(path string, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	s := &Store{busyTimeout: 5 * time.Second, wal: true}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite has one writer; a single connection avoids SQLITE_BUSY between
	// our own goroutines.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) dsn(path string) string {
	pragmas := []string{fmt.Sprintf("_pragma=busy_timeout(%d)", s.busyTimeout.Milliseconds())}
	if s.wal {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return "file:" + path + "?" + strings.Join(pragmas, "&")
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}
	for ; version < len(migrations); version++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin migration %d: %w", version+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: migration %d: %w", version+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: bump schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %d: %w", version+1, err)
		}
	}
	return nil
}

// runDetail is the JSON document stored in runs.detail.
type runDetail struct {
	ActionHistory []string         `json:"actionHistory"`
	StepLogs      []types.StepLog  `json:"stepLogs"`
	Interrupt     *types.Interrupt `json:"interrupt,omitempty"`
	Usage         *types.Usage     `json:"usage,omitempty"`
	Metadata      map[string]any   `json:"metadata"`
}

// jsonText stores V as a TEXT column.
type jsonText[T any] struct{ V T }

func (j jsonText[T]) Value() (driver.Value, error) {
	raw, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (j *jsonText[T]) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), &j.V)
	case []byte:
		return json.Unmarshal(v, &j.V)
	case nil:
		return nil
	default:
		return fmt.Errorf("sqlite: cannot decode %T as JSON", src)
	}
}

// unixTime stores a time as nanoseconds since the epoch; nil maps to NULL.
type unixTime struct{ T *time.Time }

func (u unixTime) Value() (driver.Value, error) {
	if u.T == nil {
		return nil, nil
	}
	return u.T.UnixNano(), nil
}

func (u *unixTime) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		t := time.Unix(0, v).UTC()
		u.T = &t
	case nil:
		u.T = nil
	default:
		return fmt.Errorf("sqlite: cannot decode %T as time", src)
	}
	return nil
}

// SaveRun upserts run. created_at keeps the value from the first save.
func (s *Store) SaveRun(ctx context.Context, run state.RunRecord) error {
	if run.RunID == "" {
		return errors.New("sqlite: run id is required")
	}
	now := time.Now().UTC()
	if run.CreatedAt == nil {
		run.CreatedAt = &now
	}
	if run.UpdatedAt == nil {
		run.UpdatedAt = &now
	}
	if run.Status == "" {
		run.Status = string(types.RunStatusRunning)
	}
	detail := jsonText[runDetail]{V: runDetail{
		ActionHistory: run.ActionHistory,
		StepLogs:      run.StepLogs,
		Interrupt:     run.Interrupt,
		Usage:         run.Usage,
		Metadata:      run.Metadata,
	}}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (run_id, session_id, provider, status, task, step, done, success,
                  run_dir, error, detail, created_at, updated_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
  session_id = excluded.session_id, provider = excluded.provider,
  status = excluded.status, task = excluded.task, step = excluded.step,
  done = excluded.done, success = excluded.success, run_dir = excluded.run_dir,
  error = excluded.error, detail = excluded.detail,
  updated_at = excluded.updated_at, completed_at = excluded.completed_at`,
		run.RunID, run.SessionID, run.Provider, run.Status, run.Task, run.Step,
		run.Done, run.Success, run.RunDir, run.Error, detail,
		unixTime{run.CreatedAt}, unixTime{run.UpdatedAt}, unixTime{run.CompletedAt},
	)
	if err != nil {
		return fmt.Errorf("sqlite: save run %s: %w", run.RunID, err)
	}
	return nil
}

const selectRuns = `SELECT run_id, session_id, provider, status, task, step, done, success,
  run_dir, error, detail, created_at, updated_at, completed_at FROM runs`

func scanRun(row interface{ Scan(...any) error }) (state.RunRecord, error) {
	var (
		run                         state.RunRecord
		detail                      jsonText[runDetail]
		created, updated, completed unixTime
	)
	err := row.Scan(&run.RunID, &run.SessionID, &run.Provider, &run.Status, &run.Task, &run.Step,
		&run.Done, &run.Success, &run.RunDir, &run.Error, &detail, &created, &updated, &completed)
	if err != nil {
		return state.RunRecord{}, err
	}
	d := detail.V
	run.ActionHistory = d.ActionHistory
	run.StepLogs = d.StepLogs
	run.Interrupt = d.Interrupt
	run.Usage = d.Usage
	run.Metadata = d.Metadata
	if run.ActionHistory == nil {
		run.ActionHistory = []string{}
	}
	if run.Metadata == nil {
		run.Metadata = map[string]any{}
	}
	run.CreatedAt, run.UpdatedAt, run.CompletedAt = created.T, updated.T, completed.T
	return run, nil
}

func (s *Store) LoadRun(ctx context.Context, runID string) (state.RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+" WHERE run_id = ?", runID))
	if errors.Is(err, sql.ErrNoRows) {
		return state.RunRecord{}, state.ErrNotFound
	}
	if err != nil {
		return state.RunRecord{}, fmt.Errorf("sqlite: load run %s: %w", runID, err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, query state.ListRunsQuery) ([]state.RunRecord, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	var (
		conds []string
		args  []any
	)
	for col, val := range map[string]string{
		"status":     query.Status,
		"provider":   query.Provider,
		"session_id": query.SessionID,
	} {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	stmt := selectRuns
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	stmt += " ORDER BY created_at DESC, run_id LIMIT ? OFFSET ?"
	args = append(args, limit, max(query.Offset, 0))

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	runs := []state.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveCheckpoint returns state.ErrConflict when the run already has a
// checkpoint with the same sequence number.
func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint state.CheckpointRecord) error {
	if checkpoint.RunID == "" {
		return errors.New("sqlite: run id is required")
	}
	if checkpoint.Seq < 0 {
		return fmt.Errorf("sqlite: negative checkpoint seq %d", checkpoint.Seq)
	}
	if checkpoint.CreatedAt.IsZero() {
		checkpoint.CreatedAt = time.Now().UTC()
	}
	if checkpoint.State == nil {
		checkpoint.State = map[string]any{}
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO checkpoints (run_id, seq, phase, state, created_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (run_id, seq) DO NOTHING`,
		checkpoint.RunID, checkpoint.Seq, checkpoint.NodeID,
		jsonText[map[string]any]{checkpoint.State}, unixTime{&checkpoint.CreatedAt},
	)
	if err != nil {
		return fmt.Errorf("sqlite: save checkpoint %s/%d: %w", checkpoint.RunID, checkpoint.Seq, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return state.ErrConflict
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
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, phase, state, created_at FROM checkpoints
WHERE run_id = ? ORDER BY seq DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list checkpoints %s: %w", runID, err)
	}
	defer rows.Close()

	out := []state.CheckpointRecord{}
	for rows.Next() {
		var (
			cp      = state.CheckpointRecord{RunID: runID}
			snap    jsonText[map[string]any]
			created unixTime
		)
		if err := rows.Scan(&cp.Seq, &cp.NodeID, &snap, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan checkpoint: %w", err)
		}
		cp.State = snap.V
		if created.T != nil {
			cp.CreatedAt = *created.T
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
