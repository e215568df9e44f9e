// Package recorder writes a directory of artifacts for every run: frames,
// metadata.json, action_history.txt, EXECUTION_REPORT.md and report.html.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/agent"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

const (
	metadataFile = "metadata.json"
	historyFile  = "action_history.txt"
	reportFile   = "EXECUTION_REPORT.md"
	htmlFile     = "report.html"
)

var ErrUnknownRun = errors.New("recorder: unknown run")

// FileRecorder implements agent.Recorder on the local filesystem.
type FileRecorder struct {
	baseDir string
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	runs map[string]*runArtifacts
}

type runArtifacts struct {
	dir       string
	task      string
	startedAt time.Time
	steps     []stepEntry
	errors    []errorEntry
	frames    int
}

type stepEntry struct {
	Step      int            `json:"step"`
	Function  string         `json:"function"`
	Args      map[string]any `json:"args"`
	Result    string         `json:"result"`
	Success   bool           `json:"success"`
	FrameRef  string         `json:"frame,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	log types.StepLog
}

type errorEntry struct {
	Step      int       `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type Option func(*FileRecorder)

func WithLogger(l *zap.Logger) Option {
	return func(r *FileRecorder) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *FileRecorder) {
		if now != nil {
			r.now = now
		}
	}
}

func New(baseDir string, opts ...Option) *FileRecorder {
	if strings.TrimSpace(baseDir) == "" {
		baseDir = "runs"
	}
	r := &FileRecorder{
		baseDir: baseDir,
		logger:  zap.NewNop(),
		now:     time.Now,
		runs:    make(map[string]*runArtifacts),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("recorder")
	return r
}

func (r *FileRecorder) BaseDir() string { return r.baseDir }

// DirName is the run directory name: UTC start time plus the first eight
// characters of the run ID.
func DirName(runID string, startedAt time.Time) string {
	return startedAt.UTC().Format("20060102_150405") + "_" + shortID(runID)
}

func shortID(runID string) string {
	id := strings.ReplaceAll(runID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

func (r *FileRecorder) StartRun(_ context.Context, runID, task string, startedAt time.Time) (string, error) {
	dir := filepath.Join(r.baseDir, DirName(runID, startedAt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	r.mu.Lock()
	r.runs[runID] = &runArtifacts{dir: dir, task: task, startedAt: startedAt}
	r.mu.Unlock()
	r.logger.Info("run directory created", zap.String("run_id", runID), zap.String("dir", dir))
	return dir, nil
}

// run returns the artifacts for runID. A run started by another process is
// found again by its directory suffix.
func (r *FileRecorder) run(runID string) (*runArtifacts, error) {
	if ra, ok := r.runs[runID]; ok {
		return ra, nil
	}
	dir, err := r.FindRun(runID)
	if err != nil {
		return nil, err
	}
	ra := &runArtifacts{dir: dir}
	if meta, err := ReadMetadata(ra.dir); err == nil {
		ra.task = meta.Task
		ra.startedAt = meta.StartTime
	}
	r.runs[runID] = ra
	return ra, nil
}

// FindRun returns the newest directory under the base dir that belongs to
// runID.
func (r *FileRecorder) FindRun(runID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(r.baseDir, "*_"+shortID(runID)))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return matches[len(matches)-1], nil
}

// SaveFrame writes step_NNN_<label>.png and returns the file name relative to
// the run directory. A second frame for the same step and label gets a
// numeric suffix.
func (r *FileRecorder) SaveFrame(runID string, step int, label agent.FrameLabel, frame []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ra, err := r.run(runID)
	if err != nil {
		return "", err
	}
	base := fmt.Sprintf("step_%03d_%s", step, label)
	name := base + ".png"
	for i := 2; fileExists(filepath.Join(ra.dir, name)); i++ {
		name = fmt.Sprintf("%s_%d.png", base, i)
	}
	if err := os.WriteFile(filepath.Join(ra.dir, name), frame, 0o644); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	ra.frames++
	r.logger.Debug("frame saved", zap.String("run_id", runID), zap.String("file", name))
	return name, nil
}

func (r *FileRecorder) RecordStep(runID string, log types.StepLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ra, err := r.run(runID)
	if err != nil {
		return err
	}
	ra.steps = append(ra.steps, stepEntry{
		Step:      log.Step,
		Function:  log.Executed.Name,
		Args:      log.Executed.Args,
		Result:    log.Result,
		Success:   log.Result == "Success",
		FrameRef:  log.FrameRef,
		Timestamp: log.Timestamp,
		log:       log,
	})
	return nil
}

func (r *FileRecorder) RecordError(runID string, step int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ra, err := r.run(runID)
	if err != nil {
		return err
	}
	ra.errors = append(ra.errors, errorEntry{Step: step, Error: message, Timestamp: r.now()})
	return nil
}

// FinishRun writes metadata.json, action_history.txt (when there is history)
// and the markdown and HTML reports (when any action ran).
func (r *FileRecorder) FinishRun(result types.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ra, err := r.run(result.RunID)
	if err != nil {
		return err
	}
	end := r.now()
	if result.CompletedAt != nil {
		end = *result.CompletedAt
	}
	if ra.startedAt.IsZero() && result.StartedAt != nil {
		ra.startedAt = *result.StartedAt
	}
	if ra.task == "" {
		ra.task = result.Task
	}

	meta := Metadata{
		RunID:     result.RunID,
		Task:      ra.task,
		Provider:  result.Provider,
		StartTime: ra.startedAt,
		EndTime:   end,
		Done:      result.Done,
		Success:   result.Success,
		Steps:     ra.steps,
		Errors:    ra.errors,
		Usage:     result.Usage,
		FinalState: FinalState{
			Step:  result.Steps,
			Done:  result.Done,
			Error: result.Error,
		},
	}
	if err := writeJSON(filepath.Join(ra.dir, metadataFile), meta); err != nil {
		return err
	}

	if len(result.ActionHistory) > 0 {
		if err := os.WriteFile(filepath.Join(ra.dir, historyFile), []byte(renderHistory(ra.task, result.ActionHistory)), 0o644); err != nil {
			return fmt.Errorf("write action history: %w", err)
		}
	}

	if len(result.StepLogs) > 0 {
		report := renderReport(filepath.Base(ra.dir), meta, result.StepLogs)
		if err := os.WriteFile(filepath.Join(ra.dir, reportFile), []byte(report), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		page, err := renderHTML("Run "+result.RunID, report)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(ra.dir, htmlFile), page, 0o644); err != nil {
			return fmt.Errorf("write html report: %w", err)
		}
	}

	delete(r.runs, result.RunID)
	r.logger.Info("run finalized",
		zap.String("run_id", result.RunID),
		zap.String("dir", ra.dir),
		zap.Bool("success", result.Success))
	return nil
}

// Metadata is the content of metadata.json.
type Metadata struct {
	RunID      string       `json:"run_id"`
	Task       string       `json:"task"`
	Provider   string       `json:"provider,omitempty"`
	StartTime  time.Time    `json:"start_time"`
	EndTime    time.Time    `json:"end_time"`
	Done       bool         `json:"done"`
	Success    bool         `json:"success"`
	Steps      []stepEntry  `json:"steps"`
	Errors     []errorEntry `json:"errors,omitempty"`
	Usage      *types.Usage `json:"usage,omitempty"`
	FinalState FinalState   `json:"final_state"`
}

type FinalState struct {
	Step  int    `json:"step"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func ReadMetadata(dir string) (Metadata, error) {
	var meta Metadata
	raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// ListRuns returns the run directories under the base dir, newest first.
func (r *FileRecorder) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsDir() {
			out = append(out, filepath.Join(r.baseDir, entries[i].Name()))
		}
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
