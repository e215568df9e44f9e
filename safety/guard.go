package safety

import (
	"context"
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// Result is returned by a guard check.
type Result struct {
	Triggered bool   `json:"triggered"`
	Level     Level  `json:"level,omitempty"`
	Name      string `json:"name"`
	Message   string `json:"message,omitempty"`
}

// TaskGuard inspects the task text before the first round.
type TaskGuard interface {
	Name() string
	CheckTask(ctx context.Context, task string) (Result, error)
}

// ActionGuard inspects each round's proposed calls before they run.
type ActionGuard interface {
	Name() string
	CheckCalls(ctx context.Context, calls []types.ActionCall) (Result, error)
}

// Pipeline runs guards in registration order and keeps the strongest result.
type Pipeline struct {
	taskGuards   []TaskGuard
	actionGuards []ActionGuard
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// DefaultPipeline carries the built-in guards with their default settings.
func DefaultPipeline() *Pipeline {
	return NewPipeline().
		AddTask(&TaskInjection{}).
		AddAction(&KeyDenylist{}).
		AddAction(&DestructiveText{}).
		AddAction(&SecretText{})
}

func (p *Pipeline) AddTask(g TaskGuard) *Pipeline {
	p.taskGuards = append(p.taskGuards, g)
	return p
}

func (p *Pipeline) AddAction(g ActionGuard) *Pipeline {
	p.actionGuards = append(p.actionGuards, g)
	return p
}

// CheckTask returns the verdict of the task guards, or nil when none fired.
func (p *Pipeline) CheckTask(ctx context.Context, task string) (*types.SafetyVerdict, []Result, error) {
	if p == nil {
		return nil, nil, nil
	}
	var fired []Result
	for _, g := range p.taskGuards {
		res, err := g.CheckTask(ctx, task)
		if err != nil {
			return nil, nil, fmt.Errorf("guard %q failed: %w", g.Name(), err)
		}
		if res.Triggered {
			fired = append(fired, res)
		}
	}
	return verdictFrom(fired), fired, nil
}

// CheckCalls returns the verdict of the action guards, or nil when none fired.
func (p *Pipeline) CheckCalls(ctx context.Context, calls []types.ActionCall) (*types.SafetyVerdict, []Result, error) {
	if p == nil {
		return nil, nil, nil
	}
	var fired []Result
	for _, g := range p.actionGuards {
		res, err := g.CheckCalls(ctx, calls)
		if err != nil {
			return nil, nil, fmt.Errorf("guard %q failed: %w", g.Name(), err)
		}
		if res.Triggered {
			fired = append(fired, res)
		}
	}
	return verdictFrom(fired), fired, nil
}

func (p *Pipeline) Empty() bool {
	return p == nil || (len(p.taskGuards) == 0 && len(p.actionGuards) == 0)
}

func verdictFrom(results []Result) *types.SafetyVerdict {
	var strongest *Result
	for i := range results {
		if strongest == nil || results[i].Level > strongest.Level {
			strongest = &results[i]
		}
	}
	if strongest == nil || strongest.Level == LevelProceed {
		return nil
	}
	action := types.VerdictRequireConfirmation
	if strongest.Level == LevelBlock {
		action = types.VerdictBlock
	}
	return &types.SafetyVerdict{Action: action, Reason: fmt.Sprintf("%s: %s", strongest.Name, strongest.Message)}
}

func blockResult(name, message string) Result {
	return Result{Triggered: true, Level: LevelBlock, Name: name, Message: message}
}

func confirmResult(name, message string) Result {
	return Result{Triggered: true, Level: LevelConfirm, Name: name, Message: message}
}

func passResult(name string) Result {
	return Result{Name: name}
}

// Summary returns a human-readable summary of guard results.
func Summary(results []Result) string {
	if len(results) == 0 {
		return "all guards passed"
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Triggered {
			parts = append(parts, fmt.Sprintf("[%s] %s: %s", r.Level, r.Name, r.Message))
		}
	}
	return strings.Join(parts, "; ")
}

func (l Level) String() string {
	switch l {
	case LevelBlock:
		return "block"
	case LevelConfirm:
		return "confirm"
	default:
		return "proceed"
	}
}

// CatalogEntry describes a guard for discovery.
type CatalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Scope       string `json:"scope"`
	Level       string `json:"level"`
}

func BuiltinCatalog() []CatalogEntry {
	return []CatalogEntry{
		{Name: "task_injection", Description: "Blocks tasks that carry prompt-injection phrasing", Scope: "task", Level: LevelBlock.String()},
		{Name: "key_denylist", Description: "Asks before sending system-level key chords", Scope: "action", Level: LevelConfirm.String()},
		{Name: "destructive_text", Description: "Asks before typing destructive shell or SQL commands", Scope: "action", Level: LevelConfirm.String()},
		{Name: "secret_text", Description: "Asks before typing text that looks like a credential", Scope: "action", Level: LevelConfirm.String()},
	}
}
