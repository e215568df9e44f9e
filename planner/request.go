package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/vnc-use-go/internal/imageutil"
	"github.com/PipeOpsHQ/vnc-use-go/prompt"
)

// Settings are the knobs every provider shares.
type Settings struct {
	Model           string
	ExcludedActions []string
	MaxFrameWidth   int
	HistoryWindow   int
	// PromptRef overrides the built-in prompt, e.g. "computer-use-tools@v2".
	PromptRef string
}

// Normalize fills unset fields with the package defaults. A nil
// ExcludedActions means DefaultExcludedActions; an empty non-nil slice
// excludes nothing.
func (s Settings) Normalize(defaultModel, defaultPrompt string) Settings {
	out := s
	if strings.TrimSpace(out.Model) == "" {
		out.Model = defaultModel
	}
	if out.ExcludedActions == nil {
		out.ExcludedActions = append([]string(nil), DefaultExcludedActions...)
	}
	if out.MaxFrameWidth <= 0 {
		out.MaxFrameWidth = DefaultMaxFrameWidth
	}
	if out.HistoryWindow <= 0 {
		out.HistoryWindow = DefaultHistoryWindow
	}
	if strings.TrimSpace(out.PromptRef) == "" {
		out.PromptRef = defaultPrompt
	}
	return out
}

// PrepareFrame downscales a frame for upload.
func PrepareFrame(frame []byte, maxWidth int) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("frame is empty")
	}
	out, err := imageutil.Downscale(frame, maxWidth)
	if err != nil {
		return nil, fmt.Errorf("prepare frame: %w", err)
	}
	return out, nil
}

// ToolPrompt is the rendered text of a function-calling prompt.
type ToolPrompt struct {
	System      string
	Instruction string
}

// RenderToolPrompt renders the function-calling prompt for one round. The
// history is windowed before it is numbered.
func RenderToolPrompt(s Settings, task string, history []string, tools []ToolDefinition) (ToolPrompt, error) {
	p, ok := prompt.Resolve(s.PromptRef)
	if !ok {
		return ToolPrompt{}, fmt.Errorf("prompt %q not registered", s.PromptRef)
	}
	system, instruction, err := p.Render(prompt.Vars{
		Task:    task,
		Actions: DescribeTools(tools),
		History: NumberedHistory(HistoryWindow(history, s.HistoryWindow)),
	})
	if err != nil {
		return ToolPrompt{}, err
	}
	return ToolPrompt{System: system, Instruction: instruction}, nil
}

// RenderContextPrompt renders the single user message used by models with a
// native computer-use tool.
func RenderContextPrompt(s Settings, task string, history []string) (string, error) {
	p, ok := prompt.Resolve(s.PromptRef)
	if !ok {
		return "", fmt.Errorf("prompt %q not registered", s.PromptRef)
	}
	_, instruction, err := p.Render(prompt.Vars{
		Task:    task,
		History: BulletHistory(HistoryWindow(history, s.HistoryWindow)),
	})
	return instruction, err
}

// DecodeArgs parses a JSON object of tool arguments. Malformed input is kept
// under "raw" so the executor reports it as an argument error.
func DecodeArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{"raw": raw}
	}
	return out
}
