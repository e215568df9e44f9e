// Package planner defines the capability every planning provider implements
// and the helpers they share: history windowing, tool schemas and the
// refusal heuristic.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PipeOpsHQ/vnc-use-go/types"
)

var ErrUnknownProvider = errors.New("unknown planner provider")

type Capabilities struct {
	// NativeSafety is true when the model reports its own safety decision.
	NativeSafety bool
	// NativeComputerUse is true when the model has a built-in computer-use tool.
	NativeComputerUse bool
}

// Planner proposes the next actions for a task given the recent history and
// the current frame. It must not mutate req and returns an empty call list
// when it judges the task complete.
type Planner interface {
	Name() string
	Capabilities() Capabilities
	Propose(ctx context.Context, req types.ProposeRequest) (types.Proposal, error)
}

// Provider is the closed set of supported planning backends.
type Provider string

const (
	ProviderGemini      Provider = "gemini"
	ProviderAnthropic   Provider = "anthropic"
	ProviderOpenAI      Provider = "openai"
	ProviderOllama      Provider = "ollama"
	ProviderAzureOpenAI Provider = "azureopenai"
)

func Providers() []Provider {
	return []Provider{ProviderGemini, ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderAzureOpenAI}
}

// ParseProvider validates a provider name. Matching is case-insensitive and
// accepts "azure" and "claude" as aliases.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gemini", "google":
		return ProviderGemini, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "openai":
		return ProviderOpenAI, nil
	case "ollama":
		return ProviderOllama, nil
	case "azureopenai", "azure", "azure-openai":
		return ProviderAzureOpenAI, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// Defaults shared by the providers.
const (
	DefaultMaxFrameWidth = 512
	DefaultHistoryWindow = 10
)

// DefaultExcludedActions are left out of the tool set unless configured
// otherwise; they assume a browser the VNC desktop does not have.
var DefaultExcludedActions = []string{"open_web_browser", "navigate", "go_back", "go_forward", "search"}
