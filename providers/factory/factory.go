// Package factory builds a planner from a validated provider name.
package factory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/planner"
	anthropicprov "github.com/PipeOpsHQ/vnc-use-go/providers/anthropic"
	azureopenaiprov "github.com/PipeOpsHQ/vnc-use-go/providers/azureopenai"
	geminiprov "github.com/PipeOpsHQ/vnc-use-go/providers/gemini"
	ollamaprov "github.com/PipeOpsHQ/vnc-use-go/providers/ollama"
	openaiprov "github.com/PipeOpsHQ/vnc-use-go/providers/openai"
)

// Config selects and configures one planner. Empty fields fall back to the
// provider's conventional environment variables, then to its defaults.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string

	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string

	// ExcludedActions replaces the default exclusion list when non-nil.
	ExcludedActions []string
	IncludeThoughts bool
	Logger          *zap.Logger
}

func New(ctx context.Context, cfg Config) (planner.Planner, error) {
	provider, err := planner.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	excluded := cfg.ExcludedActions

	switch provider {
	case planner.ProviderGemini:
		key := firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY or GOOGLE_API_KEY is required when provider=gemini")
		}
		opts := []geminiprov.Option{geminiprov.WithLogger(logger), geminiprov.WithThoughts(cfg.IncludeThoughts)}
		if model := firstNonEmpty(cfg.Model, os.Getenv("GEMINI_MODEL")); model != "" {
			opts = append(opts, geminiprov.WithModel(model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, geminiprov.WithBaseURL(cfg.BaseURL))
		}
		if excluded != nil {
			opts = append(opts, geminiprov.WithExcludedActions(excluded))
		}
		return geminiprov.New(ctx, key, opts...)

	case planner.ProviderAnthropic:
		key := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when provider=anthropic")
		}
		opts := []anthropicprov.Option{anthropicprov.WithLogger(logger)}
		if model := firstNonEmpty(cfg.Model, os.Getenv("ANTHROPIC_MODEL")); model != "" {
			opts = append(opts, anthropicprov.WithModel(model))
		}
		if baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("ANTHROPIC_BASE_URL")); baseURL != "" {
			opts = append(opts, anthropicprov.WithBaseURL(baseURL))
		}
		if excluded != nil {
			opts = append(opts, anthropicprov.WithExcludedActions(excluded))
		}
		return anthropicprov.New(key, opts...)

	case planner.ProviderOpenAI:
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when provider=openai")
		}
		opts := []openaiprov.Option{openaiprov.WithLogger(logger)}
		if model := firstNonEmpty(cfg.Model, os.Getenv("OPENAI_MODEL")); model != "" {
			opts = append(opts, openaiprov.WithModel(model))
		}
		if baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(baseURL))
		}
		if excluded != nil {
			opts = append(opts, openaiprov.WithExcludedActions(excluded))
		}
		return openaiprov.New(key, opts...)

	case planner.ProviderOllama:
		opts := []ollamaprov.Option{ollamaprov.WithLogger(logger)}
		if model := firstNonEmpty(cfg.Model, os.Getenv("OLLAMA_MODEL")); model != "" {
			opts = append(opts, ollamaprov.WithModel(model))
		}
		if baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OLLAMA_BASE_URL")); baseURL != "" {
			opts = append(opts, ollamaprov.WithBaseURL(baseURL))
		}
		if key := firstNonEmpty(cfg.APIKey, os.Getenv("OLLAMA_API_KEY")); key != "" {
			opts = append(opts, ollamaprov.WithAPIKey(key))
		}
		if excluded != nil {
			opts = append(opts, ollamaprov.WithExcludedActions(excluded))
		}
		return ollamaprov.New(opts...)

	case planner.ProviderAzureOpenAI:
		key := firstNonEmpty(cfg.APIKey, os.Getenv("AZURE_OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_API_KEY is required when provider=azureopenai")
		}
		endpoint := firstNonEmpty(cfg.AzureEndpoint, cfg.BaseURL, os.Getenv("AZURE_OPENAI_ENDPOINT"))
		if endpoint == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_ENDPOINT is required when provider=azureopenai")
		}
		deployment := firstNonEmpty(cfg.AzureDeployment, os.Getenv("AZURE_OPENAI_DEPLOYMENT"))
		if deployment == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_DEPLOYMENT is required when provider=azureopenai")
		}
		opts := []azureopenaiprov.Option{
			azureopenaiprov.WithLogger(logger),
			azureopenaiprov.WithEndpoint(endpoint),
			azureopenaiprov.WithDeployment(deployment),
		}
		if model := firstNonEmpty(cfg.Model, os.Getenv("AZURE_OPENAI_MODEL")); model != "" {
			opts = append(opts, azureopenaiprov.WithModel(model))
		}
		if v := firstNonEmpty(cfg.AzureAPIVersion, os.Getenv("AZURE_OPENAI_API_VERSION")); v != "" {
			opts = append(opts, azureopenaiprov.WithAPIVersion(v))
		}
		if excluded != nil {
			opts = append(opts, azureopenaiprov.WithExcludedActions(excluded))
		}
		return azureopenaiprov.New(key, opts...)
	}

	return nil, fmt.Errorf("%w: %q", planner.ErrUnknownProvider, cfg.Provider)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
