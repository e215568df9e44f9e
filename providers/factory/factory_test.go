package factory

import (
	"context"
	"errors"
	"testing"

	"github.com/PipeOpsHQ/vnc-use-go/planner"
	azureopenaiprov "github.com/PipeOpsHQ/vnc-use-go/providers/azureopenai"
)

func modelOf(p planner.Planner) string {
	if m, ok := p.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

func TestNew_OpenAIFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")

	p, err := New(context.Background(), Config{Provider: "openai"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if p.Name() != "openai" || modelOf(p) != "gpt-4o-mini" {
		t.Fatalf("unexpected planner %s/%s", p.Name(), modelOf(p))
	}
}

func TestNew_ExplicitBeatsEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("ANTHROPIC_MODEL", "env-model")

	p, err := New(context.Background(), Config{Provider: "Claude", Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if p.Name() != "anthropic" || modelOf(p) != "claude-sonnet-4-5" {
		t.Fatalf("unexpected planner %s/%s", p.Name(), modelOf(p))
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "unknown-provider"})
	if !errors.Is(err, planner.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestNew_OllamaNeedsNoKey(t *testing.T) {
	t.Setenv("OLLAMA_API_KEY", "")
	p, err := New(context.Background(), Config{Provider: "ollama", Model: "llava:13b"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if p.Name() != "ollama" || modelOf(p) != "llava:13b" {
		t.Fatalf("unexpected planner %s/%s", p.Name(), modelOf(p))
	}
}

func TestNew_MissingKeys(t *testing.T) {
	for _, name := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "AZURE_OPENAI_API_KEY"} {
		t.Setenv(name, "")
	}
	for _, provider := range []string{"openai", "anthropic", "gemini", "azureopenai"} {
		if _, err := New(context.Background(), Config{Provider: provider}); err == nil {
			t.Fatalf("expected missing key error for %s", provider)
		}
	}
}

func TestNew_AzureOpenAI(t *testing.T) {
	t.Setenv("AZURE_OPENAI_API_KEY", "test-azure-key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example-resource.openai.azure.com")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o-computer")

	p, err := New(context.Background(), Config{Provider: "azure"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	az, ok := p.(*azureopenaiprov.Client)
	if !ok {
		t.Fatalf("expected azure client, got %T", p)
	}
	if az.Deployment() != "gpt-4o-computer" || modelOf(p) != "gpt-4o-computer" {
		t.Fatalf("unexpected deployment/model %s/%s", az.Deployment(), modelOf(p))
	}

	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "")
	if _, err := New(context.Background(), Config{Provider: "azureopenai"}); err == nil {
		t.Fatal("expected missing deployment error")
	}
}
