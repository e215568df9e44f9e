package planner

import (
	"errors"
	"strings"
	"testing"
)

func TestParseProvider(t *testing.T) {
	cases := map[string]Provider{
		"gemini":      ProviderGemini,
		" Anthropic ": ProviderAnthropic,
		"claude":      ProviderAnthropic,
		"openai":      ProviderOpenAI,
		"ollama":      ProviderOllama,
		"azure":       ProviderAzureOpenAI,
	}
	for in, want := range cases {
		got, err := ParseProvider(in)
		if err != nil {
			t.Fatalf("ParseProvider(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseProvider(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseProvider("mystery"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestHistoryWindowCopiesTail(t *testing.T) {
	history := []string{"a", "b", "c", "d"}
	got := HistoryWindow(history, 2)
	if len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Fatalf("unexpected window %v", got)
	}
	got[0] = "mutated"
	if history[2] != "c" {
		t.Fatal("window must not alias the input")
	}
	if HistoryWindow(history, 0) != nil {
		t.Fatal("expected nil window for n=0")
	}
	if len(HistoryWindow(history, 10)) != 4 {
		t.Fatal("expected full history when shorter than window")
	}
}

func TestHistoryRendering(t *testing.T) {
	if BulletHistory(nil) != "" || NumberedHistory(nil) != "" {
		t.Fatal("expected empty renderings for empty history")
	}
	if got := BulletHistory([]string{"x"}); got != "\nPrevious actions:\n- x\n" {
		t.Fatalf("unexpected bullet history %q", got)
	}
	if got := NumberedHistory([]string{"x", "y"}); got != "\n\nActions taken so far:\n1. x\n2. y" {
		t.Fatalf("unexpected numbered history %q", got)
	}
}

func TestDetectRefusal(t *testing.T) {
	v := DetectRefusal("Sorry, I can't help with deleting system files.", 0)
	if v == nil || v.Action != "block" {
		t.Fatalf("expected block verdict, got %+v", v)
	}
	if !strings.HasPrefix(v.Reason, "Model refused: Sorry") {
		t.Fatalf("unexpected reason %q", v.Reason)
	}
	if DetectRefusal("I can't see the button, clicking anyway", 1) != nil {
		t.Fatal("refusal heuristic must not fire when calls were proposed")
	}
	for _, text := range []string{"I can\u2019t do that.", "I won\u2019t open it", "I shouldn\u2019t proceed"} {
		if DetectRefusal(text, 0) == nil {
			t.Fatalf("typographic apostrophe should still match: %q", text)
		}
	}
	if DetectRefusal("The task is complete.", 0) != nil {
		t.Fatal("completion text is not a refusal")
	}
	long := "I won't " + strings.Repeat("x", 500)
	v = DetectRefusal(long, 0)
	if got := len(strings.TrimPrefix(v.Reason, "Model refused: ")); got != 200 {
		t.Fatalf("expected reason truncated to 200 chars, got %d", got)
	}
}

func TestToolsExcludesAndReflects(t *testing.T) {
	defs, err := Tools(DefaultExcludedActions)
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	names := map[string]ToolDefinition{}
	for _, d := range defs {
		names[d.Name] = d
	}
	for _, excluded := range DefaultExcludedActions {
		if _, ok := names[excluded]; ok {
			t.Fatalf("expected %s to be excluded", excluded)
		}
	}
	click, ok := names["click_at"]
	if !ok {
		t.Fatal("expected click_at tool")
	}
	props, _ := click.JSONSchema["properties"].(map[string]any)
	if _, ok := props["x"]; !ok {
		t.Fatalf("expected x property, got %v", click.JSONSchema)
	}
	if _, ok := click.JSONSchema["$schema"]; ok {
		t.Fatal("expected $schema to be stripped")
	}
	typeText := names["type_text_at"]
	required, _ := typeText.JSONSchema["required"].([]any)
	for _, r := range required {
		if r == "press_enter" || r == "clear_before_typing" {
			t.Fatalf("optional field %v marked required", r)
		}
	}
	wait := names["wait_5_seconds"]
	if wait.JSONSchema["type"] != "object" {
		t.Fatalf("expected object schema for wait, got %v", wait.JSONSchema)
	}
	if len(ToolNames(DefaultExcludedActions)) != len(defs) {
		t.Fatal("ToolNames and Tools disagree")
	}
}

func TestDescribeTools(t *testing.T) {
	got := DescribeTools([]ToolDefinition{{Name: "a", Description: "do a"}, {Name: "b", Description: "do b"}})
	if got != "- a: do a\n- b: do b" {
		t.Fatalf("unexpected description %q", got)
	}
}
