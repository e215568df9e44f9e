package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestContextPromptHistory(t *testing.T) {
	p := MustResolve(ComputerUseContext)
	tests := []struct {
		history string
		want    string
	}{
		{"", "Task: open files\n\nCurrent screen:"},
		{
			"\nPrevious actions:\n- Executed click_at(x=1, y=2) - Success\n",
			"Task: open files\n\nPrevious actions:\n- Executed click_at(x=1, y=2) - Success\n\nCurrent screen:",
		},
	}
	for _, tt := range tests {
		system, got, err := p.Render(Vars{Task: "open files", History: tt.history})
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if system != "" || got != tt.want {
			t.Fatalf("got system=%q instruction=%q, want %q", system, got, tt.want)
		}
	}
}

func TestToolsPromptMentionsActions(t *testing.T) {
	system, instruction, err := MustResolve(ComputerUseTools).Render(Vars{Task: "log in", Actions: "- click_at: click"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(system, "Current task: log in") || !strings.Contains(system, "- click_at: click") {
		t.Fatalf("unexpected system prompt %q", system)
	}
	if !strings.HasPrefix(instruction, "Here is the current screenshot") {
		t.Fatalf("unexpected instruction %q", instruction)
	}
}

func TestCompileRejects(t *testing.T) {
	tests := map[string]Spec{
		"no text":         {Name: "empty"},
		"bad name":        {Name: "bad name", System: "x"},
		"bad version":     {Name: "ok", Version: "v 2", System: "x"},
		"syntax":          {Name: "ok", System: "{{.Task"},
		"unknown field":   {Name: "ok", Instruction: "{{.Screen}}"},
		"unknown command": {Name: "ok", Instruction: "{{shout .Task}}"},
	}
	for name, spec := range tests {
		if _, err := Compile(spec); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRegistryVersions(t *testing.T) {
	r := NewRegistry()
	for _, spec := range []Spec{
		{Name: "x", Version: "v2", System: "two"},
		{Name: "X", Version: "V10", System: "ten"},
		{Name: "x", System: "one"},
	} {
		if _, err := r.Register(spec); err != nil {
			t.Fatalf("register %s: %v", spec.Version, err)
		}
	}
	if p, ok := r.Resolve("x"); !ok || p.System != "ten" {
		t.Fatalf("expected v10 as latest, got %+v", p)
	}
	if p, ok := r.Resolve(" X@v1 "); !ok || p.System != "one" {
		t.Fatalf("expected v1, got %+v", p)
	}
	if _, ok := r.Resolve("x@v3"); ok {
		t.Fatal("v3 was never registered")
	}
	if _, err := r.Register(Spec{Name: "x", Version: "v2", System: "two again"}); err != nil {
		t.Fatal(err)
	}
	var refs []string
	for _, p := range r.List() {
		refs = append(refs, p.Ref())
	}
	if got := strings.Join(refs, ","); got != "x@v1,x@v2,x@v10" {
		t.Fatalf("unexpected list %s", got)
	}
}

func TestCompareVersions(t *testing.T) {
	ordered := []string{"v1", "v1.5", "v2", "v10", "v10-beta", "w1"}
	for i := 1; i < len(ordered); i++ {
		if compareVersions(ordered[i-1], ordered[i]) >= 0 {
			t.Fatalf("expected %s < %s", ordered[i-1], ordered[i])
		}
	}
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"multi.yaml": {Data: []byte("name: a\ninstruction: \"A {{.Task}}\"\n---\nname: b\nversion: v3\nsystem: B\n")},
		"nested/solo.json": {Data: []byte(`{"system":"be brief"}`)},
		"notes.txt":        {Data: []byte("ignored")},
	}
	r := NewRegistry()
	n, err := r.LoadFS(fsys)
	if err != nil || n != 3 {
		t.Fatalf("loaded %d, err=%v", n, err)
	}
	if _, ok := r.Resolve("b@v3"); !ok {
		t.Fatal("second yaml document missing")
	}
	if _, ok := r.Resolve("solo"); !ok {
		t.Fatal("json prompt should be named after its file")
	}
	_, out, _ := mustGet(t, r, "a").Render(Vars{Task: "x"})
	if out != "A x" {
		t.Fatalf("unexpected render %q", out)
	}

	bad := fstest.MapFS{"bad.yaml": {Data: []byte("name: broken\nsystem: \"{{.Nope}}\"\n")}}
	if _, err := NewRegistry().LoadFS(bad); err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Fatalf("expected error naming the file, got %v", err)
	}
}

func mustGet(t *testing.T, r *Registry, ref string) *Prompt {
	t.Helper()
	p, ok := r.Resolve(ref)
	if !ok {
		t.Fatalf("%s not registered", ref)
	}
	return p
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "override.yml"), []byte("name: load-dir-test\nversion: v9\ninstruction: \"Goal: {{.Task}}\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if n, err := LoadDir(dir); err != nil || n != 1 {
		t.Fatalf("loaded %d, err=%v", n, err)
	}
	if _, ok := Resolve("load-dir-test@v9"); !ok {
		t.Fatal("expected prompt in the default registry")
	}
	if n, err := LoadDir(filepath.Join(dir, "missing")); err != nil || n != 0 {
		t.Fatalf("missing dir: n=%d err=%v", n, err)
	}
}
