package safety

import (
	"context"
	"regexp"
	"strings"

	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

// TaskInjection blocks tasks that try to override the planner's instructions.
type TaskInjection struct{}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?above\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(your\s+)?instructions`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)override\s+(all\s+)?safety`),
	regexp.MustCompile(`(?i)bypass\s+(all\s+)?restrictions`),
	regexp.MustCompile(`(?i)do\s+not\s+follow\s+(any\s+)?(safety|ethical|content)\s+(guidelines|rules|policies)`),
	regexp.MustCompile(`(?i)jailbreak`),
}

func (*TaskInjection) Name() string { return "task_injection" }

func (g *TaskInjection) CheckTask(_ context.Context, task string) (Result, error) {
	for _, pat := range injectionPatterns {
		if pat.MatchString(task) {
			return blockResult(g.Name(), "potential prompt injection in task: "+pat.String()), nil
		}
	}
	return passResult(g.Name()), nil
}

// KeyDenylist asks before sending chords that act on the whole session.
// Chords are compared after normalization, so "Control+Alt+Del" matches
// "ctrl-alt-delete".
type KeyDenylist struct {
	Chords []string
}

var defaultDeniedChords = []string{
	"ctrl-alt-delete",
	"ctrl-alt-backspace",
	"alt-f4",
	"ctrl-q",
	"super-l",
	"meta-l",
	"ctrl-alt-f1",
	"ctrl-alt-f2",
}

func (*KeyDenylist) Name() string { return "key_denylist" }

func (g *KeyDenylist) denied() map[string]struct{} {
	list := g.Chords
	if len(list) == 0 {
		list = defaultDeniedChords
	}
	out := make(map[string]struct{}, len(list))
	for _, c := range list {
		if key, ok := canonicalChord(c); ok {
			out[key] = struct{}{}
		}
	}
	return out
}

func canonicalChord(keys string) (string, bool) {
	keys = strings.ReplaceAll(strings.ToLower(keys), "+", "-")
	chord, err := desktop.ParseChord(keys)
	if err != nil {
		return "", false
	}
	return chord.String(), true
}

func (g *KeyDenylist) CheckCalls(_ context.Context, calls []types.ActionCall) (Result, error) {
	denied := g.denied()
	for _, call := range calls {
		if call.Name != "key_combination" {
			continue
		}
		keys, _ := call.Args["keys"].(string)
		key, ok := canonicalChord(keys)
		if !ok {
			continue
		}
		if _, hit := denied[key]; hit {
			return confirmResult(g.Name(), "system key chord "+key), nil
		}
	}
	return passResult(g.Name()), nil
}

// DestructiveText asks before typing commands that destroy data.
type DestructiveText struct {
	Patterns []*regexp.Regexp
}

var defaultDestructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
	regexp.MustCompile(`(?i)\b(shutdown|poweroff|halt)\b`),
	regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
	regexp.MustCompile(`(?i)\bdel\s+/[fsq]`),
	regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema)\b`),
	regexp.MustCompile(`(?i)\btruncate\s+table\b`),
	regexp.MustCompile(`\bchmod\s+-R\s+777\s+/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
}

func (*DestructiveText) Name() string { return "destructive_text" }

func (g *DestructiveText) patterns() []*regexp.Regexp {
	if len(g.Patterns) > 0 {
		return g.Patterns
	}
	return defaultDestructivePatterns
}

func (g *DestructiveText) CheckCalls(_ context.Context, calls []types.ActionCall) (Result, error) {
	for _, call := range calls {
		text, ok := typedText(call)
		if !ok {
			continue
		}
		for _, pat := range g.patterns() {
			if pat.MatchString(text) {
				return confirmResult(g.Name(), "destructive command in typed text: "+pat.FindString(text)), nil
			}
		}
	}
	return passResult(g.Name()), nil
}

// SecretText asks before typing something that looks like a credential.
type SecretText struct{}

var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"AWS key", regexp.MustCompile(`(AKIA|ABIA|ACCA|ASIA)[0-9A-Z]{16}`)},
	{"GitHub token", regexp.MustCompile(`(ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9_]{36,255}`)},
	{"private key", regexp.MustCompile(`-----BEGIN\s+(RSA|DSA|EC|OPENSSH|PGP|ENCRYPTED)?\s*PRIVATE KEY-----`)},
	{"JWT", regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`)},
	{"password assignment", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S{3,}`)},
	{"connection string", regexp.MustCompile(`(?i)(mongodb(\+srv)?|postgres(ql)?|mysql|redis|amqp)://[^:/?#\s]+:[^@/?#\s]+@`)},
}

func (*SecretText) Name() string { return "secret_text" }

func (g *SecretText) CheckCalls(_ context.Context, calls []types.ActionCall) (Result, error) {
	for _, call := range calls {
		text, ok := typedText(call)
		if !ok {
			continue
		}
		for _, sp := range secretPatterns {
			if sp.pattern.MatchString(text) {
				return confirmResult(g.Name(), sp.name+" in typed text"), nil
			}
		}
	}
	return passResult(g.Name()), nil
}

func typedText(call types.ActionCall) (string, bool) {
	if call.Name != "type_text_at" {
		return "", false
	}
	text, ok := call.Args["text"].(string)
	return text, ok && text != ""
}
