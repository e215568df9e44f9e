// Package prompt holds the planner prompts. A prompt is a pair of
// text/template sources, a system message and a per-round instruction,
// registered under a name and version and looked up by "name@version".
package prompt

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"text/template"
)

// Vars are the values a template can reference as {{.Task}}, {{.History}}
// and {{.Actions}}.
type Vars struct {
	Task    string
	History string
	Actions string
}

// Spec is the on-disk form of a prompt.
type Spec struct {
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version,omitempty" yaml:"version,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	System      string   `json:"system,omitempty" yaml:"system,omitempty"`
	Instruction string   `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Prompt is a compiled Spec.
type Prompt struct {
	Spec
	system      *template.Template
	instruction *template.Template
}

var identPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// Compile validates spec and parses its templates. A template that refers to
// anything other than the fields of Vars is rejected here rather than on
// first use.
func Compile(spec Spec) (*Prompt, error) {
	spec.Name = strings.ToLower(strings.TrimSpace(spec.Name))
	spec.Version = strings.ToLower(strings.TrimSpace(spec.Version))
	if spec.Version == "" {
		spec.Version = "v1"
	}
	spec.System = strings.TrimSpace(spec.System)
	spec.Instruction = strings.TrimSpace(spec.Instruction)
	switch {
	case !identPattern.MatchString(spec.Name):
		return nil, fmt.Errorf("prompt name %q must match %s", spec.Name, identPattern)
	case !identPattern.MatchString(spec.Version):
		return nil, fmt.Errorf("prompt %s: version %q must match %s", spec.Name, spec.Version, identPattern)
	case spec.System == "" && spec.Instruction == "":
		return nil, fmt.Errorf("prompt %s has neither system nor instruction text", spec.Name)
	}

	p := &Prompt{Spec: spec}
	var err error
	if p.system, err = parse(spec.Ref()+"/system", spec.System); err != nil {
		return nil, err
	}
	if p.instruction, err = parse(spec.Ref()+"/instruction", spec.Instruction); err != nil {
		return nil, err
	}
	if _, _, err := p.Render(Vars{}); err != nil {
		return nil, err
	}
	return p, nil
}

func parse(name, text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return t, nil
}

// Ref returns the "name@version" reference of s.
func (s Spec) Ref() string { return s.Name + "@" + s.Version }

// Render executes both templates. A template the prompt does not define
// renders as "".
func (p *Prompt) Render(vars Vars) (system, instruction string, err error) {
	if system, err = execute(p.system, vars); err != nil {
		return "", "", err
	}
	if instruction, err = execute(p.instruction, vars); err != nil {
		return "", "", err
	}
	return system, instruction, nil
}

func execute(t *template.Template, vars Vars) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Registry maps names to their registered versions. The zero value is not
// usable; call NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]*Prompt
}

func NewRegistry() *Registry {
	return &Registry{versions: map[string][]*Prompt{}}
}

// Register compiles spec and adds it, replacing a prompt with the same name
// and version.
func (r *Registry) Register(spec Spec) (*Prompt, error) {
	p, err := Compile(spec)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := slices.DeleteFunc(r.versions[p.Name], func(q *Prompt) bool { return q.Version == p.Version })
	list = append(list, p)
	slices.SortFunc(list, func(a, b *Prompt) int { return compareVersions(a.Version, b.Version) })
	r.versions[p.Name] = list
	return p, nil
}

// Resolve looks up "name@version", or the highest version for a bare name.
func (r *Registry) Resolve(ref string) (*Prompt, bool) {
	name, version, pinned := strings.Cut(strings.ToLower(strings.TrimSpace(ref)), "@")
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.versions[strings.TrimSpace(name)]
	if len(list) == 0 {
		return nil, false
	}
	if !pinned {
		return list[len(list)-1], true
	}
	i := slices.IndexFunc(list, func(p *Prompt) bool { return p.Version == strings.TrimSpace(version) })
	if i < 0 {
		return nil, false
	}
	return list[i], true
}

// List returns every registered prompt ordered by name, then version.
func (r *Registry) List() []*Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	slices.Sort(names)
	var out []*Prompt
	for _, name := range names {
		out = append(out, r.versions[name]...)
	}
	return out
}

// compareVersions orders "v2" before "v10" by comparing digit runs as
// numbers.
func compareVersions(a, b string) int {
	for a != "" && b != "" {
		ra, restA := leadingRun(a)
		rb, restB := leadingRun(b)
		na, errA := strconv.Atoi(ra)
		nb, errB := strconv.Atoi(rb)
		switch {
		case errA == nil && errB == nil && na != nb:
			return na - nb
		case errA != nil || errB != nil:
			if c := strings.Compare(ra, rb); c != 0 {
				return c
			}
		}
		a, b = restA, restB
	}
	return len(a) - len(b)
}

// leadingRun splits off the leading run of digits or non-digits.
func leadingRun(s string) (run, rest string) {
	isDigit := func(c byte) bool { return c >= '0' && c <= '9' }
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

var defaultRegistry = NewRegistry()

// Register adds spec to the process-wide registry the planners use.
func Register(spec Spec) (*Prompt, error) { return defaultRegistry.Register(spec) }

func Resolve(ref string) (*Prompt, bool) { return defaultRegistry.Resolve(ref) }

func List() []*Prompt { return defaultRegistry.List() }

// MustResolve is for built-in references known at compile time.
func MustResolve(ref string) *Prompt {
	p, ok := Resolve(ref)
	if !ok {
		panic(fmt.Sprintf("prompt %q is not registered", ref))
	}
	return p
}
