package prompt

// Built-in references used by the planners.
const (
	ComputerUseContext = "computer-use-context@v1"
	ComputerUseTools   = "computer-use-tools@v1"
)

var builtins = []Spec{
	{
		// Single user message for models with a native computer-use tool.
		// History is empty or "\nPrevious actions:\n- ...\n".
		Name:        "computer-use-context",
		Version:     "v1",
		Description: "Task, recent actions and screen marker for native computer-use models",
		Instruction: "Task: {{.Task}}\n{{.History}}\nCurrent screen:",
		Tags:        []string{"gemini"},
	},
	{
		// History is empty or "\n\nActions taken so far:\n1. ...".
		Name:        "computer-use-tools",
		Version:     "v1",
		Description: "Desktop control via function tools on a 0-999 grid",
		System: `You are controlling a computer via VNC (Virtual Network Computing).
You can see screenshots of the desktop and propose actions to accomplish tasks.

Current task: {{.Task}}

Available actions:
{{.Actions}}

Coordinates are normalized to a 0-999 grid. Convert screen positions proportionally.
When the task is complete, reply with a short summary and no tool calls.{{.History}}`,
		Instruction: "Here is the current screenshot. What action(s) should I take next to accomplish the task?",
		Tags:        []string{"anthropic", "openai", "ollama", "azureopenai"},
	},
}

func init() {
	for _, spec := range builtins {
		if _, err := Register(spec); err != nil {
			panic(err)
		}
	}
}
