package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// ToolDefinition describes one desktop action as a function tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	JSONSchema  map[string]any `json:"parameters,omitempty"`
}

type pointArgs struct {
	X int `json:"x" jsonschema:"description=X coordinate (0-999 normalized),minimum=0,maximum=999"`
	Y int `json:"y" jsonschema:"description=Y coordinate (0-999 normalized),minimum=0,maximum=999"`
}

type typeTextArgs struct {
	X                 int    `json:"x" jsonschema:"description=X coordinate to click before typing (0-999 normalized),minimum=0,maximum=999"`
	Y                 int    `json:"y" jsonschema:"description=Y coordinate to click before typing (0-999 normalized),minimum=0,maximum=999"`
	Text              string `json:"text" jsonschema:"description=Text to type"`
	PressEnter        bool   `json:"press_enter,omitempty" jsonschema:"description=Whether to press Enter after typing,default=false"`
	ClearBeforeTyping bool   `json:"clear_before_typing,omitempty" jsonschema:"description=Whether to clear existing text (Ctrl+A then Delete) before typing,default=false"`
}

type keyCombinationArgs struct {
	Keys string `json:"keys" jsonschema:"description=Key combination string such as 'control+c' or 'alt+f4'"`
}

type scrollDocumentArgs struct {
	Direction string `json:"direction" jsonschema:"description=Direction to scroll,enum=up,enum=down,enum=left,enum=right"`
	Magnitude int    `json:"magnitude,omitempty" jsonschema:"description=Scroll magnitude in pixels (approximate; implemented via key repeats),default=800"`
}

type scrollAtArgs struct {
	X         int    `json:"x" jsonschema:"description=X coordinate to scroll at (0-999 normalized),minimum=0,maximum=999"`
	Y         int    `json:"y" jsonschema:"description=Y coordinate to scroll at (0-999 normalized),minimum=0,maximum=999"`
	Direction string `json:"direction" jsonschema:"description=Direction to scroll,enum=up,enum=down,enum=left,enum=right"`
	Magnitude int    `json:"magnitude,omitempty" jsonschema:"description=Scroll magnitude in pixels (approximate; implemented via key repeats),default=800"`
}

type dragAndDropArgs struct {
	X            int `json:"x" jsonschema:"description=Starting X coordinate (0-999 normalized),minimum=0,maximum=999"`
	Y            int `json:"y" jsonschema:"description=Starting Y coordinate (0-999 normalized),minimum=0,maximum=999"`
	DestinationX int `json:"destination_x" jsonschema:"description=Ending X coordinate (0-999 normalized),minimum=0,maximum=999"`
	DestinationY int `json:"destination_y" jsonschema:"description=Ending Y coordinate (0-999 normalized),minimum=0,maximum=999"`
}

type navigateArgs struct {
	URL string `json:"url" jsonschema:"description=Absolute URL to open"`
}

type noArgs struct{}

var toolCatalog = []struct {
	name        string
	description string
	args        any
}{
	{"click_at", "Click at specified coordinates on the screen.", pointArgs{}},
	{"double_click_at", "Double-click at specified coordinates on the screen.", pointArgs{}},
	{"hover_at", "Move mouse cursor to hover at specified coordinates.", pointArgs{}},
	{"type_text_at", "Type text at specified coordinates. Clicks at the coordinates first, then types the text.", typeTextArgs{}},
	{"key_combination", "Press a keyboard shortcut or combination, e.g. 'control+c', 'alt+tab', 'control+shift+t'.", keyCombinationArgs{}},
	{"scroll_document", "Scroll the document in a direction using Page Up/Down or arrow keys.", scrollDocumentArgs{}},
	{"scroll_at", "Scroll at specific coordinates on the screen, e.g. within a window or panel.", scrollAtArgs{}},
	{"drag_and_drop", "Drag from one location and drop at another.", dragAndDropArgs{}},
	{"wait_5_seconds", "Wait for 5 seconds for page loads, application launches or animations.", noArgs{}},
	{"open_web_browser", "Open the web browser.", noArgs{}},
	{"navigate", "Navigate the browser to a URL.", navigateArgs{}},
	{"go_back", "Go back to the previous page.", noArgs{}},
	{"go_forward", "Go forward to the next page.", noArgs{}},
	{"search", "Open the default search engine.", noArgs{}},
}

var reflector = &jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
}

// Tools returns the action tool definitions minus the excluded names, in
// catalog order.
func Tools(excluded []string) ([]ToolDefinition, error) {
	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[strings.TrimSpace(name)] = struct{}{}
	}
	out := make([]ToolDefinition, 0, len(toolCatalog))
	for _, entry := range toolCatalog {
		if _, ok := skip[entry.name]; ok {
			continue
		}
		schema, err := schemaFor(entry.args)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", entry.name, err)
		}
		out = append(out, ToolDefinition{Name: entry.name, Description: entry.description, JSONSchema: schema})
	}
	return out, nil
}

// ToolNames lists the names Tools(excluded) would return.
func ToolNames(excluded []string) []string {
	skip := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		skip[strings.TrimSpace(name)] = struct{}{}
	}
	out := make([]string, 0, len(toolCatalog))
	for _, entry := range toolCatalog {
		if _, ok := skip[entry.name]; !ok {
			out = append(out, entry.name)
		}
	}
	return out
}

// DescribeTools renders "- name: description" lines for a system prompt.
func DescribeTools(defs []ToolDefinition) string {
	lines := make([]string, len(defs))
	for i, d := range defs {
		lines[i] = fmt.Sprintf("- %s: %s", d.Name, d.Description)
	}
	return strings.Join(lines, "\n")
}

func schemaFor(v any) (map[string]any, error) {
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	out["type"] = "object"
	return out, nil
}
