// Package anthropic plans with Claude through the Messages API, offering the
// desktop actions as function tools and the frame as an image block.
package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/planner"
	"github.com/PipeOpsHQ/vnc-use-go/prompt"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

const (
	defaultModel      = "claude-haiku-4-5"
	anthropicVersion  = "2023-06-01"
	defaultMaxTokens  = 1024
	defaultAPIBaseURL = "https://api.anthropic.com"
)

type Client struct {
	apiKey     string
	baseURL    string
	settings   planner.Settings
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
	tools      []planner.ToolDefinition
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.settings.Model = model }
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithSettings(s planner.Settings) Option {
	return func(c *Client) { c.settings = s }
}

func WithExcludedActions(names []string) Option {
	return func(c *Client) { c.settings.ExcludedActions = append([]string{}, names...) }
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	c := &Client{
		apiKey:    strings.TrimSpace(apiKey),
		baseURL:   defaultAPIBaseURL,
		maxTokens: defaultMaxTokens,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.settings = c.settings.Normalize(defaultModel, prompt.ComputerUseTools)
	tools, err := planner.Tools(c.settings.ExcludedActions)
	if err != nil {
		return nil, err
	}
	c.tools = tools
	c.logger = c.logger.Named("anthropic")
	c.logger.Info("planner ready",
		zap.String("model", c.settings.Model),
		zap.Strings("tools", planner.ToolNames(c.settings.ExcludedActions)))
	return c, nil
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Model() string { return c.settings.Model }

func (c *Client) Capabilities() planner.Capabilities {
	return planner.Capabilities{}
}

func (c *Client) Propose(ctx context.Context, req types.ProposeRequest) (types.Proposal, error) {
	frame, err := planner.PrepareFrame(req.Frame, c.settings.MaxFrameWidth)
	if err != nil {
		return types.Proposal{}, err
	}
	text, err := planner.RenderToolPrompt(c.settings, req.Task, req.History, c.tools)
	if err != nil {
		return types.Proposal{}, err
	}

	payload := messagesRequest{
		Model:     c.settings.Model,
		System:    text.System,
		MaxTokens: c.maxTokens,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{Type: "text", Text: text.Instruction},
				{Type: "image", Source: &imageSource{
					Type:      "base64",
					MediaType: "image/png",
					Data:      base64.StdEncoding.EncodeToString(frame),
				}},
			},
		}},
		Tools:      toTools(c.tools),
		ToolChoice: &toolChoice{Type: "auto"},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return types.Proposal{}, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return types.Proposal{}, fmt.Errorf("failed to create anthropic request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	c.logger.Debug("requesting proposal",
		zap.Int("frame_bytes", len(req.Frame)),
		zap.Int("upload_bytes", len(frame)))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return types.Proposal{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Proposal{}, fmt.Errorf("failed to read anthropic response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return types.Proposal{}, fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp messagesResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return types.Proposal{}, fmt.Errorf("failed to decode anthropic response: %w", err)
	}
	proposal := parseResponse(apiResp)
	c.logger.Info("received proposal", zap.Int("calls", len(proposal.Calls)), zap.String("stop_reason", apiResp.StopReason))
	return proposal, nil
}

func parseResponse(apiResp messagesResponse) types.Proposal {
	var texts []string
	out := types.Proposal{}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			if t := strings.TrimSpace(block.Text); t != "" {
				texts = append(texts, t)
			}
		case "tool_use":
			args := block.Input
			if args == nil {
				args = map[string]any{}
			}
			out.Calls = append(out.Calls, types.ActionCall{ID: block.ID, Name: block.Name, Args: args})
		}
	}
	out.Observation = strings.Join(texts, " ")

	if apiResp.StopReason == "refusal" && len(out.Calls) == 0 {
		reason := out.Observation
		if reason == "" {
			reason = "refusal"
		}
		out.Verdict = &types.SafetyVerdict{Action: types.VerdictBlock, Reason: "Model refused: " + reason}
	} else {
		out.Verdict = planner.DetectRefusal(out.Observation, len(out.Calls))
	}

	if apiResp.Usage.InputTokens > 0 || apiResp.Usage.OutputTokens > 0 {
		out.Usage = &types.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
			TotalTokens:  apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		}
	}
	return out
}

func toTools(in []planner.ToolDefinition) []tool {
	tools := make([]tool, 0, len(in))
	for _, t := range in {
		tools = append(tools, tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.JSONSchema,
		})
	}
	return tools
}

type messagesRequest struct {
	Model      string      `json:"model"`
	System     string      `json:"system,omitempty"`
	MaxTokens  int         `json:"max_tokens"`
	Messages   []message   `json:"messages"`
	Tools      []tool      `json:"tools,omitempty"`
	ToolChoice *toolChoice `json:"tool_choice,omitempty"`
}

type toolChoice struct {
	Type string `json:"type"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Source *imageSource   `json:"source,omitempty"`
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
