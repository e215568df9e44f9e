// Package openai is a planner on the OpenAI chat-completions API. The wire
// code is shared by the ollama and azureopenai providers, which speak the
// same protocol at a different address.
package openai

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
	defaultModel   = "gpt-4o"
	defaultBaseURL = "https://api.openai.com"
	completionPath = "/v1/chat/completions"
)

type Client struct {
	name       string
	endpoint   string
	headers    map[string]string
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

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.endpoint = strings.TrimRight(baseURL, "/") + completionPath }
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
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	return NewCompatible("openai", defaultBaseURL+completionPath,
		map[string]string{"Authorization": "Bearer " + strings.TrimSpace(apiKey)}, opts...)
}

// NewCompatible builds a client for any server that implements the
// chat-completions protocol. endpoint is the full completions URL and headers
// carry its authentication.
func NewCompatible(name, endpoint string, headers map[string]string, opts ...Option) (*Client, error) {
	c := &Client{
		name:     name,
		endpoint: endpoint,
		headers:  map[string]string{},
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for k, v := range headers {
		c.headers[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	if strings.TrimSpace(c.endpoint) == "" {
		return nil, fmt.Errorf("%s endpoint is required", name)
	}
	c.settings = c.settings.Normalize(defaultModel, prompt.ComputerUseTools)
	tools, err := planner.Tools(c.settings.ExcludedActions)
	if err != nil {
		return nil, err
	}
	c.tools = tools
	c.logger = c.logger.Named(name)
	c.logger.Info("planner ready",
		zap.String("model", c.settings.Model),
		zap.Strings("tools", planner.ToolNames(c.settings.ExcludedActions)))
	return c, nil
}

func (c *Client) Name() string { return c.name }

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

	payload := chatRequest{
		Model: c.settings.Model,
		Messages: []chatMessage{
			{Role: "system", Content: text.System},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: text.Instruction},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(frame)}},
			}},
		},
		Tools:       toChatTools(c.tools),
		ToolChoice:  "auto",
		MaxTokens:   c.maxTokens,
		Temperature: 0,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.Proposal{}, fmt.Errorf("failed to marshal %s request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return types.Proposal{}, fmt.Errorf("failed to create %s request: %w", c.name, err)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("requesting proposal",
		zap.Int("frame_bytes", len(req.Frame)),
		zap.Int("upload_bytes", len(frame)),
		zap.Int("history", len(req.History)))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return types.Proposal{}, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Proposal{}, fmt.Errorf("failed to read %s response: %w", c.name, err)
	}
	if resp.StatusCode >= 300 {
		return types.Proposal{}, fmt.Errorf("%s API error (%d): %s", c.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return types.Proposal{}, fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	if len(apiResp.Choices) == 0 {
		return types.Proposal{}, fmt.Errorf("%s response had no choices", c.name)
	}
	proposal := parseChoice(apiResp.Choices[0].Message)
	if apiResp.Usage.TotalTokens > 0 {
		proposal.Usage = &types.Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		}
	}
	c.logger.Info("received proposal", zap.Int("calls", len(proposal.Calls)))
	return proposal, nil
}

func parseChoice(msg responseMessage) types.Proposal {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		text = strings.TrimSpace(msg.Refusal)
	}
	out := types.Proposal{Observation: text}
	for _, tc := range msg.ToolCalls {
		out.Calls = append(out.Calls, types.ActionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: planner.DecodeArgs(tc.Function.Arguments),
		})
	}
	refusal := strings.TrimSpace(msg.Refusal)
	if refusal != "" && len(out.Calls) == 0 {
		out.Verdict = &types.SafetyVerdict{Action: types.VerdictBlock, Reason: "Model refused: " + refusal}
		return out
	}
	out.Verdict = planner.DetectRefusal(text, len(out.Calls))
	return out
}

func toChatTools(in []planner.ToolDefinition) []chatTool {
	tools := make([]chatTool, 0, len(in))
	for _, t := range in {
		tools = append(tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema,
			},
		})
	}
	return tools
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responseMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Refusal   string `json:"refusal,omitempty"`
	ToolCalls []struct {
		ID       string `json:"id,omitempty"`
		Type     string `json:"type,omitempty"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message responseMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
