// Package gemini plans with Gemini's computer-use model. The model brings its
// own action vocabulary and reports a per-call safety decision.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/PipeOpsHQ/vnc-use-go/planner"
	"github.com/PipeOpsHQ/vnc-use-go/prompt"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

const (
	defaultModel = "gemini-2.5-computer-use-preview-10-2025"
	// The computer-use tool only offers a browser environment; the desktop
	// actions it proposes are the same.
	browserEnvironment = "ENVIRONMENT_BROWSER"
	safetyDecisionArg  = "safety_decision"
)

type Client struct {
	client          *genai.Client
	settings        planner.Settings
	includeThoughts bool
	logger          *zap.Logger

	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.settings.Model = model }
}

func WithSettings(s planner.Settings) Option {
	return func(c *Client) { c.settings = s }
}

func WithExcludedActions(names []string) Option {
	return func(c *Client) { c.settings.ExcludedActions = append([]string{}, names...) }
}

// WithThoughts asks the model to include its reasoning in the observation.
func WithThoughts(include bool) Option {
	return func(c *Client) { c.includeThoughts = include }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBaseURL overrides the API host, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY or GOOGLE_API_KEY is required")
	}
	c := &Client{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.settings = c.settings.Normalize(defaultModel, prompt.ComputerUseContext)
	c.logger = c.logger.Named("gemini")

	cfg := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(apiKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.client = gc
	c.logger.Info("planner ready",
		zap.String("model", c.settings.Model),
		zap.Strings("excluded", c.settings.ExcludedActions))
	return c, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) Model() string { return c.settings.Model }

func (c *Client) Capabilities() planner.Capabilities {
	return planner.Capabilities{NativeSafety: true, NativeComputerUse: true}
}

func (c *Client) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{
			ComputerUse: &genai.ComputerUse{
				Environment:                 genai.Environment(browserEnvironment),
				ExcludedPredefinedFunctions: c.settings.ExcludedActions,
			},
		}},
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: c.includeThoughts},
	}
}

// Propose makes one stateless call: the task, a text window of recent actions
// and the current frame. No earlier frames are sent.
func (c *Client) Propose(ctx context.Context, req types.ProposeRequest) (types.Proposal, error) {
	frame, err := planner.PrepareFrame(req.Frame, c.settings.MaxFrameWidth)
	if err != nil {
		return types.Proposal{}, err
	}
	text, err := planner.RenderContextPrompt(c.settings, req.Task, req.History)
	if err != nil {
		return types.Proposal{}, err
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(text),
			genai.NewPartFromBytes(frame, "image/png"),
		}, genai.RoleUser),
	}

	c.logger.Debug("requesting proposal",
		zap.Int("history", len(req.History)),
		zap.Int("upload_bytes", len(frame)))
	resp, err := c.client.Models.GenerateContent(ctx, c.settings.Model, contents, c.config())
	if err != nil {
		return types.Proposal{}, fmt.Errorf("gemini generation failed: %w", err)
	}
	proposal := parseResponse(resp)
	c.logger.Info("received proposal", zap.Int("calls", len(proposal.Calls)))
	return proposal, nil
}

func parseResponse(resp *genai.GenerateContentResponse) types.Proposal {
	out := types.Proposal{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = &types.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason := strings.TrimSpace(resp.PromptFeedback.BlockReasonMessage)
			if reason == "" {
				reason = string(resp.PromptFeedback.BlockReason)
			}
			out.Verdict = &types.SafetyVerdict{Action: types.VerdictBlock, Reason: "prompt blocked: " + reason}
		}
		return out
	}

	candidate := resp.Candidates[0]
	var texts []string
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				texts = append(texts, strings.TrimSpace(part.Text))
			}
			if part.FunctionCall == nil {
				continue
			}
			args := make(map[string]any, len(part.FunctionCall.Args))
			for k, v := range part.FunctionCall.Args {
				args[k] = v
			}
			if v := safetyDecision(args[safetyDecisionArg]); v != nil {
				if out.Verdict == nil {
					out.Verdict = v
				}
				delete(args, safetyDecisionArg)
			}
			out.Calls = append(out.Calls, types.ActionCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: args,
			})
		}
	}
	out.Observation = strings.TrimSpace(strings.Join(texts, " "))

	if candidate.FinishReason == genai.FinishReasonSafety {
		out.Verdict = &types.SafetyVerdict{Action: types.VerdictBlock, Reason: "response stopped for safety"}
	}
	return out
}

// safetyDecision reads {"decision": "...", "explanation": "..."}.
func safetyDecision(raw any) *types.SafetyVerdict {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	decision, _ := m["decision"].(string)
	if decision == "" {
		return nil
	}
	explanation, _ := m["explanation"].(string)
	return &types.SafetyVerdict{Action: decision, Reason: explanation}
}
