// Package ollama plans with a local vision model served by Ollama through its
// OpenAI-compatible endpoint.
package ollama

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/planner"
	"github.com/PipeOpsHQ/vnc-use-go/providers/openai"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

const (
	defaultModel   = "qwen2.5vl:7b"
	defaultBaseURL = "http://127.0.0.1:11434"
)

type Client struct {
	inner *openai.Client
}

type config struct {
	apiKey     string
	baseURL    string
	model      string
	excluded   []string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*config)

func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

func WithBaseURL(baseURL string) Option {
	return func(c *config) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithAPIKey sets a bearer token for proxies in front of Ollama.
func WithAPIKey(apiKey string) Option {
	return func(c *config) { c.apiKey = strings.TrimSpace(apiKey) }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *config) { c.httpClient = h }
}

func WithExcludedActions(names []string) Option {
	return func(c *config) { c.excluded = append([]string{}, names...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

func New(opts ...Option) (*Client, error) {
	cfg := config{baseURL: defaultBaseURL, model: defaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}
	headers := map[string]string{}
	if cfg.apiKey != "" {
		headers["Authorization"] = "Bearer " + cfg.apiKey
	}
	innerOpts := []openai.Option{
		openai.WithModel(cfg.model),
		openai.WithBaseURL(cfg.baseURL),
		openai.WithHTTPClient(cfg.httpClient),
		openai.WithLogger(cfg.logger),
	}
	if cfg.excluded != nil {
		innerOpts = append(innerOpts, openai.WithExcludedActions(cfg.excluded))
	}
	inner, err := openai.NewCompatible("ollama", "", headers, innerOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{inner: inner}, nil
}

func (c *Client) Name() string { return "ollama" }

func (c *Client) Model() string { return c.inner.Model() }

func (c *Client) Capabilities() planner.Capabilities { return c.inner.Capabilities() }

func (c *Client) Propose(ctx context.Context, req types.ProposeRequest) (types.Proposal, error) {
	return c.inner.Propose(ctx, req)
}
