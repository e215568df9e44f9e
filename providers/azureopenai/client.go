// Package azureopenai plans with a vision deployment on Azure OpenAI.
package azureopenai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/planner"
	"github.com/PipeOpsHQ/vnc-use-go/providers/openai"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

const defaultAPIVersion = "2024-10-21"

type Client struct {
	inner      *openai.Client
	deployment string
}

type config struct {
	endpoint   string
	deployment string
	model      string
	apiVersion string
	excluded   []string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*config)

func WithEndpoint(endpoint string) Option {
	return func(c *config) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

func WithDeployment(deployment string) Option {
	return func(c *config) { c.deployment = deployment }
}

func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

func WithAPIVersion(apiVersion string) Option {
	return func(c *config) { c.apiVersion = apiVersion }
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

func New(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_API_KEY is required")
	}
	cfg := config{apiVersion: defaultAPIVersion}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.endpoint) == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_ENDPOINT is required")
	}
	if strings.TrimSpace(cfg.deployment) == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_DEPLOYMENT is required")
	}
	if strings.TrimSpace(cfg.model) == "" {
		cfg.model = cfg.deployment
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		cfg.endpoint, url.PathEscape(cfg.deployment), url.QueryEscape(cfg.apiVersion))
	innerOpts := []openai.Option{
		openai.WithModel(cfg.model),
		openai.WithHTTPClient(cfg.httpClient),
		openai.WithLogger(cfg.logger),
	}
	if cfg.excluded != nil {
		innerOpts = append(innerOpts, openai.WithExcludedActions(cfg.excluded))
	}
	inner, err := openai.NewCompatible("azureopenai", endpoint,
		map[string]string{"api-key": strings.TrimSpace(apiKey)}, innerOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{inner: inner, deployment: cfg.deployment}, nil
}

func (c *Client) Name() string { return "azureopenai" }

func (c *Client) Deployment() string { return c.deployment }

func (c *Client) Model() string { return c.inner.Model() }

func (c *Client) Capabilities() planner.Capabilities { return c.inner.Capabilities() }

func (c *Client) Propose(ctx context.Context, req types.ProposeRequest) (types.Proposal, error) {
	return c.inner.Propose(ctx, req)
}
