package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/vnc-use-go/agent"
	"github.com/PipeOpsHQ/vnc-use-go/credentials"
	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/desktop/browser"
	"github.com/PipeOpsHQ/vnc-use-go/desktop/vnc"
	"github.com/PipeOpsHQ/vnc-use-go/executor"
	"github.com/PipeOpsHQ/vnc-use-go/internal/config"
	"github.com/PipeOpsHQ/vnc-use-go/observe"
	otelsink "github.com/PipeOpsHQ/vnc-use-go/observe/otel"
	"github.com/PipeOpsHQ/vnc-use-go/providers/factory"
	"github.com/PipeOpsHQ/vnc-use-go/recorder"
	"github.com/PipeOpsHQ/vnc-use-go/safety"
	"github.com/PipeOpsHQ/vnc-use-go/state"
	statefactory "github.com/PipeOpsHQ/vnc-use-go/state/factory"
)

// runtime holds the long-lived pieces shared by every session a command
// starts.
type runtime struct {
	store    state.Store
	recorder *recorder.FileRecorder
	observer observe.Sink
	// tracer is nil unless tracing is enabled.
	tracer   trace.TracerProvider
	closers  []func()
}

func (a *app) openRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}
	store, err := statefactory.New(ctx, statefactory.Options{
		Backend:       a.cfg.State.Backend,
		SQLitePath:    a.cfg.State.SQLitePath,
		RedisAddr:     a.cfg.State.RedisAddr,
		RedisPassword: a.cfg.State.RedisPassword,
		RedisDB:       a.cfg.State.RedisDB,
		RedisTTL:      a.cfg.State.RedisTTL,
		RedisPrefix:   a.cfg.State.RedisPrefix,
		Logger:        a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	rt.store = store
	if store != nil {
		rt.closers = append(rt.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("close state store", zap.Error(err))
			}
		})
	}

	if a.cfg.Recorder.Enabled {
		rt.recorder = recorder.New(a.cfg.Recorder.RunsDir, recorder.WithLogger(a.logger))
	}

	sinks := []observe.Sink{observe.NewLogSink(a.logger)}
	if a.cfg.Tracing.Enabled {
		name := a.cfg.Tracing.ServiceName
		if name == "" {
			name = a.cfg.Logger.ServiceName
		}
		tp := otelsink.NewTracerProvider(name, otelsink.NewLogExporter(a.logger))
		traces := otelsink.NewSink(tp)
		sinks = append(sinks, traces)
		rt.tracer = tp
		rt.closers = append(rt.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("shutdown tracer provider", zap.Error(err))
			}
		}, traces.Close)
	}
	async := observe.NewAsyncSink(observe.NewMultiSink(sinks...), 0)
	rt.observer = async
	rt.closers = append(rt.closers, async.Close)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// overrides are the per-run knobs a flag or request may change.
type overrides struct {
	provider        string
	stepLimit       int
	timeout         time.Duration
	hitl            *bool
	excludedActions []string
}

// newSession assembles planner, desktop, executor and agent for one target.
func (a *app) newSession(ctx context.Context, rt *runtime, o overrides, target desktop.Target, approver safety.Approver, extra ...observe.Sink) (*agent.Session, error) {
	cfg := a.cfg
	provider := cfg.Planner.Provider
	if o.provider != "" {
		provider = o.provider
	}
	excluded := cfg.Agent.ExcludedActions
	if o.excludedActions != nil {
		excluded = o.excludedActions
	}
	p, err := a.newPlanner(ctx, factory.Config{
		Provider:        provider,
		APIKey:          cfg.Planner.APIKey,
		Model:           cfg.Planner.Model,
		BaseURL:         cfg.Planner.BaseURL,
		AzureEndpoint:   cfg.Planner.AzureEndpoint,
		AzureDeployment: cfg.Planner.AzureDeployment,
		AzureAPIVersion: cfg.Planner.AzureAPIVersion,
		ExcludedActions: excluded,
		IncludeThoughts: cfg.Planner.IncludeThoughts,
		Logger:          a.logger,
	})
	if err != nil {
		return nil, err
	}

	stepLimit := cfg.Agent.StepLimit
	if o.stepLimit > 0 {
		stepLimit = o.stepLimit
	}
	timeout := cfg.Agent.Timeout
	if o.timeout > 0 {
		timeout = o.timeout
	}
	hitl := cfg.Agent.HITL
	if o.hitl != nil {
		hitl = *o.hitl
	}

	d := a.newController(cfg.Desktop, a.logger)
	exec := executor.New(d, executor.WithLogger(a.logger), executor.WithWaitDuration(cfg.Agent.WaitDuration))

	observer := rt.observer
	if len(extra) > 0 {
		observer = observe.NewMultiSink(append([]observe.Sink{rt.observer}, extra...)...)
	}
	opts := []agent.Option{
		agent.WithStepLimit(stepLimit),
		agent.WithTimeout(timeout),
		agent.WithHITL(hitl),
		agent.WithObserver(observer),
		agent.WithLogger(a.logger),
		agent.WithCaptureRetry(agent.RetryPolicy{MaxAttempts: cfg.Agent.CaptureAttempts}),
	}
	if approver != nil {
		opts = append(opts, agent.WithApprover(approver))
	}
	if cfg.Agent.Guards {
		opts = append(opts, agent.WithGuards(safety.DefaultPipeline()))
	}
	if rt.store != nil {
		opts = append(opts, agent.WithStore(rt.store))
	}
	if rt.recorder != nil {
		opts = append(opts, agent.WithRecorder(rt.recorder))
	}
	ag, err := agent.New(p, exec, opts...)
	if err != nil {
		return nil, err
	}
	return agent.NewSession(ag, d, target), nil
}

func controllerFor(cfg config.DesktopConfig, logger *zap.Logger) desktop.Controller {
	if strings.EqualFold(cfg.Backend, "browser") {
		return browser.New(
			browser.WithLogger(logger),
			browser.WithViewport(cfg.Browser.Width, cfg.Browser.Height),
			browser.WithStartURL(cfg.Browser.StartURL),
			browser.WithHeadless(cfg.Browser.Headless),
			browser.WithExecPath(cfg.Browser.ExecPath),
		)
	}
	return vnc.New(vnc.WithLogger(logger), vnc.WithDialTimeout(cfg.DialTimeout))
}

func (a *app) credentialStore() *credentials.Chain {
	opts := []credentials.FileOption{credentials.WithIdentityFile(a.cfg.Credentials.IdentityFile)}
	if a.cfg.Credentials.Passphrase != "" {
		opts = append(opts, credentials.WithPassphrase(a.cfg.Credentials.Passphrase))
	}
	file := credentials.NewFileStore(a.cfg.Credentials.File, opts...)
	return credentials.NewChain(a.logger, file, credentials.EnvStore{})
}

// resolveTarget picks the desktop from an explicit server, a stored
// hostname, or the configured default, in that order.
func (a *app) resolveTarget(ctx context.Context, server, password, hostname string) (desktop.Target, error) {
	if server = strings.TrimSpace(server); server != "" {
		return desktop.Target{Address: server, Password: password}, nil
	}
	if hostname = strings.TrimSpace(hostname); hostname != "" {
		creds, err := a.credentialStore().Get(ctx, hostname)
		if err != nil {
			if errors.Is(err, credentials.ErrNotFound) {
				return desktop.Target{}, fmt.Errorf("no credentials stored for %s", hostname)
			}
			return desktop.Target{}, err
		}
		if password == "" {
			password = creds.Password
		}
		return desktop.Target{Address: creds.Server, Password: password}, nil
	}
	if a.cfg.Desktop.Server != "" {
		if password == "" {
			password = a.cfg.Desktop.Password
		}
		return desktop.Target{Address: a.cfg.Desktop.Server, Password: password}, nil
	}
	if strings.EqualFold(a.cfg.Desktop.Backend, "browser") {
		return desktop.Target{Password: password}, nil
	}
	return desktop.Target{}, errors.New("a server (--server), a stored hostname (--hostname) or desktop.server is required")
}
