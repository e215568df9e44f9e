// Package server exposes task execution over HTTP: start a run, stream its
// progress over a websocket, and approve or deny suspended runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/PipeOpsHQ/vnc-use-go/agent"
	"github.com/PipeOpsHQ/vnc-use-go/credentials"
	"github.com/PipeOpsHQ/vnc-use-go/desktop"
	"github.com/PipeOpsHQ/vnc-use-go/observe"
	"github.com/PipeOpsHQ/vnc-use-go/state"
)

// SessionFactory builds a desktop session for one request. The observer must
// be attached to the agent so progress reaches websocket subscribers.
type SessionFactory func(ctx context.Context, req RunRequest, target desktop.Target, observer observe.Sink) (*agent.Session, error)

type Config struct {
	Addr            string
	Sessions        SessionFactory
	Credentials     credentials.Store
	Store           state.Store
	MaxConcurrent   int
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
	// TracerProvider, when set, traces every HTTP request.
	TracerProvider trace.TracerProvider
}

type Server struct {
	cfg    Config
	hub    *Hub
	logger *zap.Logger
	sem    *semaphore.Weighted
	router chi.Router

	// base is cancelled on shutdown and parents every background run.
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu        sync.Mutex
	suspended map[string]*agent.Session
	results   map[string]RunResponse
}

func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session factory is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8088"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Credentials == nil {
		cfg.Credentials = credentials.EnvStore{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		hub:       NewHub(logger),
		logger:    logger.Named("server"),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		base:      base,
		cancel:    cancel,
		suspended: map[string]*agent.Session{},
		results:   map[string]RunResponse{},
	}
	s.router = s.routes()
	return s, nil
}

// Hub returns the event hub; it doubles as an observe.Sink.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.TracerProvider != nil {
		r.Use(otelhttp.NewMiddleware("vnc-use",
			otelhttp.WithTracerProvider(s.cfg.TracerProvider),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/events", s.hub.serveEvents)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleExecute)
			r.Get("/", s.handleListRuns)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Post("/resume", s.handleResume)
				r.Get("/events", s.hub.serveEvents)
			})
		})
	})
	return r
}

// ListenAndServe serves on cfg.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then stops accepting requests,
// cancels background runs and waits for them within the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.hub.CloseAll()
		err := srv.Shutdown(shutdownCtx)
		s.cancel()
		done := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.logger.Warn("background runs still active at shutdown")
		}
		return err
	})
	return g.Wait()
}
