// Package api provides the HTTP entry point and server wiring for LeadPipe.
//
// It exposes the workflow executor action endpoint and assembles the store,
// Twilio, GenAI, workflow engine and scheduler modules into a running service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twilio"
	"github.com/BTreeMap/LeadPipe/internal/workflow"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultPassTimeout bounds one scheduled execute_pending pass.
	DefaultPassTimeout = 10 * time.Minute
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// Engine is the subset of the workflow engine used by the HTTP handlers.
type Engine interface {
	StartWorkflow(ctx context.Context, req workflow.EnrollRequest) (workflow.EnrollResult, error)
	ExecutePending(ctx context.Context) (*models.ExecutionSummary, error)
	RemoveFromWorkflow(ctx context.Context, leadID, workflowID, reason string) (int, error)
	PauseWorkflow(ctx context.Context, leadID, workflowID string) (int, error)
	ResumeWorkflow(ctx context.Context, leadID, workflowID string) (int, error)
	GetProgress(ctx context.Context, leadID string) ([]models.LeadWorkflowProgress, error)
}

// Compile-time check that the workflow engine satisfies Engine.
var _ Engine = (*workflow.Engine)(nil)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	Schedule      string
	PassTimeout   time.Duration
	WorkflowsFile string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSchedule sets the cron expression for automatic execute_pending passes.
// An empty schedule disables the in-process trigger.
func WithSchedule(expr string) Option {
	return func(o *Opts) { o.Schedule = expr }
}

// WithPassTimeout bounds each scheduled pass.
func WithPassTimeout(d time.Duration) Option {
	return func(o *Opts) { o.PassTimeout = d }
}

// WithWorkflowsFile imports workflow definitions from a YAML or JSON file at startup.
func WithWorkflowsFile(path string) Option {
	return func(o *Opts) { o.WorkflowsFile = path }
}

// Server holds the HTTP handlers and the engine they drive.
type Server struct {
	engine Engine
	addr   string
}

// NewServer creates a Server for engine listening on addr.
func NewServer(engine Engine, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{engine: engine, addr: addr}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/workflow-executor", s.workflowExecutorHandler)
	mux.HandleFunc("/", s.workflowExecutorHandler)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.ListenAndServe: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("Server.ListenAndServe: server stopped")
	return nil
}

// Run assembles the service from the given options and serves until SIGINT
// or SIGTERM.
func Run(storeOpts []store.Option, twilioOpts []twilio.Option, genaiOpts []genai.Option, engineOpts []workflow.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, PassTimeout: DefaultPassTimeout}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	slog.Debug("Run: API options", "addr", cfg.Addr, "schedule", cfg.Schedule, "workflowsFile", cfg.WorkflowsFile)

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Run: failed to close store", "error", err)
		}
	}()

	tw, err := twilio.NewClient(twilioOpts...)
	if err != nil {
		return fmt.Errorf("create twilio client: %w", err)
	}
	smsService := messaging.NewSMSService(tw)

	var gen messaging.Generator
	if gc, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("Run: GenAI client unavailable, ai_sms steps will fail", "error", err)
	} else {
		gen = gc
	}
	aiMessenger := messaging.NewAIMessenger(gen, smsService)

	opts := append([]workflow.Option{
		workflow.WithCaller(tw),
		workflow.WithSMSSender(smsService),
		workflow.WithAIMessenger(aiMessenger),
	}, engineOpts...)
	engine := workflow.NewEngine(st, opts...)

	if cfg.WorkflowsFile != "" {
		n, err := workflow.ImportDefinitions(st, cfg.WorkflowsFile)
		if err != nil {
			return fmt.Errorf("import workflows: %w", err)
		}
		slog.Info("Run: workflows imported", "count", n, "file", cfg.WorkflowsFile)
	}

	if cfg.Schedule != "" {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.ScheduleExecutePending(cfg.Schedule, engine, cfg.PassTimeout); err != nil {
			return fmt.Errorf("schedule execute_pending %q: %w", cfg.Schedule, err)
		}
		slog.Info("Run: execute_pending scheduled", "schedule", cfg.Schedule)
	} else {
		slog.Info("Run: in-process schedule disabled, execute_pending must be triggered over HTTP")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return NewServer(engine, cfg.Addr).ListenAndServe(ctx)
}
