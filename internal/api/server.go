// Package api exposes the pipeline over HTTP: runs are started with a POST
// and observed as a server-sent event stream until the terminal event.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tinybackspace/backspace/internal/events"
	"github.com/tinybackspace/backspace/internal/pipeline"
)

// Runner starts pipeline runs. Satisfied by *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *events.Stream
}

// Options configures the HTTP server.
type Options struct {
	Listen string

	// MaxConcurrentRuns bounds simultaneous pipeline runs; excess requests
	// get 429.
	MaxConcurrentRuns int

	// RunsPerMinute rate-limits run starts. Zero disables the limiter.
	RunsPerMinute int

	// RunTimeout caps a whole pipeline run. Zero means unbounded.
	RunTimeout time.Duration

	// SandboxProviders, GitHubConfigured and LLMProviders feed the health
	// report.
	SandboxProviders []string
	GitHubConfigured bool
	LLMProviders     []string
}

// Server is the HTTP front end.
type Server struct {
	opts      Options
	runner    Runner
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	runSlots  *semaphore.Weighted
	limiter   *rate.Limiter
}

// New creates the server.
func New(opts Options, runner Runner, logger *slog.Logger) *Server {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 4
	}
	var limiter *rate.Limiter
	if opts.RunsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RunsPerMinute)/60), opts.RunsPerMinute)
	}
	return &Server{
		opts:      opts,
		runner:    runner,
		logger:    logger,
		startedAt: time.Now(),
		runSlots:  semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		limiter:   limiter,
	}
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.opts.Listen,
		Handler:     s.Routes(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /code holds the connection for the whole run.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("api server starting", "listen", s.opts.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleInfo)
	r.Get("/healthz", s.handleHealthz)
	r.Post("/code", s.handleCode)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// handleCode starts a run and streams its events until the terminal event.
// A client that disconnects mid-run detaches from the stream; the run itself
// continues to completion in the background.
func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var req pipeline.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "run rate limit exceeded, retry later")
		return
	}
	if !s.runSlots.TryAcquire(1) {
		s.writeError(w, http.StatusTooManyRequests, "concurrent run limit reached, retry later")
		return
	}

	// The run context follows the client connection: a disconnect cancels
	// the run at its next checkpoint. The orchestrator stops honoring the
	// cancellation once the push begins.
	runCtx := r.Context()
	var cancelRun context.CancelFunc = func() {}
	if s.opts.RunTimeout > 0 {
		runCtx, cancelRun = context.WithTimeout(runCtx, s.opts.RunTimeout)
	}

	stream := s.runner.Run(runCtx, req)

	// The handler is the stream's only consumer while it is attached. Once
	// it detaches (client gone or terminal event delivered), a background
	// drain waits for the stream to close so the run slot is freed when the
	// run actually finishes, not when the client goes away.
	defer func() {
		stream.Detach()
		go func() {
			for range stream.Events() {
			}
			cancelRun()
			s.runSlots.Release(1)
		}()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// writeSSE frames one pipeline event: the sequence number is the SSE id,
// the level is the SSE event type, the payload is single-line JSON.
func writeSSE(w http.ResponseWriter, ev events.PipelineEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.Sequence); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Level); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "backspace",
		"endpoints": map[string]string{
			"POST /code":   "start a run, stream events",
			"GET /healthz": "component health",
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	github := "unconfigured"
	if s.opts.GitHubConfigured {
		github = "ok"
	}
	llm := s.opts.LLMProviders
	if llm == nil {
		llm = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"sandboxes":      s.opts.SandboxProviders,
		"github":         github,
		"llm_providers":  llm,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
