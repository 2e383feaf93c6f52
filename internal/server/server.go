package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"gitdeploy/internal/deployment"
	"gitdeploy/internal/history"
	"gitdeploy/internal/project"
	"gitdeploy/internal/readiness"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	RequestTimeout = 60 * time.Second

	// Requests per minute and client IP.
	GlobalRateLimit  = 60
	TriggerRateLimit = 12
)

// Server receives deployment triggers and runs them in the background.
type Server struct {
	Registry      *project.Registry
	History       *history.History
	LockManager   *deployment.LockManager
	ProfileSource project.ProfileSource
	Poller        *readiness.Poller
	Logger        *slog.Logger

	// ScratchDir holds the per-deployment Git mirrors.
	ScratchDir string

	// GitHubAPIURL overrides the GitHub API endpoint for commit statuses.
	GitHubAPIURL string

	// ExposeOutput logs the build console of every deployment.
	ExposeOutput bool

	// TestMode disables rate limiting.
	TestMode bool

	deployWg     sync.WaitGroup
	deployCtx    context.Context
	cancelDeploy context.CancelFunc
}

// NewServer creates a server. hist may be nil, in which case nothing is
// recorded and the status endpoints answer 503.
func NewServer(registry *project.Registry, hist *history.History, logger *slog.Logger, testMode bool) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	exposeOutput := false
	switch os.Getenv("GITDEPLOY_EXPOSE_OUTPUT") {
	case "1", "true", "yes":
		exposeOutput = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Registry:     registry,
		History:      hist,
		LockManager:  deployment.NewLockManager(),
		Poller:       readiness.NewPoller(logger),
		Logger:       logger,
		ExposeOutput: exposeOutput,
		TestMode:     testMode,
		deployCtx:    ctx,
		cancelDeploy: cancel,
	}
}

// Router returns the HTTP routes of the server.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(s.logRequests)

	if !s.TestMode {
		r.Use(NewRateLimitMiddleware("global", GlobalRateLimit, time.Minute, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatusAll)
	r.Get("/status/{projectName}", s.HandleStatus)

	if s.TestMode {
		r.Post("/in/{projectName}", s.HandleTrigger)
	} else {
		r.With(NewRateLimitMiddleware("trigger", TriggerRateLimit, time.Minute, s.Logger)).
			Post("/in/{projectName}", s.HandleTrigger)
	}

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start listens on host:port until the listener fails.
func (s *Server) Start(host string, port int) error {
	return s.HTTPServer(host, port).ListenAndServe()
}

// HTTPServer returns an http.Server serving Router on host:port.
func (s *Server) HTTPServer(host string, port int) *http.Server {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr, "projects", s.Registry.Count())

	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}
}

// WaitForDeployments blocks until every background deployment has finished.
func (s *Server) WaitForDeployments() {
	s.deployWg.Wait()
}

// Shutdown waits for background deployments. When ctx ends first the
// remaining deployments are cancelled and awaited. The history database is
// closed last.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.WaitForDeployments()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Logger.Warn("Cancelling running deployments", "active", s.LockManager.Active())
		s.cancelDeploy()
		<-done
	}
	s.cancelDeploy()

	if s.History != nil {
		return s.History.Close()
	}
	return nil
}
