// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskpilot/pkg/limiter"
	"taskpilot/pkg/logx"
	"taskpilot/pkg/orchestrator"
	"taskpilot/pkg/persistence"
	"taskpilot/pkg/taskapi"
	"taskpilot/pkg/version"
)

// maxChatBody bounds POST /api/chat payloads.
const maxChatBody = 64 << 10

// Pipeline is the orchestrator surface the server needs.
type Pipeline interface {
	Handle(ctx context.Context, userID, text, platform string) orchestrator.Result
	Status() orchestrator.SystemStatus
}

// AuditReader serves the orchestration history. *persistence.AuditLog implements it.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]persistence.OrchestrationRecord, error)
	CountByOutcome(ctx context.Context) (map[string]int, error)
}

// Options configure the HTTP surface.
type Options struct {
	Addr            string
	UserHeader      string   // Header set by the identity provider; defaults to X-User-ID
	AllowedOrigins  []string // Empty disables CORS
	ShutdownTimeout time.Duration
	Gatherer        prometheus.Gatherer // Served on /metrics when set
	Audit           AuditReader         // Enables /api/orchestrations when set
	Limiter         *limiter.Limiter    // Per-user chat allowance; nil = unlimited
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Text     string `json:"text"`
	Platform string `json:"platform,omitempty"`
}

// Server is the HTTP API in front of the pipeline.
type Server struct {
	pipeline Pipeline
	opts     Options
	router   chi.Router
	logger   *logx.Logger
}

// New creates a server and builds its routes.
func New(pipeline Pipeline, opts Options) *Server {
	if opts.UserHeader == "" {
		opts.UserHeader = taskapi.UserHeader
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		pipeline: pipeline,
		opts:     opts,
		logger:   logx.NewLogger("server"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", s.opts.UserHeader},
			MaxAge:         300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
		r.With(s.requireUser, s.rateLimit).Post("/chat", s.handleChat)
		if s.opts.Audit != nil {
			r.Get("/orchestrations", s.handleOrchestrations)
			r.Get("/orchestrations/summary", s.handleOrchestrationSummary)
		}
	})

	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

type userKey struct{}

// requireUser rejects requests the identity provider did not authenticate.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(s.opts.UserHeader))
		if userID == "" {
			s.logger.Warn("Rejected %s %s from %s: missing %s", r.Method, r.URL.Path, r.RemoteAddr, s.opts.UserHeader)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

// rateLimit charges one message to the user's allowance.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := r.Context().Value(userKey{}).(string)
		if err := s.opts.Limiter.Reserve(userID, 1); err != nil {
			s.logger.Warn("Throttled %s: %v", logx.UserRef(userID), err)
			if errors.Is(err, limiter.ErrRateLimit) {
				w.Header().Set("Retry-After", "60")
			}
			http.Error(w, "Too many messages, please slow down", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s -> %d (%s, %s)", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

// handleChat implements POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	userID, _ := r.Context().Value(userKey{}).(string)
	result := s.pipeline.Handle(r.Context(), userID, req.Text, req.Platform)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, result)
}

// handleStatus implements GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.Status())
}

// handleHealth implements GET /api/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleLogs implements GET /api/logs?component=&since=RFC3339.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var since time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid since parameter (use RFC3339)", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	logs := logx.GetRecentLogEntries(query.Get("component"), since)
	if logs == nil {
		logs = []logx.LogEntry{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

// handleOrchestrations implements GET /api/orchestrations?limit=N.
func (s *Server) handleOrchestrations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.opts.Audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read orchestrations: %v", err)
		http.Error(w, "Failed to read orchestrations", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []persistence.OrchestrationRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleOrchestrationSummary implements GET /api/orchestrations/summary.
func (s *Server) handleOrchestrationSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.opts.Audit.CountByOutcome(r.Context())
	if err != nil {
		s.logger.Error("Failed to count orchestrations: %v", err)
		http.Error(w, "Failed to count orchestrations", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP API on %s", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return logx.Wrap(err, "http server")
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return logx.Wrap(err, "http server shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return logx.Wrap(err, "http server")
	}
	return nil
}
