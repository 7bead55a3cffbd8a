package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/spider-orchestrator/internal/apperrors"
	"github.com/JakeFAU/spider-orchestrator/internal/metrics"
	"github.com/JakeFAU/spider-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/spider-orchestrator/internal/policy/ratelimit"
)

// ReadinessProbe checks one downstream dependency for the readiness
// endpoint.
type ReadinessProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router  chi.Router
	orch    *orchestrator.Orchestrator
	limiter *ratelimit.Limiter
	probes  []ReadinessProbe
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil limiter
// disables rate limiting.
func NewServer(
	orch *orchestrator.Orchestrator,
	limiter *ratelimit.Limiter,
	probes []ReadinessProbe,
	logger *zap.Logger,
) *Server {
	s := &Server{
		orch:    orch,
		limiter: limiter,
		probes:  probes,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimitMiddleware)
		}
		r.Route("/spiders", func(r chi.Router) {
			r.Post("/run", s.runSpider)
			r.Get("/tasks", s.listTasks)
			r.Route("/tasks/{task_id}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Post("/stop", s.stopTask)
			})
			r.Get("/results/{task_id}", s.getResults)
		})
		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/stats", s.getStats)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.probes))
	for _, probe := range s.probes {
		start := time.Now()
		err := probe.Check(r.Context())
		latency := time.Since(start)
		if err != nil {
			status = http.StatusServiceUnavailable
			checks[probe.Name] = fmt.Sprintf("error: %v", err)
			s.logger.Warn("Readiness check failed", zap.String("dependency", probe.Name), zap.Error(err))
			continue
		}
		checks[probe.Name] = fmt.Sprintf("connected (%.2fms)", float64(latency.Microseconds())/1000)
	}

	overall := "ready"
	if status != http.StatusOK {
		overall = "not ready"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("Request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestIDFrom(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ratelimit.ClientKey(r)
		// The limiter fails open on its own, so an error always means reject.
		if err := s.limiter.Allow(r.Context(), client); err != nil {
			metrics.ObserveRateLimited()
			if hint := apperrors.RetryAfterHint(err); hint > 0 {
				w.Header().Set("Retry-After", ratelimit.RetryAfterSeconds(hint))
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("Failed to write JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps a classified error to its HTTP status.
func writeAppError(w http.ResponseWriter, err error) {
	if hint := apperrors.RetryAfterHint(err); hint > 0 {
		w.Header().Set("Retry-After", ratelimit.RetryAfterSeconds(hint))
	}
	writeError(w, apperrors.HTTPStatus(err), err.Error())
}
