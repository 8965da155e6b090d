// Package server provides the HTTP server setup and wiring.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/codeproof/internal/config"
	"github.com/pendergraft/codeproof/internal/middleware/logging"
	"github.com/pendergraft/codeproof/internal/middleware/ratelimit"
	"github.com/pendergraft/codeproof/internal/observability/metrics"
	runsDomain "github.com/pendergraft/codeproof/internal/runs/domain"
	runsTransport "github.com/pendergraft/codeproof/internal/runs/transport"
	verificationDomain "github.com/pendergraft/codeproof/internal/verification/domain"
	verificationTransport "github.com/pendergraft/codeproof/internal/verification/transport"
)

// Server is the HTTP server
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *chi.Mux
	limiter *ratelimit.RateLimiter

	// Services typed via transport interfaces
	runsSvc         runsTransport.Service
	verificationSvc verificationTransport.Service
}

// New creates a new server. verifier runs verifications; runs is the run
// history they are recorded in.
func New(cfg *config.Config, verifier verificationDomain.Verifier, runs runsDomain.Store, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.verificationSvc = verificationDomain.LoggingMiddleware(logger)(verifier)
	s.runsSvc = runsDomain.NewService(runs)

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{
			Enabled:        true,
			RequestsPerMin: cfg.RateLimit.RequestsPerMin,
			BurstSize:      cfg.RateLimit.BurstSize,
			CleanupMinutes: cfg.RateLimit.CleanupMinutes,
		})
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics HTTP handler for separate metrics server
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

// Close stops background work started by the server.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) setupMiddleware() {
	// Client IP first; the rate limiter and the request log key on it.
	if s.cfg.Server.TrustProxy {
		s.router.Use(middleware.RealIP)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// CORS
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

// limit returns the rate limiting middleware for requests of the given cost.
func (s *Server) limit(cost int) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return ratelimit.Disabled
	}
	return s.limiter.Weighted(cost)
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleHealth)
	if metrics.Enabled() {
		s.router.Handle("/metrics", metrics.Handler())
	}

	runsHandler := runsTransport.NewHandler(s.runsSvc)
	verificationHandler := verificationTransport.NewHandler(s.verificationSvc,
		verificationTransport.WithMaxBodyBytes(int64(s.cfg.Server.MaxBodySizeKB)<<10),
		verificationTransport.WithLogger(s.logger),
	)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Use(s.limit(1))
			runsHandler.RegisterRoutes(r)
		})

		// A verification replays transactions against a remote node, so it
		// draws more tokens and runs under its own deadline.
		r.Group(func(r chi.Router) {
			r.Use(s.limit(s.cfg.RateLimit.VerifyCost))
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
			}
			verificationHandler.RegisterRoutes(r)
		})
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
