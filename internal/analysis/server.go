package analysis

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ServerOptions configures the HTTP surface
type ServerOptions struct {
	// AllowedOrigins for CORS; empty allows any origin
	AllowedOrigins []string
	// RateLimiter gates every /api route; nil disables rate limiting
	RateLimiter *SlidingWindowLimiter
	// RequestTimeout bounds each request, including the engine call
	RequestTimeout time.Duration
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only set it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// Server handles HTTP requests for analyses
type Server struct {
	service *Service
	opts    ServerOptions
	router  chi.Router

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewServer creates a new Server with its routes registered
func NewServer(service *Service, opts ServerOptions) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		service: service,
		opts:    opts,
		router:  chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers middleware and routes on the server's router
func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	if s.opts.TrustProxyHeaders {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.opts.RequestTimeout))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         3600,
	}))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		if s.opts.RateLimiter != nil {
			r.Use(rateLimitMiddleware(s.opts.RateLimiter))
		}
		r.Get("/analysis", s.handleGetAnalysis)
		r.Post("/analysis", s.handleSaveAnalysis)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/chat", s.handleChat)
	})

	// Web interface
	s.router.Get("/result/{id}", s.handleIndex)
	s.router.Get("/", s.handleIndex)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request once it completes
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_ip", clientKey(r),
		)
	})
}
