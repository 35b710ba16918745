package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cobranca/internal/cache"
	"cobranca/internal/log"
	"cobranca/internal/report"
	"cobranca/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options tunes the server. Zero values pick the defaults.
type Options struct {
	Logger *log.Logger
	// Caches receives the report caches; the registry purges it on change.
	Caches         *cache.Manager
	ReportCacheTTL time.Duration
	// RateLimit caps mutating requests per client per minute.
	RateLimit int
}

type Server struct {
	http.Server
	registry *services.Registry
	logger   *log.Logger

	rateLimiter *rateLimiter
	security    *securityMetrics

	caches     *cache.Manager
	dashboards *cache.LRUCache[report.Dashboard]
	trends     *cache.LRUCache[[]report.MonthPoint]

	started      time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, registry *services.Registry, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.Caches == nil {
		opts.Caches = cache.NewManager()
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = 5 * time.Minute
	}

	s := &Server{
		registry:    registry,
		logger:      opts.Logger,
		rateLimiter: newRateLimiter(opts.RateLimit),
		security:    &securityMetrics{},
		caches:      opts.Caches,
		dashboards:  cache.NewLRUCache[report.Dashboard](32, opts.ReportCacheTTL),
		trends:      cache.NewLRUCache[[]report.MonthPoint](64, opts.ReportCacheTTL),
		started:     time.Now(),
	}
	s.caches.Register(s.dashboards)
	s.caches.Register(s.trends)
	s.caches.StartCleanup(10 * time.Minute)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(log.RequestLogger(s.logger, extractClientIP))
	r.Use(middleware.Recoverer)
	r.Use(s.withSecurity)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/debtors", s.handleListDebtors)
		r.Post("/debtors", s.handleCreateDebtor)
		r.Get("/debtors/{id}", s.handleGetDebtor)
		r.Delete("/debtors/{id}", s.handleDeleteDebtor)
		r.Post("/debtors/{id}/debts", s.handleAddDebt)
		r.Post("/debtors/{id}/settle", s.handleSettle)
		r.Post("/sweep", s.handleSweep)

		r.Get("/history", s.handleHistory)
		r.Get("/history.csv", s.handleHistoryCSV)
		r.Get("/reports/summary", s.handleReportSummary)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/trend", s.handleTrend)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleSaveSettings)
		r.Delete("/account", s.handleDeleteAccount)
	})
	return r
}

// withSecurity sets security headers, flags probing traffic and rate limits
// mutating requests.
func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		if detectSuspiciousRequest(r, s.security) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldClientIP, clientIP,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.Header.Get("User-Agent"))
		}

		if r.Method != http.MethodGet && r.Method != http.MethodHead && !s.rateLimiter.allow(clientIP, s.security) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method)
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").
				Header("Retry-After", "60").
				Write(w)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops background routines and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		s.caches.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
