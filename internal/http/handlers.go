package http

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks the store and reports cache and limiter state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{}
	if err := s.registry.Ping(ctx); err != nil {
		checks["store"] = fmt.Sprintf("failed: %v", err)
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	checks["cache"] = map[string]int{
		"dashboard_entries": s.dashboards.Size(),
		"trend_entries":     s.trends.Size(),
	}
	checks["rate_limiter"] = map[string]int{"active_clients": s.rateLimiter.ActiveClients()}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric := func(name, help, kind string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, kind, name, v)
	}
	metric("rate_limit_hits_total", "Requests rejected by the rate limiter", "counter", atomic.LoadInt64(&s.security.rateLimitHits))
	metric("suspicious_requests_total", "Requests flagged as probing", "counter", atomic.LoadInt64(&s.security.suspiciousRequests))
	metric("report_cache_entries", "Cached dashboard and trend projections", "gauge", int64(s.dashboards.Size()+s.trends.Size()))
	metric("uptime_seconds", "Seconds since the server started", "gauge", int64(time.Since(s.started).Seconds()))
}
