package api

import (
	"net/http"
	"strings"
	"time"
)

const (
	metricsRoute   = "/metrics"
	pprofPrefix    = "/debug/pprof/"
	unmatchedRoute = "unmatched"
)

// routeLabel names r by the mux pattern that will serve it, without the
// method. Requests no route accepts share one label.
func (s *Server) routeLabel(r *http.Request) string {
	_, pattern := s.mux.Handler(r)
	if _, path, ok := strings.Cut(pattern, " "); ok {
		pattern = path
	}
	if pattern == "" {
		return unmatchedRoute
	}
	return pattern
}

// instrument traces, measures and logs each request. Scrapes are logged at
// debug and left out of metrics and tracing; profiling requests are only
// logged.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := s.routeLabel(r)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if route == metricsRoute || strings.HasPrefix(route, pprofPrefix) {
			next.ServeHTTP(rec, r)
			s.logRequest(r.Context(), r, route, rec.status, time.Since(start))
			return
		}

		ctx, span := startRequestSpan(r, route)
		next.ServeHTTP(rec, r.WithContext(ctx))
		elapsed := time.Since(start)
		finishRequestSpan(span, rec.status)
		s.metrics.observe(route, rec.status, elapsed)
		s.logRequest(ctx, r, route, rec.status, elapsed)
	})
}

// guard restricts h to allowlisted callers and counts refusals per route.
func (s *Server) guard(h http.Handler) http.Handler {
	return s.adminRouteAccess.wrap(h, func(r *http.Request) {
		s.metrics.denied.WithLabelValues(s.routeLabel(r)).Inc()
	})
}
