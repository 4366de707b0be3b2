package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/signals"
)

// ServerOptions configures the ops server.
type ServerOptions struct {
	// AdminAllowedCIDRs restricts /api/v1/admin/* and /debug/pprof/*. Empty
	// means loopback only.
	AdminAllowedCIDRs []string
	// TrustedProxyCIDRs lists peers whose X-Forwarded-For is believed.
	TrustedProxyCIDRs []string
	EnablePprof       bool

	// Dispatcher and Tasks are reported by the admin health endpoint.
	Dispatcher *signals.Dispatcher
	Tasks      []string
	Workers    int

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// Server exposes liveness, metrics and admin health over HTTP. db should be
// the raw store, not a decorated one, so queue and pool stats stay visible.
type Server struct {
	db      database.DB
	opts    ServerOptions
	logger  *slog.Logger
	mux     *http.ServeMux
	handler http.Handler
	metrics *opsMetrics

	adminRouteAccess adminRouteAccess
}

func NewServer(db database.DB, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cidrs := opts.AdminAllowedCIDRs
	if len(cidrs) == 0 {
		cidrs = defaultAdminRouteCIDRs
	}
	s := &Server{
		db:               db,
		opts:             opts,
		logger:           logger,
		mux:              http.NewServeMux(),
		metrics:          newOpsMetrics(opts.Registerer),
		adminRouteAccess: newAdminRouteAccess(cidrs, newClientIPResolver(opts.TrustedProxyCIDRs).clientIPFromRequest),
	}
	s.routes()
	s.handler = s.instrument(s.mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", metricsHandler(s.opts.Gatherer))
	s.mux.Handle("GET /api/v1/admin/health", s.guard(http.HandlerFunc(s.handleAdminHealth)))
	s.mux.Handle("GET /api/v1/admin/jobs/{id}", s.guard(http.HandlerFunc(s.handleAdminJob)))
	if s.opts.EnablePprof {
		s.registerPprofRoutes()
	}
}
