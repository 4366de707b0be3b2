package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
)

var defaultAdminRouteCIDRs = []string{
	"127.0.0.1/32",
	"::1/128",
}

// clientIPResolver reports the caller's address, honoring X-Forwarded-For
// only when the direct peer is a trusted proxy.
type clientIPResolver struct {
	trusted []*net.IPNet
}

func newClientIPResolver(trustedProxyCIDRs []string) clientIPResolver {
	if len(trustedProxyCIDRs) == 0 {
		trustedProxyCIDRs = defaultAdminRouteCIDRs
	}
	return clientIPResolver{trusted: parseCIDRList(trustedProxyCIDRs, "trusted proxy")}
}

func (c clientIPResolver) clientIPFromRequest(r *http.Request) string {
	peer := remoteHost(r)
	if !containsIP(c.trusted, net.ParseIP(peer)) {
		return peer
	}
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded == "" {
		return peer
	}
	first, _, _ := strings.Cut(forwarded, ",")
	if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
		return ip.String()
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

type adminRouteAccess struct {
	allowList []*net.IPNet
	clientIP  func(*http.Request) string
}

func newAdminRouteAccess(cidrs []string, clientIP func(*http.Request) string) adminRouteAccess {
	if clientIP == nil {
		clientIP = remoteHost
	}
	return adminRouteAccess{
		allowList: parseCIDRList(cidrs, "admin allowlist"),
		clientIP:  clientIP,
	}
}

func parseCIDRList(cidrs []string, label string) []*net.IPNet {
	result := make([]*net.IPNet, 0, len(cidrs))
	for _, raw := range cidrs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if ip := net.ParseIP(value); ip != nil {
			bits := 128
			if v4 := ip.To4(); v4 != nil {
				ip = v4
				bits = 32
			}
			result = append(result, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}

		_, block, err := net.ParseCIDR(value)
		if err != nil {
			slog.Warn("invalid CIDR entry; ignoring", "list", label, "cidr", value, "error", err)
			continue
		}
		result = append(result, block)
	}
	return result
}

func containsIP(blocks []*net.IPNet, ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, block := range blocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// wrap hides guarded routes behind a 404 for callers outside the allowlist.
// denied, when set, sees each refused request.
func (a adminRouteAccess) wrap(next http.Handler, denied func(*http.Request)) http.Handler {
	if next == nil {
		return http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allows(r) {
			if denied != nil {
				denied(r)
			}
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a adminRouteAccess) allows(r *http.Request) bool {
	return containsIP(a.allowList, net.ParseIP(strings.TrimSpace(a.clientIP(r))))
}

func (s *Server) registerPprofRoutes() {
	guard := s.guard
	s.mux.Handle("GET /debug/pprof/", guard(http.HandlerFunc(pprof.Index)))
	s.mux.Handle("GET /debug/pprof/cmdline", guard(http.HandlerFunc(pprof.Cmdline)))
	s.mux.Handle("GET /debug/pprof/profile", guard(http.HandlerFunc(pprof.Profile)))
	s.mux.Handle("GET /debug/pprof/symbol", guard(http.HandlerFunc(pprof.Symbol)))
	s.mux.Handle("POST /debug/pprof/symbol", guard(http.HandlerFunc(pprof.Symbol)))
	s.mux.Handle("GET /debug/pprof/trace", guard(http.HandlerFunc(pprof.Trace)))
	s.mux.Handle("GET /debug/pprof/{profile}", guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile := strings.TrimSpace(r.PathValue("profile"))
		if profile == "" {
			http.NotFound(w, r)
			return
		}
		pprof.Handler(profile).ServeHTTP(w, r)
	})))
}
