package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequest(ctx context.Context, r *http.Request, route string, status int, elapsed time.Duration) {
	level := slog.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case route == metricsRoute:
		level = slog.LevelDebug
	}
	s.logger.Log(ctx, level, "http request",
		"method", r.Method,
		"route", route,
		"path", r.URL.RequestURI(),
		"status", status,
		"duration", elapsed,
	)
}
