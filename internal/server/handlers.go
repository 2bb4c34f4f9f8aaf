package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports liveness plus the two external dependencies a
// deployment most needs to know are reachable: Postgres and Redis.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := map[string]string{}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			checks["database"] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["cache"] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
		} else {
			checks["cache"] = "ok"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"service": "tradepilot",
		"checks":  checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
