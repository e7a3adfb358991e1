package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HealthCheck returns 200 when the database answers and 503 otherwise.
func HealthCheck(db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Database: "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
	}
}
