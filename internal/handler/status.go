package handler

import (
	"net/http"

	"tenantdesk/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// statusHandler reports the service name, version and environment.
func statusHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":     "tenantdesk",
			"version":     Version,
			"status":      "operational",
			"environment": cfg.Environment,
		})
	}
}
