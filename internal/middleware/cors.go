package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// NewCORS returns CORS middleware for the given origins. Access tokens are
// sent in the Authorization header, so credentials are not allowed.
func NewCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	})
	return c.Handler
}
