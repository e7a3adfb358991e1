// Package auth handles account signup, signin and signout, and the helpers
// the HTTP layer uses to authenticate requests.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Sentinel errors for token extraction failures.
// These can be used for debugging/logging but should NOT be exposed in responses.
var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthScheme = errors.New("invalid authorization scheme: expected Bearer")
	ErrEmptyToken        = errors.New("empty bearer token")
)

// ExtractBearerToken extracts the token from an "Authorization: Bearer <token>" header.
// Returns an error if the header is missing, uses wrong scheme, or token is empty.
// Does not log anything.
func ExtractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", ErrInvalidAuthScheme
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// ErrorResponse is the body of every error response: {"error": "<message>"}.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONError writes a JSON error response.
// Always sets Content-Type: application/json.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		log.Error().Err(err).Msg("failed to write JSON error response")
	}
}

// WriteUnauthorized writes a 401 Unauthorized JSON response.
// Use when the token is missing, malformed, expired or revoked.
func WriteUnauthorized(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
}
