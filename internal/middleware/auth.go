// Package middleware provides HTTP middleware for tenantdesk.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenantdesk/internal/auth"
	"tenantdesk/internal/jwtauth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userIDKey contextKey = "user_id"

// TokenVerifier validates an access token and returns its claims.
type TokenVerifier interface {
	Verify(tokenString string) (*jwtauth.Claims, error)
}

// ContextWithUserID returns a copy of ctx carrying the authenticated user id.
func ContextWithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// RequireAuth returns middleware that authenticates requests with a bearer
// access token.
//
// Authentication flow:
//  1. Extract bearer token from Authorization header
//  2. Verify signature, issuer and expiry
//  3. Reject tokens revoked by signout
//  4. Attach claims and user id to the request context
//
// Error responses:
//   - 401 Unauthorized: missing, malformed, invalid, expired or revoked token
//   - 500 Internal Server Error: revocation lookup failed
func RequireAuth(verifier TokenVerifier, revocations auth.RevocationStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.ExtractBearerToken(r)
			if err != nil {
				auth.WriteUnauthorized(w)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				zerolog.Ctx(r.Context()).Debug().Err(err).Msg("rejected access token")
				auth.WriteUnauthorized(w)
				return
			}

			revoked, err := revocations.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				// Don't leak details
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to check token revocation")
				auth.WriteJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if revoked {
				auth.WriteUnauthorized(w)
				return
			}

			userID, err := claims.UserID()
			if err != nil {
				auth.WriteUnauthorized(w)
				return
			}

			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user_id", userID.String())
			})

			ctx := jwtauth.WithClaims(r.Context(), claims)
			ctx = ContextWithUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
