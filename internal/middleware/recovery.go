package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"tenantdesk/internal/auth"
)

// Recover turns a handler panic into a 500 response.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			zerolog.Ctx(r.Context()).Error().
				Interface("panic", rec).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("stack", string(debug.Stack())).
				Msg("panic recovered")
			auth.WriteJSONError(w, http.StatusInternalServerError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
