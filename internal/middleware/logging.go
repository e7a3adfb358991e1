package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RequestLogger attaches logger to every request context, assigns a request
// id and writes one access log line per request.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{
		hlog.NewHandler(logger),
		hlog.RequestIDHandler("request_id", "X-Request-Id"),
		hlog.RemoteAddrHandler("ip"),
		hlog.UserAgentHandler("user_agent"),
		hlog.AccessHandler(accessLog),
	}

	return func(next http.Handler) http.Handler {
		for i := len(chain) - 1; i >= 0; i-- {
			next = chain[i](next)
		}
		return next
	}
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	logger := hlog.FromRequest(r)

	event := logger.Info()
	switch {
	case status >= 500:
		event = logger.Error()
	case status >= 400:
		event = logger.Warn()
	}

	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("http_request")
}
