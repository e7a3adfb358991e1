package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tenantdesk/internal/auth"
	"tenantdesk/internal/config"
	"tenantdesk/internal/metrics"
	"tenantdesk/internal/middleware"
	"tenantdesk/internal/storage"
	"tenantdesk/internal/tenancy"
)

// Deps holds everything the router needs.
type Deps struct {
	Config      *config.Config
	Logger      zerolog.Logger
	DB          HealthChecker
	Auth        *auth.Service
	Tenancy     *tenancy.Manager
	Files       *storage.Intake
	Verifier    middleware.TokenVerifier
	Revocations auth.RevocationStore
	Limiter     *middleware.RateLimiter

	// Metrics and Gatherer are optional.
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer

	// MemoryBucket is set when objects are kept in process; its contents
	// are then served under /storage.
	MemoryBucket *storage.MemoryBucket
}

// NewRouter builds the HTTP handler for the whole API.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	if deps.Config.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Recover)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.NewCORS(deps.Config.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(middleware.MaxBodySize(middleware.MaxUploadBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		auth.WriteJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		auth.WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Health and status endpoints (no auth required)
	r.Get("/health", HealthCheck(deps.DB))
	r.Get("/api/v1/status", statusHandler(deps.Config))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	if deps.MemoryBucket != nil {
		r.Get("/storage/{bucket}/*", ServeObject(deps.MemoryBucket))
	}

	perIP, perUser := passthrough, passthrough
	if deps.Limiter != nil {
		perIP, perUser = deps.Limiter.PerIP(), deps.Limiter.PerUser()
	}
	requireAuth := middleware.RequireAuth(deps.Verifier, deps.Revocations)

	authHandler := NewAuthHandler(deps.Auth)
	companies := NewCompanyHandler(deps.Tenancy, deps.Metrics)
	users := NewUserHandler(deps.Tenancy, deps.Metrics)
	uploads := NewUploadHandler(deps.Files, deps.Metrics)

	r.Route("/auth", func(r chi.Router) {
		r.With(perIP).Post("/signup", authHandler.Signup)
		r.With(perIP).Post("/signin", authHandler.Signin)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth, perUser)
			r.Post("/signout", authHandler.Signout)
			r.Get("/user", authHandler.CurrentUser)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth, perUser)

		r.Route("/companies", func(r chi.Router) {
			r.Post("/", companies.Create)
			r.Post("/join", companies.Join)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", companies.Get)
				r.Put("/", companies.Update)
				r.Delete("/", companies.Delete)
				r.Get("/users", companies.Users)
				r.Post("/logo", companies.Logo)
				r.Post("/pricing-document", companies.PricingDocument)
				r.Put("/payment-status", companies.PaymentStatus)
				r.Put("/ai-training-status", companies.TrainingStatus)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", users.Profile)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", users.Get)
				r.Put("/", users.Update)
				r.Delete("/", users.Delete)
				r.Put("/role", users.UpdateRole)
				r.Post("/join-company", users.JoinCompany)
				r.Post("/leave-company", users.LeaveCompany)
			})
		})

		r.Route("/onboarding", func(r chi.Router) {
			r.Post("/complete", users.CompleteOnboarding)
			r.Post("/skip", users.SkipOnboarding)
		})

		r.Route("/upload", func(r chi.Router) {
			r.Post("/logo", uploads.Logo)
			r.Post("/document", uploads.Document)
			r.Get("/files", uploads.List)
			r.Delete("/files", uploads.Delete)
			r.Get("/info", uploads.Info)
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler { return next }
