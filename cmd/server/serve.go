package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"tenantdesk/internal/auth"
	"tenantdesk/internal/config"
	"tenantdesk/internal/database"
	"tenantdesk/internal/handler"
	"tenantdesk/internal/jwtauth"
	"tenantdesk/internal/metrics"
	"tenantdesk/internal/middleware"
	"tenantdesk/internal/storage"
	"tenantdesk/internal/tenancy"
)

const shutdownTimeout = 30 * time.Second

type ServeCmd struct {
	Migrate bool `help:"Apply pending migrations before serving." default:"true" negatable:"" env:"AUTO_MIGRATE"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg := globals.Config
	handler.Version = globals.Version

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database connection")
		}
	}()
	log.Info().Msg("database connection established")

	if c.Migrate {
		if err := db.MigrateUp(); err != nil {
			return err
		}
		if err := logVersion(db); err != nil {
			log.Warn().Err(err).Msg("failed to read migration version")
		}
	}

	bucket, memoryBucket, err := openBucket(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	files := storage.NewIntake(bucket, cfg.Storage.PublicURL)

	jwtConfig := jwtauth.Config{Secret: cfg.Auth.Secret, Issuer: cfg.Auth.Issuer, TTL: cfg.Auth.TokenTTL}
	issuer, err := jwtauth.NewIssuer(jwtConfig)
	if err != nil {
		return err
	}
	verifier, err := jwtauth.NewVerifier(jwtConfig)
	if err != nil {
		return err
	}

	revocations := auth.NewPostgresRevocationStore(db.DB)
	if purged, err := revocations.PurgeExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to purge expired token revocations")
	} else if purged > 0 {
		log.Info().Int64("purged", purged).Msg("purged expired token revocations")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(cfg.RateLimit.RPS),
		Burst:           cfg.RateLimit.Burst,
		CleanupInterval: 5 * time.Minute,
		OnLimited:       collector.RecordRateLimited,
	})
	defer limiter.Stop()

	router := handler.NewRouter(&handler.Deps{
		Config:       cfg,
		Logger:       log.Logger,
		DB:           db,
		Auth:         auth.NewService(db.DB, issuer, revocations),
		Tenancy:      tenancy.NewManager(db.DB, files),
		Files:        files,
		Verifier:     verifier,
		Revocations:  revocations,
		Limiter:      limiter,
		Metrics:      collector,
		Gatherer:     reg,
		MemoryBucket: memoryBucket,
	})

	server := configureHTTPServer(":"+cfg.Port, router)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("env", cfg.Environment).Str("version", globals.Version).
			Msg("tenantdesk server starting")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, waiting for in-flight requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed, forcing shutdown")
		if err := server.Close(); err != nil {
			return fmt.Errorf("forced shutdown failed: %w", err)
		}
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// openBucket returns the configured object store. The memory bucket is also
// returned on its own so the router can serve its contents.
func openBucket(ctx context.Context, cfg config.StorageConfig) (storage.Bucket, *storage.MemoryBucket, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using in-memory object storage; uploads are lost on restart")
		b := storage.NewMemoryBucket(cfg.Bucket)
		return b, b, nil
	case "s3":
		b, err := storage.NewS3BucketFromConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func configureHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    8 * 1024,
	}
}
