package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"tenantdesk/internal/config"
	"tenantdesk/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Version kong.VersionFlag
		Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API."`
		Migrate MigrateCmd `cmd:"" help:"Manage database migrations."`
	}
)

// Globals is bound into every command's Run method.
type Globals struct {
	Config  *config.Config
	Version string
}

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("tenantdesk"),
		kong.Description("Multi-tenant company and user directory."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))

	cfg, err := config.Load()
	cmd.FatalIfErrorf(err)

	log.Logger = logger.Setup(cfg.IsDevelopment())

	err = cmd.Run(&Globals{Config: cfg, Version: version})
	cmd.FatalIfErrorf(err)
}
