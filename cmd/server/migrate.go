package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"tenantdesk/internal/database"
)

type MigrateCmd struct {
	Up      MigrateUpCmd      `cmd:"" help:"Apply all pending migrations."`
	Down    MigrateDownCmd    `cmd:"" help:"Roll back every migration."`
	Version MigrateVersionCmd `cmd:"" help:"Print the current migration version."`
}

type MigrateUpCmd struct{}

func (c *MigrateUpCmd) Run(ctx context.Context, globals *Globals) error {
	db, err := database.Connect(ctx, globals.Config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		return err
	}
	return logVersion(db)
}

type MigrateDownCmd struct{}

func (c *MigrateDownCmd) Run(ctx context.Context, globals *Globals) error {
	db, err := database.Connect(ctx, globals.Config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigrateDown(); err != nil {
		return err
	}
	log.Info().Msg("all migrations rolled back")
	return nil
}

type MigrateVersionCmd struct{}

func (c *MigrateVersionCmd) Run(ctx context.Context, globals *Globals) error {
	db, err := database.Connect(ctx, globals.Config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return logVersion(db)
}

func logVersion(db *database.DB) error {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		log.Warn().Uint("version", version).
			Msg("database is in dirty state: a previous migration failed and manual intervention is required")
		return nil
	}
	log.Info().Uint("version", version).Msg("database migrations complete")
	return nil
}
