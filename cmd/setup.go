package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/cutline/internal/engine"
	"github.com/desertthunder/cutline/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	r.logger.Info("initializing database", "path", r.config.Database.Path)

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	applied, err := shared.AppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v (%d migrations applied)", r.config.Database.Path, len(applied))
	return nil
}

// SetupConfig writes the default configuration to --output.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)
	r.writePlain("✓ Config written to %s\n", path)
	return nil
}

// Models lists the separation models and marks the configured one.
func (r *Runner) Models(ctx context.Context, cmd *cli.Command) error {
	selected, known := engine.LookupModel(r.config.Separation.SelectedModelID)
	if !known {
		r.logger.Warn("configured model is unknown, falling back", "model", r.config.Separation.SelectedModelID, "fallback", selected.ID)
	}

	r.writePlainHeader("Separation models")
	for _, m := range engine.Models() {
		marker := " "
		if m.ID == selected.ID {
			marker = "*"
		}
		r.writePlain("%s %-14s %-20s %s (%d stems)\n", marker, m.ID, m.Name, m.Filename, m.Stems)
	}
	return nil
}
