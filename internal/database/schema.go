package database

import (
	"context"
	"fmt"
	"log/slog"

	"pollapp/internal/config"
	"pollapp/internal/middleware"

	"gorm.io/gorm"
)

const (
	SchemaModeHybrid = "hybrid"
	SchemaModeSQL    = "sql"
	SchemaModeAuto   = "auto"
)

// SchemaStatus describes what ApplySchema would do.
type SchemaStatus struct {
	Mode               string
	Environment        string
	WillRunSQL         bool
	WillRunAutoMigrate bool
	AppliedVersions    []int
	PendingMigrations  []Migration
	DriftedVersions    []int
}

func schemaMode(cfg *config.Config) string {
	if cfg.DBSchemaMode == "" {
		return SchemaModeHybrid
	}
	return cfg.DBSchemaMode
}

// schemaPolicy decides which schema steps run. SQL migrations are the source of
// truth in production; AutoMigrate only fills gaps in development.
func schemaPolicy(cfg *config.Config) (runSQL bool, runAuto bool, err error) {
	mode := schemaMode(cfg)
	prod := cfg.IsProduction()

	switch mode {
	case SchemaModeSQL:
		return true, false, nil
	case SchemaModeAuto:
		if prod {
			return false, false, fmt.Errorf("refusing DB_SCHEMA_MODE=auto in %q", cfg.Env)
		}
		return false, true, nil
	case SchemaModeHybrid:
		return true, !prod, nil
	default:
		return false, false, fmt.Errorf("unsupported DB_SCHEMA_MODE %q", mode)
	}
}

// AutoMigrate creates or updates tables for every persistent model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(PersistentModels()...)
}

// ApplySchema runs SQL migrations and/or AutoMigrate according to DB_SCHEMA_MODE.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	runSQL, runAuto, err := schemaPolicy(cfg)
	if err != nil {
		return err
	}

	if runSQL {
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	}
	if runAuto {
		middleware.Logger.Info("Running GORM AutoMigrate", slog.String("mode", schemaMode(cfg)), slog.String("env", cfg.Env))
		if err := AutoMigrate(db.WithContext(ctx)); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return nil
}

// GetSchemaStatus reports applied and pending migrations without changing anything.
func GetSchemaStatus(ctx context.Context, db *gorm.DB, cfg *config.Config) (*SchemaStatus, error) {
	runSQL, runAuto, err := schemaPolicy(cfg)
	if err != nil {
		return nil, err
	}

	status := &SchemaStatus{
		Mode:               schemaMode(cfg),
		Environment:        cfg.Env,
		WillRunSQL:         runSQL,
		WillRunAutoMigrate: runAuto,
	}
	if !runSQL {
		return status, nil
	}

	plan, err := NewMigrator(db, GetMigrations()).Plan(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range plan.Applied {
		status.AppliedVersions = append(status.AppliedVersions, row.Version)
	}
	status.PendingMigrations = plan.Pending
	status.DriftedVersions = plan.Drifted
	return status, nil
}
