// Command migrate manages the poll API's database schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"pollapp/internal/config"
	"pollapp/internal/database"
	"pollapp/internal/middleware"
)

const help = `pollapp schema tool

Usage:
  go run ./cmd/migrate [flags] up            apply pending SQL migrations
  go run ./cmd/migrate auto                  run GORM AutoMigrate (refused in production)
  go run ./cmd/migrate status                list applied, pending and drifted migrations
  go run ./cmd/migrate down [version]        revert the latest migration

Flags:
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), help)
		flag.PrintDefaults()
	}
	target := flag.Int("to", 0, "with up: stop after this version (0 applies everything)")
	dryRun := flag.Bool("dry-run", false, "with up: list what would be applied and exit")
	flag.Parse()

	if err := run(context.Background(), flag.Args(), *target, *dryRun); err != nil {
		middleware.Logger.Error("schema command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, target int, dryRun bool) error {
	if len(args) < 1 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	log := middleware.Logger.With(slog.String("db", cfg.DBName), slog.String("env", cfg.Env))
	migrator := database.NewMigrator(db, database.GetMigrations())

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "up":
		if dryRun {
			plan, err := migrator.Plan(ctx)
			if err != nil {
				return err
			}
			for _, m := range plan.Pending {
				if target > 0 && m.Version > target {
					break
				}
				log.Info("would apply", slog.String("migration", m.String()))
			}
			return nil
		}
		done, err := migrator.Up(ctx, target)
		if err != nil {
			return err
		}
		log.Info("schema up to date", slog.Int("applied", len(done)))

	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema apply: %w", err)
		}
		log.Info("automigrate finished")

	case "status":
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return err
		}
		log.Info("schema status",
			slog.String("mode", status.Mode),
			slog.Bool("run_sql", status.WillRunSQL),
			slog.Bool("run_auto", status.WillRunAutoMigrate),
			slog.Int("applied", len(status.AppliedVersions)),
			slog.Int("pending", len(status.PendingMigrations)))
		for _, m := range status.PendingMigrations {
			log.Info("pending", slog.String("migration", m.String()))
		}
		for _, v := range status.DriftedVersions {
			log.Warn("applied migration changed on disk", slog.Int("version", v))
		}

	case "down":
		version := 0
		if len(args) > 1 {
			if version, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid version %q: %w", args[1], err)
			}
		}
		m, err := migrator.Down(ctx, version)
		if err != nil {
			return err
		}
		log.Info("reverted", slog.String("migration", m.String()))

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
