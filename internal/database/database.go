// Package database handles database connections and migrations.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pollapp/internal/config"
	"pollapp/internal/middleware"
	"pollapp/internal/observability"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// DB is the global primary connection.
	DB *gorm.DB
	// readDB is an optional replica used for heavy reads.
	readDB *gorm.DB
)

// CustomGormLogger integrates GORM with slog
type CustomGormLogger struct {
	logger *slog.Logger
	Config logger.Config
}

// NewGormLogger returns a gorm logger writing to l at Warn level.
func NewGormLogger(l *slog.Logger) *CustomGormLogger {
	return &CustomGormLogger{
		logger: l,
		Config: logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	}
}

// LogMode sets the logging level and returns a new interface instance.
func (l *CustomGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newlogger := *l
	newlogger.Config.LogLevel = level
	return &newlogger
}

func (l *CustomGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *CustomGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *CustomGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.Config.LogLevel >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace logs failed and slow queries. Duplicate-key errors are expected on the
// vote path and are logged at debug.
func (l *CustomGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.Config.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && errors.Is(err, gorm.ErrDuplicatedKey):
		l.logger.DebugContext(ctx, "GORM duplicate key", slog.String("sql", sql))
	case err != nil && l.Config.LogLevel >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		l.logger.ErrorContext(ctx, "GORM query error",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	case elapsed > l.Config.SlowThreshold && l.Config.SlowThreshold != 0 && l.Config.LogLevel >= logger.Warn:
		l.logger.WarnContext(ctx, "GORM slow query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	case l.Config.LogLevel >= logger.Info:
		l.logger.InfoContext(ctx, "GORM query",
			slog.String("sql", sql),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	}
}

// GormConfig is the gorm configuration shared by every connection.
// TranslateError maps driver unique violations to gorm.ErrDuplicatedKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         NewGormLogger(middleware.Logger),
		TranslateError: true,
	}
}

func dsn(host, port, user, password, name, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, name, sslMode)
}

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	ApplySchema bool
}

// Connect opens the primary (and optional read replica) connection, applies the
// schema per DB_SCHEMA_MODE and returns the primary.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	return ConnectWithOptions(cfg, ConnectOptions{ApplySchema: true})
}

// ConnectWithOptions is Connect for tools that manage the schema themselves.
func ConnectWithOptions(cfg *config.Config, opts ConnectOptions) (*gorm.DB, error) {
	primary, err := gorm.Open(postgres.Open(dsn(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := configurePool(primary, cfg); err != nil {
		return nil, err
	}
	middleware.Logger.Info("Database connected successfully")

	if opts.ApplySchema {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := ApplySchema(ctx, primary, cfg); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if cfg.DBReadHost != "" {
		replica, err := gorm.Open(postgres.Open(dsn(cfg.DBReadHost, cfg.DBReadPort, cfg.DBReadUser, cfg.DBReadPassword, cfg.DBName, cfg.DBSSLMode)), GormConfig())
		if err != nil {
			middleware.Logger.Warn("read replica unavailable, using primary for reads", slog.String("error", err.Error()))
		} else if err := configurePool(replica, cfg); err == nil {
			readDB = replica
			middleware.Logger.Info("Read replica connected", slog.String("host", cfg.DBReadHost))
		}
	}

	if err := registerQueryMetrics(primary); err != nil {
		return nil, err
	}

	DB = primary
	return DB, nil
}

// GetReadDB returns the replica if one is configured, otherwise the primary.
func GetReadDB() *gorm.DB {
	if readDB != nil {
		return readDB
	}
	return DB
}

func configurePool(db *gorm.DB, cfg *config.Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	maxOpen := cfg.DBMaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.DBMaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := time.Duration(cfg.DBConnMaxLifetimeMinutes) * time.Minute
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)
	return nil
}

const metricsStartKey = "pollapp:query_start"

// registerQueryMetrics feeds pollapp_database_query_latency_seconds from gorm callbacks.
func registerQueryMetrics(db *gorm.DB) error {
	before := func(tx *gorm.DB) { tx.InstanceSet(metricsStartKey, time.Now()) }
	after := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(metricsStartKey)
			if !ok {
				return
			}
			start, _ := v.(time.Time)
			table := tx.Statement.Table
			if table == "" {
				table = "raw"
			}
			observability.DatabaseQueryLatency.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
		}
	}

	cb := db.Callback()
	steps := []error{
		cb.Create().Before("gorm:create").Register("metrics:before_create", before),
		cb.Create().After("gorm:create").Register("metrics:after_create", after("create")),
		cb.Query().Before("gorm:query").Register("metrics:before_query", before),
		cb.Query().After("gorm:query").Register("metrics:after_query", after("query")),
		cb.Update().Before("gorm:update").Register("metrics:before_update", before),
		cb.Update().After("gorm:update").Register("metrics:after_update", after("update")),
		cb.Delete().Before("gorm:delete").Register("metrics:before_delete", before),
		cb.Delete().After("gorm:delete").Register("metrics:after_delete", after("delete")),
	}
	return errors.Join(steps...)
}
