package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"pollapp/internal/middleware"

	"gorm.io/gorm"
)

// SchemaVersion is one row of the applied-migration ledger.
type SchemaVersion struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	Checksum  string    `gorm:"size:64;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the ledger table name.
func (SchemaVersion) TableName() string {
	return "schema_versions"
}

const ensureSchemaVersionsSQL = `
CREATE TABLE IF NOT EXISTS schema_versions (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	checksum VARCHAR(64) NOT NULL DEFAULT '',
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Checksum fingerprints the up script so edits to applied migrations show up
// as drift.
func (m *Migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.UpScript))
	return hex.EncodeToString(sum[:])
}

// MigrationPlan compares the ledger with the registered migrations.
type MigrationPlan struct {
	Applied []SchemaVersion
	Pending []Migration
	// Drifted lists applied versions whose script changed after they ran.
	Drifted []int
}

// Migrator applies and reverts a fixed, version-ordered set of migrations.
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
	log        *slog.Logger
}

// NewMigrator returns a Migrator over set, which must be sorted by version.
func NewMigrator(db *gorm.DB, set []Migration) *Migrator {
	return &Migrator{
		db:         db,
		migrations: set,
		log:        middleware.Logger.With(slog.String("component", "schema_migrations")),
	}
}

// Applied reads the ledger in version order. A missing ledger reads as empty.
func (m *Migrator) Applied(ctx context.Context) ([]SchemaVersion, error) {
	var rows []SchemaVersion
	if err := m.db.WithContext(ctx).Order("version ASC").Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || isMissingTableError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schema_versions: %w", err)
	}
	return rows, nil
}

func isMissingTableError(err error) bool {
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

// Plan reports applied, pending and drifted migrations without changing anything.
func (m *Migrator) Plan(ctx context.Context) (*MigrationPlan, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(applied))
	for _, row := range applied {
		versions = append(versions, row.Version)
	}
	if err := validateAppliedVersions(versions, m.migrations); err != nil {
		return nil, err
	}

	plan := &MigrationPlan{Applied: applied}
	byVersion := make(map[int]SchemaVersion, len(applied))
	for _, row := range applied {
		byVersion[row.Version] = row
	}
	for i := range m.migrations {
		mig := m.migrations[i]
		row, ok := byVersion[mig.Version]
		switch {
		case !ok:
			plan.Pending = append(plan.Pending, mig)
		case row.Checksum != "" && row.Checksum != mig.Checksum():
			plan.Drifted = append(plan.Drifted, mig.Version)
		}
	}
	return plan, nil
}

// Up applies pending migrations in order, stopping after target when it is
// non-zero. It returns the migrations it applied.
func (m *Migrator) Up(ctx context.Context, target int) ([]Migration, error) {
	if err := m.db.WithContext(ctx).Exec(ensureSchemaVersionsSQL).Error; err != nil {
		return nil, fmt.Errorf("ensure schema_versions table: %w", err)
	}
	plan, err := m.Plan(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range plan.Drifted {
		m.log.WarnContext(ctx, "applied migration changed since it ran", slog.Int("version", v))
	}

	var done []Migration
	for _, mig := range plan.Pending {
		if target > 0 && mig.Version > target {
			break
		}
		if err := m.apply(ctx, mig); err != nil {
			return done, err
		}
		done = append(done, mig)
	}
	return done, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	start := time.Now()
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(mig.UpScript).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", mig.String(), err)
		}
		row := SchemaVersion{Version: mig.Version, Name: mig.Name, Checksum: mig.Checksum()}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("record migration %s: %w", mig.String(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.InfoContext(ctx, "migration applied",
		slog.String("migration", mig.String()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}

// Down reverts the most recently applied migration. A non-zero version must
// name that migration; older versions cannot be reverted out of order.
func (m *Migrator) Down(ctx context.Context, version int) (*Migration, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		return nil, fmt.Errorf("no migrations have been applied")
	}
	latest := applied[len(applied)-1].Version
	if version == 0 {
		version = latest
	}
	if version != latest {
		return nil, fmt.Errorf("migration %06d is not the latest applied (%06d)", version, latest)
	}

	mig := m.lookup(version)
	if mig == nil {
		return nil, fmt.Errorf("migration version %d not found", version)
	}

	start := time.Now()
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(mig.DownScript).Error; err != nil {
			return fmt.Errorf("revert migration %s: %w", mig.String(), err)
		}
		return tx.Where("version = ?", version).Delete(&SchemaVersion{}).Error
	})
	if err != nil {
		return nil, err
	}
	m.log.InfoContext(ctx, "migration reverted",
		slog.String("migration", mig.String()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return mig, nil
}

func (m *Migrator) lookup(version int) *Migration {
	for i := range m.migrations {
		if m.migrations[i].Version == version {
			return &m.migrations[i]
		}
	}
	return nil
}

// RunMigrations applies every pending embedded migration.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	_, err := NewMigrator(db, GetMigrations()).Up(ctx, 0)
	return err
}

func validateAppliedVersions(applied []int, registered []Migration) error {
	known := make(map[int]struct{}, len(registered))
	for _, m := range registered {
		known[m.Version] = struct{}{}
	}

	var unknown []int
	for _, version := range applied {
		if _, ok := known[version]; !ok {
			unknown = append(unknown, version)
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	sort.Ints(unknown)
	parts := make([]string, 0, len(unknown))
	for _, version := range unknown {
		parts = append(parts, fmt.Sprintf("%06d", version))
	}
	return fmt.Errorf("schema_versions lists versions this build does not know: %s", strings.Join(parts, ", "))
}
