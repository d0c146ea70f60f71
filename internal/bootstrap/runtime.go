// Package bootstrap wires the runtime dependencies shared by the server and
// the command line tools.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pollapp/internal/cache"
	"pollapp/internal/config"
	"pollapp/internal/database"
	"pollapp/internal/middleware"
	"pollapp/internal/models"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const defaultRootEmail = "root@pollapp.local"

// InitRuntime connects to the database and Redis and applies
// development-only account bootstrapping. A nil Redis client means the app
// runs without cache and pub/sub.
func InitRuntime(cfg *config.Config) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	if cfg.ResultsCacheTTLSeconds > 0 {
		cache.ResultsTTL = time.Duration(cfg.ResultsCacheTTLSeconds) * time.Second
	}

	if err := ensureDevRootAdmin(cfg, db); err != nil {
		return nil, nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	return db, cache.GetClient(), nil
}

// ensureDevRootAdmin creates or promotes the configured root account when
// running in development with DEV_BOOTSTRAP_ROOT enabled.
func ensureDevRootAdmin(cfg *config.Config, db *gorm.DB) error {
	if cfg == nil || db == nil {
		return nil
	}
	if cfg.Env != "development" || !cfg.DevBootstrapRoot {
		return nil
	}

	email := strings.ToLower(strings.TrimSpace(cfg.DevRootEmail))
	if email == "" {
		email = defaultRootEmail
	}
	if cfg.DevRootPassword == "" {
		return errors.New("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.DevRootPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash root password: %w", err)
	}

	ctx := context.Background()
	var root models.User
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		findErr := tx.Where("email = ?", email).First(&root).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			root = models.User{
				Name:     "Root",
				Email:    email,
				Password: string(hashed),
				Role:     models.RoleAdmin,
				Theme:    models.ThemeLight,
			}
			return tx.Create(&root).Error
		case findErr != nil:
			return findErr
		default:
			return tx.Model(&models.User{}).Where("id = ?", root.ID).
				Updates(map[string]any{"role": models.RoleAdmin, "password": string(hashed)}).Error
		}
	})
	if err != nil {
		return err
	}

	cache.InvalidateUser(ctx, root.ID)
	cache.Invalidate(ctx, cache.AnalyticsKey)
	middleware.Logger.InfoContext(ctx, "development root admin ensured", "email", email, "user_id", root.ID)
	return nil
}
