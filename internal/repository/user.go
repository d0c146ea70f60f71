package repository

import (
	"context"
	"errors"

	"pollapp/internal/cache"
	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/observability"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateRole(ctx context.Context, id uint, role models.Role) error
	UpdateTheme(ctx context.Context, id uint, theme models.Theme) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	NormalizeRoles(ctx context.Context) (int64, error)
}

type userRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, log: observability.NewRepoLogger(middleware.Logger, "users")}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := cache.Aside(ctx, cache.UserKey(id), &user, cache.UserTTL, func() error {
		if err := readDB(r.db).WithContext(ctx).First(&user, id).Error; err != nil {
			return lookupError(err, "User", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	normalizeRole(&user)
	return &user, nil
}

// GetByEmail returns nil, nil when no account uses the address.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := readDB(r.db).WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	normalizeRole(&user)
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return models.NewConflictError("An account with this email already exists")
		}
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "create", "user_id", user.ID)
	cache.Invalidate(ctx, cache.AnalyticsKey)
	return nil
}

func (r *userRepository) UpdateRole(ctx context.Context, id uint, role models.Role) error {
	return r.updateColumn(ctx, id, "role", role)
}

func (r *userRepository) UpdateTheme(ctx context.Context, id uint, theme models.Theme) error {
	return r.updateColumn(ctx, id, "theme", theme)
}

func (r *userRepository) updateColumn(ctx context.Context, id uint, column string, value any) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update_"+column)
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	r.log.LogWrite(ctx, "update_"+column, "user_id", id)
	cache.InvalidateUser(ctx, id)
	if column == "role" {
		cache.Invalidate(ctx, cache.AnalyticsKey)
	}
	return nil
}

// Delete removes the user together with their votes, comments, reactions
// and every poll they own.
func (r *userRepository) Delete(ctx context.Context, id uint) error {
	var touched []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id").First(&user, id).Error; err != nil {
			return lookupError(err, "User", id)
		}

		var owned, votedOn []uint
		if err := tx.Model(&models.Poll{}).Where("user_id = ?", id).Pluck("id", &owned).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Vote{}).Where("user_id = ?", id).Distinct().Pluck("poll_id", &votedOn).Error; err != nil {
			return err
		}
		touched = lo.Uniq(append(owned, votedOn...))

		if err := tx.Where("user_id = ?", id).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := deletePolls(tx, owned); err != nil {
			return err
		}
		return tx.Delete(&models.User{}, id).Error
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return err
		}
		r.log.LogError(ctx, err, "delete")
		return models.NewInternalError(err)
	}

	r.log.LogWrite(ctx, "delete", "user_id", id, "polls_touched", len(touched))
	cache.InvalidateUser(ctx, id)
	for _, pollID := range touched {
		cache.InvalidatePoll(ctx, pollID)
	}
	return nil
}

// List returns users newest first with their poll and vote counts.
func (r *userRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	db := readDB(r.db).WithContext(ctx)

	var users []models.User
	if err := db.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	ids := lo.Map(users, func(u models.User, _ int) uint { return u.ID })
	polls, err := countsBy(db, "polls", "user_id", ids)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	votes, err := countsBy(db, "votes", "user_id", ids)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	for i := range users {
		normalizeRole(&users[i])
		users[i].PollCount = polls[users[i].ID]
		users[i].VoteCount = votes[users[i].ID]
	}
	return users, nil
}

// NormalizeRoles rewrites legacy role spellings to their lowercase form and
// returns the number of rows changed.
func (r *userRepository) NormalizeRoles(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role <> LOWER(role)").
		Update("role", gorm.Expr("LOWER(role)"))
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	if res.RowsAffected > 0 {
		r.log.LogWrite(ctx, "normalize_roles", "rows", res.RowsAffected)
		cache.Invalidate(ctx, cache.AnalyticsKey)
	}
	return res.RowsAffected, nil
}

func normalizeRole(u *models.User) {
	if role, ok := models.ParseRole(string(u.Role)); ok {
		u.Role = role
	}
}
