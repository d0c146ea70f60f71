package repository

import (
	"context"
	"errors"

	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/observability"

	"gorm.io/gorm"
)

// ReactionRepository defines persistence operations for poll reactions.
type ReactionRepository interface {
	Toggle(ctx context.Context, userID, pollID uint, emoji string) (removed bool, reaction *models.Reaction, err error)
	Counts(ctx context.Context, pollID uint) ([]models.ReactionCount, error)
}

type reactionRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewReactionRepository returns a new ReactionRepository implementation.
func NewReactionRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{db: db, log: observability.NewRepoLogger(middleware.Logger, "reactions")}
}

// Toggle removes the user's reaction when it exists and adds it otherwise.
func (r *reactionRepository) Toggle(ctx context.Context, userID, pollID uint, emoji string) (bool, *models.Reaction, error) {
	var (
		removed bool
		created *models.Reaction
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Reaction
		err := tx.Where("user_id = ? AND poll_id = ? AND emoji = ?", userID, pollID, emoji).First(&existing).Error
		switch {
		case err == nil:
			removed = true
			return tx.Delete(&existing).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		created = &models.Reaction{UserID: userID, PollID: pollID, Emoji: emoji}
		return tx.Omit("User", "Poll").Create(created).Error
	})
	if err != nil {
		// A concurrent toggle inserted the same reaction first.
		if isUniqueViolation(err) {
			return false, nil, models.NewConflictError("Reaction is being updated, try again")
		}
		r.log.LogError(ctx, err, "toggle")
		return false, nil, models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "toggle", "poll_id", pollID, "emoji", emoji, "removed", removed)
	return removed, created, nil
}

// Counts returns how many users reacted with each emoji, most used first.
func (r *reactionRepository) Counts(ctx context.Context, pollID uint) ([]models.ReactionCount, error) {
	counts := []models.ReactionCount{}
	err := readDB(r.db).WithContext(ctx).
		Model(&models.Reaction{}).
		Select("emoji, COUNT(*) AS count").
		Where("poll_id = ?", pollID).
		Group("emoji").
		Order("count DESC").Order("emoji ASC").
		Scan(&counts).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return counts, nil
}
