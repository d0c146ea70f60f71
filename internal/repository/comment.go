package repository

import (
	"context"

	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	ListByPoll(ctx context.Context, pollID uint) ([]*models.Comment, error)
	Delete(ctx context.Context, id uint) error
}

type commentRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db, log: observability.NewRepoLogger(middleware.Logger, "comments")}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if err := r.db.WithContext(ctx).Omit("User", "Poll").Create(comment).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "create", "comment_id", comment.ID, "poll_id", comment.PollID)
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Preload("User").First(&comment, id).Error; err != nil {
		return nil, lookupError(err, "Comment", id)
	}
	return &comment, nil
}

// ListByPoll returns the poll's comments newest first with their authors.
func (r *commentRepository) ListByPoll(ctx context.Context, pollID uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := readDB(r.db).WithContext(ctx).
		Preload("User").
		Where("poll_id = ?", pollID).
		Order("created_at desc").Order("id desc").
		Find(&comments).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return comments, nil
}

func (r *commentRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Comment{}, id)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "delete")
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Comment", id)
	}
	r.log.LogWrite(ctx, "delete", "comment_id", id)
	return nil
}
