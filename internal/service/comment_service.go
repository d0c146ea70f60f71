package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"pollapp/internal/models"
	"pollapp/internal/policy"
	"pollapp/internal/repository"
)

const maxCommentLen = 2000

type CommentService struct {
	commentRepo repository.CommentRepository
	pollRepo    repository.PollRepository
	policy      *policy.Policy
}

type CreateCommentInput struct {
	PollID uint
	Text   string
}

type DeleteCommentInput struct {
	PollID    uint
	CommentID uint
}

func NewCommentService(commentRepo repository.CommentRepository, pollRepo repository.PollRepository, pol *policy.Policy) *CommentService {
	if pol == nil {
		pol = policy.Default
	}
	return &CommentService{commentRepo: commentRepo, pollRepo: pollRepo, policy: pol}
}

func (s *CommentService) ListComments(ctx context.Context, pollID uint) ([]*models.Comment, error) {
	if _, err := s.pollRepo.GetByID(ctx, pollID); err != nil {
		return nil, err
	}
	return s.commentRepo.ListByPoll(ctx, pollID)
}

func (s *CommentService) CreateComment(ctx context.Context, actor policy.Actor, in CreateCommentInput) (*models.Comment, error) {
	if err := s.policy.Authorize(actor, policy.Platform, policy.Comment); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, models.NewValidationError("Comment text is required")
	}
	if utf8.RuneCountInString(text) > maxCommentLen {
		return nil, models.NewValidationError("Comment too long (max 2000 characters)")
	}
	if _, err := s.pollRepo.GetByID(ctx, in.PollID); err != nil {
		return nil, err
	}

	comment := &models.Comment{Text: text, PollID: in.PollID, UserID: actor.UserID}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, err
	}
	return s.commentRepo.GetByID(ctx, comment.ID)
}

// DeleteComment lets the author, the poll owner or an admin remove a comment.
func (s *CommentService) DeleteComment(ctx context.Context, actor policy.Actor, in DeleteCommentInput) error {
	comment, err := s.commentRepo.GetByID(ctx, in.CommentID)
	if err != nil {
		return err
	}
	if comment.PollID != in.PollID {
		return models.NewNotFoundError("Comment", in.CommentID)
	}
	poll, err := s.pollRepo.GetByID(ctx, comment.PollID)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(actor, policy.CommentResource(comment, poll.UserID), policy.DeleteComment); err != nil {
		return err
	}
	return s.commentRepo.Delete(ctx, comment.ID)
}
