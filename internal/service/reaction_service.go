package service

import (
	"context"
	"strings"

	"pollapp/internal/models"
	"pollapp/internal/policy"
	"pollapp/internal/repository"
	"pollapp/internal/validation"
)

type ReactionService struct {
	reactionRepo repository.ReactionRepository
	pollRepo     repository.PollRepository
	policy       *policy.Policy
}

// ToggleReactionResult reports whether the toggle added or removed the reaction.
type ToggleReactionResult struct {
	Removed  bool             `json:"removed"`
	Reaction *models.Reaction `json:"reaction,omitempty"`
}

func NewReactionService(reactionRepo repository.ReactionRepository, pollRepo repository.PollRepository, pol *policy.Policy) *ReactionService {
	if pol == nil {
		pol = policy.Default
	}
	return &ReactionService{reactionRepo: reactionRepo, pollRepo: pollRepo, policy: pol}
}

func (s *ReactionService) Toggle(ctx context.Context, actor policy.Actor, pollID uint, emoji string) (*ToggleReactionResult, error) {
	if err := s.policy.Authorize(actor, policy.Platform, policy.React); err != nil {
		return nil, err
	}
	emoji = strings.TrimSpace(emoji)
	if err := validation.Var("emoji", emoji, "required,max=16"); err != nil {
		return nil, err
	}
	if len(emoji) > 16 {
		return nil, models.NewValidationError("emoji must be at most 16 bytes")
	}
	if _, err := s.pollRepo.GetByID(ctx, pollID); err != nil {
		return nil, err
	}

	removed, reaction, err := s.reactionRepo.Toggle(ctx, actor.UserID, pollID, emoji)
	if err != nil {
		return nil, err
	}
	return &ToggleReactionResult{Removed: removed, Reaction: reaction}, nil
}

func (s *ReactionService) Counts(ctx context.Context, pollID uint) ([]models.ReactionCount, error) {
	if _, err := s.pollRepo.GetByID(ctx, pollID); err != nil {
		return nil, err
	}
	return s.reactionRepo.Counts(ctx, pollID)
}
