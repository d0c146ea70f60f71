package service

import (
	"context"

	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/policy"
	"pollapp/internal/repository"
	"pollapp/internal/validation"
)

type UserService struct {
	userRepo repository.UserRepository
	policy   *policy.Policy
}

func NewUserService(userRepo repository.UserRepository, pol *policy.Policy) *UserService {
	if pol == nil {
		pol = policy.Default
	}
	return &UserService{userRepo: userRepo, policy: pol}
}

func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

func (s *UserService) UpdateTheme(ctx context.Context, actor policy.Actor, theme string) (*models.User, error) {
	if err := s.policy.Authorize(actor, policy.UserResource(actor.UserID), policy.SetTheme); err != nil {
		return nil, err
	}
	if err := validation.Var("theme", theme, "required,oneof=light dark"); err != nil {
		return nil, err
	}
	if err := s.userRepo.UpdateTheme(ctx, actor.UserID, models.Theme(theme)); err != nil {
		return nil, err
	}
	return s.userRepo.GetByID(ctx, actor.UserID)
}

func (s *UserService) ListUsers(ctx context.Context, actor policy.Actor, limit, offset int) ([]models.User, error) {
	if err := s.policy.Authorize(actor, policy.Platform, policy.ManageUsers); err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	return s.userRepo.List(ctx, limit, offset)
}

// UpdateRole sets another user's role. Admins cannot change their own role.
func (s *UserService) UpdateRole(ctx context.Context, actor policy.Actor, targetID uint, raw string) (*models.User, error) {
	if err := s.policy.Authorize(actor, policy.UserResource(targetID), policy.ManageUsers); err != nil {
		return nil, err
	}
	role, ok := models.ParseRole(raw)
	if !ok {
		return nil, models.NewValidationError("role must be one of: admin, member")
	}
	if targetID == actor.UserID {
		return nil, models.NewForbiddenError("You cannot change your own role")
	}
	if _, err := s.userRepo.GetByID(ctx, targetID); err != nil {
		return nil, err
	}
	if err := s.userRepo.UpdateRole(ctx, targetID, role); err != nil {
		return nil, err
	}
	middleware.Logger.InfoContext(ctx, "user role changed", "target_id", targetID, "role", role, "by", actor.UserID)
	return s.userRepo.GetByID(ctx, targetID)
}

// DeleteUser removes another account and everything it owns.
func (s *UserService) DeleteUser(ctx context.Context, actor policy.Actor, targetID uint) error {
	if err := s.policy.Authorize(actor, policy.UserResource(targetID), policy.ManageUsers); err != nil {
		return err
	}
	if targetID == actor.UserID {
		return models.NewForbiddenError("You cannot delete your own account")
	}
	if err := s.userRepo.Delete(ctx, targetID); err != nil {
		return err
	}
	middleware.Logger.InfoContext(ctx, "user deleted", "target_id", targetID, "by", actor.UserID)
	return nil
}
