package server

import (
	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/policy"

	"github.com/gofiber/fiber/v2"
)

// currentIdentity resolves the voter behind the request. A valid session
// wins; otherwise the client address from proxy headers is used. A session
// whose account has been deleted is rejected rather than voting as a ghost.
func (s *Server) currentIdentity(c *fiber.Ctx) (models.Identity, error) {
	uid, ok := s.optionalUserID(c)
	if !ok {
		return models.AnonymousIdentity(middleware.ClientIP(c, s.config.TrustRemoteAddr)), nil
	}
	if _, err := s.userRepo.GetByID(c.UserContext(), uid); err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return models.Identity{}, models.NewUnauthorizedError("Account no longer exists")
		}
		return models.Identity{}, err
	}
	return models.UserIdentity(uid), nil
}

// actorFor loads the session user's role. Signed-out callers and tokens for
// deleted accounts yield the anonymous actor.
func (s *Server) actorFor(c *fiber.Ctx) (policy.Actor, error) {
	uid, ok := s.optionalUserID(c)
	if !ok {
		return policy.Actor{}, nil
	}
	user, err := s.userRepo.GetByID(c.UserContext(), uid)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return policy.Actor{}, nil
		}
		return policy.Actor{}, err
	}
	return policy.ActorFor(user), nil
}
