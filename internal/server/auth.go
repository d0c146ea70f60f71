package server

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/policy"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "pollapp-api"
	tokenAudience = "pollapp-client"
	tokenTTL      = 7 * 24 * time.Hour
)

var (
	errNoToken      = errors.New("authorization required")
	errInvalidToken = errors.New("invalid or expired token")
	errRevoked      = errors.New("token has been revoked")
)

// session is the verified content of a bearer token.
type session struct {
	UserID    uint
	JTI       string
	ExpiresAt time.Time
}

func bearerToken(c *fiber.Ctx) string {
	parts := strings.Split(c.Get("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// verifyToken parses tokenString, checks issuer, audience and the revocation list.
func (s *Server) verifyToken(ctx context.Context, tokenString string) (*session, error) {
	if tokenString == "" {
		return nil, errNoToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
	)
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, errInvalidToken
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return nil, errInvalidToken
	}

	sess := &session{UserID: uint(userID)}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		sess.ExpiresAt = exp.Time
	}
	if jti, ok := claims["jti"].(string); ok && jti != "" {
		sess.JTI = jti
		if s.redis != nil {
			revoked, err := s.redis.Exists(ctx, blacklistKey(jti)).Result()
			if err == nil && revoked > 0 {
				return nil, errRevoked
			}
		}
	}
	return sess, nil
}

func blacklistKey(jti string) string {
	return "blacklist:" + jti
}

func setSessionUser(c *fiber.Ctx, sess *session) {
	c.Locals("userID", sess.UserID)
	c.Locals("session", sess)
	c.SetUserContext(middleware.WithUserID(c.UserContext(), sess.UserID))
}

// AuthRequired returns the authentication middleware
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := s.verifyToken(c.UserContext(), bearerToken(c))
		if err != nil {
			msg := "Invalid or expired token"
			switch {
			case errors.Is(err, errNoToken):
				msg = "Authorization required"
			case errors.Is(err, errRevoked):
				msg = "Token has been revoked"
			}
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError(msg))
		}
		setSessionUser(c, sess)
		return c.Next()
	}
}

// OptionalAuth records the session user when a valid token is present and
// lets every request through.
func (s *Server) OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if sess, err := s.verifyToken(c.UserContext(), bearerToken(c)); err == nil {
			setSessionUser(c, sess)
		}
		return c.Next()
	}
}

// optionalUserID returns the session user without enforcing authentication.
func (s *Server) optionalUserID(c *fiber.Ctx) (uint, bool) {
	if uid, ok := c.Locals("userID").(uint); ok && uid != 0 {
		return uid, true
	}
	sess, err := s.verifyToken(c.UserContext(), bearerToken(c))
	if err != nil {
		return 0, false
	}
	setSessionUser(c, sess)
	return sess.UserID, true
}

// AdminRequired rejects non-admin users. Must follow AuthRequired.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := s.actorFor(c)
		if err != nil {
			return respondServiceError(c, err)
		}
		if err := s.policy.Authorize(actor, policy.Platform, policy.ManageUsers); err != nil {
			return respondServiceError(c, err)
		}
		return c.Next()
	}
}
