package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pollapp/internal/models"
	"pollapp/internal/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type signupRequest struct {
	Name     string `json:"name" validate:"max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// Signup handles POST /api/auth/signup
// @Summary User signup
// @Description Register a new account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{name=string,email=string,password=string} true "Signup request"
// @Success 201 {object} object{token=string,user=models.User}
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /auth/signup [post]
func (s *Server) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validation.Struct(&req); err != nil {
		return respondServiceError(c, err)
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError(err.Error()))
	}

	existing, err := s.userRepo.GetByEmail(c.UserContext(), req.Email)
	if err != nil {
		return respondServiceError(c, err)
	}
	if existing != nil {
		return models.RespondWithError(c, fiber.StatusConflict,
			models.NewConflictError("An account with this email already exists"))
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return respondServiceError(c, models.NewInternalError(err))
	}

	user := &models.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: string(hashedPassword),
		Role:     models.RoleMember,
		Theme:    models.ThemeLight,
	}
	if err := s.userRepo.Create(c.UserContext(), user); err != nil {
		return respondServiceError(c, err)
	}

	token, err := s.generateToken(user.ID)
	if err != nil {
		return respondServiceError(c, models.NewInternalError(err))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

// Login handles POST /api/auth/login
// @Summary User login
// @Description Authenticate and return a JWT
// @Tags auth
// @Accept json
// @Produce json
// @Param request body object{email=string,password=string} true "Login credentials"
// @Success 200 {object} object{token=string,user=models.User}
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	user, err := s.userRepo.GetByEmail(c.UserContext(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return respondServiceError(c, err)
	}
	if user == nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid credentials"))
	}
	if cmpErr := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); cmpErr != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid credentials"))
	}

	token, err := s.generateToken(user.ID)
	if err != nil {
		return respondServiceError(c, models.NewInternalError(err))
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

// Logout handles POST /api/auth/logout
// @Summary Logout
// @Description Revoke the current token until it expires
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} object{message=string}
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	sess, ok := c.Locals("session").(*session)
	if !ok || sess.JTI == "" || s.redis == nil {
		return c.JSON(fiber.Map{"message": "Logged out"})
	}

	ttl := time.Until(sess.ExpiresAt)
	if sess.ExpiresAt.IsZero() || ttl <= 0 {
		ttl = tokenTTL
	}
	if err := s.redis.Set(c.UserContext(), blacklistKey(sess.JTI), "1", ttl).Err(); err != nil {
		return respondServiceError(c, models.NewInternalError(fmt.Errorf("revoke token: %w", err)))
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// generateToken creates a signed session token for userID.
func (s *Server) generateToken(userID uint) (string, error) {
	if s.config.JWTSecret == "" {
		return "", fmt.Errorf("JWT secret not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iss": tokenIssuer,
		"aud": tokenAudience,
		"exp": now.Add(tokenTTL).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": generateJTI(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.JWTSecret))
}

func generateJTI() string {
	return fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.New().String()[:8])
}
