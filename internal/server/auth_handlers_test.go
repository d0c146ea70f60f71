package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"pollapp/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func TestSignup(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name           string
		body           map[string]string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "Success",
			body:           map[string]string{"name": "Ada", "email": "Ada@Example.com", "password": testPassword},
			expectedStatus: fiber.StatusCreated,
		},
		{
			name:           "Duplicate email",
			body:           map[string]string{"name": "Ada", "email": "ada@example.com", "password": testPassword},
			expectedStatus: fiber.StatusConflict,
			expectedCode:   models.CodeConflict,
		},
		{
			name:           "Weak password",
			body:           map[string]string{"email": "bob@example.com", "password": "short"},
			expectedStatus: fiber.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name:           "Bad email",
			body:           map[string]string{"email": "not-an-email", "password": testPassword},
			expectedStatus: fiber.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name:           "Overlong email",
			body:           map[string]string{"email": strings.Repeat("a", 250) + "@example.com", "password": testPassword},
			expectedStatus: fiber.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name:           "Overlong name",
			body:           map[string]string{"name": strings.Repeat("n", 101), "email": "carol@example.com", "password": testPassword},
			expectedStatus: fiber.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
		{
			name:           "Missing fields",
			body:           map[string]string{"name": "Nobody"},
			expectedStatus: fiber.StatusBadRequest,
			expectedCode:   models.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/api/auth/signup", tt.body)
			if tt.expectedCode != "" {
				assertAPIError(t, resp, tt.expectedStatus, tt.expectedCode)
				return
			}
			require.Equal(t, tt.expectedStatus, resp.StatusCode)
			body := decode[authResponse](t, resp)
			assert.NotEmpty(t, body.Token)
			assert.Equal(t, "ada@example.com", body.User.Email)
			assert.Equal(t, models.RoleMember, body.User.Role)
		})
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	e.account(t, "grace@example.com", models.RoleMember)

	resp := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "grace@example.com", "password": testPassword,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[authResponse](t, resp)
	require.NotEmpty(t, body.Token)

	me := e.do(t, http.MethodGet, "/api/users/me", nil, bearer(body.Token))
	require.Equal(t, fiber.StatusOK, me.StatusCode)
	assert.Equal(t, "grace@example.com", decode[models.User](t, me).Email)

	resp = e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "grace@example.com", "password": "Wr0ng!Password",
	})
	assertAPIError(t, resp, fiber.StatusUnauthorized, models.CodeUnauthorized)

	resp = e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "nobody@example.com", "password": testPassword,
	})
	assertAPIError(t, resp, fiber.StatusUnauthorized, models.CodeUnauthorized)
}

func TestLogoutRevokesToken(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.account(t, "linus@example.com", models.RoleMember)

	resp := e.do(t, http.MethodPost, "/api/auth/logout", nil, bearer(token))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var revoked []string
	for _, k := range e.mr.Keys() {
		if strings.HasPrefix(k, "blacklist:") {
			revoked = append(revoked, k)
		}
	}
	require.Len(t, revoked, 1)
	ttl := e.mr.TTL(revoked[0])
	assert.Greater(t, ttl, 6*24*time.Hour)
	assert.LessOrEqual(t, ttl, tokenTTL)

	resp = e.do(t, http.MethodGet, "/api/users/me", nil, bearer(token))
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Token has been revoked", decode[models.ErrorResponse](t, resp).Error)
}

func TestAuthRequired_RejectsBadTokens(t *testing.T) {
	e := newTestEnv(t)
	user, _ := e.account(t, "mallory@example.com", models.RoleMember)

	sign := func(claims jwt.MapClaims, secret string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "1",
			"iss": tokenIssuer,
			"aud": tokenAudience,
			"exp": time.Now().Add(time.Hour).Unix(),
			"jti": "test-jti",
		}
	}
	require.Equal(t, uint(1), user.ID)

	wrongIssuer := valid()
	wrongIssuer["iss"] = "someone-else"
	wrongAudience := valid()
	wrongAudience["aud"] = "other-client"
	expired := valid()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	numericSub := valid()
	numericSub["sub"] = 1

	tests := []struct {
		name    string
		headers header
		message string
	}{
		{"no header", nil, "Authorization required"},
		{"not bearer", header{"Authorization": "Token abc"}, "Authorization required"},
		{"garbage", bearer("not.a.token"), "Invalid or expired token"},
		{"wrong secret", bearer(sign(valid(), "another-secret")), "Invalid or expired token"},
		{"wrong issuer", bearer(sign(wrongIssuer, testSecret)), "Invalid or expired token"},
		{"wrong audience", bearer(sign(wrongAudience, testSecret)), "Invalid or expired token"},
		{"expired", bearer(sign(expired, testSecret)), "Invalid or expired token"},
		{"numeric subject", bearer(sign(numericSub, testSecret)), "Invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.headers == nil {
				resp = e.do(t, http.MethodGet, "/api/users/me", nil)
			} else {
				resp = e.do(t, http.MethodGet, "/api/users/me", nil, tt.headers)
			}
			require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, tt.message, decode[models.ErrorResponse](t, resp).Error)
		})
	}

	t.Run("valid hand-made token", func(t *testing.T) {
		resp := e.do(t, http.MethodGet, "/api/users/me", nil, bearer(sign(valid(), testSecret)))
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})
}

func TestUpdateMyTheme(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.account(t, "dark@example.com", models.RoleMember)

	resp := e.do(t, http.MethodPut, "/api/users/me/theme", map[string]string{"theme": "dark"}, bearer(token))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, models.ThemeDark, decode[models.User](t, resp).Theme)

	resp = e.do(t, http.MethodPut, "/api/users/me/theme", map[string]string{"theme": "neon"}, bearer(token))
	assertAPIError(t, resp, fiber.StatusBadRequest, models.CodeValidation)
}
