package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pollapp/internal/cache"
	"pollapp/internal/config"
	"pollapp/internal/database"
	"pollapp/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testSecret   = "test-secret-that-is-long-enough-for-hs256"
	testPassword = "Str0ng!Password"
)

type testEnv struct {
	srv *Server
	app *fiber.App
	db  *gorm.DB
	mr  *miniredis.Miniredis
}

// newTestEnv builds a server over a private in-memory SQLite database and a
// miniredis instance.
func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_foreign_keys=on"), database.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache.SetClient(rdb)
	t.Cleanup(func() {
		cache.SetClient(nil)
		_ = rdb.Close()
	})

	cfg := &config.Config{
		JWTSecret:           testSecret,
		Port:                "0",
		Env:                 "test",
		AllowedOrigins:      "*",
		PollCreationRole:    "member",
		ExpirySweepSchedule: "@every 1h",
	}
	for _, m := range mutate {
		m(cfg)
	}

	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)

	return &testEnv{srv: srv, app: srv.NewApp(), db: db, mr: mr}
}

type header map[string]string

func bearer(token string) header {
	return header{"Authorization": "Bearer " + token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...header) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func assertAPIError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	body := decode[models.ErrorResponse](t, resp)
	assert.Equal(t, code, body.Code, body.Error)
}

// account creates a user directly in the database and returns a session token for it.
func (e *testEnv) account(t *testing.T, email string, role models.Role) (*models.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	u := &models.User{
		Email:    email,
		Name:     strings.Split(email, "@")[0],
		Password: string(hash),
		Role:     role,
		Theme:    models.ThemeLight,
	}
	require.NoError(t, e.db.Create(u).Error)

	token, err := e.srv.generateToken(u.ID)
	require.NoError(t, err)
	return u, token
}

// poll stores an open public poll with options "Yes" and "No".
func (e *testEnv) poll(t *testing.T, ownerID uint, mutate ...func(*models.Poll)) *models.Poll {
	t.Helper()
	p := &models.Poll{
		Title:     "Ship on Friday?",
		ExpiresAt: time.Now().Add(24 * time.Hour),
		IsPublic:  true,
		UserID:    ownerID,
		Options:   []models.Option{{Text: "Yes"}, {Text: "No"}},
	}
	for _, m := range mutate {
		m(p)
	}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

func TestHealthChecks(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])

	e.mr.Close()
	resp = e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	body = decode[map[string]any](t, resp)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "unhealthy", checks["redis"])
}

func TestMiddlewareStack(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/health/live", nil, header{"Origin": "http://example.com"})
	assert.NotEmpty(t, resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsAndDocs(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/swagger/doc.json", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	doc := decode[map[string]any](t, resp)
	assert.Contains(t, doc["paths"], "/polls/{id}/vote")
}

func TestUnknownRoutesRequireSession(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/does-not-exist", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
