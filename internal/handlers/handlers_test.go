package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mgtsampayan/rbac/internal/authz"
	"github.com/Mgtsampayan/rbac/internal/config"
	"github.com/Mgtsampayan/rbac/internal/database"
	"github.com/Mgtsampayan/rbac/internal/lockout"
	"github.com/Mgtsampayan/rbac/internal/models"
	"github.com/Mgtsampayan/rbac/internal/ratelimit"
	"github.com/Mgtsampayan/rbac/internal/repository"
	"github.com/Mgtsampayan/rbac/internal/security"
	"github.com/Mgtsampayan/rbac/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testAPI struct {
	engine   *gin.Engine
	accounts *service.AccountService
	cookies  *security.CookieCodec
	clock    *testClock
}

func newTestAPI(t *testing.T, loginLimiter ratelimit.Limiter) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "rbac.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, "sqlite"))

	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	repo := repository.NewSQLiteAccountRepository(db)
	tokens, err := security.NewTokenManager(testSecret, 24*time.Hour, "rbac", security.WithTokenClock(clock.Now))
	require.NoError(t, err)

	policy := lockout.DefaultPolicy()
	hasher := security.NewPasswordHasherWithParams(security.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	accounts := service.NewAccountService(repo, hasher, tokens, policy, zerolog.Nop(), service.WithClock(clock.Now))
	cookies := security.NewCookieCodec(testSecret, 24*time.Hour)

	cfg := &config.AppConfig{Environment: "test"}
	h := NewHandlerSet(zerolog.Nop(), cfg, Deps{
		Accounts:     accounts,
		Gate:         authz.NewGate(tokens, repo, policy, clock.Now),
		Cookies:      cookies,
		TokenTTL:     tokens.TTL(),
		LoginLimiter: loginLimiter,
		DB:           repo,
	})

	engine := gin.New()
	h.Register(engine.Group("/api"))

	return &testAPI{engine: engine, accounts: accounts, cookies: cookies, clock: clock}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(t *testing.T, identifier, password string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/login", gin.H{"identifier": identifier, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == security.CookieName {
			return c
		}
	}
	return nil
}

func TestRegisterAndMe(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "alice", "email": "alice@x.com", "password": "secret123",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "argon2")
	assert.NotContains(t, rec.Body.String(), "secret123")

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.User.Username)
	assert.Equal(t, models.RoleStudent, resp.User.Role)
	assert.Equal(t, "/student", resp.Redirect)

	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	decoded, err := api.cookies.Decode(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, resp.Token, decoded)

	rec = api.do(t, http.MethodGet, "/api/auth/me", nil, resp.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"alice"`)

	rec = api.do(t, http.MethodGet, "/api/auth/me", nil, "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", errorCode(t, rec))

	rec = api.do(t, http.MethodGet, "/api/auth/me", nil, "", &http.Cookie{Name: security.CookieName, Value: resp.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unsigned cookie must be rejected")
}

func TestRegisterErrors(t *testing.T) {
	api := newTestAPI(t, nil)
	body := gin.H{"username": "alice", "email": "alice@x.com", "password": "secret123"}
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/auth/register", body, "").Code)

	rec := api.do(t, http.MethodPost, "/api/auth/register", body, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "duplicate_identity", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/api/auth/register", gin.H{"username": "bob", "email": "bob@x.com", "password": "123"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/api/auth/register", gin.H{"username": "bob", "email": "bob@x.com", "password": "secret123", "role": "admin"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginErrors(t *testing.T) {
	api := newTestAPI(t, nil)
	_, err := api.accounts.Register(context.Background(), service.RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret123"})
	require.NoError(t, err)

	wrong := api.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@x.com", "password": "nope"}, "")
	unknown := api.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "ghost@x.com", "password": "nope"}, "")

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	rec := api.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@x.com"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "alice", "password": "secret123"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// alice registers, fails five times, is locked out even with the right
// password, and gets back in once the lock lapses.
func TestAliceLockoutOverHTTP(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "alice", "email": "alice@x.com", "password": "secret123", "role": "student",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	for i := range make([]struct{}, 5) {
		rec := api.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@x.com", "password": "wrong"}, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec = api.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "alice@x.com", "password": "secret123"}, "")
	require.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "account_locked", errorCode(t, rec))
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "attempt")

	api.clock.Advance(15 * time.Minute)

	token := api.login(t, "alice@x.com", "secret123")
	rec = api.do(t, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isLocked":false`)
}

func TestLoginRateLimited(t *testing.T) {
	api := newTestAPI(t, ratelimit.NewMemoryLimiter(2, 15*time.Minute))

	for range make([]struct{}, 2) {
		rec := api.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "ghost@x.com", "password": "nope"}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := api.do(t, http.MethodPost, "/api/auth/login", gin.H{"email": "ghost@x.com", "password": "nope"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestInactiveAccount(t *testing.T) {
	api := newTestAPI(t, nil)
	ctx := context.Background()
	alice, err := api.accounts.Register(ctx, service.RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret123"})
	require.NoError(t, err)
	token := api.login(t, "alice", "secret123")

	_, err = api.accounts.SetStatus(ctx, alice.ID, models.AccountStatusSuspended)
	require.NoError(t, err)

	rec := api.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "alice", "password": "secret123"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "account_inactive", errorCode(t, rec))

	rec = api.do(t, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExpiredToken(t *testing.T) {
	api := newTestAPI(t, nil)
	_, err := api.accounts.Register(context.Background(), service.RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret123"})
	require.NoError(t, err)
	token := api.login(t, "alice", "secret123")

	api.clock.Advance(25 * time.Hour)
	rec := api.do(t, http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfileAndPassword(t *testing.T) {
	api := newTestAPI(t, nil)
	_, err := api.accounts.Register(context.Background(), service.RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret123"})
	require.NoError(t, err)
	token := api.login(t, "alice", "secret123")

	rec := api.do(t, http.MethodPut, "/api/auth/profile", gin.H{"role": "admin"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"role"`)

	rec = api.do(t, http.MethodPut, "/api/auth/profile", gin.H{"username": "alice.w"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"username":"alice.w"`)
	assert.Contains(t, rec.Body.String(), `"profileComplete":true`)
	assert.Contains(t, rec.Body.String(), `"role":"student"`)

	rec = api.do(t, http.MethodPut, "/api/auth/profile", gin.H{"username": "bob"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/auth/password", gin.H{"currentPassword": "bad", "newPassword": "another1"}, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/auth/password", gin.H{"currentPassword": "secret123", "newPassword": "another1"}, token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	api.login(t, "alice.w", "another1")
}

func TestLogout(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodPost, "/api/auth/logout", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t, nil)
	ctx := context.Background()

	_, err := api.accounts.CreateAccount(ctx, service.CreateAccountInput{
		RegisterInput: service.RegisterInput{Username: "root", Email: "root@x.com", Password: "secret123", Role: models.RoleAdmin},
	})
	require.NoError(t, err)
	alice, err := api.accounts.Register(ctx, service.RegisterInput{Username: "alice", Email: "alice@x.com", Password: "secret123"})
	require.NoError(t, err)

	adminToken := api.login(t, "root", "secret123")
	studentToken := api.login(t, "alice", "secret123")

	rec := api.do(t, http.MethodGet, "/api/auth/users", nil, studentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))

	rec = api.do(t, http.MethodGet, "/api/auth/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/auth/users?page=1&perPage=10", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Users []models.PublicAccount `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Users, 2)
	assert.False(t, strings.Contains(rec.Body.String(), "argon2"))

	base := "/api/auth/admin/users/" + alice.ID

	rec = api.do(t, http.MethodPut, base+"/permissions", gin.H{"permissions": []string{"grades:read"}}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"permissions":["grades:read"]`)

	rec = api.do(t, http.MethodPut, base+"/role", gin.H{"role": "faculty"}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"faculty"`)

	rec = api.do(t, http.MethodPut, base+"/role", gin.H{"role": "janitor"}, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPut, base+"/status", gin.H{"status": "inactive"}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPut, base+"/status", gin.H{"status": "active"}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)

	for range make([]struct{}, 5) {
		api.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "alice", "password": "wrong"}, "")
	}
	rec = api.do(t, http.MethodGet, base, nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isLocked":true`)

	rec = api.do(t, http.MethodPost, base+"/unlock", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isLocked":false`)
	api.login(t, "alice", "secret123")

	rec = api.do(t, http.MethodPost, "/api/auth/admin/users", gin.H{
		"username": "hr1", "email": "hr1@x.com", "password": "secret123", "role": "hr",
	}, adminToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/auth/admin/users/missing", nil, adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)

	rec := api.do(t, http.MethodGet, "/api/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Database)
	assert.Equal(t, "disabled", resp.Cache)
}
