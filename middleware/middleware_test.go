package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"lawsim/models"
	"lawsim/services"
	"lawsim/testutil"
)

func newProtectedApp(db *gorm.DB, extra ...fiber.Handler) *fiber.App {
	app := fiber.New()
	handlers := append([]fiber.Handler{Protected(db)}, extra...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		return c.SendString(CurrentUser(c).Email)
	})
	app.Get("/me", handlers...)
	return app
}

func doGet(t *testing.T, app *fiber.App, auth string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestProtected(t *testing.T) {
	testutil.UseJWTSecret(t)
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "ana@law.edu", models.RoleStudent, 0)
	app := newProtectedApp(db)

	access, refresh := testutil.Tokens(t, user)

	status, body := doGet(t, app, "Bearer "+access)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ana@law.edu", body)

	status, _ = doGet(t, app, "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = doGet(t, app, "Token "+access)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = doGet(t, app, "Bearer "+refresh)
	assert.Equal(t, fiber.StatusUnauthorized, status, "refresh tokens are not access tokens")
}

func TestProtectedCookie(t *testing.T) {
	testutil.UseJWTSecret(t)
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "ana@law.edu", models.RoleStudent, 0)
	access, _ := testutil.Tokens(t, user)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: access})
	resp, err := newProtectedApp(db).Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestProtectedQueryTokenOnlyForWebsocket(t *testing.T) {
	testutil.UseJWTSecret(t)
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "ana@law.edu", models.RoleStudent, 0)
	access, _ := testutil.Tokens(t, user)

	req := httptest.NewRequest(http.MethodGet, "/me?token="+access, nil)
	resp, err := newProtectedApp(db).Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRejectsStaleAndInactive(t *testing.T) {
	testutil.UseJWTSecret(t)
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "ana@law.edu", models.RoleStudent, 0)
	app := newProtectedApp(db)
	auth := testutil.Bearer(t, user)

	require.NoError(t, db.Model(user).Update("token_version", user.TokenVersion+1).Error)
	status, _ := doGet(t, app, auth)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	require.NoError(t, db.Model(user).Update("is_active", false).Error)
	require.NoError(t, db.First(user, user.ID).Error)
	status, _ = doGet(t, app, testutil.Bearer(t, user))
	assert.Equal(t, fiber.StatusForbidden, status)

	require.NoError(t, db.Delete(user).Error)
	status, _ = doGet(t, app, auth)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRequireRole(t *testing.T) {
	testutil.UseJWTSecret(t)
	db := testutil.NewDB(t)
	student := testutil.CreateUser(t, db, "ana@law.edu", models.RoleStudent, 0)
	instructor := testutil.CreateUser(t, db, "prof@law.edu", models.RoleInstructor, 0)
	app := newProtectedApp(db, RequireRole(models.RoleInstructor, models.RoleAdmin))

	status, _ := doGet(t, app, testutil.Bearer(t, student))
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = doGet(t, app, testutil.Bearer(t, instructor))
	assert.Equal(t, fiber.StatusOK, status)
}

func TestRequireFeature(t *testing.T) {
	testutil.UseJWTSecret(t)
	db := testutil.NewDB(t)
	licensed := testutil.CreateOrg(t, db, "licensed")
	unlicensed := testutil.CreateOrg(t, db, "unlicensed")
	testutil.GrantLicense(t, db, licensed.ID, models.TierEnterprise, 10)
	testutil.GrantLicense(t, db, unlicensed.ID, models.TierBasic, 10)

	licenses := services.NewLicenseEnforcer(db)
	app := newProtectedApp(db, RequireFeature(licenses, models.FeatureLiveFeed))

	tests := []struct {
		name   string
		user   *models.User
		status int
	}{
		{"enterprise instructor", testutil.CreateUser(t, db, "a@law.edu", models.RoleInstructor, licensed.ID), fiber.StatusOK},
		{"basic instructor", testutil.CreateUser(t, db, "b@law.edu", models.RoleInstructor, unlicensed.ID), fiber.StatusForbidden},
		{"no organization", testutil.CreateUser(t, db, "c@law.edu", models.RoleStudent, 0), fiber.StatusForbidden},
		{"admin bypass", testutil.CreateUser(t, db, "d@law.edu", models.RoleAdmin, 0), fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := doGet(t, app, testutil.Bearer(t, tt.user))
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(DefaultCORSConfig([]string{"https://app.law.edu"})))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.law.edu")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.law.edu", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "3600", resp.Header.Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestGradingRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Post("/grade", GradingRateLimiter(2, nil), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/grade", nil), -1)
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{fiber.StatusOK, fiber.StatusOK, fiber.StatusTooManyRequests}, codes)
}

func TestGradingRateLimiterSharedThroughRedis(t *testing.T) {
	client, server := testutil.NewRedis(t)
	storage := NewRedisStorage(client)
	require.NotNil(t, storage)
	assert.Nil(t, NewRedisStorage(nil))

	newApp := func() *fiber.App {
		app := fiber.New()
		app.Post("/grade", GradingRateLimiter(2, storage), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
		return app
	}
	first, second := newApp(), newApp()
	grade := func(app *fiber.App) int {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/grade", nil), -1)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, grade(first))
	assert.Equal(t, fiber.StatusOK, grade(second))
	assert.Equal(t, fiber.StatusTooManyRequests, grade(first))

	var limited []string
	for _, k := range server.Keys() {
		if strings.HasPrefix(k, rateLimitPrefix) {
			limited = append(limited, k)
		}
	}
	assert.NotEmpty(t, limited)

	require.NoError(t, server.Set("lawsim:jobs:marker", "keep"))
	require.NoError(t, storage.Reset())
	assert.True(t, server.Exists("lawsim:jobs:marker"))
	for _, k := range limited {
		assert.False(t, server.Exists(k), k)
	}
	assert.Equal(t, fiber.StatusOK, grade(second))
}

func TestRedisStorageRoundTrip(t *testing.T) {
	client, server := testutil.NewRedis(t)
	storage := NewRedisStorage(client)

	val, err := storage.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, storage.Set("k", []byte("v"), time.Minute))
	assert.True(t, server.Exists(rateLimitPrefix+"k"))
	require.NoError(t, storage.Set("", []byte("v"), time.Minute))
	require.NoError(t, storage.Set("empty", nil, time.Minute))
	assert.False(t, server.Exists(rateLimitPrefix+"empty"))

	val, err = storage.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, storage.Delete("k"))
	assert.False(t, server.Exists(rateLimitPrefix+"k"))
	require.NoError(t, storage.Close())
}
