package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func setupProtectedEcho(manager *Manager) *echo.Echo {
	e := echo.New()
	e.Use(manager.Middleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "healthy")
	})
	e.GET("/protected", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestMiddlewarePublicPaths(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "secret", RequireAuth: true})
	e := setupProtectedEcho(manager)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "secret", RequireAuth: true})
	e := setupProtectedEcho(manager)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	manager := NewManager(Config{
		JWTSecret:       "secret",
		TokenExpiration: time.Hour,
		RequireAuth:     true,
	})
	e := setupProtectedEcho(manager)

	token, err := manager.GenerateToken(User{Email: "x@example.com", Roles: []string{RoleViewer}})
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareDisabled(t *testing.T) {
	manager := NewManager(Config{JWTSecret: "secret", RequireAuth: false})
	e := setupProtectedEcho(manager)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
