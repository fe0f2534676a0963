package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/evmtx/txpipeline/internal/config"
)

func newTestRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/admin", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	return r
}

func TestAuthMiddleware_AllowsWhenNotRequired(t *testing.T) {
	cfg := &config.Config{}
	r := newTestRouter(AuthMiddleware(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_RejectsMissingKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.RequireAPIKey = true
	cfg.Auth.APIKey = "secret"
	r := newTestRouter(AuthMiddleware(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_RejectsWrongKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.RequireAPIKey = true
	cfg.Auth.APIKey = "secret"
	r := newTestRouter(AuthMiddleware(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(HeaderGatewayKey, "wrong")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_AcceptsCorrectKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.RequireAPIKey = true
	cfg.Auth.APIKey = "secret"
	r := newTestRouter(AuthMiddleware(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(HeaderGatewayKey, "secret")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
