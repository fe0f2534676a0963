package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evmtx/txpipeline/internal/config"
)

const HeaderGatewayKey = "X-Gateway-Key"

// AuthMiddleware gates the admin surface with a single gateway API key
// (no multi-tenant routing; SPEC_FULL.md's ambient HTTP surface design).
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || !cfg.Auth.RequireAPIKey {
			c.Next()
			return
		}

		apiKey := c.GetHeader(HeaderGatewayKey)
		if apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.Auth.APIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing gateway key"})
			c.Abort()
			return
		}

		c.Next()
	}
}
