package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies a single shared token bucket to the admin
// surface (no per-tenant buckets; this gateway serves one API key).
func RateLimitMiddleware(ratePerSecond float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// PerAddressRateLimitMiddleware applies a separate token bucket per
// from-address path parameter, so one busy account can't starve others
// sharing the gateway.
func PerAddressRateLimitMiddleware(ratePerSecond float64, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr == "" {
			addr = c.Query("from")
		}

		mu.Lock()
		limiter, ok := limiters[addr]
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
			limiters[addr] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded for address"})
			c.Abort()
			return
		}
		c.Next()
	}
}
