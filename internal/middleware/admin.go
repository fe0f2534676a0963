package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/evmtx/txpipeline/internal/pipeline"
)

// Pauser is the subset of Pipeline the admin handlers act on.
type Pauser interface {
	Pause()
	Resume()
	Paused() bool
}

// RequireNotPaused rejects send endpoints while the pipeline is paused,
// so an operator can halt submissions without stopping the process.
func RequireNotPaused(p Pauser) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.Paused() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pipeline paused"})
			c.Abort()
			return
		}
		c.Next()
	}
}

var _ Pauser = (*pipeline.Pipeline)(nil)
