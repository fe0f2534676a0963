package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evmtx/txpipeline/internal/config"
	"github.com/evmtx/txpipeline/internal/handler"
	"github.com/evmtx/txpipeline/internal/middleware"
	"github.com/evmtx/txpipeline/internal/pipeline"
	"github.com/evmtx/txpipeline/internal/pkg/logger"
)

func main() {
	// 0. Initialize Logger
	logger.Init("info")

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Wire the Transaction Pipeline
	ctx := context.Background()
	if err := pipeline.Init(ctx, cfg); err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	pl := pipeline.Default()
	logger.Info("✅ Connected to node", "rpc_url", cfg.Chain.RPCURL, "store_backend", cfg.Chain.StoreBackend)

	// 3. Initialize Handlers
	pipelineHandler := handler.NewPipelineHandler(pl)
	idempotencyStore := middleware.NewInMemIdempotencyStore()

	// 4. Setup Router
	r := gin.Default()

	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "txpipeline"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg))
	v1.Use(middleware.RateLimitMiddleware(50, 100))
	v1.Use(middleware.IdempotencyMiddleware(idempotencyStore))
	{
		v1.POST("/send", middleware.RequireNotPaused(pl), pipelineHandler.Send)
		v1.POST("/send-chain", middleware.RequireNotPaused(pl), pipelineHandler.SendChain)
		v1.POST("/send-transfer", middleware.RequireNotPaused(pl), pipelineHandler.SendTransfer)
		v1.GET("/tx/:hash", pipelineHandler.TxDetails)
		v1.GET("/nonce/:address", pipelineHandler.NonceStatus)
		v1.POST("/admin/pause", pipelineHandler.Pause)
		v1.POST("/admin/resume", pipelineHandler.Resume)
	}

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 txpipeline started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	logger.Info("Server exiting")
}
