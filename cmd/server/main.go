package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/agenthub/backend/internal/config"
	"github.com/agenthub/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel)
	gin.SetMode(cfg.Server.Mode)

	app := bootstrap(cfg)

	r := gin.New()
	r.Use(logger.GinLogger(), logger.GinRecovery())
	registerRoutes(r, app, cfg)

	// Run the server in the background so shutdown can stop the
	// scheduler and worker cleanly on SIGINT/SIGTERM.
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", addr)
		errCh <- r.Run(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatalf("Server error: %v", err)
	case sig := <-quit:
		logger.Infof("Received %s, shutting down", sig)
		app.shutdown()
	}
}
