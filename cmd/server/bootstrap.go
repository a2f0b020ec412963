package main

import (
	"github.com/agenthub/backend/internal/config"
	"github.com/agenthub/backend/internal/handlers"
	"github.com/agenthub/backend/internal/models"
	"github.com/agenthub/backend/internal/services"
	"github.com/agenthub/backend/internal/utils"
	"github.com/agenthub/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	scheduler      *services.Scheduler
	taskQueue      services.TaskQueue
	worker         *services.Worker
	authHandler    *handlers.AuthHandler
	cronjobHandler *handlers.CronjobHandler
	depositHandler *handlers.DepositHandler
	webhookHandler *handlers.WebhookHandler
	healthHandler  *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, scheduler.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	db := models.GetDB()

	authService := services.NewAuthService(db, &cfg.JWT)
	billingService := services.NewBillingService(db)
	cronjobService := services.NewCronjobService(db)
	gateway := services.NewGatewayClient(&cfg.Gateway)

	scheduler := services.NewScheduler(cronjobService, gateway, &cfg.Scheduler)
	scheduler.AddSweep("refresh-tokens", authService.CleanupExpired)
	scheduler.AddSweep("deposit-orders", billingService.ExpireStaleOrders)

	// Optional Redis-backed execution queue; inline execution otherwise.
	var taskQueue services.TaskQueue
	var worker *services.Worker
	if cfg.Redis.Enabled {
		queue, err := services.NewAsyncQueue(&cfg.Redis)
		if err != nil {
			logger.Warnf("Redis unavailable, executing jobs inline: %v", err)
		} else {
			taskQueue = queue
			scheduler.SetQueue(queue)
			worker = services.NewWorker(&cfg.Redis, db, scheduler)
			worker.Start()
		}
	}

	if cfg.Scheduler.Enabled {
		scheduler.Start()
	}

	authHandler := handlers.NewAuthHandler(db, cfg)
	if err := authHandler.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		scheduler:      scheduler,
		taskQueue:      taskQueue,
		worker:         worker,
		authHandler:    authHandler,
		cronjobHandler: handlers.NewCronjobHandler(db, scheduler),
		depositHandler: handlers.NewDepositHandler(db),
		webhookHandler: handlers.NewWebhookHandler(db),
		healthHandler:  handlers.NewHealthHandler(db),
	}
}

// shutdown gracefully stops background services.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	logger.Info().Msg("All background services stopped")
}
