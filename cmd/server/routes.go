package main

import (
	"github.com/agenthub/backend/internal/config"
	"github.com/agenthub/backend/internal/middleware"
	"github.com/gin-gonic/gin"
)

// registerRoutes wires all HTTP routes.
func registerRoutes(r *gin.Engine, app *appServices, cfg *config.Config) {
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.Use(middleware.CORS())

	r.GET("/health", app.healthHandler.Check)

	// Payment provider callback. No auth: the handler is idempotent and
	// always returns success per the provider's retry contract.
	r.POST("/webhooks/payment", app.webhookHandler.HandlePaymentWebhook)

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		auth.Use(middleware.RateLimit(cfg.RateLimit.AuthRPS, cfg.RateLimit.AuthBurst))
		{
			auth.POST("/register", app.authHandler.Register)
			auth.POST("/login", app.authHandler.Login)
			auth.POST("/refresh", app.authHandler.Refresh)
			auth.POST("/logout", app.authHandler.Logout)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", app.authHandler.GetCurrentUser)
			protected.POST("/auth/change-password", app.authHandler.ChangePassword)

			protected.GET("/cronjobs", app.cronjobHandler.List)
			protected.POST("/cronjobs", app.cronjobHandler.Create)
			protected.GET("/cronjobs/:id", app.cronjobHandler.GetByID)
			protected.PUT("/cronjobs/:id", app.cronjobHandler.Update)
			protected.PATCH("/cronjobs/:id/enabled", app.cronjobHandler.SetEnabled)
			protected.DELETE("/cronjobs/:id", app.cronjobHandler.Delete)
			protected.POST("/cronjobs/:id/run", app.cronjobHandler.RunNow)
			protected.POST("/cronjobs/:id/stop", app.cronjobHandler.Stop)
			protected.GET("/cronjobs/:id/executions", app.cronjobHandler.ListExecutions)

			protected.GET("/deposits", app.depositHandler.List)
			protected.POST("/deposits", app.depositHandler.Create)
			protected.GET("/deposits/:id", app.depositHandler.GetByID)
			protected.POST("/deposits/:id/cancel", app.depositHandler.Cancel)
		}
	}
}
