package server

import (
	"github.com/calder-ai/relay/internal/server/middleware"
	v1 "github.com/calder-ai/relay/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	ipLimiter := middleware.NewRateLimiter(
		s.config.RateLimit.RequestsPerSecond,
		s.config.RateLimit.Burst,
		s.logger,
	)
	s.router.Use(ipLimiter.Middleware())

	healthHandler := v1.NewHealthHandler()
	s.router.GET("/healthz", healthHandler.Health)

	api := s.router.Group("/v1")
	if len(s.config.Server.APIKeys) > 0 {
		api.Use(middleware.Auth(s.config.Server.APIKeys))
	}
	{
		completionHandler := v1.NewCompletionHandler(s.service)
		api.POST("/completions", completionHandler.CreateCompletion)

		statusHandler := v1.NewStatusHandler(s.service)
		api.GET("/status", statusHandler.GetStatus)

		usageHandler := v1.NewUsageHandler(s.usage, s.repo)
		api.GET("/usage", usageHandler.GetUsage)
		api.GET("/alerts", usageHandler.GetAlerts)
		if s.repo != nil {
			api.GET("/usage/daily", usageHandler.GetDaily)
		}

		adminHandler := v1.NewAdminHandler(s.service, s.usage)
		api.POST("/admin/providers/:name/reset", adminHandler.ResetProvider)
		api.POST("/admin/sweep", adminHandler.Sweep)
		api.POST("/admin/usage/reset", adminHandler.ResetUsage)
	}
}
