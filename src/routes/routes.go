package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"spot-engine/src/config"
	"spot-engine/src/handlers"
	"spot-engine/src/metrics"
	"spot-engine/src/middleware"
)

// SetupGatewayRoutes mounts the public API.
func SetupGatewayRoutes(app *fiber.App, h *handlers.OrderHandler, cfg config.HTTPConfig) *middleware.ServiceAvailability {
	availability := middleware.NewServiceAvailability(cfg.MaxConcurrentRequests, cfg.MaintenanceMode)
	app.Use(availability.Middleware())
	app.Use(middleware.RequestLogger(cfg.RequestLogging))

	app.Get("/health", handlers.GatewayHealth(time.Now()))

	api := app.Group("/api/v1")
	if !cfg.RateLimitDisabled {
		api.Use(middleware.RateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow))
	}

	api.Post("/order", h.CreateOrder)
	api.Delete("/order", h.CancelOrder)
	api.Get("/order/open", h.OpenOrders)
	api.Get("/depth", h.Depth)
	api.Post("/onramp", h.OnRamp)

	return availability
}

// SetupOpsRoutes mounts health and metrics on the engine process.
func SetupOpsRoutes(app *fiber.App, ops *handlers.OpsHandler, m *metrics.Metrics) {
	app.Get("/health", ops.HealthCheck)
	app.Get("/metrics", m.Handler())
}
