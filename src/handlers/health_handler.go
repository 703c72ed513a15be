package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"spot-engine/src/models"
	"spot-engine/src/worker"
)

// HealthReporter exposes the engine worker's state.
type HealthReporter interface {
	Health() worker.Health
}

// OpsHandler serves the engine process's health endpoint.
type OpsHandler struct {
	reporter HealthReporter
}

func NewOpsHandler(reporter HealthReporter) *OpsHandler {
	return &OpsHandler{reporter: reporter}
}

func (h *OpsHandler) HealthCheck(c *fiber.Ctx) error {
	health := h.reporter.Health()
	status := fiber.StatusOK
	if health.Status != "healthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(health)
}

// GatewayHealth answers liveness for the gateway process.
func GatewayHealth(started time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
			Status:        "healthy",
			UptimeSeconds: int64(time.Since(started).Seconds()),
		})
	}
}
