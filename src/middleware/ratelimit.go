package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/rs/zerolog/log"

	"spot-engine/src/models"
)

// clientID keys the limiter by the caller's address, preferring proxy headers.
func clientID(c *fiber.Ctx) string {
	ip := c.Get("X-Forwarded-For")
	if ip == "" {
		ip = c.Get("X-Real-IP")
	}
	if ip == "" {
		ip = c.IP()
	}
	return ip
}

// RateLimiter allows max requests per client per window.
func RateLimiter(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:          max,
		Expiration:   window,
		KeyGenerator: clientID,
		LimitReached: func(c *fiber.Ctx) error {
			log.Warn().
				Str("client_ip", clientID(c)).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("max_requests", max).
				Msg("Rate limit exceeded")
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Rate limit exceeded. Please try again later.",
			})
		},
	})
}
