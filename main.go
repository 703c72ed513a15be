package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"spot-engine/src/config"
	"spot-engine/src/logger"
	"spot-engine/src/models"
)

func main() {
	root := &cobra.Command{
		Use:           "spot-engine",
		Short:         "Spot exchange matching engine and HTTP gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(engineCmd(), gatewayCmd(), snapshotCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// setup loads config and initialises logging for one process.
func setup(process string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.Log, process)
	return cfg, nil
}

// signalContext is cancelled on SIGINT, SIGTERM or SIGQUIT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(models.ErrorResponse{Error: err.Error()})
		},
	})
	app.Use(recover.New())
	return app
}

// serve runs app on port until ctx is done, then shuts it down within timeout.
func serve(ctx context.Context, app *fiber.App, port string, timeout time.Duration) error {
	serverError := make(chan error, 1)
	go func() {
		if err := app.Listen(":" + port); err != nil {
			serverError <- err
		}
	}()

	select {
	case err := <-serverError:
		log.Error().
			Err(err).
			Str("port", port).
			Str("hint", "Port may be already in use. Try: HTTP_PORT=3001").
			Msg("Server failed to start")
		return err
	case <-ctx.Done():
	}

	log.Info().Str("port", port).Msg("Received shutdown signal, shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		// edge case: timeout during shutdown is acceptable
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout exceeded, shutting down...")
			return nil
		}
		log.Error().Err(err).Msg("Error during shutdown")
		return err
	}
	log.Info().Str("port", port).Msg("Shutdown complete")
	return nil
}
