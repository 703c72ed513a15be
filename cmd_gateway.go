package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"spot-engine/src/config"
	"spot-engine/src/handlers"
	"spot-engine/src/logger"
	"spot-engine/src/queue"
	"spot-engine/src/routes"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the HTTP gateway in front of the engine queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup("gateway")
			if err != nil {
				return err
			}
			defer logger.CloseLogger()
			return runGateway(cfg)
		},
	}
}

func runGateway(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	client, err := queue.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	dispatcher := queue.NewDispatcher(client, cfg.Redis.QueueKey, cfg.HTTP.ResponseTimeout)
	app := newApp()
	routes.SetupGatewayRoutes(app, handlers.NewOrderHandler(dispatcher), cfg.HTTP)

	log.Info().
		Str("port", cfg.HTTP.Port).
		Dur("response_timeout", cfg.HTTP.ResponseTimeout).
		Bool("rate_limit", !cfg.HTTP.RateLimitDisabled).
		Msg("Gateway started")
	return serve(ctx, app, cfg.HTTP.Port, cfg.HTTP.ShutdownTimeout)
}
