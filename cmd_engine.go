package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"spot-engine/src/config"
	"spot-engine/src/engine"
	"spot-engine/src/handlers"
	"spot-engine/src/logger"
	"spot-engine/src/metrics"
	"spot-engine/src/queue"
	"spot-engine/src/routes"
	"spot-engine/src/snapshot"
	"spot-engine/src/worker"
)

func engineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engine",
		Short: "Run the matching engine worker and its ops server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup("engine")
			if err != nil {
				return err
			}
			defer logger.CloseLogger()
			return runEngine(cfg)
		},
	}
}

func engineOptions(cfg config.EngineConfig) engine.Options {
	opts := engine.DefaultOptions()
	opts.Markets = cfg.Markets
	opts.QuoteAsset = cfg.QuoteAsset
	opts.Policy = engine.MatchPolicy(cfg.MatchPolicy)
	opts.PricePrecision = cfg.PricePrecision
	opts.QuantityPrecision = cfg.QuantityPrecision
	opts.SeedUsers = cfg.SeedUsers
	opts.SeedBalance = cfg.SeedAmount()
	return opts
}

func runEngine(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	log.Info().
		Strs("markets", cfg.Engine.Markets).
		Str("match_policy", cfg.Engine.MatchPolicy).
		Str("snapshot_backend", cfg.Snapshot.Backend).
		Bool("restore", cfg.Snapshot.Restore).
		Msg("Initializing matching engine")

	e, store, restoredAt, err := bootEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := queue.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()

	sink, closeSink, err := recordSink(cfg, client)
	if err != nil {
		return err
	}
	defer closeSink()

	m := metrics.New()
	w := worker.New(e,
		queue.NewRedisQueue(client, cfg.Redis.QueueKey, cfg.Redis.PollTimeout),
		queue.NewRedisPublisher(client),
		sink,
		store,
		worker.Options{
			SnapshotInterval: cfg.Snapshot.Interval,
			Metrics:          m,
			LastSnapshot:     restoredAt,
		})

	app := newApp()
	routes.SetupOpsRoutes(app, handlers.NewOpsHandler(w), m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return serve(gctx, app, cfg.HTTP.OpsPort, cfg.HTTP.ShutdownTimeout) })

	log.Info().
		Str("ops_port", cfg.HTTP.OpsPort).
		Str("queue", cfg.Redis.QueueKey).
		Msg("Matching engine started")
	return g.Wait()
}

// bootEngine opens the snapshot store and builds the starting engine from it.
// The caller owns the returned store.
func bootEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, snapshot.Store, time.Time, error) {
	store, err := snapshot.Open(cfg.Snapshot.Backend, cfg.Snapshot.Path)
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	e, restoredAt := snapshot.Boot(ctx, store, engineOptions(cfg.Engine), cfg.Snapshot.Restore)
	return e, store, restoredAt, nil
}

// recordSink builds the configured persistence sink and its closer.
func recordSink(cfg *config.Config, client redis.Cmdable) (queue.RecordSink, func(), error) {
	redisSink := queue.NewRedisRecordSink(client, cfg.Redis.RecordsKey)
	newKafka := func() *queue.KafkaRecordSink {
		return queue.NewKafkaRecordSink(queue.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout))
	}
	closeKafka := func(k *queue.KafkaRecordSink) func() {
		return func() {
			if err := k.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close kafka writer")
			}
		}
	}

	switch cfg.Engine.RecordSink {
	case config.SinkRedis:
		return redisSink, func() {}, nil
	case config.SinkKafka:
		k := newKafka()
		return k, closeKafka(k), nil
	case config.SinkBoth:
		k := newKafka()
		return queue.MultiSink{redisSink, k}, closeKafka(k), nil
	case config.SinkNone:
		return queue.DiscardSink{}, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown record sink %q", cfg.Engine.RecordSink)
}
