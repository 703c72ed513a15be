package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"spot-engine/src/engine"
	"spot-engine/src/metrics"
	"spot-engine/src/models"
	"spot-engine/src/queue"
	"spot-engine/src/snapshot"
)

const finalSnapshotTimeout = 5 * time.Second

// Source yields command envelopes; Next blocks until one is available.
type Source interface {
	Next(ctx context.Context) (models.Envelope, error)
}

// Publisher delivers a JSON message on a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, v interface{}) error
}

type Options struct {
	SnapshotInterval time.Duration
	Metrics          *metrics.Metrics
	Now              func() time.Time
	// LastSnapshot is when the state the engine started from was saved.
	LastSnapshot time.Time
}

// Worker is the only goroutine that touches the Engine. Commands run one at
// a time to completion and snapshots are taken between commands.
type Worker struct {
	engine    *engine.Engine
	source    Source
	publisher Publisher
	records   queue.RecordSink
	store     snapshot.Store
	opts      Options

	started      time.Time
	commands     atomic.Uint64
	lastSnapshot atomic.Int64 // unix ms, 0 when none
	resting      atomic.Pointer[map[string]int]
	running      atomic.Bool
}

// New wires a worker. store may be nil to disable snapshots.
func New(e *engine.Engine, source Source, publisher Publisher, records queue.RecordSink, store snapshot.Store, opts Options) *Worker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 3 * time.Second
	}
	if records == nil {
		records = queue.DiscardSink{}
	}
	w := &Worker{
		engine:    e,
		source:    source,
		publisher: publisher,
		records:   records,
		store:     store,
		opts:      opts,
		started:   opts.Now(),
	}
	if !opts.LastSnapshot.IsZero() {
		w.lastSnapshot.Store(opts.LastSnapshot.UnixMilli())
	}
	w.updateResting()
	return w
}

// Run processes commands until ctx is done, then writes a final snapshot.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	inbox := make(chan models.Envelope)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		w.pump(ctx, inbox)
	}()

	ticker := time.NewTicker(w.opts.SnapshotInterval)
	defer ticker.Stop()

	log.Info().
		Strs("markets", w.engine.Markets()).
		Dur("snapshot_interval", w.opts.SnapshotInterval).
		Msg("Engine worker started")

	for {
		select {
		case env := <-inbox:
			w.handle(ctx, env)
		case <-ticker.C:
			w.snapshot(ctx)
		case <-ctx.Done():
			w.drain(ctx, inbox, pumpDone)
			final, cancel := context.WithTimeout(context.Background(), finalSnapshotTimeout)
			w.snapshot(final)
			cancel()
			log.Info().Uint64("commands", w.commands.Load()).Msg("Engine worker stopped")
			return nil
		}
	}
}

// drain handles what the pump already popped until it exits, so nothing
// taken off the queue is lost on shutdown.
func (w *Worker) drain(ctx context.Context, inbox <-chan models.Envelope, pumpDone <-chan struct{}) {
	for {
		select {
		case env := <-inbox:
			w.handle(ctx, env)
		case <-pumpDone:
			return
		}
	}
}

// pump reads the source and hands envelopes to the owner goroutine. Source
// errors back off exponentially; a good read resets the backoff.
func (w *Worker) pump(ctx context.Context, inbox chan<- models.Envelope) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = 5 * time.Second

	for {
		env, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// edge case: a bad item is dropped, the queue itself is fine
			if errors.Is(err, queue.ErrMalformedEnvelope) {
				log.Warn().Err(err).Msg("Dropping malformed envelope")
				continue
			}
			wait := bo.NextBackOff()
			log.Error().Err(err).Dur("retry_in", wait).Msg("Command source failed")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		bo.Reset()
		// the owner keeps receiving until pump returns, even after shutdown
		inbox <- env
	}
}

// handle applies one command and emits records, then market data, then the
// response. Delivery failures are logged and counted, never retried.
func (w *Worker) handle(ctx context.Context, env models.Envelope) {
	// a command that was applied is always reported, even during shutdown
	ctx = context.WithoutCancel(ctx)

	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(env.Message, &head)

	out := w.engine.Process(env.Message)
	w.commands.Add(1)
	w.opts.Metrics.CommandApplied(head.Type, out.Err == nil)
	if out.Err != nil {
		log.Debug().Err(out.Err).Str("type", head.Type).Str("client_id", env.ClientID).Msg("Command rejected")
	}

	if len(out.Records) > 0 {
		if err := w.records.Write(ctx, out.Records); err != nil {
			w.publishFailed(err, "records")
		}
		fills := make(map[string]int)
		for _, r := range out.Records {
			if r.Type == models.TradeAdded {
				fills[r.Market]++
			}
		}
		for market, n := range fills {
			w.opts.Metrics.Fills(market, n)
		}
	}

	for _, m := range out.MarketData {
		if err := w.publisher.Publish(ctx, m.Stream, m.Data); err != nil {
			w.publishFailed(err, m.Stream)
		}
	}

	if out.Response != nil && env.ClientID != "" {
		if err := w.publisher.Publish(ctx, env.ClientID, out.Response); err != nil {
			w.publishFailed(err, env.ClientID)
		}
	}

	if head.Type == models.CreateOrder || head.Type == models.CancelOrder {
		w.updateResting()
	}
}

func (w *Worker) publishFailed(err error, channel string) {
	w.opts.Metrics.PublishFailed()
	log.Error().Err(err).Str("channel", channel).Msg("Publish failed")
}

func (w *Worker) snapshot(ctx context.Context) {
	if w.store == nil {
		return
	}
	start := time.Now()
	now := w.opts.Now()
	err := snapshot.Save(ctx, w.store, w.engine.Snapshot(), now)
	w.opts.Metrics.SnapshotTaken(time.Since(start).Seconds(), err)
	if err != nil {
		log.Error().Err(err).Msg("Snapshot failed")
		return
	}
	w.lastSnapshot.Store(now.UnixMilli())
	log.Debug().Dur("took", time.Since(start)).Msg("Snapshot saved")
}

func (w *Worker) updateResting() {
	counts := w.engine.RestingOrders()
	w.resting.Store(&counts)
	w.opts.Metrics.RestingOrders(counts)
}

// Health is a point-in-time view safe to read from any goroutine.
type Health struct {
	Status            string         `json:"status"`
	Uptime            string         `json:"uptime"`
	CommandsProcessed uint64         `json:"commands_processed"`
	RestingOrders     map[string]int `json:"resting_orders"`
	LastSnapshot      *time.Time     `json:"last_snapshot,omitempty"`
}

func (w *Worker) Health() Health {
	h := Health{
		Status:            "starting",
		Uptime:            w.opts.Now().Sub(w.started).Round(time.Second).String(),
		CommandsProcessed: w.commands.Load(),
		RestingOrders:     map[string]int{},
	}
	if w.running.Load() {
		h.Status = "healthy"
	}
	if counts := w.resting.Load(); counts != nil {
		h.RestingOrders = *counts
	}
	if ms := w.lastSnapshot.Load(); ms != 0 {
		t := time.UnixMilli(ms).UTC()
		h.LastSnapshot = &t
	}
	return h
}
