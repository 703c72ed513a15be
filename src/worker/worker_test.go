package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-engine/src/engine"
	"spot-engine/src/metrics"
	"spot-engine/src/models"
	"spot-engine/src/queue"
	"spot-engine/src/snapshot"
)

// chanSource feeds envelopes from a channel, optionally failing first.
type chanSource struct {
	ch       chan models.Envelope
	mu       sync.Mutex
	failures int
}

func (s *chanSource) Next(ctx context.Context) (models.Envelope, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return models.Envelope{}, errors.New("connection reset")
	}
	s.mu.Unlock()
	select {
	case env := <-s.ch:
		return env, nil
	case <-ctx.Done():
		return models.Envelope{}, ctx.Err()
	}
}

// event is one delivery seen by the fakes, to check emission order.
type event struct {
	kind    string // record, market, response
	channel string
	payload string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

type fakePublisher struct{ rec *recorder }

func (p fakePublisher) Publish(_ context.Context, channel string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	kind := "market"
	if _, ok := v.(*models.Response); ok {
		kind = "response"
	}
	p.rec.add(event{kind: kind, channel: channel, payload: string(raw)})
	return nil
}

type fakeSink struct {
	rec *recorder
	err error
}

func (s fakeSink) Write(_ context.Context, records []models.Record) error {
	for _, r := range records {
		s.rec.add(event{kind: "record", channel: r.Type})
	}
	return s.err
}

func envelope(t *testing.T, clientID, cmdType string, payload interface{}) models.Envelope {
	t.Helper()
	cmd, err := models.NewCommand(cmdType, payload)
	require.NoError(t, err)
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	return models.Envelope{ClientID: clientID, Message: raw}
}

func testEngine() *engine.Engine {
	opts := engine.DefaultOptions()
	opts.SeedUsers = []string{"A", "B"}
	opts.SeedBalance = decimal.NewFromInt(1000)
	return engine.New(opts)
}

func startWorker(t *testing.T, w *Worker) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return w.Health().Status == "healthy" }, time.Second, 5*time.Millisecond)
	return cancel, done
}

func TestWorkerEmitsInOrder(t *testing.T) {
	rec := &recorder{}
	src := &chanSource{ch: make(chan models.Envelope)}
	w := New(testEngine(), src, fakePublisher{rec}, fakeSink{rec: rec}, nil, Options{Metrics: metrics.New()})
	cancel, done := startWorker(t, w)
	defer cancel()

	src.ch <- envelope(t, "c1", models.CreateOrder, models.CreateOrderPayload{
		Market: "BTC_USDC", UserID: "A", Side: "buy", Price: "100", Quantity: "2",
	})
	src.ch <- envelope(t, "c2", models.CreateOrder, models.CreateOrderPayload{
		Market: "BTC_USDC", UserID: "B", Side: "sell", Price: "100", Quantity: "1",
	})

	require.Eventually(t, func() bool {
		evs := rec.snapshot()
		return len(evs) > 0 && evs[len(evs)-1].channel == "c2"
	}, 2*time.Second, 5*time.Millisecond)

	var kinds []string
	for _, e := range rec.snapshot() {
		kinds = append(kinds, e.kind+":"+e.channel)
	}
	assert.Equal(t, []string{
		// resting buy: taker update, depth, response
		"record:ORDER_UPDATE", "market:depth@BTC_USDC", "response:c1",
		// crossing sell: trade, taker update, maker update, trade print, depth, response
		"record:TRADE_ADDED", "record:ORDER_UPDATE", "record:ORDER_UPDATE",
		"market:trade@BTC_USDC", "market:depth@BTC_USDC", "response:c2",
	}, kinds)

	h := w.Health()
	assert.Equal(t, uint64(2), h.CommandsProcessed)
	assert.Equal(t, 1, h.RestingOrders["BTC_USDC"])

	cancel()
	require.NoError(t, <-done)
}

func TestWorkerSkipsResponseWithoutClient(t *testing.T) {
	rec := &recorder{}
	src := &chanSource{ch: make(chan models.Envelope)}
	e := testEngine()
	w := New(e, src, fakePublisher{rec}, fakeSink{rec: rec}, nil, Options{})
	cancel, done := startWorker(t, w)

	src.ch <- envelope(t, "", models.OnRamp, models.OnRampPayload{UserID: "C", Amount: "5", TxnID: "t1"})
	src.ch <- envelope(t, "", models.GetDepth, models.GetDepthPayload{Market: "BTC_USDC"})
	require.Eventually(t, func() bool { return w.Health().CommandsProcessed == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, rec.snapshot())
	assert.True(t, e.Balance("C", "USDC").Available.Equal(decimal.NewFromInt(5)))
}

func TestWorkerSurvivesSinkAndSourceFailures(t *testing.T) {
	rec := &recorder{}
	src := &chanSource{ch: make(chan models.Envelope), failures: 2}
	w := New(testEngine(), src, fakePublisher{rec}, fakeSink{rec: rec, err: errors.New("list full")}, nil, Options{})
	cancel, done := startWorker(t, w)
	defer cancel()

	src.ch <- envelope(t, "c1", models.CreateOrder, models.CreateOrderPayload{
		Market: "BTC_USDC", UserID: "A", Side: "buy", Price: "10", Quantity: "1",
	})
	require.Eventually(t, func() bool {
		for _, e := range rec.snapshot() {
			if e.channel == "c1" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "response must go out even when records fail")

	cancel()
	require.NoError(t, <-done)
}

func TestWorkerSnapshots(t *testing.T) {
	rec := &recorder{}
	src := &chanSource{ch: make(chan models.Envelope)}
	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	e := testEngine()
	w := New(e, src, fakePublisher{rec}, nil, store, Options{SnapshotInterval: 20 * time.Millisecond})
	cancel, done := startWorker(t, w)

	src.ch <- envelope(t, "c1", models.CreateOrder, models.CreateOrderPayload{
		Market: "BTC_USDC", UserID: "A", Side: "buy", Price: "10", Quantity: "3",
	})
	require.Eventually(t, func() bool { return w.Health().LastSnapshot != nil }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// the final snapshot holds everything applied before shutdown
	doc, err := snapshot.Load(context.Background(), store)
	require.NoError(t, err)
	restored, err := engine.Restore(doc.State, engine.DefaultOptions())
	require.NoError(t, err)
	book, ok := restored.Book("BTC_USDC")
	require.True(t, ok)
	assert.Equal(t, 1, book.RestingCount())
	assert.True(t, restored.Balance("A", "USDC").Locked.Equal(decimal.NewFromInt(30)))
}

// TestWorkerOverRedis runs the whole path: dispatcher, queue, worker, publisher
func TestWorkerOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	engineClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gatewayClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		engineClient.Close()
		gatewayClient.Close()
	})

	w := New(testEngine(),
		queue.NewRedisQueue(engineClient, "messages", 100*time.Millisecond),
		queue.NewRedisPublisher(engineClient),
		queue.NewRedisRecordSink(engineClient, "db_processor"),
		nil, Options{})
	cancel, done := startWorker(t, w)
	defer cancel()

	d := queue.NewDispatcher(gatewayClient, "messages", 3*time.Second)
	cmd, err := models.NewCommand(models.CreateOrder, models.CreateOrderPayload{
		Market: "BTC_USDC", UserID: "A", Side: "buy", Price: "100", Quantity: "2",
	})
	require.NoError(t, err)

	resp, err := d.SendAndAwait(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, models.OrderPlaced, resp.Type)

	var placed models.OrderPlacedPayload
	require.NoError(t, resp.Decode(&placed))
	assert.NotEmpty(t, placed.OrderID)
	assert.True(t, placed.ExecutedQty.IsZero())

	records, err := gatewayClient.LRange(context.Background(), "db_processor", 0, -1).Result()
	require.NoError(t, err)
	assert.Len(t, records, 1)

	cancel()
	require.NoError(t, <-done)
}
