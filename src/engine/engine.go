package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spot-engine/src/ledger"
	"spot-engine/src/models"
)

type Options struct {
	Markets           []string // base assets, one book each against QuoteAsset
	QuoteAsset        string
	Policy            MatchPolicy
	PricePrecision    int32
	QuantityPrecision int32
	SeedUsers         []string
	SeedBalance       decimal.Decimal
	NewID             func() string
	Now               func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Markets:           []string{"BTC"},
		QuoteAsset:        DefaultQuoteAsset,
		Policy:            PolicyBookOrder,
		PricePrecision:    2,
		QuantityPrecision: 8,
		SeedUsers:         []string{"1", "2", "5"},
		SeedBalance:       decimal.NewFromInt(10000000),
		NewID:             uuid.NewString,
		Now:               time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.QuoteAsset == "" {
		o.QuoteAsset = def.QuoteAsset
	}
	if !o.Policy.Valid() {
		o.Policy = def.Policy
	}
	if o.NewID == nil {
		o.NewID = def.NewID
	}
	if o.Now == nil {
		o.Now = def.Now
	}
	return o
}

// Output is everything one command produced, in emission order:
// records, then market data, then the response (nil for ON_RAMP).
type Output struct {
	Response   *models.Response
	MarketData []models.StreamMessage
	Records    []models.Record
	Err        error
}

// Engine owns the ledger and the books. It is not safe for concurrent use:
// exactly one goroutine may call Process, Snapshot and the read helpers.
type Engine struct {
	ledger   *ledger.Ledger
	books    []*OrderBook
	byTicker map[string]*OrderBook
	onRamps  map[string]struct{}
	opts     Options
	commands uint64
}

func newEngine(l *ledger.Ledger, opts Options) *Engine {
	return &Engine{
		ledger:   l,
		books:    make([]*OrderBook, 0, len(opts.Markets)),
		byTicker: make(map[string]*OrderBook),
		onRamps:  make(map[string]struct{}),
		opts:     opts,
	}
}

// New builds the seeded engine: one empty book per market and every seed
// user holding SeedBalance of each base asset and of the quote asset.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	e := newEngine(ledger.New(), opts)
	for _, base := range opts.Markets {
		e.addBook(NewOrderBook(base, opts.QuoteAsset, opts.Policy))
	}
	if opts.SeedBalance.IsPositive() {
		for _, user := range opts.SeedUsers {
			_ = e.ledger.Deposit(user, opts.QuoteAsset, opts.SeedBalance)
			for _, base := range opts.Markets {
				_ = e.ledger.Deposit(user, base, opts.SeedBalance)
			}
		}
	}
	return e
}

func (e *Engine) addBook(ob *OrderBook) {
	if _, exists := e.byTicker[ob.Ticker()]; exists {
		return
	}
	e.books = append(e.books, ob)
	e.byTicker[ob.Ticker()] = ob
}

func (e *Engine) book(market string) (*OrderBook, error) {
	ob, ok := e.byTicker[market]
	if !ok {
		return nil, fmt.Errorf("%q: %w", market, ErrMarketNotFound)
	}
	return ob, nil
}

// Book exposes a book for inspection by the owning goroutine.
func (e *Engine) Book(market string) (*OrderBook, bool) {
	ob, ok := e.byTicker[market]
	return ob, ok
}

// Markets lists the tickers in creation order.
func (e *Engine) Markets() []string {
	out := make([]string, 0, len(e.books))
	for _, ob := range e.books {
		out = append(out, ob.Ticker())
	}
	return out
}

func (e *Engine) Balance(userID, asset string) ledger.Balance {
	return e.ledger.Balance(userID, asset)
}

func (e *Engine) Balances(userID string) map[string]ledger.Balance {
	return e.ledger.Balances(userID)
}

func (e *Engine) CommandsProcessed() uint64 { return e.commands }

// Process decodes one raw command and applies it.
func (e *Engine) Process(raw json.RawMessage) Output {
	var cmd models.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		err = &ValidationError{Message: "undecodable message: " + err.Error()}
		return Output{Response: errorResponse(err), Err: err}
	}
	return e.Apply(cmd)
}

// Apply runs one command to completion. Errors never escape as panics or
// missing responses; they are turned into the degraded response of the
// command and reported in Output.Err.
func (e *Engine) Apply(cmd models.Command) Output {
	e.commands++

	switch cmd.Type {
	case models.CreateOrder:
		var p models.CreateOrderPayload
		if err := cmd.Decode(&p); err != nil {
			return cancelledFallback(invalid("payload", err.Error()))
		}
		out, err := e.createOrder(p)
		if errors.Is(err, ErrStateMismatch) {
			// matched and emitted, but the ledger no longer agrees with the book
			log.Error().Err(err).Str("market", p.Market).Str("user_id", p.UserID).Msg("Order settlement failed")
			out.Err = err
			return out
		}
		if err != nil {
			log.Warn().Err(err).Str("market", p.Market).Str("user_id", p.UserID).Msg("Order rejected")
			return cancelledFallback(err)
		}
		return out

	case models.CancelOrder:
		var p models.CancelOrderPayload
		if err := cmd.Decode(&p); err != nil {
			return errorOutput(invalid("payload", err.Error()))
		}
		out, err := e.cancelOrder(p)
		if err != nil {
			log.Warn().Err(err).Str("market", p.Market).Str("order_id", p.OrderID).Msg("Cancel rejected")
			return errorOutput(err)
		}
		return out

	case models.GetOpenOrders:
		var p models.GetOpenOrdersPayload
		if err := cmd.Decode(&p); err != nil {
			return errorOutput(invalid("payload", err.Error()))
		}
		out, err := e.openOrders(p)
		if err != nil {
			return errorOutput(err)
		}
		return out

	case models.OnRamp:
		var p models.OnRampPayload
		if err := cmd.Decode(&p); err != nil {
			return Output{Err: invalid("payload", err.Error())}
		}
		if err := e.onRamp(p); err != nil {
			log.Warn().Err(err).Str("user_id", p.UserID).Str("txn_id", p.TxnID).Msg("On-ramp rejected")
			return Output{Err: err}
		}
		return Output{}

	case models.GetDepth:
		var p models.GetDepthPayload
		if err := cmd.Decode(&p); err != nil {
			return emptyDepth(invalid("payload", err.Error()))
		}
		ob, err := e.book(p.Market)
		if err != nil {
			return emptyDepth(err)
		}
		r := models.NewResponse(models.Depth, depthPayload(ob.Depth()))
		return Output{Response: &r}
	}

	return errorOutput(invalid("type", fmt.Sprintf("unknown command %q", cmd.Type)))
}

func cancelledFallback(err error) Output {
	r := models.NewResponse(models.OrderCancelled, models.OrderCancelledPayload{
		OrderID:      "",
		ExecutedQty:  decimal.Zero,
		RemainingQty: decimal.Zero,
	})
	return Output{Response: &r, Err: err}
}

func emptyDepth(err error) Output {
	r := models.NewResponse(models.Depth, models.DepthPayload{
		Bids: [][2]string{},
		Asks: [][2]string{},
	})
	return Output{Response: &r, Err: err}
}

func errorOutput(err error) Output {
	return Output{Response: errorResponse(err), Err: err}
}

func depthPayload(d Depth) models.DepthPayload {
	conv := func(levels []Level) [][2]string {
		out := make([][2]string, 0, len(levels))
		for _, l := range levels {
			out = append(out, [2]string{l.Price.String(), l.Quantity.String()})
		}
		return out
	}
	return models.DepthPayload{Bids: conv(d.Bids), Asks: conv(d.Asks)}
}

func parseAmount(field, raw string, places int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, invalid(field, "is required")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalid(field, fmt.Sprintf("%q is not a decimal", raw))
	}
	if !v.IsPositive() {
		return decimal.Zero, invalid(field, "must be positive")
	}
	// edge case: reject more fractional digits than the market supports
	if places >= 0 && !v.Equal(v.Truncate(places)) {
		return decimal.Zero, invalid(field, fmt.Sprintf("allows at most %d decimal places", places))
	}
	return v, nil
}
