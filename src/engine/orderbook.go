package engine

import (
	"errors"
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

const DefaultQuoteAsset = "USDC"

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrInvalidOrder   = errors.New("invalid order")
)

// PriceLevel aggregates the resting orders at one price, FIFO by arrival.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal // sum of unfilled quantity
	Orders   []*Order
}

type levelItem interface {
	btree.Item
	priceLevel() *PriceLevel
}

// BidLevelItem sorts descending (highest first).
type BidLevelItem struct {
	PriceLevel *PriceLevel
}

func (p *BidLevelItem) Less(than btree.Item) bool {
	return p.PriceLevel.Price.GreaterThan(than.(*BidLevelItem).PriceLevel.Price)
}

func (p *BidLevelItem) priceLevel() *PriceLevel { return p.PriceLevel }

// AskLevelItem sorts ascending (lowest first).
type AskLevelItem struct {
	PriceLevel *PriceLevel
}

func (p *AskLevelItem) Less(than btree.Item) bool {
	return p.PriceLevel.Price.LessThan(than.(*AskLevelItem).PriceLevel.Price)
}

func (p *AskLevelItem) priceLevel() *PriceLevel { return p.PriceLevel }

// bookSide keeps resting orders twice: in storage order for book-order
// matching and snapshots, and grouped by price in a btree for depth and
// price-time matching.
type bookSide struct {
	side   Side
	orders []*Order
	levels *btree.BTree
}

func newBookSide(side Side) *bookSide {
	return &bookSide{
		side:   side,
		orders: make([]*Order, 0),
		levels: btree.New(32),
	}
}

func (s *bookSide) item(level *PriceLevel) levelItem {
	if s.side == SideBuy {
		return &BidLevelItem{PriceLevel: level}
	}
	return &AskLevelItem{PriceLevel: level}
}

func (s *bookSide) level(price decimal.Decimal) *PriceLevel {
	existing := s.levels.Get(s.item(&PriceLevel{Price: price}))
	if existing == nil {
		return nil
	}
	return existing.(levelItem).priceLevel()
}

func (s *bookSide) add(order *Order) {
	s.orders = append(s.orders, order)

	level := s.level(order.Price)
	if level == nil {
		level = &PriceLevel{
			Price:    order.Price,
			Quantity: decimal.Zero,
			Orders:   make([]*Order, 0, 1),
		}
		s.levels.ReplaceOrInsert(s.item(level))
	}
	level.Orders = append(level.Orders, order)
	level.Quantity = level.Quantity.Add(order.Remaining())
}

// reduce lowers the level aggregate after order was filled by qty.
func (s *bookSide) reduce(order *Order, qty decimal.Decimal) {
	if level := s.level(order.Price); level != nil {
		level.Quantity = level.Quantity.Sub(qty)
	}
}

func (s *bookSide) remove(order *Order) bool {
	found := false
	for i, o := range s.orders {
		if o == order {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}

	level := s.level(order.Price)
	if level == nil {
		return true
	}
	for i, o := range level.Orders {
		if o == order {
			level.Orders = append(level.Orders[:i], level.Orders[i+1:]...)
			break
		}
	}
	level.Quantity = level.Quantity.Sub(order.Remaining())

	// edge case: remove empty price level
	if len(level.Orders) == 0 {
		s.levels.Delete(s.item(level))
	}
	return true
}

func (s *bookSide) depth() []Level {
	levels := make([]Level, 0, s.levels.Len())
	s.levels.Ascend(func(item btree.Item) bool {
		level := item.(levelItem).priceLevel()
		if level.Quantity.IsPositive() {
			levels = append(levels, Level{Price: level.Price, Quantity: level.Quantity})
		}
		return true
	})
	return levels
}

func (s *bookSide) copyOrders() []Order {
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}

// Level is one aggregated depth entry.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Depth is the aggregated book, best price first on both sides.
type Depth struct {
	Bids []Level
	Asks []Level
}

// OrderBook holds the resting orders of one trading pair.
type OrderBook struct {
	baseAsset      string
	quoteAsset     string
	bids           *bookSide
	asks           *bookSide
	orders         map[string]*Order
	policy         MatchPolicy
	lastTradeID    uint64
	lastTradePrice decimal.Decimal
}

func NewOrderBook(baseAsset, quoteAsset string, policy MatchPolicy) *OrderBook {
	if quoteAsset == "" {
		quoteAsset = DefaultQuoteAsset
	}
	if !policy.Valid() {
		policy = PolicyBookOrder
	}
	return &OrderBook{
		baseAsset:      baseAsset,
		quoteAsset:     quoteAsset,
		bids:           newBookSide(SideBuy),
		asks:           newBookSide(SideSell),
		orders:         make(map[string]*Order),
		policy:         policy,
		lastTradePrice: decimal.Zero,
	}
}

func (ob *OrderBook) Ticker() string {
	return ob.baseAsset + "_" + ob.quoteAsset
}

func (ob *OrderBook) BaseAsset() string  { return ob.baseAsset }
func (ob *OrderBook) QuoteAsset() string { return ob.quoteAsset }

// LastTradeID is the id the next fill will receive.
func (ob *OrderBook) LastTradeID() uint64 { return ob.lastTradeID }

func (ob *OrderBook) LastTradePrice() decimal.Decimal { return ob.lastTradePrice }

func (ob *OrderBook) Policy() MatchPolicy { return ob.policy }

func (ob *OrderBook) RestingCount() int { return len(ob.orders) }

func (ob *OrderBook) sideOf(side Side) *bookSide {
	if side == SideBuy {
		return ob.bids
	}
	return ob.asks
}

// Order returns a copy of a resting order.
func (ob *OrderBook) Order(orderID string) (Order, bool) {
	o, ok := ob.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Cancel removes a resting order and returns it as it was at removal.
func (ob *OrderBook) Cancel(orderID string) (Order, error) {
	o, ok := ob.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%s in %s: %w", orderID, ob.Ticker(), ErrOrderNotFound)
	}
	ob.sideOf(o.Side).remove(o)
	delete(ob.orders, orderID)
	return *o, nil
}

// OpenOrders lists the user's resting orders, asks first, each side in book order.
func (ob *OrderBook) OpenOrders(userID string) []Order {
	out := make([]Order, 0)
	for _, side := range []*bookSide{ob.asks, ob.bids} {
		for _, o := range side.orders {
			if o.UserID == userID {
				out = append(out, *o)
			}
		}
	}
	return out
}

func (ob *OrderBook) Depth() Depth {
	return Depth{
		Bids: ob.bids.depth(),
		Asks: ob.asks.depth(),
	}
}

// DepthAt is the unfilled quantity resting at price on side, zero when empty.
func (ob *OrderBook) DepthAt(side Side, price decimal.Decimal) decimal.Decimal {
	level := ob.sideOf(side).level(price)
	if level == nil {
		return decimal.Zero
	}
	return level.Quantity
}

// BookSnapshot is the persisted form of an OrderBook.
type BookSnapshot struct {
	BaseAsset      string          `json:"baseAsset"`
	QuoteAsset     string          `json:"quoteAsset"`
	Bids           []Order         `json:"bids"`
	Asks           []Order         `json:"asks"`
	LastTradeID    uint64          `json:"lastTradeId"`
	LastTradePrice decimal.Decimal `json:"lastTradePrice"`
}

func (ob *OrderBook) Snapshot() BookSnapshot {
	return BookSnapshot{
		BaseAsset:      ob.baseAsset,
		QuoteAsset:     ob.quoteAsset,
		Bids:           ob.bids.copyOrders(),
		Asks:           ob.asks.copyOrders(),
		LastTradeID:    ob.lastTradeID,
		LastTradePrice: ob.lastTradePrice,
	}
}

// RestoreOrderBook rebuilds a book, preserving the stored order of each side.
func RestoreOrderBook(snap BookSnapshot, policy MatchPolicy) (*OrderBook, error) {
	if snap.BaseAsset == "" {
		return nil, fmt.Errorf("restore book: empty base asset: %w", ErrInvalidOrder)
	}
	ob := NewOrderBook(snap.BaseAsset, snap.QuoteAsset, policy)
	ob.lastTradeID = snap.LastTradeID
	ob.lastTradePrice = snap.LastTradePrice

	load := func(side Side, orders []Order) error {
		for i := range orders {
			o := orders[i]
			if err := validateResting(&o, side); err != nil {
				return fmt.Errorf("restore %s: %w", ob.Ticker(), err)
			}
			if _, dup := ob.orders[o.ID]; dup {
				return fmt.Errorf("restore %s: %s: %w", ob.Ticker(), o.ID, ErrDuplicateOrder)
			}
			ob.orders[o.ID] = &o
			ob.sideOf(side).add(&o)
		}
		return nil
	}
	if err := load(SideBuy, snap.Bids); err != nil {
		return nil, err
	}
	if err := load(SideSell, snap.Asks); err != nil {
		return nil, err
	}
	return ob, nil
}

func validateResting(o *Order, side Side) error {
	switch {
	case o.ID == "":
		return fmt.Errorf("order without id: %w", ErrInvalidOrder)
	case o.Side != side:
		return fmt.Errorf("order %s stored on %s side: %w", o.ID, side, ErrInvalidOrder)
	case !o.Price.IsPositive() || !o.Quantity.IsPositive():
		return fmt.Errorf("order %s has non-positive price or quantity: %w", o.ID, ErrInvalidOrder)
	case o.Filled.IsNegative() || o.Filled.GreaterThanOrEqual(o.Quantity):
		return fmt.Errorf("order %s filled %s of %s: %w", o.ID, o.Filled, o.Quantity, ErrInvalidOrder)
	}
	return nil
}
