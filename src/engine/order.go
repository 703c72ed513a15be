package engine

import (
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// MatchPolicy selects the order in which crossing resting orders are consumed.
type MatchPolicy string

const (
	// PolicyBookOrder walks the opposite side in storage order and takes any
	// crossing order it meets.
	PolicyBookOrder MatchPolicy = "book_order"
	// PolicyPriceTime takes the best price level first, FIFO within a level.
	PolicyPriceTime MatchPolicy = "price_time"
)

func (p MatchPolicy) Valid() bool {
	return p == PolicyBookOrder || p == PolicyPriceTime
}

// Order is a limit order. Price and quantities are exact decimals.
type Order struct {
	ID       string          `json:"orderId"`
	UserID   string          `json:"userId"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Filled   decimal.Decimal `json:"filled"`
}

func NewOrder(id, userID string, side Side, price, quantity decimal.Decimal) *Order {
	return &Order{
		ID:       id,
		UserID:   userID,
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Filled:   decimal.Zero,
	}
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

func (o *Order) IsFilled() bool {
	return o.Filled.GreaterThanOrEqual(o.Quantity)
}

func (o *Order) Fill(quantity decimal.Decimal) {
	o.Filled = o.Filled.Add(quantity)
}

// crosses reports whether a resting order on the opposite side can trade
// against an incoming order priced at limit.
func (o *Order) crosses(limit decimal.Decimal) bool {
	if o.Side == SideSell {
		return o.Price.LessThanOrEqual(limit)
	}
	return o.Price.GreaterThanOrEqual(limit)
}

// Fill is one match between an incoming order and a resting (maker) order.
type Fill struct {
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
	TradeID      uint64          `json:"tradeId"`
	MakerUserID  string          `json:"makerUserId"`
	MakerOrderID string          `json:"makerOrderId"`
}
