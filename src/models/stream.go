package models

import "github.com/shopspring/decimal"

func DepthStream(ticker string) string { return "depth@" + ticker }
func TradeStream(ticker string) string { return "trade@" + ticker }

// StreamMessage is a market-data broadcast; Stream doubles as the pub/sub channel.
type StreamMessage struct {
	Stream string      `json:"stream"`
	Data   interface{} `json:"data"`
}

// DepthUpdate carries the new aggregate of every touched level. A quantity
// of "0" removes the level.
type DepthUpdate struct {
	Event  string      `json:"e"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
	Symbol string      `json:"s"`
}

type TradePrint struct {
	Event        string `json:"e"`
	TradeID      uint64 `json:"t"`
	IsBuyerMaker bool   `json:"m"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	Symbol       string `json:"s"`
}

// Record is a message for the persistence pipeline (trade history, order state).
type Record struct {
	Type   string      `json:"type"`
	Market string      `json:"-"`
	Data   interface{} `json:"data"`
}

type TradeAddedData struct {
	ID            string          `json:"id"`
	Market        string          `json:"market"`
	IsBuyerMaker  bool            `json:"isBuyerMaker"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	QuoteQuantity decimal.Decimal `json:"quoteQuantity"`
	Timestamp     int64           `json:"timestamp"` // unix milliseconds
}

type OrderUpdateData struct {
	OrderID     string           `json:"orderId"`
	ExecutedQty decimal.Decimal  `json:"executedQty"`
	Market      string           `json:"market,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
	Side        string           `json:"side,omitempty"`
	Cancelled   bool             `json:"cancelled,omitempty"`
}
