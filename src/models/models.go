package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Command types accepted by the engine.
const (
	CreateOrder   = "CREATE_ORDER"
	CancelOrder   = "CANCEL_ORDER"
	OnRamp        = "ON_RAMP"
	GetOpenOrders = "GET_OPEN_ORDERS"
	GetDepth      = "GET_DEPTH"
)

// Response types sent back to the caller.
const (
	OrderPlaced    = "ORDER_PLACED"
	OrderCancelled = "ORDER_CANCELLED"
	OpenOrders     = "OPEN_ORDERS"
	Depth          = "DEPTH"
	Error          = "ERROR"
)

// Record types sent to the persistence pipeline.
const (
	TradeAdded  = "TRADE_ADDED"
	OrderUpdate = "ORDER_UPDATE"
)

// Error codes carried by ERROR responses.
const (
	CodeMarketNotFound    = "MARKET_NOT_FOUND"
	CodeOrderNotFound     = "ORDER_NOT_FOUND"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeInvalidCommand    = "INVALID_COMMAND"
)

// Envelope is what travels on the command queue. ClientID is the channel
// the response is published on.
type Envelope struct {
	ClientID string          `json:"clientId"`
	Message  json.RawMessage `json:"message"`
}

type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewCommand(commandType string, payload interface{}) (Command, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("encode %s payload: %w", commandType, err)
	}
	return Command{Type: commandType, Payload: raw}, nil
}

func (c Command) Decode(v interface{}) error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", c.Type)
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("%s: %w", c.Type, err)
	}
	return nil
}

type CreateOrderPayload struct {
	Market   string `json:"market"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Side     string `json:"side"`
	UserID   string `json:"userId"`
}

type CancelOrderPayload struct {
	OrderID string `json:"orderId"`
	Market  string `json:"market"`
}

type OnRampPayload struct {
	Amount string `json:"amount"`
	TxnID  string `json:"txnId"`
	UserID string `json:"userId"`
	Asset  string `json:"asset,omitempty"` // defaults to the quote asset
}

type GetOpenOrdersPayload struct {
	UserID string `json:"userId"`
	Market string `json:"market"`
}

type GetDepthPayload struct {
	Market string `json:"market"`
}

type Response struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewResponse(responseType string, payload interface{}) Response {
	raw, err := json.Marshal(payload)
	if err != nil {
		// payloads are plain structs; this only trips on programmer error
		panic(fmt.Sprintf("encode %s response: %v", responseType, err))
	}
	return Response{Type: responseType, Payload: raw}
}

func (r Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Payload, v)
}

type FillInfo struct {
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"qty"`
	TradeID uint64          `json:"tradeId"`
}

type OrderPlacedPayload struct {
	OrderID     string          `json:"orderId"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	Fills       []FillInfo      `json:"fills"`
}

type OrderCancelledPayload struct {
	OrderID      string          `json:"orderId"`
	ExecutedQty  decimal.Decimal `json:"executedQty"`
	RemainingQty decimal.Decimal `json:"remainingQty"`
}

type OrderInfo struct {
	OrderID  string          `json:"orderId"`
	UserID   string          `json:"userId"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Filled   decimal.Decimal `json:"filled"`
}

// DepthPayload lists [price, quantity] pairs as decimal strings.
type DepthPayload struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
