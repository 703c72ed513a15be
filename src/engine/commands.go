package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spot-engine/src/models"
)

// reservation is what a resting order holds in the ledger.
func (ob *OrderBook) reservation(side Side, price, qty decimal.Decimal) (string, decimal.Decimal) {
	if side == SideBuy {
		return ob.quoteAsset, qty.Mul(price)
	}
	return ob.baseAsset, qty
}

func (e *Engine) createOrder(p models.CreateOrderPayload) (Output, error) {
	ob, err := e.book(p.Market)
	if err != nil {
		return Output{}, err
	}
	if strings.TrimSpace(p.UserID) == "" {
		return Output{}, invalid("userId", "is required")
	}
	side := Side(strings.ToLower(strings.TrimSpace(p.Side)))
	if !side.Valid() {
		return Output{}, invalid("side", "must be buy or sell")
	}
	price, err := parseAmount("price", p.Price, e.opts.PricePrecision)
	if err != nil {
		return Output{}, err
	}
	qty, err := parseAmount("quantity", p.Quantity, e.opts.QuantityPrecision)
	if err != nil {
		return Output{}, err
	}

	asset, amount := ob.reservation(side, price, qty)
	if err := e.ledger.Reserve(p.UserID, asset, amount); err != nil {
		return Output{}, err
	}

	order := NewOrder(e.opts.NewID(), p.UserID, side, price, qty)
	result, err := ob.Submit(order)
	if err != nil {
		// nothing matched; hand the reservation back
		_ = e.ledger.Release(p.UserID, asset, amount)
		return Output{}, err
	}

	// the book is already matched, so every fill is settled and reported
	// even when one of them fails
	var settleErrs []error
	for _, fill := range result.Fills {
		if err := e.settle(ob, order, fill); err != nil {
			settleErrs = append(settleErrs, err)
		}
	}

	now := e.opts.Now().UnixMilli()
	out := Output{
		Records:    tradeRecords(ob, order, result, now),
		MarketData: append(tradePrints(ob, order, result), depthUpdate(ob, order, result)),
	}

	fills := make([]models.FillInfo, 0, len(result.Fills))
	for _, f := range result.Fills {
		fills = append(fills, models.FillInfo{Price: f.Price, Qty: f.Qty, TradeID: f.TradeID})
	}
	r := models.NewResponse(models.OrderPlaced, models.OrderPlacedPayload{
		OrderID:     order.ID,
		ExecutedQty: result.ExecutedQty,
		Fills:       fills,
	})
	out.Response = &r

	log.Debug().
		Str("order_id", order.ID).
		Str("market", ob.Ticker()).
		Str("side", string(side)).
		Str("executed_qty", result.ExecutedQty.String()).
		Int("fills", len(result.Fills)).
		Bool("resting", result.Resting).
		Msg("Order processed")
	if len(settleErrs) > 0 {
		return out, fmt.Errorf("order %s: %w", order.ID, errors.Join(settleErrs...))
	}
	return out, nil
}

// settle moves funds for one fill. A taker buy filling below its limit had
// reserved at the limit, so the price improvement is released as well.
func (e *Engine) settle(ob *OrderBook, taker *Order, fill Fill) error {
	buyer, seller := taker.UserID, fill.MakerUserID
	if taker.Side == SideSell {
		buyer, seller = fill.MakerUserID, taker.UserID
	}
	if err := e.ledger.Settle(buyer, seller, ob.baseAsset, ob.quoteAsset, fill.Qty, fill.Price); err != nil {
		return &SettlementError{TradeID: fill.TradeID, Market: ob.Ticker(), Err: err}
	}
	if taker.Side == SideBuy && fill.Price.LessThan(taker.Price) {
		improvement := taker.Price.Sub(fill.Price).Mul(fill.Qty)
		if err := e.ledger.Release(buyer, ob.quoteAsset, improvement); err != nil {
			return &SettlementError{TradeID: fill.TradeID, Market: ob.Ticker(), Err: err}
		}
	}
	return nil
}

func (e *Engine) cancelOrder(p models.CancelOrderPayload) (Output, error) {
	ob, err := e.book(p.Market)
	if err != nil {
		return Output{}, err
	}
	order, ok := ob.Order(p.OrderID)
	if !ok {
		return Output{}, fmt.Errorf("%s in %s: %w", p.OrderID, ob.Ticker(), ErrOrderNotFound)
	}

	asset, amount := ob.reservation(order.Side, order.Price, order.Remaining())
	if err := e.ledger.Release(order.UserID, asset, amount); err != nil {
		return Output{}, err
	}
	if _, err := ob.Cancel(order.ID); err != nil {
		return Output{}, err
	}

	level := [][2]string{{order.Price.String(), ob.DepthAt(order.Side, order.Price).String()}}
	update := models.DepthUpdate{Event: "depth", Bids: [][2]string{}, Asks: [][2]string{}, Symbol: ob.Ticker()}
	if order.Side == SideBuy {
		update.Bids = level
	} else {
		update.Asks = level
	}

	r := models.NewResponse(models.OrderCancelled, models.OrderCancelledPayload{
		OrderID:      order.ID,
		ExecutedQty:  decimal.Zero,
		RemainingQty: decimal.Zero,
	})
	return Output{
		Records: []models.Record{{
			Type:   models.OrderUpdate,
			Market: ob.Ticker(),
			Data: models.OrderUpdateData{
				OrderID:     order.ID,
				ExecutedQty: order.Filled,
				Market:      ob.Ticker(),
				Cancelled:   true,
			},
		}},
		MarketData: []models.StreamMessage{{Stream: models.DepthStream(ob.Ticker()), Data: update}},
		Response:   &r,
	}, nil
}

func (e *Engine) openOrders(p models.GetOpenOrdersPayload) (Output, error) {
	ob, err := e.book(p.Market)
	if err != nil {
		return Output{}, err
	}
	orders := ob.OpenOrders(p.UserID)
	infos := make([]models.OrderInfo, 0, len(orders))
	for _, o := range orders {
		infos = append(infos, models.OrderInfo{
			OrderID:  o.ID,
			UserID:   o.UserID,
			Side:     string(o.Side),
			Price:    o.Price,
			Quantity: o.Quantity,
			Filled:   o.Filled,
		})
	}
	r := models.NewResponse(models.OpenOrders, infos)
	return Output{Response: &r}, nil
}

// onRamp credits a deposit. Transactions already applied are skipped so a
// redelivered ON_RAMP does not credit twice.
func (e *Engine) onRamp(p models.OnRampPayload) error {
	if strings.TrimSpace(p.UserID) == "" {
		return invalid("userId", "is required")
	}
	amount, err := parseAmount("amount", p.Amount, -1)
	if err != nil {
		return err
	}
	if p.TxnID != "" {
		if _, seen := e.onRamps[p.TxnID]; seen {
			log.Info().Str("txn_id", p.TxnID).Str("user_id", p.UserID).Msg("Duplicate on-ramp skipped")
			return nil
		}
	}
	asset := p.Asset
	if asset == "" {
		asset = e.opts.QuoteAsset
	}
	if err := e.ledger.Deposit(p.UserID, asset, amount); err != nil {
		return err
	}
	if p.TxnID != "" {
		e.onRamps[p.TxnID] = struct{}{}
	}
	return nil
}

func tradeRecords(ob *OrderBook, taker *Order, result *MatchResult, now int64) []models.Record {
	records := make([]models.Record, 0, 2*len(result.Fills)+1)
	for _, f := range result.Fills {
		records = append(records, models.Record{
			Type:   models.TradeAdded,
			Market: ob.Ticker(),
			Data: models.TradeAddedData{
				ID:            fmt.Sprintf("%d", f.TradeID),
				Market:        ob.Ticker(),
				IsBuyerMaker:  taker.Side == SideSell,
				Price:         f.Price,
				Quantity:      f.Qty,
				QuoteQuantity: f.Price.Mul(f.Qty),
				Timestamp:     now,
			},
		})
	}

	price, quantity := taker.Price, taker.Quantity
	records = append(records, models.Record{
		Type:   models.OrderUpdate,
		Market: ob.Ticker(),
		Data: models.OrderUpdateData{
			OrderID:     taker.ID,
			ExecutedQty: result.ExecutedQty,
			Market:      ob.Ticker(),
			Price:       &price,
			Quantity:    &quantity,
			Side:        string(taker.Side),
		},
	})
	// maker updates carry the quantity filled by this trade
	for _, f := range result.Fills {
		records = append(records, models.Record{
			Type:   models.OrderUpdate,
			Market: ob.Ticker(),
			Data:   models.OrderUpdateData{OrderID: f.MakerOrderID, ExecutedQty: f.Qty},
		})
	}
	return records
}

func tradePrints(ob *OrderBook, taker *Order, result *MatchResult) []models.StreamMessage {
	prints := make([]models.StreamMessage, 0, len(result.Fills)+1)
	for _, f := range result.Fills {
		prints = append(prints, models.StreamMessage{
			Stream: models.TradeStream(ob.Ticker()),
			Data: models.TradePrint{
				Event:        "trade",
				TradeID:      f.TradeID,
				IsBuyerMaker: taker.Side == SideSell,
				Price:        f.Price.String(),
				Quantity:     f.Qty.String(),
				Symbol:       ob.Ticker(),
			},
		})
	}
	return prints
}

// depthUpdate reports the current aggregate of every level the order touched:
// the fill prices on the opposite side and its own price if it rested.
func depthUpdate(ob *OrderBook, taker *Order, result *MatchResult) models.StreamMessage {
	opposite := taker.Side.Opposite()
	touched := make([][2]string, 0, len(result.Fills))
	seen := make(map[string]struct{}, len(result.Fills))
	for _, f := range result.Fills {
		key := f.Price.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		touched = append(touched, [2]string{key, ob.DepthAt(opposite, f.Price).String()})
	}

	own := [][2]string{}
	if result.Resting {
		own = append(own, [2]string{taker.Price.String(), ob.DepthAt(taker.Side, taker.Price).String()})
	}

	update := models.DepthUpdate{Event: "depth", Symbol: ob.Ticker()}
	if taker.Side == SideBuy {
		update.Bids, update.Asks = own, touched
	} else {
		update.Bids, update.Asks = touched, own
	}
	return models.StreamMessage{Stream: models.DepthStream(ob.Ticker()), Data: update}
}
