package engine

import (
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

type MatchResult struct {
	ExecutedQty decimal.Decimal
	Fills       []Fill
	Resting     bool // remainder was added to the book
}

// Submit matches order against the opposite side and rests what is left.
// The fill price is always the resting order's price.
func (ob *OrderBook) Submit(order *Order) (*MatchResult, error) {
	if !order.Side.Valid() || !order.Price.IsPositive() || !order.Quantity.IsPositive() {
		return nil, fmt.Errorf("submit %s: %w", order.ID, ErrInvalidOrder)
	}
	if _, exists := ob.orders[order.ID]; exists {
		return nil, fmt.Errorf("submit %s: %w", order.ID, ErrDuplicateOrder)
	}

	result := &MatchResult{
		ExecutedQty: decimal.Zero,
		Fills:       make([]Fill, 0),
	}

	opposite := ob.sideOf(order.Side.Opposite())
	for _, resting := range opposite.candidates(order.Price, order.Remaining(), ob.policy) {
		remaining := order.Remaining()
		if !remaining.IsPositive() {
			break
		}
		qty := decimal.Min(resting.Remaining(), remaining)
		if !qty.IsPositive() {
			continue
		}

		resting.Fill(qty)
		order.Fill(qty)
		opposite.reduce(resting, qty)

		result.Fills = append(result.Fills, Fill{
			Price:        resting.Price,
			Qty:          qty,
			TradeID:      ob.lastTradeID,
			MakerUserID:  resting.UserID,
			MakerOrderID: resting.ID,
		})
		ob.lastTradeID++
		ob.lastTradePrice = resting.Price
		result.ExecutedQty = result.ExecutedQty.Add(qty)

		if resting.IsFilled() {
			opposite.remove(resting)
			delete(ob.orders, resting.ID)
		}
	}

	if !order.IsFilled() {
		ob.orders[order.ID] = order
		ob.sideOf(order.Side).add(order)
		result.Resting = true
	}
	return result, nil
}

// candidates returns the resting orders that cross limit, in the order they
// are consumed under policy. Collection stops once need is covered.
func (s *bookSide) candidates(limit, need decimal.Decimal, policy MatchPolicy) []*Order {
	out := make([]*Order, 0)
	covered := decimal.Zero

	if policy == PolicyPriceTime {
		s.levels.Ascend(func(item btree.Item) bool {
			level := item.(levelItem).priceLevel()
			if len(level.Orders) == 0 || !level.Orders[0].crosses(limit) {
				return false
			}
			for _, o := range level.Orders {
				out = append(out, o)
				covered = covered.Add(o.Remaining())
				if covered.GreaterThanOrEqual(need) {
					return false
				}
			}
			return true
		})
		return out
	}

	for _, o := range s.orders {
		if !o.crosses(limit) {
			continue
		}
		out = append(out, o)
		covered = covered.Add(o.Remaining())
		if covered.GreaterThanOrEqual(need) {
			break
		}
	}
	return out
}
