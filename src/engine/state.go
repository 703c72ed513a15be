package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"spot-engine/src/ledger"
)

// State is the full persisted engine state.
type State struct {
	Balances   []ledger.Entry `json:"balances"`
	Orderbooks []BookSnapshot `json:"orderbooks"`
	OnRamps    []string       `json:"onRamps"`
}

func (e *Engine) Snapshot() State {
	books := make([]BookSnapshot, 0, len(e.books))
	for _, ob := range e.books {
		books = append(books, ob.Snapshot())
	}
	txns := make([]string, 0, len(e.onRamps))
	for id := range e.onRamps {
		txns = append(txns, id)
	}
	sort.Strings(txns)
	return State{
		Balances:   e.ledger.Snapshot(),
		Orderbooks: books,
		OnRamps:    txns,
	}
}

// Restore rebuilds an engine from state. Markets configured in opts but
// missing from state get an empty book. The result is audited so a snapshot
// whose locked balances disagree with its resting orders is rejected.
func Restore(state State, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	l, err := ledger.Restore(state.Balances)
	if err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	e := newEngine(l, opts)
	for _, snap := range state.Orderbooks {
		ob, err := RestoreOrderBook(snap, opts.Policy)
		if err != nil {
			return nil, err
		}
		if _, dup := e.byTicker[ob.Ticker()]; dup {
			return nil, fmt.Errorf("restore: book %s appears twice", ob.Ticker())
		}
		e.addBook(ob)
	}
	for _, base := range opts.Markets {
		e.addBook(NewOrderBook(base, opts.QuoteAsset, opts.Policy))
	}
	for _, id := range state.OnRamps {
		e.onRamps[id] = struct{}{}
	}
	if err := e.Audit(); err != nil {
		return nil, err
	}
	return e, nil
}

// Audit checks that every user's locked balance equals what their resting
// orders reserve: remaining*price of quote for bids, remaining base for asks.
func (e *Engine) Audit() error {
	expected := make(map[string]map[string]decimal.Decimal)
	add := func(user, asset string, amount decimal.Decimal) {
		if expected[user] == nil {
			expected[user] = make(map[string]decimal.Decimal)
		}
		expected[user][asset] = expected[user][asset].Add(amount)
	}
	for _, ob := range e.books {
		for _, side := range []*bookSide{ob.bids, ob.asks} {
			for _, o := range side.orders {
				asset, amount := ob.reservation(o.Side, o.Price, o.Remaining())
				add(o.UserID, asset, amount)
			}
		}
	}

	for _, user := range e.ledger.Users() {
		for asset, b := range e.ledger.Balances(user) {
			want := expected[user][asset]
			if !b.Locked.Equal(want) {
				return fmt.Errorf("user %s %s locked %s, resting orders reserve %s: %w",
					user, asset, b.Locked, want, ErrStateMismatch)
			}
			delete(expected[user], asset)
		}
	}
	for user, assets := range expected {
		for asset, amount := range assets {
			if amount.IsPositive() {
				return fmt.Errorf("user %s has resting %s orders but no balance: %w", user, asset, ErrStateMismatch)
			}
		}
	}
	return nil
}

// RestingOrders counts resting orders per ticker.
func (e *Engine) RestingOrders() map[string]int {
	out := make(map[string]int, len(e.books))
	for _, ob := range e.books {
		out[ob.Ticker()] = ob.RestingCount()
	}
	return out
}
