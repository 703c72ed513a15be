package engine

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func submit(t *testing.T, ob *OrderBook, id, user string, side Side, price, qty string) *MatchResult {
	t.Helper()
	result, err := ob.Submit(NewOrder(id, user, side, dec(price), dec(qty)))
	if err != nil {
		t.Fatalf("Submit %s: unexpected error: %v", id, err)
	}
	return result
}

// TestOrderBookRestsUnmatchedOrders checks that non-crossing orders rest on their side
func TestOrderBookRestsUnmatchedOrders(t *testing.T) {
	ob := NewOrderBook("BTC", "", PolicyBookOrder)
	if ob.Ticker() != "BTC_USDC" {
		t.Fatalf("Expected ticker BTC_USDC, got: %s", ob.Ticker())
	}

	r1 := submit(t, ob, "b1", "A", SideBuy, "100", "2")
	r2 := submit(t, ob, "s1", "B", SideSell, "101", "1")

	if !r1.Resting || !r2.Resting {
		t.Fatal("Both orders should rest")
	}
	if len(r1.Fills)+len(r2.Fills) != 0 {
		t.Fatalf("Expected no fills, got: %d", len(r1.Fills)+len(r2.Fills))
	}
	if ob.RestingCount() != 2 {
		t.Errorf("Expected 2 resting orders, got: %d", ob.RestingCount())
	}

	depth := ob.Depth()
	if len(depth.Bids) != 1 || !depth.Bids[0].Quantity.Equal(dec("2")) {
		t.Errorf("Expected one bid level of 2, got: %+v", depth.Bids)
	}
	if len(depth.Asks) != 1 || !depth.Asks[0].Price.Equal(dec("101")) {
		t.Errorf("Expected one ask level at 101, got: %+v", depth.Asks)
	}
}

// TestOrderBookPartialFillAgainstRestingBid is the sell-into-bid case:
// the bid stays with filled=1 and the fill is priced at the bid
func TestOrderBookPartialFillAgainstRestingBid(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "b1", "A", SideBuy, "100", "2")

	result := submit(t, ob, "s1", "B", SideSell, "99", "1")

	if !result.ExecutedQty.Equal(dec("1")) {
		t.Fatalf("Expected executed 1, got: %s", result.ExecutedQty)
	}
	if result.Resting {
		t.Error("Fully filled sell should not rest")
	}
	if len(result.Fills) != 1 {
		t.Fatalf("Expected 1 fill, got: %d", len(result.Fills))
	}
	fill := result.Fills[0]
	if !fill.Price.Equal(dec("100")) || !fill.Qty.Equal(dec("1")) {
		t.Errorf("Expected fill 1 @ 100, got: %s @ %s", fill.Qty, fill.Price)
	}
	if fill.MakerUserID != "A" || fill.MakerOrderID != "b1" {
		t.Errorf("Unexpected maker: %s/%s", fill.MakerUserID, fill.MakerOrderID)
	}

	bid, ok := ob.Order("b1")
	if !ok {
		t.Fatal("Bid should still rest")
	}
	if !bid.Filled.Equal(dec("1")) || !bid.Remaining().Equal(dec("1")) {
		t.Errorf("Expected filled 1 remaining 1, got: %s/%s", bid.Filled, bid.Remaining())
	}
	if !ob.LastTradePrice().Equal(dec("100")) {
		t.Errorf("Expected last trade price 100, got: %s", ob.LastTradePrice())
	}
}

// TestOrderBookFillUsesRemainingQuantity makes sure a partially filled maker
// only gives up what is left of it
func TestOrderBookFillUsesRemainingQuantity(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "s1", "B", SideSell, "100", "2")
	submit(t, ob, "b1", "A", SideBuy, "100", "1")

	result := submit(t, ob, "b2", "A", SideBuy, "100", "5")

	if !result.ExecutedQty.Equal(dec("1")) {
		t.Fatalf("Expected executed 1, got: %s", result.ExecutedQty)
	}
	if _, ok := ob.Order("s1"); ok {
		t.Error("Fully filled ask should be removed")
	}
	rest, ok := ob.Order("b2")
	if !ok || !rest.Remaining().Equal(dec("4")) {
		t.Errorf("Expected b2 resting with 4 remaining, got: %+v", rest)
	}
}

// TestOrderBookNeverMatchesNonCrossing checks both crossing rules
func TestOrderBookNeverMatchesNonCrossing(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "s1", "B", SideSell, "101", "1")
	submit(t, ob, "b1", "A", SideBuy, "99", "1")

	if r := submit(t, ob, "b2", "A", SideBuy, "100.99", "1"); len(r.Fills) != 0 {
		t.Errorf("Buy below best ask must not match, got %d fills", len(r.Fills))
	}
	if r := submit(t, ob, "s2", "B", SideSell, "99.01", "1"); len(r.Fills) != 0 {
		t.Errorf("Sell above best bid must not match, got %d fills", len(r.Fills))
	}
}

// TestOrderBookBookOrderScan reproduces matching in storage order:
// the first crossing ask stored wins even when a better one exists
func TestOrderBookBookOrderScan(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "s1", "B", SideSell, "105", "1")
	submit(t, ob, "s2", "C", SideSell, "100", "1")

	result := submit(t, ob, "b1", "A", SideBuy, "105", "1")

	if len(result.Fills) != 1 {
		t.Fatalf("Expected 1 fill, got: %d", len(result.Fills))
	}
	if result.Fills[0].MakerOrderID != "s1" || !result.Fills[0].Price.Equal(dec("105")) {
		t.Errorf("Expected fill against s1 @ 105, got: %s @ %s", result.Fills[0].MakerOrderID, result.Fills[0].Price)
	}
}

// TestOrderBookPriceTimePriority takes the best level first, FIFO inside it
func TestOrderBookPriceTimePriority(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyPriceTime)
	submit(t, ob, "s1", "B", SideSell, "105", "1")
	submit(t, ob, "s2", "C", SideSell, "100", "1")
	submit(t, ob, "s3", "D", SideSell, "100", "1")

	result := submit(t, ob, "b1", "A", SideBuy, "105", "2.5")

	if len(result.Fills) != 3 {
		t.Fatalf("Expected 3 fills, got: %d", len(result.Fills))
	}
	want := []string{"s2", "s3", "s1"}
	for i, id := range want {
		if result.Fills[i].MakerOrderID != id {
			t.Errorf("Fill %d: expected maker %s, got: %s", i, id, result.Fills[i].MakerOrderID)
		}
	}
	if !result.Fills[2].Qty.Equal(dec("0.5")) {
		t.Errorf("Expected last fill 0.5, got: %s", result.Fills[2].Qty)
	}
	if len(ob.Depth().Asks) != 1 || !ob.DepthAt(SideSell, dec("105")).Equal(dec("0.5")) {
		t.Errorf("Expected 0.5 left at 105, got: %+v", ob.Depth().Asks)
	}
}

// TestOrderBookTradeIDsIncrease checks the per-book sequence (post-increment, from 0)
func TestOrderBookTradeIDsIncrease(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "s1", "B", SideSell, "100", "1")
	submit(t, ob, "s2", "B", SideSell, "101", "1")
	submit(t, ob, "s3", "B", SideSell, "102", "1")

	result := submit(t, ob, "b1", "A", SideBuy, "102", "3")
	for i, f := range result.Fills {
		if f.TradeID != uint64(i) {
			t.Errorf("Fill %d: expected trade id %d, got: %d", i, i, f.TradeID)
		}
	}
	if ob.LastTradeID() != 3 {
		t.Errorf("Expected next trade id 3, got: %d", ob.LastTradeID())
	}

	submit(t, ob, "s4", "B", SideSell, "100", "1")
	next := submit(t, ob, "b2", "A", SideBuy, "100", "1")
	if len(next.Fills) != 1 || next.Fills[0].TradeID != 3 {
		t.Errorf("Expected trade id 3 on the next fill, got: %+v", next.Fills)
	}
}

// TestOrderBookCancel removes from either side and reports unknown ids
func TestOrderBookCancel(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "b1", "A", SideBuy, "100", "1")
	submit(t, ob, "s1", "B", SideSell, "110", "1")

	cancelled, err := ob.Cancel("s1")
	if err != nil {
		t.Fatalf("Cancel s1: %v", err)
	}
	if !cancelled.Price.Equal(dec("110")) {
		t.Errorf("Expected cancelled price 110, got: %s", cancelled.Price)
	}
	if len(ob.Depth().Asks) != 0 {
		t.Error("Ask level should disappear after cancel")
	}

	_, err = ob.Cancel("s1")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got: %v", err)
	}
	if ob.RestingCount() != 1 {
		t.Errorf("Expected 1 resting order, got: %d", ob.RestingCount())
	}
}

// TestOrderBookDepthTracksUnfilledQuantity aggregates remaining quantity per level
func TestOrderBookDepthTracksUnfilledQuantity(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "b1", "A", SideBuy, "100", "2")
	submit(t, ob, "b2", "C", SideBuy, "100", "3")
	submit(t, ob, "b3", "C", SideBuy, "98", "1")

	submit(t, ob, "s1", "B", SideSell, "100", "2.5")

	depth := ob.Depth()
	if len(depth.Bids) != 2 {
		t.Fatalf("Expected 2 bid levels, got: %+v", depth.Bids)
	}
	if !depth.Bids[0].Price.Equal(dec("100")) || !depth.Bids[0].Quantity.Equal(dec("2.5")) {
		t.Errorf("Expected 2.5 at 100, got: %s at %s", depth.Bids[0].Quantity, depth.Bids[0].Price)
	}
	if !depth.Bids[1].Price.Equal(dec("98")) {
		t.Errorf("Expected second level at 98, got: %s", depth.Bids[1].Price)
	}

	submit(t, ob, "s2", "B", SideSell, "100", "2.5")
	if !ob.DepthAt(SideBuy, dec("100")).IsZero() {
		t.Errorf("Level 100 should be empty, got: %s", ob.DepthAt(SideBuy, dec("100")))
	}
	if got := ob.Depth().Bids; len(got) != 1 || !got[0].Price.Equal(dec("98")) {
		t.Errorf("Only the 98 level should remain, got: %+v", got)
	}
}

// TestOrderBookOpenOrders lists a user's orders, asks before bids
func TestOrderBookOpenOrders(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "b1", "A", SideBuy, "90", "1")
	submit(t, ob, "s1", "A", SideSell, "120", "1")
	submit(t, ob, "b2", "B", SideBuy, "95", "1")

	orders := ob.OpenOrders("A")
	if len(orders) != 2 {
		t.Fatalf("Expected 2 open orders, got: %d", len(orders))
	}
	if orders[0].ID != "s1" || orders[1].ID != "b1" {
		t.Errorf("Expected [s1 b1], got: [%s %s]", orders[0].ID, orders[1].ID)
	}
	if len(ob.OpenOrders("nobody")) != 0 {
		t.Error("Unknown user should have no open orders")
	}
}

// TestOrderBookSubmitRejectsInvalidOrders covers duplicate ids and bad values
func TestOrderBookSubmitRejectsInvalidOrders(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "b1", "A", SideBuy, "90", "1")

	if _, err := ob.Submit(NewOrder("b1", "A", SideBuy, dec("91"), dec("1"))); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("Expected ErrDuplicateOrder, got: %v", err)
	}
	if _, err := ob.Submit(NewOrder("b2", "A", SideBuy, dec("0"), dec("1"))); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("Expected ErrInvalidOrder for zero price, got: %v", err)
	}
	if _, err := ob.Submit(NewOrder("b3", "A", Side("hold"), dec("1"), dec("1"))); !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("Expected ErrInvalidOrder for bad side, got: %v", err)
	}
}

// TestOrderBookSnapshotRestore keeps book order, trade counter and depth
func TestOrderBookSnapshotRestore(t *testing.T) {
	ob := NewOrderBook("BTC", "USDC", PolicyBookOrder)
	submit(t, ob, "s1", "B", SideSell, "105", "1")
	submit(t, ob, "s2", "B", SideSell, "100", "2")
	submit(t, ob, "b1", "A", SideBuy, "100", "1")
	submit(t, ob, "b2", "A", SideBuy, "95", "1")

	restored, err := RestoreOrderBook(ob.Snapshot(), PolicyBookOrder)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.LastTradeID() != ob.LastTradeID() {
		t.Errorf("Expected last trade id %d, got: %d", ob.LastTradeID(), restored.LastTradeID())
	}
	if !restored.LastTradePrice().Equal(ob.LastTradePrice()) {
		t.Errorf("Expected last trade price %s, got: %s", ob.LastTradePrice(), restored.LastTradePrice())
	}

	snap := restored.Snapshot()
	if len(snap.Asks) != 2 || snap.Asks[0].ID != "s1" || snap.Asks[1].ID != "s2" {
		t.Errorf("Ask storage order lost: %+v", snap.Asks)
	}
	if !restored.DepthAt(SideSell, dec("100")).Equal(dec("1")) {
		t.Errorf("Expected 1 left at 100, got: %s", restored.DepthAt(SideSell, dec("100")))
	}

	// restored books keep matching where the original left off
	result := submit(t, restored, "b3", "A", SideBuy, "105", "1")
	if len(result.Fills) != 1 || result.Fills[0].TradeID != ob.LastTradeID() {
		t.Errorf("Expected continuing trade id %d, got: %+v", ob.LastTradeID(), result.Fills)
	}
}

// TestRestoreOrderBookRejectsInvalidState guards against corrupt snapshots
func TestRestoreOrderBookRejectsInvalidState(t *testing.T) {
	good := Order{ID: "b1", UserID: "A", Side: SideBuy, Price: dec("1"), Quantity: dec("2"), Filled: dec("0")}

	cases := map[string]BookSnapshot{
		"no base":        {Bids: []Order{good}},
		"wrong side":     {BaseAsset: "BTC", Asks: []Order{good}},
		"overfilled":     {BaseAsset: "BTC", Bids: []Order{{ID: "b2", UserID: "A", Side: SideBuy, Price: dec("1"), Quantity: dec("1"), Filled: dec("1")}}},
		"duplicate id":   {BaseAsset: "BTC", Bids: []Order{good, good}},
		"zero quantity":  {BaseAsset: "BTC", Bids: []Order{{ID: "b3", UserID: "A", Side: SideBuy, Price: dec("1"), Quantity: dec("0")}}},
	}
	for name, snap := range cases {
		if _, err := RestoreOrderBook(snap, PolicyBookOrder); err == nil {
			t.Errorf("%s: expected restore error", name)
		}
	}
}
