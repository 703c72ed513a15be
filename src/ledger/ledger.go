package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientLocked = errors.New("insufficient locked funds")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrNegativeBalance    = errors.New("negative balance in ledger state")
)

// InsufficientFundsError reports a reservation that would overdraw available funds.
type InsufficientFundsError struct {
	UserID    string
	Asset     string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: user %s needs %s %s, has %s available",
		e.UserID, e.Requested.String(), e.Asset, e.Available.String())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Balance is one asset position of one user.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Total is available plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// Ledger maps userId -> asset -> balance. It is not safe for concurrent use;
// the engine worker is its only owner.
type Ledger struct {
	users map[string]map[string]*Balance
}

func New() *Ledger {
	return &Ledger{users: make(map[string]map[string]*Balance)}
}

func (l *Ledger) entry(userID, asset string) *Balance {
	assets, ok := l.users[userID]
	if !ok {
		assets = make(map[string]*Balance)
		l.users[userID] = assets
	}
	b, ok := assets[asset]
	if !ok {
		b = &Balance{}
		assets[asset] = b
	}
	return b
}

func (l *Ledger) lookup(userID, asset string) (*Balance, bool) {
	assets, ok := l.users[userID]
	if !ok {
		return nil, false
	}
	b, ok := assets[asset]
	return b, ok
}

// Reserve moves amount from available to locked.
func (l *Ledger) Reserve(userID, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	b, ok := l.lookup(userID, asset)
	if !ok || b.Available.LessThan(amount) {
		available := decimal.Zero
		if ok {
			available = b.Available
		}
		return &InsufficientFundsError{UserID: userID, Asset: asset, Requested: amount, Available: available}
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return nil
}

// Release moves amount from locked back to available.
func (l *Ledger) Release(userID, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	b, ok := l.lookup(userID, asset)
	if !ok || b.Locked.LessThan(amount) {
		return fmt.Errorf("release %s %s for user %s: %w", amount.String(), asset, userID, ErrInsufficientLocked)
	}
	b.Locked = b.Locked.Sub(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

// Settle transfers qty of base from seller to buyer and qty*price of quote
// from buyer to seller. Both sides are checked before anything moves.
func (l *Ledger) Settle(buyerID, sellerID, base, quote string, qty, price decimal.Decimal) error {
	if !qty.IsPositive() || price.IsNegative() {
		return ErrInvalidAmount
	}
	cost := qty.Mul(price)

	buyerQuote, ok := l.lookup(buyerID, quote)
	if !ok || buyerQuote.Locked.LessThan(cost) {
		return fmt.Errorf("settle: buyer %s locked %s below %s: %w", buyerID, quote, cost.String(), ErrInsufficientLocked)
	}
	sellerBase, ok := l.lookup(sellerID, base)
	if !ok || sellerBase.Locked.LessThan(qty) {
		return fmt.Errorf("settle: seller %s locked %s below %s: %w", sellerID, base, qty.String(), ErrInsufficientLocked)
	}

	buyerQuote.Locked = buyerQuote.Locked.Sub(cost)
	buyerBase := l.entry(buyerID, base)
	buyerBase.Available = buyerBase.Available.Add(qty)

	sellerBase.Locked = sellerBase.Locked.Sub(qty)
	sellerQuote := l.entry(sellerID, quote)
	sellerQuote.Available = sellerQuote.Available.Add(cost)
	return nil
}

// Deposit credits available funds, creating the entry when absent.
func (l *Ledger) Deposit(userID, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	b := l.entry(userID, asset)
	b.Available = b.Available.Add(amount)
	return nil
}

// Balance returns a copy of the user's position in asset (zero when unknown).
func (l *Ledger) Balance(userID, asset string) Balance {
	if b, ok := l.lookup(userID, asset); ok {
		return *b
	}
	return Balance{}
}

// Balances returns a copy of every asset position of the user.
func (l *Ledger) Balances(userID string) map[string]Balance {
	out := make(map[string]Balance, len(l.users[userID]))
	for asset, b := range l.users[userID] {
		out[asset] = *b
	}
	return out
}

// Users returns every known user id in sorted order.
func (l *Ledger) Users() []string {
	ids := make([]string, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TotalOf sums available+locked of asset across all users.
func (l *Ledger) TotalOf(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, assets := range l.users {
		if b, ok := assets[asset]; ok {
			total = total.Add(b.Total())
		}
	}
	return total
}
