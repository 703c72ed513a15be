package ledger

import (
	"encoding/json"
	"fmt"
)

// Entry is one user's balances in snapshot form.
type Entry struct {
	UserID   string
	Balances map[string]Balance
}

// Snapshot copies the ledger into entries ordered by user id.
func (l *Ledger) Snapshot() []Entry {
	users := l.Users()
	entries := make([]Entry, 0, len(users))
	for _, id := range users {
		entries = append(entries, Entry{UserID: id, Balances: l.Balances(id)})
	}
	return entries
}

// Restore builds a ledger from snapshot entries.
func Restore(entries []Entry) (*Ledger, error) {
	l := New()
	for _, e := range entries {
		for asset, b := range e.Balances {
			if b.Available.IsNegative() || b.Locked.IsNegative() {
				return nil, fmt.Errorf("user %s asset %s: %w", e.UserID, asset, ErrNegativeBalance)
			}
			entry := l.entry(e.UserID, asset)
			entry.Available = b.Available
			entry.Locked = b.Locked
		}
		if _, ok := l.users[e.UserID]; !ok {
			l.users[e.UserID] = make(map[string]*Balance)
		}
	}
	return l, nil
}

// MarshalJSON encodes an entry as a [userId, balances] pair.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.UserID, e.Balances})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("ledger entry: want [userId, balances], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.UserID); err != nil {
		return fmt.Errorf("ledger entry user: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Balances); err != nil {
		return fmt.Errorf("ledger entry %s balances: %w", e.UserID, err)
	}
	return nil
}
