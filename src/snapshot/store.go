package snapshot

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("snapshot not found")

// Store keeps the latest snapshot blob. Each Save replaces the previous one.
type Store interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	// SetAside moves the current blob to a name derived from suffix and
	// reports where it went. ErrNotFound if there is nothing to move.
	SetAside(ctx context.Context, suffix string) (string, error)
	Close() error
}

const (
	BackendFile   = "file"
	BackendPebble = "pebble"
)

// Open returns the store for backend rooted at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path), nil
	case BackendPebble:
		return OpenPebbleStore(path)
	}
	return nil, fmt.Errorf("unknown snapshot backend %q", backend)
}
