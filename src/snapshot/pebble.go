package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var snapshotKey = []byte("engine/snapshot")

// PebbleStore keeps the snapshot under one key of a Pebble database.
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Set(snapshotKey, data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (s *PebbleStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, closer, err := s.db.Get(snapshotKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	// val is only valid until closer is closed
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// SetAside copies the blob to snapshotKey.suffix and deletes the live key in
// one synced batch.
func (s *PebbleStore) SetAside(ctx context.Context, suffix string) (string, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	dst := string(snapshotKey) + "." + suffix
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(dst), data, nil); err != nil {
		return "", fmt.Errorf("pebble set aside: %w", err)
	}
	if err := b.Delete(snapshotKey, nil); err != nil {
		return "", fmt.Errorf("pebble set aside: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("pebble set aside: %w", err)
	}
	return dst, nil
}

// Get reads an arbitrary key, used to inspect set-aside snapshots.
func (s *PebbleStore) Get(key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }
