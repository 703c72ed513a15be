package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"spot-engine/src/engine"
)

// Document is the persisted blob: the engine state plus when it was taken.
type Document struct {
	engine.State
	SavedAt time.Time `json:"savedAt"`
}

func Encode(state engine.State, savedAt time.Time) ([]byte, error) {
	data, err := json.Marshal(Document{State: state, SavedAt: savedAt.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc, nil
}

// Save encodes state and writes it to store.
func Save(ctx context.Context, store Store, state engine.State, savedAt time.Time) error {
	data, err := Encode(state, savedAt)
	if err != nil {
		return err
	}
	return store.Save(ctx, data)
}

// Load reads and decodes the latest snapshot. ErrNotFound passes through.
func Load(ctx context.Context, store Store) (Document, error) {
	data, err := store.Load(ctx)
	if err != nil {
		return Document{}, err
	}
	return Decode(data)
}

// RestoreOrSeed rebuilds the engine from the latest snapshot. A missing,
// unreadable or inconsistent snapshot is logged and a seeded engine is
// returned instead; the zero time means nothing was restored. A snapshot
// that could not be used is set aside first so the next save cannot
// overwrite it.
func RestoreOrSeed(ctx context.Context, store Store, opts engine.Options) (*engine.Engine, time.Time) {
	doc, err := Load(ctx, store)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Info().Msg("No snapshot found, starting from seed state")
		} else {
			log.Error().Err(err).Msg("Snapshot unreadable, starting from seed state")
			setAside(ctx, store, "rejected")
		}
		return engine.New(opts), time.Time{}
	}

	e, err := engine.Restore(doc.State, opts)
	if err != nil {
		log.Error().Err(err).Time("saved_at", doc.SavedAt).Msg("Snapshot rejected, starting from seed state")
		setAside(ctx, store, "rejected")
		return engine.New(opts), time.Time{}
	}
	log.Info().
		Time("saved_at", doc.SavedAt).
		Int("users", len(doc.Balances)).
		Int("books", len(doc.Orderbooks)).
		Msg("Engine restored from snapshot")
	return e, doc.SavedAt
}

// Boot builds the engine the worker starts from. With restore off any
// existing snapshot is set aside rather than left for the first periodic
// save to overwrite.
func Boot(ctx context.Context, store Store, opts engine.Options, restore bool) (*engine.Engine, time.Time) {
	if restore {
		return RestoreOrSeed(ctx, store, opts)
	}
	setAside(ctx, store, "skipped")
	return engine.New(opts), time.Time{}
}

func setAside(ctx context.Context, store Store, reason string) {
	suffix := reason + "-" + time.Now().UTC().Format("20060102T150405.000Z")
	dst, err := store.SetAside(ctx, suffix)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		log.Error().Err(err).Str("reason", reason).Msg("Failed to set existing snapshot aside, the next save will overwrite it")
	default:
		log.Warn().Str("reason", reason).Str("moved_to", dst).Msg("Existing snapshot set aside, starting from seed state")
	}
}
