// Package store defines the persistence interface for the indexer.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and local runs).
//
// Entities are stored as JSON documents keyed by (kind, id). Handlers load,
// mutate and save whole entities, the same way a subgraph host does.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atmx/lending-indexer/internal/model"
)

// ErrNotFound is returned when no entity exists for a (kind, id) pair.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// Get returns the JSON document for kind/id, or ErrNotFound.
	Get(ctx context.Context, kind, id string) ([]byte, error)

	// Put upserts the JSON document for kind/id.
	Put(ctx context.Context, kind, id string, data []byte) error

	// List returns every document of a kind, ordered by id.
	List(ctx context.Context, kind string) ([][]byte, error)
}

// Cursors persists ingest progress. MemoryStore and PostgresStore both
// implement it.
type Cursors interface {
	Cursor(ctx context.Context, source string) (block uint64, ok bool, err error)
	SetCursor(ctx context.Context, source string, block uint64) error
}

// Load reads one entity of type T. The pointer constraint lets callers
// write store.Load[model.Market](ctx, st, id) and get a *model.Market back.
func Load[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, s Store, id string) (P, error) {
	var zero T
	kind := P(&zero).EntityKind()

	data, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	v := P(new(T))
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return v, nil
}

// Save upserts an entity under its own kind and id.
func Save(ctx context.Context, s Store, e model.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	if err := s.Put(ctx, e.EntityKind(), e.EntityID(), data); err != nil {
		return fmt.Errorf("save %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	return nil
}

// Exists reports whether an entity of type T with the given id is stored.
func Exists[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, s Store, id string) (bool, error) {
	var zero T
	_, err := s.Get(ctx, P(&zero).EntityKind(), id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// All returns every stored entity of type T.
func All[T any, P interface {
	*T
	model.Entity
}](ctx context.Context, s Store) ([]T, error) {
	var zero T
	kind := P(&zero).EntityKind()

	docs, err := s.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, data := range docs {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		out = append(out, v)
	}
	return out, nil
}
