package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis cache.
// Writes go to the primary store and then refresh the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) Put(ctx context.Context, kind, id string, data []byte) error {
	if err := s.primary.Put(ctx, kind, id, data); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, entityKey(kind, id), data, s.ttl).Err(); err != nil {
		// Drop the stale entry so the next read goes to the primary.
		s.rdb.Del(ctx, entityKey(kind, id))
		slog.Debug("cache set failed", "kind", kind, "id", id, "err", err)
	}
	return nil
}

// PutBatch writes docs to the primary, as one unit when it supports
// batches, then refreshes the cache.
func (s *CachedStore) PutBatch(ctx context.Context, docs []Doc) error {
	if b, ok := s.primary.(Batcher); ok {
		if err := b.PutBatch(ctx, docs); err != nil {
			return err
		}
	} else {
		for _, d := range docs {
			if err := s.primary.Put(ctx, d.Kind, d.ID, d.Data); err != nil {
				return err
			}
		}
	}
	pipe := s.rdb.Pipeline()
	for _, d := range docs {
		pipe.Set(ctx, entityKey(d.Kind, d.ID), d.Data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		for _, d := range docs {
			s.rdb.Del(ctx, entityKey(d.Kind, d.ID))
		}
		slog.Debug("cache batch set failed", "docs", len(docs), "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, entityKey(kind, id)).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		slog.Debug("cache get failed", "kind", kind, "id", id, "err", err)
	}

	// Cache miss: read from primary.
	data, err = s.primary.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	s.rdb.Set(ctx, entityKey(kind, id), data, s.ttl)
	return data, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) List(ctx context.Context, kind string) ([][]byte, error) {
	return s.primary.List(ctx, kind)
}

// Cursor and SetCursor pass through when the primary supports them.
func (s *CachedStore) Cursor(ctx context.Context, source string) (uint64, bool, error) {
	c, ok := s.primary.(Cursors)
	if !ok {
		return 0, false, nil
	}
	return c.Cursor(ctx, source)
}

func (s *CachedStore) SetCursor(ctx context.Context, source string, block uint64) error {
	c, ok := s.primary.(Cursors)
	if !ok {
		return nil
	}
	return c.SetCursor(ctx, source, block)
}

func entityKey(kind, id string) string { return fmt.Sprintf("entity:%s:%s", kind, id) }
