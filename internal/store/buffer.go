package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Doc is one staged write.
type Doc struct {
	Kind string
	ID   string
	Data []byte
}

// Batcher is implemented by stores that can apply several writes as one
// unit.
type Batcher interface {
	PutBatch(ctx context.Context, docs []Doc) error
}

// Buffer stages writes in memory on top of a primary Store until Commit.
// Reads see staged documents first. The ingest runner gives every handled
// log its own Buffer round so a failure half way through a handler leaves
// the primary untouched.
type Buffer struct {
	primary Store

	mu     sync.Mutex
	staged map[string]map[string][]byte
	order  []Doc
}

// NewBuffer creates an empty Buffer over primary.
func NewBuffer(primary Store) *Buffer {
	return &Buffer{primary: primary, staged: make(map[string]map[string][]byte)}
}

func (b *Buffer) Get(ctx context.Context, kind, id string) ([]byte, error) {
	b.mu.Lock()
	data, ok := b.staged[kind][id]
	b.mu.Unlock()
	if ok {
		return append([]byte(nil), data...), nil
	}
	return b.primary.Get(ctx, kind, id)
}

func (b *Buffer) Put(_ context.Context, kind, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	byID, ok := b.staged[kind]
	if !ok {
		byID = make(map[string][]byte)
		b.staged[kind] = byID
	}
	if _, seen := byID[id]; !seen {
		b.order = append(b.order, Doc{Kind: kind, ID: id})
	}
	byID[id] = append([]byte(nil), data...)
	return nil
}

// List merges staged documents into the primary's listing. Documents are
// matched on their "id" field.
func (b *Buffer) List(ctx context.Context, kind string) ([][]byte, error) {
	docs, err := b.primary.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	staged := b.staged[kind]
	if len(staged) == 0 {
		return docs, nil
	}

	byID := make(map[string][]byte, len(docs)+len(staged))
	for _, data := range docs {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		byID[head.ID] = data
	}
	for id, data := range staged {
		byID[id] = append([]byte(nil), data...)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out, nil
}

// Pending returns the number of staged documents.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Commit writes the staged documents to the primary, in first-write order,
// and clears the buffer. A primary that implements Batcher applies them
// atomically. On error the staged documents are kept.
func (b *Buffer) Commit(ctx context.Context) error {
	b.mu.Lock()
	docs := make([]Doc, 0, len(b.order))
	for _, d := range b.order {
		docs = append(docs, Doc{Kind: d.Kind, ID: d.ID, Data: b.staged[d.Kind][d.ID]})
	}
	b.mu.Unlock()
	if len(docs) == 0 {
		return nil
	}

	if batcher, ok := b.primary.(Batcher); ok {
		if err := batcher.PutBatch(ctx, docs); err != nil {
			return fmt.Errorf("commit %d documents: %w", len(docs), err)
		}
	} else {
		for _, d := range docs {
			if err := b.primary.Put(ctx, d.Kind, d.ID, d.Data); err != nil {
				return fmt.Errorf("commit %s %s: %w", d.Kind, d.ID, err)
			}
		}
	}
	b.Discard()
	return nil
}

// Discard drops every staged document.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staged = make(map[string]map[string][]byte)
	b.order = nil
}
