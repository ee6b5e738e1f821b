package offlinequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/kvstore"
)

// Key is the durable key holding the serialized queue
const Key = "unsavedProducts"

// Entry is one write made while disconnected
type Entry struct {
	Seq      int64           `json:"seq"`
	Product  catalog.Product `json:"product"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// Queue is a durable FIFO of unsent writes. There is no per-entry removal:
// callers read everything with DrainAll and write back what is left.
type Queue struct {
	kv kvstore.Store
	mu sync.Mutex
}

// New creates a queue backed by kv
func New(kv kvstore.Store) *Queue {
	return &Queue{kv: kv}
}

func (q *Queue) read(ctx context.Context) ([]Entry, error) {
	data, ok, err := q.kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("failed to read offline queue: %w", err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode offline queue: %w", err)
	}
	return entries, nil
}

func (q *Queue) write(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return q.kv.Remove(ctx, Key)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode offline queue: %w", err)
	}
	if err := q.kv.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("failed to persist offline queue: %w", err)
	}
	return nil
}

// Enqueue appends p durably and returns its entry
func (q *Queue) Enqueue(ctx context.Context, p catalog.Product) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.read(ctx)
	if err != nil {
		return Entry{}, err
	}

	var seq int64 = 1
	if n := len(entries); n > 0 {
		seq = entries[n-1].Seq + 1
	}
	e := Entry{Seq: seq, Product: p, QueuedAt: time.Now().UTC()}

	if err := q.write(ctx, append(entries, e)); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// DrainAll returns every queued entry in enqueue order without removing them
func (q *Queue) DrainAll(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.read(ctx)
}

// Replace writes back entries as the whole queue. An empty slice clears it.
func (q *Queue) Replace(ctx context.Context, entries []Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.write(ctx, entries)
}

// WriteBack settles a replay of every entry up to and including seq through.
// The queue becomes failed followed by whatever was enqueued after through.
func (q *Queue) WriteBack(ctx context.Context, through int64, failed []Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.read(ctx)
	if err != nil {
		return err
	}
	kept := append([]Entry(nil), failed...)
	for _, e := range entries {
		if e.Seq > through {
			kept = append(kept, e)
		}
	}
	return q.write(ctx, kept)
}

// Clear removes every entry
func (q *Queue) Clear(ctx context.Context) error {
	return q.Replace(ctx, nil)
}
