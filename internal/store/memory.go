package store

import (
	"context"
	"strconv"
	"sync"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/syncx"
)

// Memory is an in-process Store. A single mutex covers the whole map, which makes
// the version check and the write one critical section.
type Memory struct {
	mu      sync.RWMutex
	records map[string]catalog.Product
	order   []string
	lastID  int64
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{records: make(map[string]catalog.Product)}
}

func (m *Memory) List(_ context.Context, ownerID string) ([]catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]catalog.Product, 0, len(m.order))
	for _, id := range m.order {
		if p := m.records[id]; p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.records[id]
	if !ok {
		return catalog.Product{}, catalog.Errorf(catalog.KindNotFound, "product with id %s not found", id)
	}
	return p, nil
}

func (m *Memory) Create(_ context.Context, ownerID string, p catalog.Product) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	p.ID = strconv.FormatInt(m.lastID, 10)
	p.OwnerID = ownerID
	p.Version = 1
	p.UpdatedAt = syncx.FromMs(syncx.NowMs())

	m.records[p.ID] = p
	m.order = append(m.order, p.ID)
	return p, nil
}

func (m *Memory) Update(_ context.Context, ownerID string, p catalog.Product, declared int) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[p.ID]
	if !ok {
		return catalog.Product{}, catalog.Errorf(catalog.KindNotFound, "product with id %s not found", p.ID)
	}
	if err := checkUpdate(current, ownerID, declared); err != nil {
		return catalog.Product{}, err
	}

	p.OwnerID = current.OwnerID
	p.Version = current.Version + 1
	p.UpdatedAt = syncx.FromMs(syncx.EnsureMonotonicTimestamp(current.UpdatedAt.UnixMilli()))
	m.records[p.ID] = p
	return p, nil
}

func (m *Memory) Delete(_ context.Context, ownerID, id string) (catalog.Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[id]
	if !ok {
		return catalog.Product{}, false, nil
	}
	if current.OwnerID != ownerID {
		return catalog.Product{}, false, catalog.Errorf(catalog.KindForbidden, "product %s belongs to another owner", id)
	}

	delete(m.records, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return current, true, nil
}
