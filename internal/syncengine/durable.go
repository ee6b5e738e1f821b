package syncengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/kvstore"
)

const (
	productKeyPrefix = "product:"
	indexKey         = "product:index"
)

// storedProduct is the field subset kept for offline display
type storedProduct struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Price    float64          `json:"price"`
	Quantity int              `json:"quantity"`
	Category catalog.Category `json:"category,omitempty"`
	Version  int              `json:"version,omitempty"`
}

func productKey(id string) string {
	return productKeyPrefix + id
}

// persistSnapshot writes one key per product plus the ordered id index.
// Keys of products missing from the new set are removed.
func persistSnapshot(ctx context.Context, kv kvstore.Store, products []catalog.Product) error {
	previous, err := readIndex(ctx, kv)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(products))
	seen := make(map[string]bool, len(products))
	for _, p := range products {
		if !p.Assigned() {
			continue
		}
		data, err := json.Marshal(storedProduct{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Quantity: p.Quantity,
			Category: p.Category,
			Version:  p.Version,
		})
		if err != nil {
			return fmt.Errorf("failed to encode product %s: %w", p.ID, err)
		}
		if err := kv.Set(ctx, productKey(p.ID), data); err != nil {
			return fmt.Errorf("failed to store product %s: %w", p.ID, err)
		}
		ids = append(ids, p.ID)
		seen[p.ID] = true
	}

	index, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode product index: %w", err)
	}
	if err := kv.Set(ctx, indexKey, index); err != nil {
		return fmt.Errorf("failed to store product index: %w", err)
	}

	for _, id := range previous {
		if !seen[id] {
			if err := kv.Remove(ctx, productKey(id)); err != nil {
				return fmt.Errorf("failed to remove product %s: %w", id, err)
			}
		}
	}
	return nil
}

func readIndex(ctx context.Context, kv kvstore.Store) ([]string, error) {
	data, ok, err := kv.Get(ctx, indexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read product index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode product index: %w", err)
	}
	return ids, nil
}

// restoreSnapshot reads the products written by persistSnapshot in their
// original order. Ids whose record has gone missing are skipped.
func restoreSnapshot(ctx context.Context, kv kvstore.Store) ([]catalog.Product, error) {
	ids, err := readIndex(ctx, kv)
	if err != nil {
		return nil, err
	}

	products := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		data, ok, err := kv.Get(ctx, productKey(id))
		if err != nil {
			return nil, fmt.Errorf("failed to read product %s: %w", id, err)
		}
		if !ok {
			continue
		}
		var sp storedProduct
		if err := json.Unmarshal(data, &sp); err != nil {
			return nil, fmt.Errorf("failed to decode product %s: %w", id, err)
		}
		products = append(products, catalog.Product{
			ID:       sp.ID,
			Name:     sp.Name,
			Price:    sp.Price,
			Quantity: sp.Quantity,
			Category: sp.Category,
			Version:  sp.Version,
		})
	}
	return products, nil
}
