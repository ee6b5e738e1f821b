package store

import (
	"context"

	"github.com/erauner12/productsync/internal/catalog"
)

// Store is the authoritative product record store.
// Implementations must make Update an atomic compare-and-set on the record version.
type Store interface {
	// List returns the owner's records in creation order
	List(ctx context.Context, ownerID string) ([]catalog.Product, error)

	// Get returns a record regardless of owner; callers enforce authorization.
	// Returns a KindNotFound error if the id is unknown.
	Get(ctx context.Context, id string) (catalog.Product, error)

	// Create assigns a fresh id, version 1 and a modification time
	Create(ctx context.Context, ownerID string, p catalog.Product) (catalog.Product, error)

	// Update replaces the client-controlled fields of p.ID.
	// declared is the version the client last observed; 0 skips the check.
	// Fails with NotFound, Forbidden (other owner) or VersionConflict (declared < stored).
	Update(ctx context.Context, ownerID string, p catalog.Product, declared int) (catalog.Product, error)

	// Delete removes the record. Returns false when it did not exist.
	Delete(ctx context.Context, ownerID, id string) (catalog.Product, bool, error)
}

// checkUpdate applies the optimistic concurrency rules to the stored record
func checkUpdate(current catalog.Product, ownerID string, declared int) error {
	if current.OwnerID != ownerID {
		return catalog.Errorf(catalog.KindForbidden, "product %s belongs to another owner", current.ID)
	}
	if declared > 0 && declared < current.Version {
		return catalog.Conflict(declared, current.Version)
	}
	return nil
}
