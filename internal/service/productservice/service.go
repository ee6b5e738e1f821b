package productservice

import (
	"context"
	"sync"
	"time"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/livefeed"
	"github.com/erauner12/productsync/internal/store"
	"github.com/rs/zerolog/log"
)

// Notifier receives record events after a successful mutation.
// Both *livefeed.Hub and *livefeed.RedisRelay satisfy it.
type Notifier interface {
	Publish(ownerID string, ev livefeed.Event, exclude string)
}

// Service encapsulates the business rules for product records: validation,
// ownership and the live broadcast that follows every accepted write.
type Service struct {
	Store    store.Store
	Notifier Notifier

	started time.Time
	mu      sync.Mutex
	touched map[string]time.Time // last accepted write per owner, deletes included
}

// NewService creates a new Service. A nil notifier disables broadcasting.
func NewService(st store.Store, n Notifier) *Service {
	return &Service{Store: st, Notifier: n, started: time.Now()}
}

// LastModified returns when the owner's collection last changed as seen by
// this instance: the newest updatedAt in products, the last accepted write
// or the service start, whichever is latest. Writes made through other
// instances are not seen.
func (s *Service) LastModified(ownerID string, products []catalog.Product) time.Time {
	s.mu.Lock()
	last := s.started
	if t := s.touched[ownerID]; t.After(last) {
		last = t
	}
	s.mu.Unlock()

	for _, p := range products {
		if p.UpdatedAt.After(last) {
			last = p.UpdatedAt
		}
	}
	return last
}

func (s *Service) touch(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touched == nil {
		s.touched = make(map[string]time.Time)
	}
	s.touched[ownerID] = time.Now()
}

// List returns the owner's products
func (s *Service) List(ctx context.Context, ownerID string) ([]catalog.Product, error) {
	return s.Store.List(ctx, ownerID)
}

// Get returns a single product owned by ownerID
func (s *Service) Get(ctx context.Context, ownerID, id string) (catalog.Product, error) {
	p, err := s.Store.Get(ctx, id)
	if err != nil {
		return catalog.Product{}, err
	}
	if p.OwnerID != ownerID {
		return catalog.Product{}, catalog.Errorf(catalog.KindForbidden, "product %s belongs to another owner", id)
	}
	return p, nil
}

// Create validates p, stores it with a fresh id and version 1, and broadcasts
// a created event to the owner's other live connections.
// origin is the live client id of the caller, excluded from the broadcast.
func (s *Service) Create(ctx context.Context, ownerID string, p catalog.Product, origin string) (catalog.Product, error) {
	logger := log.Ctx(ctx)

	if err := p.Validate(); err != nil {
		return catalog.Product{}, err
	}

	created, err := s.Store.Create(ctx, ownerID, p)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create product")
		return catalog.Product{}, err
	}

	s.touch(ownerID)
	logger.Info().Str("productId", created.ID).Msg("product created")
	s.notify(ownerID, livefeed.FrameCreated, created, origin)
	return created, nil
}

// Update validates p and applies it if declared is not older than the stored
// version. On success the version is incremented and an updated event is broadcast.
func (s *Service) Update(ctx context.Context, ownerID string, p catalog.Product, declared int, origin string) (catalog.Product, error) {
	logger := log.Ctx(ctx)

	if !p.Assigned() {
		return catalog.Product{}, catalog.Errorf(catalog.KindValidation, "id is required")
	}
	if err := p.Validate(); err != nil {
		return catalog.Product{}, err
	}

	updated, err := s.Store.Update(ctx, ownerID, p, declared)
	if err != nil {
		if catalog.KindOf(err) == catalog.KindUnexpected {
			logger.Error().Err(err).Str("productId", p.ID).Msg("failed to update product")
		} else {
			logger.Warn().Err(err).Str("productId", p.ID).Int("declared", declared).Msg("update rejected")
		}
		return catalog.Product{}, err
	}

	s.touch(ownerID)
	logger.Info().Str("productId", updated.ID).Int("version", updated.Version).Msg("product updated")
	s.notify(ownerID, livefeed.FrameUpdated, updated, origin)
	return updated, nil
}

// Delete removes the product. Deleting an absent id is not an error.
func (s *Service) Delete(ctx context.Context, ownerID, id, origin string) error {
	removed, existed, err := s.Store.Delete(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if existed {
		s.touch(ownerID)
		log.Ctx(ctx).Info().Str("productId", id).Msg("product deleted")
		s.notify(ownerID, livefeed.FrameDeleted, removed, origin)
	}
	return nil
}

func (s *Service) notify(ownerID string, t livefeed.FrameType, p catalog.Product, origin string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Publish(ownerID, livefeed.Event{Type: t, Product: p}, origin)
}
