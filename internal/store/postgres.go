package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/syncx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const productColumns = `id, owner_id, name, price, quantity, category, version, updated_at_ms`

// Postgres is a Store backed by the product table (see db.Migrate)
type Postgres struct {
	DB *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed store
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{DB: db}
}

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	var id int64
	var category string
	var updatedAtMs int64
	if err := row.Scan(&id, &p.OwnerID, &p.Name, &p.Price, &p.Quantity, &category, &p.Version, &updatedAtMs); err != nil {
		return catalog.Product{}, err
	}
	p.ID = strconv.FormatInt(id, 10)
	p.Category = catalog.Category(category)
	p.UpdatedAt = syncx.FromMs(updatedAtMs)
	return p, nil
}

// parseID maps the wire identifier onto the BIGSERIAL key.
// Identifiers that are not numeric can never exist in the table.
func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil && n > 0
}

func notFound(id string) error {
	return catalog.Errorf(catalog.KindNotFound, "product with id %s not found", id)
}

func (s *Postgres) List(ctx context.Context, ownerID string) ([]catalog.Product, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+productColumns+`
		FROM product
		WHERE owner_id = $1
		ORDER BY id
	`, ownerID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list products")
		return nil, err
	}
	defer rows.Close()

	products := make([]catalog.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			log.Error().Err(err).Msg("failed to scan product row")
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("row iteration error")
		return nil, err
	}
	return products, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (catalog.Product, error) {
	key, ok := parseID(id)
	if !ok {
		return catalog.Product{}, notFound(id)
	}

	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM product WHERE id = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, notFound(id)
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("failed to get product")
		return catalog.Product{}, err
	}
	return p, nil
}

func (s *Postgres) Create(ctx context.Context, ownerID string, p catalog.Product) (catalog.Product, error) {
	created, err := scanProduct(s.DB.QueryRow(ctx, `
		INSERT INTO product (owner_id, name, price, quantity, category, version, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		RETURNING `+productColumns,
		ownerID, p.Name, p.Price, p.Quantity, string(p.Category), syncx.NowMs()))
	if err != nil {
		log.Error().Err(err).Str("ownerId", ownerID).Msg("failed to insert product")
		return catalog.Product{}, err
	}
	return created, nil
}

func (s *Postgres) Update(ctx context.Context, ownerID string, p catalog.Product, declared int) (catalog.Product, error) {
	key, ok := parseID(p.ID)
	if !ok {
		return catalog.Product{}, notFound(p.ID)
	}

	// Conditional write: the version predicate is the compare-and-set.
	// updated_at_ms never moves backwards even if the wall clock does.
	updated, err := scanProduct(s.DB.QueryRow(ctx, `
		UPDATE product SET
			name          = $3,
			price         = $4,
			quantity      = $5,
			category      = $6,
			version       = version + 1,
			updated_at_ms = GREATEST($7, updated_at_ms + 1)
		WHERE id = $1
		  AND owner_id = $2
		  AND ($8::int = 0 OR version <= $8::int)
		RETURNING `+productColumns,
		key, ownerID, p.Name, p.Price, p.Quantity, string(p.Category), syncx.NowMs(), declared))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		log.Error().Err(err).Str("id", p.ID).Msg("failed to update product")
		return catalog.Product{}, err
	}

	// Zero rows: find out which precondition failed
	current, err := s.Get(ctx, p.ID)
	if err != nil {
		return catalog.Product{}, err
	}
	if err := checkUpdate(current, ownerID, declared); err != nil {
		return catalog.Product{}, err
	}
	// The record changed between the update and the probe; report it as stale
	return catalog.Product{}, catalog.Conflict(declared, current.Version)
}

func (s *Postgres) Delete(ctx context.Context, ownerID, id string) (catalog.Product, bool, error) {
	key, ok := parseID(id)
	if !ok {
		return catalog.Product{}, false, nil
	}

	deleted, err := scanProduct(s.DB.QueryRow(ctx, `
		DELETE FROM product
		WHERE id = $1 AND owner_id = $2
		RETURNING `+productColumns, key, ownerID))
	if err == nil {
		return deleted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		log.Error().Err(err).Str("id", id).Msg("failed to delete product")
		return catalog.Product{}, false, err
	}

	if _, err := s.Get(ctx, id); err == nil {
		return catalog.Product{}, false, catalog.Errorf(catalog.KindForbidden, "product %s belongs to another owner", id)
	} else if catalog.KindOf(err) != catalog.KindNotFound {
		return catalog.Product{}, false, err
	}
	return catalog.Product{}, false, nil
}
