package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/erauner12/productsync/internal/auth"
	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/syncx"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// LiveClientHeader names the caller's live connection so its own writes are
// not echoed back to it over the feed.
const LiveClientHeader = "X-Live-Client"

// productBody is the request body for POST and PUT.
// Server-managed fields (ownerId, updatedAt) are ignored if present.
type productBody struct {
	ID       string           `json:"id,omitempty"`
	Name     string           `json:"name"`
	Price    float64          `json:"price"`
	Quantity int              `json:"quantity"`
	Category catalog.Category `json:"category,omitempty"`
	Version  int              `json:"version,omitempty"`
}

func (b productBody) product() catalog.Product {
	return catalog.Product{
		ID:       strings.TrimSpace(b.ID),
		Name:     b.Name,
		Price:    b.Price,
		Quantity: b.Quantity,
		Category: b.Category,
	}
}

func decodeProduct(r *http.Request) (productBody, bool) {
	var body productBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return productBody{}, false
	}
	return body, true
}

func writeProduct(w http.ResponseWriter, code int, p catalog.Product) {
	w.Header().Set("ETag", syncx.FormatETag(p.Version))
	writeJSON(w, code, p)
}

// ListProducts handles GET /product
func (s *Server) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := auth.UserID(ctx)

	products, err := s.Products.List(ctx, ownerID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if products == nil {
		products = []catalog.Product{}
	}

	if s.ConditionalList {
		// Last-Modified has second precision: a stamp in the current second
		// could be overtaken by a later write in the same second, so it is
		// neither sent nor compared until that second is over.
		lastModified := s.Products.LastModified(ownerID, products).UTC().Truncate(time.Second)
		if lastModified.Before(time.Now().Truncate(time.Second)) {
			if since, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil && !lastModified.After(since) {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("Last-Modified", lastModified.Format(http.TimeFormat))
		}
	}

	writeJSON(w, http.StatusOK, products)
}

// CreateProduct handles POST /product
func (s *Server) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, ok := decodeProduct(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}

	p := body.product()
	p.ID = "" // server assigns identity
	created, err := s.Products.Create(ctx, auth.UserID(ctx), p, r.Header.Get(LiveClientHeader))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeProduct(w, http.StatusCreated, created)
}

// GetProduct handles GET /product/{id}
func (s *Server) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := s.Products.Get(ctx, auth.UserID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeProduct(w, http.StatusOK, p)
}

// PutProduct handles PUT /product/{id}.
// A body without an id is treated as a create. Otherwise the body id must match
// the path and the declared version comes from If-Match, ETag or the body, in
// that order.
func (s *Server) PutProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)
	ownerID := auth.UserID(ctx)
	origin := r.Header.Get(LiveClientHeader)
	pathID := chi.URLParam(r, "id")

	body, ok := decodeProduct(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}

	p := body.product()
	if !p.Assigned() {
		logger.Debug().Str("pathId", pathID).Msg("PUT without body id, creating")
		created, err := s.Products.Create(ctx, ownerID, p, origin)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeProduct(w, http.StatusCreated, created)
		return
	}

	if p.ID != pathID {
		writeError(w, r, http.StatusBadRequest, "body id does not match path id")
		return
	}

	declared, ok := syncx.DeclaredVersion(r.Header)
	if !ok {
		declared = body.Version
	}

	updated, err := s.Products.Update(ctx, ownerID, p, declared, origin)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeProduct(w, http.StatusOK, updated)
}

// DeleteProduct handles DELETE /product/{id}
func (s *Server) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.Products.Delete(ctx, auth.UserID(ctx), chi.URLParam(r, "id"), r.Header.Get(LiveClientHeader)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
