// Package view derives what a product list screen shows from the sync
// engine's collection. It never modifies the collection it is given.
package view

import (
	"strings"

	"github.com/erauner12/productsync/internal/catalog"
)

// DefaultPageSize is used when a query does not set one
const DefaultPageSize = 10

// Query selects products by name and category
type Query struct {
	// Search matches a case-insensitive substring of the name
	Search string
	// Category keeps only one label; empty keeps all
	Category catalog.Category
	PageSize int
}

func (q Query) pageSize() int {
	if q.PageSize <= 0 {
		return DefaultPageSize
	}
	return q.PageSize
}

// Matches reports whether p passes the query's filters
func (q Query) Matches(p catalog.Product) bool {
	if q.Category != catalog.CategoryNone && p.Category != q.Category {
		return false
	}
	search := strings.TrimSpace(q.Search)
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), strings.ToLower(search))
}

// Project returns the matching products in collection order
func Project(products []catalog.Product, q Query) []catalog.Product {
	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		if q.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Page is a window over a projection
type Page struct {
	Items   []catalog.Product
	Total   int
	HasMore bool
}

// Scroller is an infinite-scroll window: it starts with one page of
// matches and grows by a page each time More is called. Changing the
// query starts over from the first page.
type Scroller struct {
	query   Query
	visible int
}

// NewScroller starts at the first page of q
func NewScroller(q Query) *Scroller {
	return &Scroller{query: q, visible: q.pageSize()}
}

// Query returns the active query
func (s *Scroller) Query() Query {
	return s.query
}

// SetQuery replaces the query and resets the window
func (s *Scroller) SetQuery(q Query) {
	s.query = q
	s.visible = q.pageSize()
}

// More extends the window by one page
func (s *Scroller) More() {
	s.visible += s.query.pageSize()
}

// View applies the query to products and cuts the visible window.
// The window is best effort: records merged at the head push the tail out.
func (s *Scroller) View(products []catalog.Product) Page {
	matched := Project(products, s.query)
	n := min(s.visible, len(matched))
	return Page{
		Items:   matched[:n:n],
		Total:   len(matched),
		HasMore: n < len(matched),
	}
}
