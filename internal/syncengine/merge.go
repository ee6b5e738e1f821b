package syncengine

import "github.com/erauner12/productsync/internal/catalog"

// Merge applies p to products: an entry with the same assigned id is replaced
// in place, anything else is inserted at the head. The input is not modified.
// There is no version comparison, the later merge wins.
func Merge(products []catalog.Product, p catalog.Product) []catalog.Product {
	if p.Assigned() {
		for i := range products {
			if products[i].ID == p.ID {
				out := append([]catalog.Product(nil), products...)
				out[i] = p
				return out
			}
		}
	}

	out := make([]catalog.Product, 0, len(products)+1)
	out = append(out, p)
	return append(out, products...)
}

// settle replaces the optimistic copy of a locally created record with the
// record the server returned for it. Records that already had an id merge
// normally.
func settle(products []catalog.Product, local, saved catalog.Product) []catalog.Product {
	if !local.Assigned() {
		for i := range products {
			if !products[i].Assigned() && sameFields(products[i], local) {
				out := append([]catalog.Product(nil), products...)
				out[i] = saved
				return out
			}
		}
	}
	return Merge(products, saved)
}

func sameFields(a, b catalog.Product) bool {
	return a.Name == b.Name && a.Price == b.Price && a.Quantity == b.Quantity && a.Category == b.Category
}
