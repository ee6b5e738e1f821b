package catalog

import (
	"strings"
	"time"
)

// Category is one of the fixed product labels
type Category string

const (
	CategoryNone        Category = ""
	CategoryFood        Category = "Food"
	CategoryElectronics Category = "Electronics"
	CategoryBooks       Category = "Books"
	CategoryClothes     Category = "Clothes"
)

// Categories lists every assignable label in display order
var Categories = []Category{CategoryFood, CategoryElectronics, CategoryBooks, CategoryClothes}

// Valid reports whether c is empty or one of the known labels
func (c Category) Valid() bool {
	if c == CategoryNone {
		return true
	}
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Product is a catalog record as exchanged between server and clients.
// ID is empty for records created locally that the server has not acknowledged yet;
// such records carry no version either.
type Product struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity"`
	Category  Category  `json:"category,omitempty"`
	OwnerID   string    `json:"ownerId,omitempty"`
	Version   int       `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Assigned reports whether the server has given the record an identifier
func (p Product) Assigned() bool {
	return p.ID != ""
}

// Validate checks the client-controlled fields. It never inspects ID, OwnerID,
// Version or UpdatedAt since those belong to the server.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return Errorf(KindValidation, "name is missing")
	}
	if p.Price < 0 {
		return Errorf(KindValidation, "price must not be negative")
	}
	if p.Quantity < 0 {
		return Errorf(KindValidation, "quantity must not be negative")
	}
	if !p.Category.Valid() {
		return Errorf(KindValidation, "unknown category %q", string(p.Category))
	}
	return nil
}
