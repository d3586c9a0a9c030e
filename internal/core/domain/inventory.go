package domain

import (
	"errors"
	"time"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInventoryNotFound = errors.New("inventory item not found")
	ErrInventoryInUse    = errors.New("inventory item is referenced by orders")
	ErrInvalidVariant    = errors.New("variant is not offered for this product")
)

// Variant identifies one size/color combination of a product.
type Variant struct {
	ProductID string
	Size      string
	Color     string
}

// InventoryRecord holds the available quantity for one variant.
// At most one record exists per variant and Quantity never drops below zero.
type InventoryRecord struct {
	ID        string
	ProductID string
	Size      string
	Color     string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r InventoryRecord) Variant() Variant {
	return Variant{ProductID: r.ProductID, Size: r.Size, Color: r.Color}
}

// Product carries the fields the order core touches. InStock is derived
// from the inventory sum and is never a source of truth.
type Product struct {
	ID        string
	Name      string
	Sizes     []string
	Colors    []string
	InStock   bool
	UpdatedAt time.Time
}

// Offers reports whether size and color are part of the product's catalog.
func (p Product) Offers(size, color string) bool {
	return contains(p.Sizes, size) && contains(p.Colors, color)
}

// VariantQuantity is an admin edit for a single variant.
type VariantQuantity struct {
	Size     string `json:"size"`
	Color    string `json:"color"`
	Quantity int    `json:"quantity"`
}

// InStockFor derives the product flag from its inventory sum.
func InStockFor(totalQuantity int) bool {
	return totalQuantity > 0
}

// ClampQuantity keeps admin-entered quantities non-negative.
func ClampQuantity(q int) int {
	if q < 0 {
		return 0
	}
	return q
}

// VariantStock is the per-variant view exposed to the storefront.
type VariantStock struct {
	InStock           bool `json:"inStock"`
	Quantity          int  `json:"quantity"`
	AvailableQuantity int  `json:"availableQuantity"`
	ReservedQuantity  int  `json:"reservedQuantity"`
}

func NewVariantStock(quantity int) VariantStock {
	return VariantStock{
		InStock:           quantity > 0,
		Quantity:          quantity,
		AvailableQuantity: quantity,
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
