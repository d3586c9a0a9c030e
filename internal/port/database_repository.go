package port

import (
	"context"

	"github.com/rl1809/shoe-store/internal/core/domain"
)

type InventoryRepository interface {
	// FindInventory returns the live record for a variant, or nil when none exists
	FindInventory(ctx context.Context, variant domain.Variant) (*domain.InventoryRecord, error)

	// ListInventory returns a product's records ordered by size, then color
	ListInventory(ctx context.Context, productID string) ([]domain.InventoryRecord, error)

	// SumInventory totals the quantity across a product's records
	SumInventory(ctx context.Context, productID string) (int, error)

	// UpsertInventory creates or overwrites the quantity of each variant
	UpsertInventory(ctx context.Context, productID string, items []domain.VariantQuantity) ([]domain.InventoryRecord, error)

	// DeleteInventory removes a record unless an order line still references its variant
	DeleteInventory(ctx context.Context, inventoryID string) (domain.InventoryRecord, error)
}

type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	GetProducts(ctx context.Context, productIDs []string) ([]domain.Product, error)

	ListProductIDs(ctx context.Context) ([]string, error)

	// SetProductInStock writes the derived flag, reporting whether it changed
	SetProductInStock(ctx context.Context, productID string, inStock bool) (bool, error)
}

type OrderRepository interface {
	// PlaceOrder applies the decrement plan, finds or creates the customer and
	// inserts the order with its lines in one transaction
	PlaceOrder(ctx context.Context, plan domain.DecrementPlan, order domain.Order, customer domain.Customer) (domain.Order, error)

	GetOrder(ctx context.Context, orderID string) (domain.Order, error)

	GetOrderByNumber(ctx context.Context, orderNumber string) (domain.Order, error)

	// ListOrders returns one page of matching orders, newest first, and the
	// total number of matches
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error)

	// TransitionStatus writes the new status and, when the move restocks,
	// gives each line's quantity back in the same transaction. The bool
	// reports whether inventory was restored.
	TransitionStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, bool, error)
}

type DatabaseRepository interface {
	InventoryRepository
	ProductRepository
	OrderRepository
}
