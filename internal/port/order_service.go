package port

import (
	"context"

	"github.com/rl1809/shoe-store/internal/core/domain"
)

// OrderService is the use-case surface the transport adapters depend on.
type OrderService interface {
	PlaceOrder(ctx context.Context, idempotencyKey string, req domain.CheckoutRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	TrackOrder(ctx context.Context, orderNumber string) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Order, error)
}
