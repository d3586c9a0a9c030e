package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/port"
)

var (
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrInsufficientStock = domain.ErrInsufficientStock
)

const (
	idempotencyKeyPrefix = "checkout:"
	orderNumberAttempts  = 3
)

type OrderService struct {
	orders    port.OrderRepository
	validator *StockValidator
	stock     *StockSynchronizer
	cache     port.CacheRepository
	numbers   *orderNumberSequence
	now       func() time.Time
	log       logrus.FieldLogger
}

func NewOrderService(orders port.OrderRepository, validator *StockValidator, stock *StockSynchronizer, cache port.CacheRepository, log logrus.FieldLogger) *OrderService {
	return &OrderService{
		orders:    orders,
		validator: validator,
		stock:     stock,
		cache:     cache,
		numbers:   newOrderNumberSequence(time.Now),
		now:       time.Now,
		log:       log,
	}
}

// PlaceOrder validates stock for every line, then decrements inventory and
// writes the order atomically. Stock flags of the touched products are
// refreshed after the commit.
func (s *OrderService) PlaceOrder(ctx context.Context, idempotencyKey string, req domain.CheckoutRequest) (domain.Order, error) {
	if err := req.Validate(); err != nil {
		return domain.Order{}, err
	}
	if err := req.ReconcileTotal(); err != nil {
		return domain.Order{}, err
	}

	key := strings.TrimSpace(idempotencyKey)
	if key != "" {
		ok, err := s.cache.SetIdempotency(ctx, idempotencyKeyPrefix+key)
		if err != nil {
			return domain.Order{}, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return domain.Order{}, ErrDuplicateRequest
		}
	}

	order, err := s.placeOrder(ctx, req)
	if err != nil {
		if key != "" {
			if releaseErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), idempotencyKeyPrefix+key); releaseErr != nil {
				s.log.WithError(releaseErr).WithField("idempotency_key", key).Warn("failed to release idempotency key")
			}
		}
		return domain.Order{}, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.TotalAmount.String(),
		"lines":        len(order.Lines),
	}).Info("order placed")

	s.stock.SyncProducts(context.WithoutCancel(ctx), order.ProductIDs())

	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, req domain.CheckoutRequest) (domain.Order, error) {
	plan, err := s.validator.Validate(ctx, req.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		email = domain.FallbackEmail(req.CustomerPhone)
	}
	customer := domain.Customer{
		ID:        uuid.NewString(),
		Name:      req.CustomerName,
		Email:     email,
		Phone:     req.CustomerPhone,
		Address:   req.DeliveryAddress,
		City:      req.DeliveryCity,
		CreatedAt: now,
	}

	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		order := s.newOrder(req, now)

		placed, err := s.orders.PlaceOrder(ctx, plan, order, customer)
		if errors.Is(err, domain.ErrDuplicateOrderNumber) {
			s.log.WithFields(logrus.Fields{
				"order_number": order.OrderNumber,
				"attempt":      attempt,
			}).Warn("order number collision, retrying")
			continue
		}
		if err != nil {
			return domain.Order{}, err
		}
		return placed, nil
	}

	return domain.Order{}, fmt.Errorf("assign order number: %w", domain.ErrDuplicateOrderNumber)
}

func (s *OrderService) newOrder(req domain.CheckoutRequest, now time.Time) domain.Order {
	order := domain.Order{
		ID:              uuid.NewString(),
		OrderNumber:     s.numbers.Next(),
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryCity:    req.DeliveryCity,
		Notes:           req.Notes,
		TotalAmount:     req.TotalAmount,
		Status:          domain.OrderStatusPending,
		Lines:           make([]domain.OrderLine, 0, len(req.Lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, line := range req.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			ProductID:       line.ProductID,
			Size:            line.Size,
			Color:           line.Color,
			Quantity:        line.Quantity,
			Price:           line.Price,
			DiscountAmount:  line.DiscountAmount,
			DiscountedPrice: line.DiscountedPrice,
		})
	}
	return order
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *OrderService) TrackOrder(ctx context.Context, orderNumber string) (domain.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.orders.GetOrderByNumber(ctx, orderNumber)
}

func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	return s.orders.ListOrders(ctx, filter.Normalize())
}

// UpdateStatus moves an order to status. The first move into CANCELLED or
// RETURNED gives the order's quantities back to inventory in the same
// transaction as the status write.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, domain.ErrInvalidStatus
	}

	order, restored, err := s.orders.TransitionStatus(ctx, orderID, status)
	if err != nil {
		return domain.Order{}, err
	}

	entry := s.log.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"status":       order.Status,
	})
	if restored {
		entry.Info("order restocked")
		s.stock.SyncProducts(context.WithoutCancel(ctx), order.ProductIDs())
	} else {
		entry.Info("order status updated")
	}

	return order, nil
}

func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled)
}

var _ port.OrderService = (*OrderService)(nil)
