package observability

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/port"
)

const instrumentationName = "github.com/rl1809/shoe-store/internal/adapter/observability"

// OrderService decorates the order service with tracing and metrics.
type OrderService struct {
	inner   port.OrderService
	tracer  trace.Tracer
	log     logrus.FieldLogger
	metrics orderMetrics
}

type Option func(*OrderService)

func WithTracer(tr trace.Tracer) Option {
	return func(s *OrderService) {
		s.tracer = tr
	}
}

func WithMeter(m metric.Meter) Option {
	return func(s *OrderService) {
		s.metrics = newOrderMetrics(m)
	}
}

// NewOrderService wraps inner, defaulting to the global otel providers.
func NewOrderService(inner port.OrderService, log logrus.FieldLogger, opts ...Option) *OrderService {
	s := &OrderService{
		inner:   inner,
		tracer:  otel.Tracer(instrumentationName),
		log:     log,
		metrics: newOrderMetrics(otel.Meter(instrumentationName)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *OrderService) PlaceOrder(ctx context.Context, idempotencyKey string, req domain.CheckoutRequest) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder",
		trace.WithAttributes(
			attribute.Int("order.lines", len(req.Lines)),
			attribute.Bool("order.idempotent", idempotencyKey != ""),
		))
	defer span.End()

	order, err := s.inner.PlaceOrder(ctx, idempotencyKey, req)
	if err != nil {
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			span.SetAttributes(
				attribute.Int("order.shortages", len(stockErr.Items)),
				attribute.Bool("order.stock_conflict", stockErr.Conflict),
			)
			s.metrics.recordRejected(ctx, "insufficient_stock")
		} else {
			s.metrics.recordRejected(ctx, "error")
		}
		return domain.Order{}, s.handleError(span, err, "failed to place order")
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.number", order.OrderNumber),
	)
	s.metrics.recordPlaced(ctx, order)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.inner.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.handleError(span, err, "failed to load order")
	}
	return order, nil
}

func (s *OrderService) TrackOrder(ctx context.Context, orderNumber string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.TrackOrder", trace.WithAttributes(attribute.String("order.number", orderNumber)))
	defer span.End()

	order, err := s.inner.TrackOrder(ctx, orderNumber)
	if err != nil {
		return domain.Order{}, s.handleError(span, err, "failed to track order")
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders",
		trace.WithAttributes(attribute.String("order.status", string(filter.Status)), attribute.Int("page", filter.Page)))
	defer span.End()

	orders, total, err := s.inner.ListOrders(ctx, filter)
	if err != nil {
		return nil, 0, s.handleError(span, err, "failed to list orders")
	}
	span.SetAttributes(attribute.Int("orders.total", total))
	return orders, total, nil
}

func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.String("order.status", string(status))))
	defer span.End()

	order, err := s.inner.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return domain.Order{}, s.handleError(span, err, "failed to update order status")
	}
	s.metrics.recordTransition(ctx, status)
	return order, nil
}

func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.inner.CancelOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.handleError(span, err, "failed to cancel order")
	}
	s.metrics.recordTransition(ctx, domain.OrderStatusCancelled)
	return order, nil
}

// handleError marks the span failed. Expected outcomes such as a missing
// order or a stock shortage are logged at debug only; the service logs the
// rest.
func (s *OrderService) handleError(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.log.WithError(err).Debug(msg)
	return err
}

type orderMetrics struct {
	placed      metric.Int64Counter
	rejected    metric.Int64Counter
	transitions metric.Int64Counter
	amount      metric.Float64Histogram
}

func newOrderMetrics(m metric.Meter) orderMetrics {
	if m == nil {
		return orderMetrics{}
	}
	placed, _ := m.Int64Counter("orders.placed", metric.WithDescription("Number of orders placed"))
	rejected, _ := m.Int64Counter("orders.rejected", metric.WithDescription("Number of checkouts rejected"))
	transitions, _ := m.Int64Counter("orders.status_transitions", metric.WithDescription("Number of order status changes"))
	amount, _ := m.Float64Histogram("orders.amount", metric.WithDescription("Order total amount"))
	return orderMetrics{placed: placed, rejected: rejected, transitions: transitions, amount: amount}
}

func (m orderMetrics) recordPlaced(ctx context.Context, order domain.Order) {
	if m.placed != nil {
		m.placed.Add(ctx, 1)
	}
	if m.amount != nil {
		m.amount.Record(ctx, order.TotalAmount.InexactFloat64())
	}
}

func (m orderMetrics) recordRejected(ctx context.Context, reason string) {
	if m.rejected != nil {
		m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m orderMetrics) recordTransition(ctx context.Context, status domain.OrderStatus) {
	if m.transitions != nil {
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("order.status", string(status))))
	}
}

var _ port.OrderService = (*OrderService)(nil)
