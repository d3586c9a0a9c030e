package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrInvalidTransition    = errors.New("order status transition not allowed")
	ErrDuplicateOrderNumber = errors.New("order number already taken")
)

type OrderStatus string

// OrderStatusPending is the state every order is placed in.
const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusProcessing     OrderStatus = "PROCESSING"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusReturned       OrderStatus = "RETURNED"
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaymentFailed  OrderStatus = "PAYMENT_FAILED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
	OrderStatusPaymentPending,
	OrderStatusPaymentFailed,
	OrderStatusRefunded,
}

func (s OrderStatus) Valid() bool {
	for _, known := range orderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Restocked reports whether inventory for an order in this status has
// already been given back.
func (s OrderStatus) Restocked() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		names := make([]string, len(orderStatuses))
		for i, s := range orderStatuses {
			names[i] = string(s)
		}
		return "", fmt.Errorf("%w: valid statuses are %s", ErrInvalidStatus, strings.Join(names, ", "))
	}
	return status, nil
}

// RestocksOn reports whether moving from -> to must put the order's
// quantities back into inventory. Only the first move into CANCELLED or
// RETURNED restocks, so repeating the transition is a plain status write.
func RestocksOn(from, to OrderStatus) bool {
	return to.Restocked() && !from.Restocked()
}

// CheckTransition rejects reopening an order whose inventory was already
// restored; its units may have been sold again.
func CheckTransition(from, to OrderStatus) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if from.Restocked() && !to.Restocked() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	CustomerName    string
	CustomerPhone   string
	DeliveryAddress string
	DeliveryCity    string
	Notes           string
	TotalAmount     decimal.Decimal
	Status          OrderStatus
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type OrderLine struct {
	ID              string
	OrderID         string
	ProductID       string
	Size            string
	Color           string
	Quantity        int
	Price           decimal.Decimal
	DiscountAmount  decimal.Decimal
	DiscountedPrice decimal.Decimal
}

func (l OrderLine) Variant() Variant {
	return Variant{ProductID: l.ProductID, Size: l.Size, Color: l.Color}
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.DiscountedPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total recomputes the order amount from its lines.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

func (o Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Lines))
	for _, line := range o.Lines {
		ids = append(ids, line.ProductID)
	}
	return DistinctProductIDs(ids)
}

// OrderNumber renders the customer-facing number: "FL" followed by the
// last eight digits of the Unix millisecond clock.
func OrderNumber(t time.Time) string {
	return fmt.Sprintf("FL%08d", t.UnixMilli()%100_000_000)
}

// DistinctProductIDs keeps the first occurrence of each id, dropping blanks.
func DistinctProductIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

const (
	defaultOrderPageSize = 10
	maxOrderPageSize     = 100
)

// OrderFilter selects orders for the admin listing. Query matches order
// number, customer name, phone, delivery address and city, ignoring case.
// An empty Status matches every status.
type OrderFilter struct {
	Query  string
	Status OrderStatus
	Page   int
	Limit  int
}

// Normalize applies paging defaults: page 1, ten orders per page, at most
// one hundred.
func (f OrderFilter) Normalize() OrderFilter {
	f.Query = strings.TrimSpace(f.Query)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultOrderPageSize
	}
	if f.Limit > maxOrderPageSize {
		f.Limit = maxOrderPageSize
	}
	return f
}

func (f OrderFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

func (f OrderFilter) Matches(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	for _, field := range []string{o.OrderNumber, o.CustomerName, o.CustomerPhone, o.DeliveryAddress, o.DeliveryCity} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
