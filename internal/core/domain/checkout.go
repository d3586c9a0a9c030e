package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCheckout   = errors.New("invalid checkout request")
	ErrTotalMismatch     = errors.New("total amount does not match order lines")
	ErrInsufficientStock = errors.New("insufficient stock")
)

const (
	ReasonVariantNotFound   = "Product variant not found in inventory"
	ReasonInsufficientStock = "Insufficient stock"
)

type CheckoutLine struct {
	ProductID       string
	Size            string
	Color           string
	Quantity        int
	Price           decimal.Decimal
	DiscountAmount  decimal.Decimal
	DiscountedPrice decimal.Decimal
}

func (l CheckoutLine) Variant() Variant {
	return Variant{ProductID: l.ProductID, Size: l.Size, Color: l.Color}
}

type CheckoutRequest struct {
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	DeliveryAddress string
	DeliveryCity    string
	Notes           string
	Lines           []CheckoutLine
	TotalAmount     decimal.Decimal
}

// Validate checks required fields and fills line pricing defaults: a
// missing discounted price falls back to the list price.
func (r *CheckoutRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.CustomerName) == "" {
		missing = append(missing, "customerName")
	}
	if strings.TrimSpace(r.CustomerPhone) == "" {
		missing = append(missing, "customerPhone")
	}
	if strings.TrimSpace(r.DeliveryAddress) == "" {
		missing = append(missing, "deliveryAddress")
	}
	if strings.TrimSpace(r.DeliveryCity) == "" {
		missing = append(missing, "deliveryCity")
	}
	if len(r.Lines) == 0 {
		missing = append(missing, "items")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalidCheckout, strings.Join(missing, ", "))
	}

	for i := range r.Lines {
		line := &r.Lines[i]
		if line.ProductID == "" || line.Size == "" || line.Color == "" {
			return fmt.Errorf("%w: item %d must name a product, size and color", ErrInvalidCheckout, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be greater than zero", ErrInvalidCheckout, i)
		}
		if line.Price.IsNegative() || line.DiscountAmount.IsNegative() || line.DiscountedPrice.IsNegative() {
			return fmt.Errorf("%w: item %d has a negative price", ErrInvalidCheckout, i)
		}
		if !wholeCents(line.Price) || !wholeCents(line.DiscountAmount) || !wholeCents(line.DiscountedPrice) {
			return fmt.Errorf("%w: item %d price has more than %d decimal places", ErrInvalidCheckout, i, moneyPlaces)
		}
		if line.DiscountedPrice.IsZero() {
			line.DiscountedPrice = line.Price
		}
	}
	if !wholeCents(r.TotalAmount) {
		return fmt.Errorf("%w: total has more than %d decimal places", ErrInvalidCheckout, moneyPlaces)
	}
	return nil
}

// moneyPlaces matches the DECIMAL scale amounts are stored with.
const moneyPlaces = 2

func wholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(moneyPlaces))
}

// ComputeTotal sums discountedPrice * quantity over every line.
func (r CheckoutRequest) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range r.Lines {
		total = total.Add(line.DiscountedPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// ReconcileTotal makes TotalAmount equal to the line sum. A client-sent
// total that disagrees is rejected instead of silently overwritten.
func (r *CheckoutRequest) ReconcileTotal() error {
	computed := r.ComputeTotal()
	if r.TotalAmount.IsZero() {
		r.TotalAmount = computed
		return nil
	}
	if !r.TotalAmount.Equal(computed) {
		return fmt.Errorf("%w: got %s, lines sum to %s", ErrTotalMismatch, r.TotalAmount, computed)
	}
	return nil
}

func (r CheckoutRequest) ProductIDs() []string {
	ids := make([]string, 0, len(r.Lines))
	for _, line := range r.Lines {
		ids = append(ids, line.ProductID)
	}
	return DistinctProductIDs(ids)
}

// Decrement is one validated line of a decrement plan.
type Decrement struct {
	InventoryID string
	Variant     Variant
	Requested   int
	Remaining   int
}

// DecrementPlan holds one Decrement per checkout line, in request order.
type DecrementPlan []Decrement

type StockShortage struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

// InsufficientStockError lists every line that could not be fulfilled.
// Conflict is set when the shortage was detected by the conditional
// decrement at write time rather than by validation.
type InsufficientStockError struct {
	Items    []StockShortage
	Conflict bool
}

func (e *InsufficientStockError) Error() string {
	if len(e.Items) == 1 {
		item := e.Items[0]
		return fmt.Sprintf("insufficient stock for %s/%s/%s: requested %d, available %d",
			item.ProductID, item.Size, item.Color, item.Requested, item.Available)
	}
	return fmt.Sprintf("insufficient stock for %d items", len(e.Items))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
