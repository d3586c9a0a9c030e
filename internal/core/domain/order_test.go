package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, status)

	_, err = ParseOrderStatus("LOST")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRestocksOn(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusReturned, true},
		{OrderStatusCancelled, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusReturned, false},
		{OrderStatusReturned, OrderStatusCancelled, false},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusPaymentFailed, OrderStatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, RestocksOn(tt.from, tt.to))
		})
	}
}

func TestCheckTransition(t *testing.T) {
	assert.NoError(t, CheckTransition(OrderStatusPending, OrderStatusConfirmed))
	assert.NoError(t, CheckTransition(OrderStatusShipped, OrderStatusCancelled))
	assert.NoError(t, CheckTransition(OrderStatusCancelled, OrderStatusCancelled))
	assert.NoError(t, CheckTransition(OrderStatusCancelled, OrderStatusReturned))

	assert.ErrorIs(t, CheckTransition(OrderStatusCancelled, OrderStatusPending), ErrInvalidTransition)
	assert.ErrorIs(t, CheckTransition(OrderStatusReturned, OrderStatusShipped), ErrInvalidTransition)
	assert.ErrorIs(t, CheckTransition(OrderStatusPending, OrderStatus("LOST")), ErrInvalidStatus)
}

func TestOrderNumber(t *testing.T) {
	assert.Equal(t, "FL00000042", OrderNumber(time.UnixMilli(42)))
	assert.Equal(t, "FL99999999", OrderNumber(time.UnixMilli(1_799_999_999)))
}

func TestOrder_Total(t *testing.T) {
	order := Order{Lines: []OrderLine{
		{Quantity: 2, Price: decimal.NewFromInt(1000), DiscountedPrice: decimal.NewFromInt(900)},
		{Quantity: 1, Price: decimal.NewFromInt(500), DiscountedPrice: decimal.NewFromInt(500)},
	}}

	assert.True(t, order.Total().Equal(decimal.NewFromInt(2300)))
}

func TestOrderFilter_Normalize(t *testing.T) {
	f := OrderFilter{Query: "  ana ", Page: -1, Limit: 500}.Normalize()
	assert.Equal(t, "ana", f.Query)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 100, f.Limit)
	assert.Equal(t, 0, f.Offset())

	f = OrderFilter{Page: 3}.Normalize()
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, 20, f.Offset())
}

func TestOrderFilter_Matches(t *testing.T) {
	order := Order{
		OrderNumber:     "FL12345678",
		CustomerName:    "Ana Nguyen",
		CustomerPhone:   "0912000111",
		DeliveryAddress: "5 Ly Thai To",
		DeliveryCity:    "Da Nang",
		Status:          OrderStatusShipped,
	}

	assert.True(t, OrderFilter{}.Matches(order))
	assert.True(t, OrderFilter{Query: "nguyen"}.Matches(order))
	assert.True(t, OrderFilter{Query: "da nang", Status: OrderStatusShipped}.Matches(order))
	assert.True(t, OrderFilter{Query: "fl1234"}.Matches(order))
	assert.False(t, OrderFilter{Status: OrderStatusPending}.Matches(order))
	assert.False(t, OrderFilter{Query: "hue"}.Matches(order))
}

func TestDistinctProductIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, DistinctProductIDs([]string{"a", "", "b", "a"}))
}
