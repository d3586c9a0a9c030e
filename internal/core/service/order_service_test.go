package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/shoe-store/internal/adapter/storage"
	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/port"
)

// Mock CacheRepository
type mockCacheRepo struct {
	mu             sync.Mutex
	idempotencySet map[string]bool
	statuses       map[string]bool
	failStatuses   bool
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		idempotencySet: make(map[string]bool),
		statuses:       make(map[string]bool),
	}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

func (m *mockCacheRepo) SetStockStatus(ctx context.Context, productID string, inStock bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[productID] = inStock
	return nil
}

func (m *mockCacheRepo) GetStockStatuses(ctx context.Context, productIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStatuses {
		return nil, errors.New("cache down")
	}
	out := make(map[string]bool)
	for _, id := range productIDs {
		if v, ok := m.statuses[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (m *mockCacheRepo) hasKey(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idempotencySet[key]
}

// collidingRepo reports a taken order number for the first n placements.
type collidingRepo struct {
	port.DatabaseRepository
	collisions int
	attempts   atomic.Int32
	numbers    []string
}

func (r *collidingRepo) PlaceOrder(ctx context.Context, plan domain.DecrementPlan, order domain.Order, customer domain.Customer) (domain.Order, error) {
	n := int(r.attempts.Add(1))
	r.numbers = append(r.numbers, order.OrderNumber)
	if n <= r.collisions {
		return domain.Order{}, domain.ErrDuplicateOrderNumber
	}
	return r.DatabaseRepository.PlaceOrder(ctx, plan, order, customer)
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

const testProduct = "P1"

type fixture struct {
	store  *storage.MemoryAdapter
	cache  *mockCacheRepo
	stock  *StockSynchronizer
	orders *OrderService
}

func newFixture(t *testing.T, stock map[[2]string]int) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, stock, nil)
}

// newFixtureWithRepo seeds testProduct into a memory store. wrap, when set,
// decorates the store the order service writes through.
func newFixtureWithRepo(t *testing.T, stock map[[2]string]int, wrap func(port.DatabaseRepository) port.DatabaseRepository) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryAdapter()

	require.NoError(t, store.SaveProduct(ctx, domain.Product{
		ID:      testProduct,
		Name:    "Chelsea Boot",
		Sizes:   []string{"41", "42"},
		Colors:  []string{"Brown", "Black"},
		InStock: true,
	}))
	items := make([]domain.VariantQuantity, 0, len(stock))
	for k, q := range stock {
		items = append(items, domain.VariantQuantity{Size: k[0], Color: k[1], Quantity: q})
	}
	_, err := store.UpsertInventory(ctx, testProduct, items)
	require.NoError(t, err)

	var repo port.DatabaseRepository = store
	if wrap != nil {
		repo = wrap(store)
	}

	log := testLogger()
	cache := newMockCacheRepo()
	synchronizer := NewStockSynchronizer(store, store, cache, 2, log)
	return &fixture{
		store:  store,
		cache:  cache,
		stock:  synchronizer,
		orders: NewOrderService(repo, NewStockValidator(repo), synchronizer, cache, log),
	}
}

func (f *fixture) quantity(t *testing.T, size, color string) int {
	t.Helper()
	record, err := f.store.FindInventory(context.Background(), domain.Variant{ProductID: testProduct, Size: size, Color: color})
	require.NoError(t, err)
	require.NotNil(t, record)
	return record.Quantity
}

func (f *fixture) inStock(t *testing.T) bool {
	t.Helper()
	product, err := f.store.GetProduct(context.Background(), testProduct)
	require.NoError(t, err)
	return product.InStock
}

func checkout(lines ...domain.CheckoutLine) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		CustomerName:    "Linh Tran",
		CustomerPhone:   "0912345678",
		DeliveryAddress: "12 Hang Bac",
		DeliveryCity:    "Hanoi",
		Lines:           lines,
	}
}

func line(size, color string, quantity int, price, discounted int64) domain.CheckoutLine {
	return domain.CheckoutLine{
		ProductID:       testProduct,
		Size:            size,
		Color:           color,
		Quantity:        quantity,
		Price:           decimal.NewFromInt(price),
		DiscountAmount:  decimal.NewFromInt(price - discounted),
		DiscountedPrice: decimal.NewFromInt(discounted),
	}
}

func TestPlaceOrder_InsufficientStockReportsAvailable(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 2})

	_, err := f.orders.PlaceOrder(context.Background(), "", checkout(line("42", "Brown", 3, 100, 100)))

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.False(t, stockErr.Conflict)
	assert.Equal(t, []domain.StockShortage{{
		ProductID: testProduct,
		Size:      "42",
		Color:     "Brown",
		Requested: 3,
		Available: 2,
		Reason:    domain.ReasonInsufficientStock,
	}}, stockErr.Items)
	assert.Equal(t, 2, f.quantity(t, "42", "Brown"))
	assert.Zero(t, f.store.OrderCount())
}

func TestPlaceOrder_LastUnitsClearInStock(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 2})

	order, err := f.orders.PlaceOrder(context.Background(), "", checkout(line("42", "Brown", 2, 100, 100)))
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Regexp(t, `^FL\d{8}$`, order.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 0, f.quantity(t, "42", "Brown"))
	assert.False(t, f.inStock(t))
	assert.Equal(t, map[string]bool{testProduct: false}, f.cache.statuses)
}

func TestPlaceOrder_AllOrNothing(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5, {"41", "Black"}: 1})

	_, err := f.orders.PlaceOrder(context.Background(), "", checkout(
		line("42", "Brown", 2, 100, 100),
		line("41", "Black", 2, 100, 100),
		line("41", "Brown", 1, 100, 100),
	))

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Items, 2)
	assert.Equal(t, domain.ReasonInsufficientStock, stockErr.Items[0].Reason)
	assert.Equal(t, domain.ReasonVariantNotFound, stockErr.Items[1].Reason)

	assert.Equal(t, 5, f.quantity(t, "42", "Brown"))
	assert.Equal(t, 1, f.quantity(t, "41", "Black"))
	assert.Zero(t, f.store.OrderCount())
}

func TestPlaceOrder_TotalFromLines(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5, {"41", "Black"}: 5})

	order, err := f.orders.PlaceOrder(context.Background(), "", checkout(
		line("42", "Brown", 2, 1000, 900),
		line("41", "Black", 1, 500, 500),
	))
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(2300).Equal(order.TotalAmount), "got %s", order.TotalAmount)
	assert.True(t, order.Total().Equal(order.TotalAmount))
}

func TestPlaceOrder_RejectsMismatchedTotal(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5})

	req := checkout(line("42", "Brown", 2, 1000, 900))
	req.TotalAmount = decimal.NewFromInt(2000)

	_, err := f.orders.PlaceOrder(context.Background(), "", req)
	assert.ErrorIs(t, err, domain.ErrTotalMismatch)
	assert.Equal(t, 5, f.quantity(t, "42", "Brown"))
}

func TestPlaceOrder_InvalidRequest(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5})

	req := checkout(line("42", "Brown", 1, 100, 100))
	req.CustomerPhone = " "

	_, err := f.orders.PlaceOrder(context.Background(), "", req)
	assert.ErrorIs(t, err, domain.ErrInvalidCheckout)
}

func TestPlaceOrder_ReusesCustomerByPhone(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5})
	ctx := context.Background()

	first, err := f.orders.PlaceOrder(ctx, "", checkout(line("42", "Brown", 1, 100, 100)))
	require.NoError(t, err)
	second, err := f.orders.PlaceOrder(ctx, "", checkout(line("42", "Brown", 1, 100, 100)))
	require.NoError(t, err)

	assert.Equal(t, first.CustomerID, second.CustomerID)
	assert.NotEqual(t, first.OrderNumber, second.OrderNumber)

	customer, ok := f.store.CustomerByPhone("0912345678")
	require.True(t, ok)
	assert.Equal(t, "0912345678@example.com", customer.Email)
}

func TestPlaceOrder_DuplicateRequest(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5})
	ctx := context.Background()

	_, err := f.orders.PlaceOrder(ctx, "req-1", checkout(line("42", "Brown", 1, 100, 100)))
	require.NoError(t, err)

	_, err = f.orders.PlaceOrder(ctx, "req-1", checkout(line("42", "Brown", 1, 100, 100)))
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	// Stock should only be decremented once
	assert.Equal(t, 4, f.quantity(t, "42", "Brown"))
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestPlaceOrder_FailedRequestReleasesKey(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 1})
	ctx := context.Background()

	_, err := f.orders.PlaceOrder(ctx, "req-1", checkout(line("42", "Brown", 2, 100, 100)))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.False(t, f.cache.hasKey(idempotencyKeyPrefix+"req-1"))

	_, err = f.orders.PlaceOrder(ctx, "req-1", checkout(line("42", "Brown", 1, 100, 100)))
	assert.NoError(t, err)
}

func TestPlaceOrder_RetriesOrderNumberCollision(t *testing.T) {
	var repo *collidingRepo
	f := newFixtureWithRepo(t, map[[2]string]int{{"42", "Brown"}: 5}, func(inner port.DatabaseRepository) port.DatabaseRepository {
		repo = &collidingRepo{DatabaseRepository: inner, collisions: 2}
		return repo
	})

	order, err := f.orders.PlaceOrder(context.Background(), "", checkout(line("42", "Brown", 1, 100, 100)))
	require.NoError(t, err)

	assert.EqualValues(t, 3, repo.attempts.Load())
	assert.Equal(t, repo.numbers[2], order.OrderNumber)
	assert.NotEqual(t, repo.numbers[0], repo.numbers[1])
}

func TestPlaceOrder_GivesUpAfterCollisions(t *testing.T) {
	f := newFixtureWithRepo(t, map[[2]string]int{{"42", "Brown"}: 5}, func(inner port.DatabaseRepository) port.DatabaseRepository {
		return &collidingRepo{DatabaseRepository: inner, collisions: orderNumberAttempts}
	})

	_, err := f.orders.PlaceOrder(context.Background(), "", checkout(line("42", "Brown", 1, 100, 100)))
	assert.ErrorIs(t, err, domain.ErrDuplicateOrderNumber)
	assert.Equal(t, 5, f.quantity(t, "42", "Brown"))
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 1})

	var successCount, shortageCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.PlaceOrder(context.Background(), "", checkout(line("42", "Brown", 1, 100, 100)))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortageCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successCount.Load())
	assert.EqualValues(t, 1, shortageCount.Load())
	assert.Equal(t, 0, f.quantity(t, "42", "Brown"))
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestPlaceOrder_Concurrent(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: initialStock})

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := f.orders.PlaceOrder(context.Background(), fmt.Sprintf("req-%d", id), checkout(line("42", "Brown", 1, 100, 100)))
			if err == nil {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, initialStock, successCount.Load())
	assert.Equal(t, 0, f.quantity(t, "42", "Brown"))
	assert.Equal(t, initialStock, f.store.OrderCount())
}

func TestCancelOrder_RestoresOnce(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5})
	ctx := context.Background()

	order, err := f.orders.PlaceOrder(ctx, "", checkout(line("42", "Brown", 1, 100, 100)))
	require.NoError(t, err)
	require.Equal(t, 4, f.quantity(t, "42", "Brown"))

	cancelled, err := f.orders.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.quantity(t, "42", "Brown"))

	_, err = f.orders.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, f.quantity(t, "42", "Brown"))
}

func TestUpdateStatus_ReturnRestocksAndResyncs(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 1})
	ctx := context.Background()

	order, err := f.orders.PlaceOrder(ctx, "", checkout(line("42", "Brown", 1, 100, 100)))
	require.NoError(t, err)
	require.False(t, f.inStock(t))

	for _, status := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		_, err := f.orders.UpdateStatus(ctx, order.ID, status)
		require.NoError(t, err)
		assert.Equal(t, 0, f.quantity(t, "42", "Brown"))
	}

	returned, err := f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusReturned)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReturned, returned.Status)
	assert.Equal(t, 1, f.quantity(t, "42", "Brown"))
	assert.True(t, f.inStock(t))

	// Moving between the two restocked statuses writes the status only.
	_, err = f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 1, f.quantity(t, "42", "Brown"))
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5})
	ctx := context.Background()

	order, err := f.orders.PlaceOrder(ctx, "", checkout(line("42", "Brown", 1, 100, 100)))
	require.NoError(t, err)

	_, err = f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatus("LOST"))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.orders.UpdateStatus(ctx, "missing", domain.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = f.orders.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPending)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTrackOrder(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 5})
	ctx := context.Background()

	order, err := f.orders.PlaceOrder(ctx, "", checkout(line("42", "Brown", 1, 100, 100)))
	require.NoError(t, err)

	tracked, err := f.orders.TrackOrder(ctx, " "+order.OrderNumber+" ")
	require.NoError(t, err)
	assert.Equal(t, order.ID, tracked.ID)
	require.Len(t, tracked.Lines, 1)

	_, err = f.orders.TrackOrder(ctx, "")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = f.orders.TrackOrder(ctx, "FL00000000")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestListOrders_NormalizesFilter(t *testing.T) {
	f := newFixture(t, map[[2]string]int{{"42", "Brown"}: 20})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := f.orders.PlaceOrder(ctx, "", checkout(line("42", "Brown", 1, 100, 100)))
		require.NoError(t, err)
	}

	orders, total, err := f.orders.ListOrders(ctx, domain.OrderFilter{Page: 0, Limit: 0})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	assert.Len(t, orders, 10)

	orders, _, err = f.orders.ListOrders(ctx, domain.OrderFilter{Page: 2})
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}
