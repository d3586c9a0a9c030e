package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/shoe-store/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/shoestore"
	}
	dsn, err := NormalizeDSN(dsn)
	require.NoError(t, err)

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	require.NoError(t, MigrateSchema(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

// seedMySQL creates a product with a fresh id so tests never share rows.
func seedMySQL(t *testing.T, adapter *MySQLAdapter, quantity int) (string, domain.InventoryRecord) {
	t.Helper()
	ctx := context.Background()
	productID := "test-" + uuid.NewString()[:8]

	require.NoError(t, adapter.SaveProduct(ctx, domain.Product{
		ID:     productID,
		Name:   "Runner",
		Sizes:  []string{"42"},
		Colors: []string{"Black"},
	}))
	records, err := adapter.UpsertInventory(ctx, productID, []domain.VariantQuantity{
		{Size: "42", Color: "Black", Quantity: quantity},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	return productID, records[0]
}

func mysqlPlan(productID string, record domain.InventoryRecord, quantity int) domain.DecrementPlan {
	return domain.DecrementPlan{{
		InventoryID: record.ID,
		Variant:     domain.Variant{ProductID: productID, Size: "42", Color: "Black"},
		Requested:   quantity,
		Remaining:   record.Quantity - quantity,
	}}
}

func uniqueOrderNumber() string {
	return "T" + uuid.NewString()[:12]
}

func TestMySQLPlaceOrder_Success(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, record := seedMySQL(t, adapter, 10)

	order := testOrder(uniqueOrderNumber(), productID, "42", "Black", 3)
	placed, err := adapter.PlaceOrder(ctx, mysqlPlan(productID, record, 3), order, testCustomer("09"+uuid.NewString()[:8]))
	require.NoError(t, err)

	got, err := adapter.GetOrder(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, got.OrderNumber)
	assert.Equal(t, placed.CustomerID, got.CustomerID)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 3, got.Lines[0].Quantity)
	assert.True(t, order.TotalAmount.Equal(got.TotalAmount))

	total, err := adapter.SumInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
}

func TestMySQLPlaceOrder_InsufficientStock(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, record := seedMySQL(t, adapter, 2)

	_, err := adapter.PlaceOrder(ctx, mysqlPlan(productID, record, 3),
		testOrder(uniqueOrderNumber(), productID, "42", "Black", 3), testCustomer("09"+uuid.NewString()[:8]))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Items, 1)
	assert.Equal(t, 2, stockErr.Items[0].Available)

	total, err := adapter.SumInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestMySQLPlaceOrder_DuplicateOrderNumber(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, record := seedMySQL(t, adapter, 5)
	number := uniqueOrderNumber()

	_, err := adapter.PlaceOrder(ctx, mysqlPlan(productID, record, 1),
		testOrder(number, productID, "42", "Black", 1), testCustomer("09"+uuid.NewString()[:8]))
	require.NoError(t, err)

	_, err = adapter.PlaceOrder(ctx, mysqlPlan(productID, record, 1),
		testOrder(number, productID, "42", "Black", 1), testCustomer("09"+uuid.NewString()[:8]))
	require.ErrorIs(t, err, domain.ErrDuplicateOrderNumber)

	total, err := adapter.SumInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestMySQLPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, record := seedMySQL(t, adapter, 1)
	plan := mysqlPlan(productID, record, 1)

	var success, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order := testOrder(uniqueOrderNumber(), productID, "42", "Black", 1)
			_, err := adapter.PlaceOrder(ctx, plan, order, testCustomer("09"+uuid.NewString()[:8]))
			if err == nil {
				success.Add(1)
			} else if assert.ErrorIs(t, err, domain.ErrInsufficientStock) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(9), conflicts.Load())

	total, err := adapter.SumInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestMySQLTransitionStatus_ConcurrentCancelRestocksOnce(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, record := seedMySQL(t, adapter, 4)

	order, err := adapter.PlaceOrder(ctx, mysqlPlan(productID, record, 2),
		testOrder(uniqueOrderNumber(), productID, "42", "Black", 2), testCustomer("09"+uuid.NewString()[:8]))
	require.NoError(t, err)

	var restocks atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, restored, err := adapter.TransitionStatus(ctx, order.ID, domain.OrderStatusCancelled)
			if assert.NoError(t, err) && restored {
				restocks.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), restocks.Load())
	total, err := adapter.SumInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	got, err := adapter.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}

func TestMySQLDeleteInventory_InUse(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, record := seedMySQL(t, adapter, 4)

	_, err := adapter.PlaceOrder(ctx, mysqlPlan(productID, record, 1),
		testOrder(uniqueOrderNumber(), productID, "42", "Black", 1), testCustomer("09"+uuid.NewString()[:8]))
	require.NoError(t, err)

	_, err = adapter.DeleteInventory(ctx, record.ID)
	assert.ErrorIs(t, err, domain.ErrInventoryInUse)
}

func TestMySQLProducts(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, _ := seedMySQL(t, adapter, 1)

	changed, err := adapter.SetProductInStock(ctx, productID, true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = adapter.SetProductInStock(ctx, productID, true)
	require.NoError(t, err)
	assert.False(t, changed)

	products, err := adapter.GetProducts(ctx, []string{productID, "missing-" + time.Now().Format("150405")})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.True(t, products[0].InStock)
	assert.Equal(t, []string{"42"}, products[0].Sizes)

	_, err = adapter.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
	}{
		{name: "plain", dsn: "shop:pw@tcp(db:3306)/shop"},
		{name: "parse time disabled", dsn: "shop:pw@tcp(db:3306)/shop?parseTime=false&timeout=5s"},
		{name: "already set", dsn: "shop:pw@tcp(db:3306)/shop?parseTime=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			normalized, err := NormalizeDSN(tt.dsn)
			require.NoError(t, err)

			cfg, err := mysql.ParseDSN(normalized)
			require.NoError(t, err)
			assert.True(t, cfg.ParseTime)
			assert.Equal(t, "shop", cfg.DBName)
			assert.Equal(t, "db:3306", cfg.Addr)
		})
	}

	_, err := NormalizeDSN("not a dsn")
	assert.Error(t, err)
}

func TestLockOrder_MergesAndSorts(t *testing.T) {
	plan := domain.DecrementPlan{
		{InventoryID: "inv-b", Requested: 1, Remaining: 4},
		{InventoryID: "inv-a", Requested: 2, Remaining: 8},
		{InventoryID: "inv-b", Requested: 3, Remaining: 1},
	}

	ordered := lockOrder(plan)

	require.Len(t, ordered, 2)
	assert.Equal(t, "inv-a", ordered[0].InventoryID)
	assert.Equal(t, 2, ordered[0].Requested)
	assert.Equal(t, "inv-b", ordered[1].InventoryID)
	assert.Equal(t, 4, ordered[1].Requested)
	assert.Equal(t, 1, ordered[1].Remaining)
	assert.Equal(t, "inv-b", plan[0].InventoryID, "input plan is left untouched")
	assert.Equal(t, 1, plan[0].Requested)
}

func TestContainsPattern_EscapesWildcards(t *testing.T) {
	assert.Equal(t, `%da nang%`, containsPattern("da nang"))
	assert.Equal(t, `%50\% off\_x%`, containsPattern(`50% off_x`))
	assert.Equal(t, `%a\\b%`, containsPattern(`a\b`))
}

func TestMySQLAdapter_RoundTripsTimestamps(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, record := seedMySQL(t, adapter, 3)

	placed, err := adapter.PlaceOrder(ctx, mysqlPlan(productID, record, 1),
		testOrder(uniqueOrderNumber(), productID, "42", "Black", 1), testCustomer("09"+uuid.NewString()[:8]))
	require.NoError(t, err)

	got, err := adapter.GetOrderByNumber(ctx, placed.OrderNumber)
	require.NoError(t, err)
	assert.WithinDuration(t, placed.CreatedAt, got.CreatedAt, time.Second)

	records, err := adapter.ListInventory(ctx, productID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].UpdatedAt.IsZero())

	_, restored, err := adapter.TransitionStatus(ctx, placed.ID, domain.OrderStatusCancelled)
	require.NoError(t, err)
	assert.True(t, restored)
}

func TestMySQLPlaceOrder_CrossedLinesDoNotDeadlock(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID := "test-" + uuid.NewString()[:8]

	require.NoError(t, adapter.SaveProduct(ctx, domain.Product{
		ID:     productID,
		Name:   "Runner",
		Sizes:  []string{"42", "43"},
		Colors: []string{"Black"},
	}))
	records, err := adapter.UpsertInventory(ctx, productID, []domain.VariantQuantity{
		{Size: "42", Color: "Black", Quantity: 50},
		{Size: "43", Color: "Black", Quantity: 50},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	decrement := func(r domain.InventoryRecord) domain.Decrement {
		return domain.Decrement{
			InventoryID: r.ID,
			Variant:     domain.Variant{ProductID: productID, Size: r.Size, Color: r.Color},
			Requested:   1,
			Remaining:   r.Quantity - 1,
		}
	}
	forward := domain.DecrementPlan{decrement(records[0]), decrement(records[1])}
	backward := domain.DecrementPlan{decrement(records[1]), decrement(records[0])}

	const orders = 20
	var wg sync.WaitGroup
	errs := make(chan error, orders)
	for i := 0; i < orders; i++ {
		plan := forward
		if i%2 == 1 {
			plan = backward
		}
		wg.Add(1)
		go func(plan domain.DecrementPlan) {
			defer wg.Done()
			order := testOrder(uniqueOrderNumber(), productID, plan[0].Variant.Size, "Black", 1)
			second := order.Lines[0]
			second.ID = uuid.NewString()
			second.Size = plan[1].Variant.Size
			order.Lines = append(order.Lines, second)
			_, err := adapter.PlaceOrder(ctx, plan, order, testCustomer("09"+uuid.NewString()[:8]))
			errs <- err
		}(plan)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	total, err := adapter.SumInventory(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 100-2*orders, total)
}

func TestMySQLListOrders_QueryIsLiteral(t *testing.T) {
	db := getMySQLDB(t)
	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	productID, record := seedMySQL(t, adapter, 4)
	token := uuid.NewString()[:8]

	for _, city := range []string{"Zone%" + token, "ZoneX" + token} {
		order := testOrder(uniqueOrderNumber(), productID, "42", "Black", 1)
		order.DeliveryCity = city
		_, err := adapter.PlaceOrder(ctx, mysqlPlan(productID, record, 1), order, testCustomer("09"+uuid.NewString()[:8]))
		require.NoError(t, err)
	}

	page, total, err := adapter.ListOrders(ctx, domain.OrderFilter{Query: "e%" + token})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "Zone%"+token, page[0].DeliveryCity)

	_, total, err = adapter.ListOrders(ctx, domain.OrderFilter{Query: "zone_" + token})
	require.NoError(t, err)
	assert.Zero(t, total)
}
