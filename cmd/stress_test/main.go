package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/shoe-store/internal/adapter/storage"
	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/core/service"
	"github.com/rl1809/shoe-store/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
	size          = "42"
	color         = "Black"
)

type store interface {
	port.DatabaseRepository
	SaveProduct(ctx context.Context, product domain.Product) error
}

// Fires concurrent single-unit checkouts at one variant and checks that
// exactly initialStock of them succeed. Set MYSQL_DSN to run against MySQL
// instead of the in-memory store.
func main() {
	ctx := context.Background()
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	repo := openStore(ctx, log)
	productID := "stress-" + uuid.NewString()[:8]

	if err := repo.SaveProduct(ctx, domain.Product{
		ID:      productID,
		Name:    "Stress Runner",
		Sizes:   []string{size},
		Colors:  []string{color},
		InStock: true,
	}); err != nil {
		log.WithError(err).Fatal("failed to save product")
	}
	if _, err := repo.UpsertInventory(ctx, productID, []domain.VariantQuantity{
		{Size: size, Color: color, Quantity: initialStock},
	}); err != nil {
		log.WithError(err).Fatal("failed to set stock")
	}

	cache := storage.NopCache{}
	stock := service.NewStockSynchronizer(repo, repo, cache, 4, log)
	orders := service.NewOrderService(repo, service.NewStockValidator(repo), stock, cache, log)

	var successCount, shortageCount, errorCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(customer int) {
			defer wg.Done()

			_, err := orders.PlaceOrder(ctx, "", domain.CheckoutRequest{
				CustomerName:    fmt.Sprintf("Customer %d", customer),
				CustomerPhone:   fmt.Sprintf("090%07d", customer),
				DeliveryAddress: "1 Stress Street",
				DeliveryCity:    "Hanoi",
				Lines: []domain.CheckoutLine{{
					ProductID: productID,
					Size:      size,
					Color:     color,
					Quantity:  1,
					Price:     decimal.NewFromInt(100),
				}},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				shortageCount.Add(1)
			default:
				errorCount.Add(1)
				log.WithError(err).Error("unexpected checkout failure")
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	shortage := shortageCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", shortage)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success == initialStock && shortage == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, shortage)
		failed = true
	}

	remaining, err := repo.SumInventory(ctx, productID)
	if err != nil {
		log.WithError(err).Fatal("failed to read final stock")
	}
	fmt.Printf("Final Stock:      %d\n", remaining)
	if remaining == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", remaining)
		failed = true
	}

	if product, err := repo.GetProduct(ctx, productID); err == nil && !product.InStock {
		fmt.Println("PASS: Product marked out of stock")
	} else {
		fmt.Println("FAIL: Product still marked in stock")
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, log logrus.FieldLogger) store {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		return storage.NewMemoryAdapter()
	}

	dsn, err := storage.NormalizeDSN(dsn)
	if err != nil {
		log.WithError(err).Fatal("invalid MYSQL_DSN")
	}
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		log.WithError(err).Fatal("failed to connect mysql")
	}
	if err := storage.MigrateSchema(ctx, db); err != nil {
		log.WithError(err).Fatal("failed to migrate schema")
	}
	return storage.NewMySQLAdapter(db)
}
