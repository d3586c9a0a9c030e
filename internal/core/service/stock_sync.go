package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/port"
)

const defaultSyncConcurrency = 4

// SyncReport collects per-product outcomes of a batch synchronization.
type SyncReport struct {
	Results  map[string]bool
	Failures map[string]error
}

func (r SyncReport) InStockCount() int {
	n := 0
	for _, inStock := range r.Results {
		if inStock {
			n++
		}
	}
	return n
}

func (r SyncReport) OutOfStockCount() int {
	return len(r.Results) - r.InStockCount()
}

// StockSynchronizer keeps Product.InStock equal to "inventory sum > 0".
// It runs outside any order transaction; a stale flag heals on the next call.
type StockSynchronizer struct {
	inventory   port.InventoryRepository
	products    port.ProductRepository
	cache       port.CacheRepository
	concurrency int
	log         logrus.FieldLogger
}

func NewStockSynchronizer(inventory port.InventoryRepository, products port.ProductRepository, cache port.CacheRepository, concurrency int, log logrus.FieldLogger) *StockSynchronizer {
	if concurrency <= 0 {
		concurrency = defaultSyncConcurrency
	}
	return &StockSynchronizer{
		inventory:   inventory,
		products:    products,
		cache:       cache,
		concurrency: concurrency,
		log:         log,
	}
}

func (s *StockSynchronizer) SyncProduct(ctx context.Context, productID string) (bool, error) {
	total, err := s.inventory.SumInventory(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("sum inventory: %w", err)
	}

	inStock := domain.InStockFor(total)
	changed, err := s.products.SetProductInStock(ctx, productID, inStock)
	if err != nil {
		return false, fmt.Errorf("update product: %w", err)
	}

	if err := s.cache.SetStockStatus(ctx, productID, inStock); err != nil {
		s.log.WithError(err).WithField("product_id", productID).Warn("failed to cache stock status")
	}

	s.log.WithFields(logrus.Fields{
		"product_id":      productID,
		"in_stock":        inStock,
		"total_inventory": total,
		"changed":         changed,
	}).Debug("synced stock status")

	return inStock, nil
}

// SyncProducts synchronizes each distinct product independently; one
// product failing never stops the others.
func (s *StockSynchronizer) SyncProducts(ctx context.Context, productIDs []string) SyncReport {
	report := SyncReport{
		Results:  make(map[string]bool),
		Failures: make(map[string]error),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, productID := range domain.DistinctProductIDs(productIDs) {
		productID := productID
		g.Go(func() error {
			inStock, err := s.SyncProduct(ctx, productID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.WithError(err).WithField("product_id", productID).Error("failed to sync stock status")
				report.Failures[productID] = err
				return nil
			}
			report.Results[productID] = inStock
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (s *StockSynchronizer) SyncAll(ctx context.Context) (SyncReport, error) {
	productIDs, err := s.products.ListProductIDs(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("list products: %w", err)
	}
	return s.SyncProducts(ctx, productIDs), nil
}

// Run reconciles every product on each tick until ctx is done.
func (s *StockSynchronizer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.SyncAll(ctx)
			if err != nil {
				s.log.WithError(err).Error("stock reconciliation failed")
				continue
			}
			s.log.WithFields(logrus.Fields{
				"synced":   len(report.Results),
				"failed":   len(report.Failures),
				"in_stock": report.InStockCount(),
			}).Info("stock reconciliation finished")
		}
	}
}
