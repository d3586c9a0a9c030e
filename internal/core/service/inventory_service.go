package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/port"
)

// InventoryUpdate is the outcome of an admin inventory edit: the written
// records and the product's freshly synchronized stock flag.
type InventoryUpdate struct {
	Items   []domain.InventoryRecord
	InStock bool
}

type StockMatrix struct {
	Product  domain.Product
	Variants map[string]map[string]domain.VariantStock
}

// InventoryService backs the admin inventory screens. Every mutation is
// followed by a stock-status sync before it reports success.
type InventoryService struct {
	inventory port.InventoryRepository
	products  port.ProductRepository
	cache     port.CacheRepository
	stock     *StockSynchronizer
	log       logrus.FieldLogger
}

func NewInventoryService(inventory port.InventoryRepository, products port.ProductRepository, cache port.CacheRepository, stock *StockSynchronizer, log logrus.FieldLogger) *InventoryService {
	return &InventoryService{
		inventory: inventory,
		products:  products,
		cache:     cache,
		stock:     stock,
		log:       log,
	}
}

func (s *InventoryService) ListInventory(ctx context.Context, productID string) ([]domain.InventoryRecord, error) {
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.inventory.ListInventory(ctx, productID)
}

func (s *InventoryService) SetInventory(ctx context.Context, productID string, items []domain.VariantQuantity) (InventoryUpdate, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return InventoryUpdate{}, err
	}

	updates := make([]domain.VariantQuantity, 0, len(items))
	for _, item := range items {
		if !product.Offers(item.Size, item.Color) {
			return InventoryUpdate{}, fmt.Errorf("%w: size %q, color %q", domain.ErrInvalidVariant, item.Size, item.Color)
		}
		item.Quantity = domain.ClampQuantity(item.Quantity)
		updates = append(updates, item)
	}

	return s.write(ctx, productID, updates)
}

// SetInventoryMatrix writes every size x color of the product; cells
// missing from matrix are set to zero.
func (s *InventoryService) SetInventoryMatrix(ctx context.Context, productID string, matrix map[string]map[string]int) (InventoryUpdate, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return InventoryUpdate{}, err
	}

	updates := make([]domain.VariantQuantity, 0, len(product.Sizes)*len(product.Colors))
	for _, size := range product.Sizes {
		for _, color := range product.Colors {
			updates = append(updates, domain.VariantQuantity{
				Size:     size,
				Color:    color,
				Quantity: domain.ClampQuantity(matrix[size][color]),
			})
		}
	}

	return s.write(ctx, productID, updates)
}

func (s *InventoryService) write(ctx context.Context, productID string, updates []domain.VariantQuantity) (InventoryUpdate, error) {
	records, err := s.inventory.UpsertInventory(ctx, productID, updates)
	if err != nil {
		return InventoryUpdate{}, fmt.Errorf("upsert inventory: %w", err)
	}

	inStock, err := s.stock.SyncProduct(ctx, productID)
	if err != nil {
		return InventoryUpdate{}, fmt.Errorf("sync stock status: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"product_id": productID,
		"variants":   len(records),
		"in_stock":   inStock,
	}).Info("inventory updated")

	return InventoryUpdate{Items: records, InStock: inStock}, nil
}

func (s *InventoryService) DeleteInventory(ctx context.Context, inventoryID string) (InventoryUpdate, error) {
	record, err := s.inventory.DeleteInventory(ctx, inventoryID)
	if err != nil {
		return InventoryUpdate{}, err
	}

	inStock, err := s.stock.SyncProduct(ctx, record.ProductID)
	if err != nil {
		return InventoryUpdate{}, fmt.Errorf("sync stock status: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"product_id":   record.ProductID,
		"inventory_id": inventoryID,
		"in_stock":     inStock,
	}).Info("inventory item deleted")

	return InventoryUpdate{Items: []domain.InventoryRecord{record}, InStock: inStock}, nil
}

func (s *InventoryService) VariantStock(ctx context.Context, productID, size, color string) (domain.VariantStock, error) {
	if _, err := s.products.GetProduct(ctx, productID); err != nil {
		return domain.VariantStock{}, err
	}
	record, err := s.inventory.FindInventory(ctx, domain.Variant{ProductID: productID, Size: size, Color: color})
	if err != nil {
		return domain.VariantStock{}, err
	}
	if record == nil {
		return domain.NewVariantStock(0), nil
	}
	return domain.NewVariantStock(record.Quantity), nil
}

// StockMatrix lays out every offered size x color; combinations without
// an inventory record read as zero.
func (s *InventoryService) StockMatrix(ctx context.Context, productID string) (StockMatrix, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return StockMatrix{}, err
	}
	records, err := s.inventory.ListInventory(ctx, productID)
	if err != nil {
		return StockMatrix{}, err
	}

	variants := make(map[string]map[string]domain.VariantStock, len(product.Sizes))
	for _, size := range product.Sizes {
		variants[size] = make(map[string]domain.VariantStock, len(product.Colors))
		for _, color := range product.Colors {
			variants[size][color] = domain.NewVariantStock(0)
		}
	}
	for _, record := range records {
		if row, ok := variants[record.Size]; ok {
			if _, ok := row[record.Color]; ok {
				row[record.Color] = domain.NewVariantStock(record.Quantity)
			}
		}
	}

	return StockMatrix{Product: *product, Variants: variants}, nil
}

// StockStatuses reads the derived flags for display, preferring the cache.
// Unknown product ids are left out of the result.
func (s *InventoryService) StockStatuses(ctx context.Context, productIDs []string) (map[string]bool, error) {
	productIDs = domain.DistinctProductIDs(productIDs)

	statuses, err := s.cache.GetStockStatuses(ctx, productIDs)
	if err != nil {
		s.log.WithError(err).Warn("stock status cache unavailable")
		statuses = nil
	}
	if statuses == nil {
		statuses = make(map[string]bool, len(productIDs))
	}

	var missing []string
	for _, id := range productIDs {
		if _, ok := statuses[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return statuses, nil
	}

	products, err := s.products.GetProducts(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	for _, product := range products {
		statuses[product.ID] = product.InStock
		if err := s.cache.SetStockStatus(ctx, product.ID, product.InStock); err != nil {
			s.log.WithError(err).WithField("product_id", product.ID).Debug("failed to cache stock status")
		}
	}
	return statuses, nil
}
