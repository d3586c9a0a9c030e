package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/port"
)

// MemoryAdapter keeps the whole store behind one mutex, so every method is
// a serializable transaction. It backs local runs without MySQL and tests.
type MemoryAdapter struct {
	mu           sync.Mutex
	products     map[string]domain.Product
	inventory    map[string]domain.InventoryRecord
	byVariant    map[domain.Variant]string
	customers    map[string]domain.Customer
	orders       map[string]domain.Order
	orderNumbers map[string]string
	now          func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		products:     make(map[string]domain.Product),
		inventory:    make(map[string]domain.InventoryRecord),
		byVariant:    make(map[domain.Variant]string),
		customers:    make(map[string]domain.Customer),
		orders:       make(map[string]domain.Order),
		orderNumbers: make(map[string]string),
		now:          time.Now,
	}
}

// SaveProduct inserts or replaces a catalog entry.
func (m *MemoryAdapter) SaveProduct(ctx context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.products[product.ID]; ok {
		product.InStock = existing.InStock
	}
	product.UpdatedAt = m.now()
	m.products[product.ID] = product
	return nil
}

func (m *MemoryAdapter) FindInventory(ctx context.Context, variant domain.Variant) (*domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byVariant[variant]
	if !ok {
		return nil, nil
	}
	record := m.inventory[id]
	return &record, nil
}

func (m *MemoryAdapter) ListInventory(ctx context.Context, productID string) ([]domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []domain.InventoryRecord
	for _, record := range m.inventory {
		if record.ProductID == productID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Size != records[j].Size {
			return records[i].Size < records[j].Size
		}
		return records[i].Color < records[j].Color
	})
	return records, nil
}

func (m *MemoryAdapter) SumInventory(ctx context.Context, productID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, record := range m.inventory {
		if record.ProductID == productID {
			total += record.Quantity
		}
	}
	return total, nil
}

func (m *MemoryAdapter) UpsertInventory(ctx context.Context, productID string, items []domain.VariantQuantity) ([]domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	records := make([]domain.InventoryRecord, 0, len(items))
	for _, item := range items {
		variant := domain.Variant{ProductID: productID, Size: item.Size, Color: item.Color}
		quantity := domain.ClampQuantity(item.Quantity)

		if id, ok := m.byVariant[variant]; ok {
			record := m.inventory[id]
			record.Quantity = quantity
			record.UpdatedAt = now
			m.inventory[id] = record
			records = append(records, record)
			continue
		}

		record := domain.InventoryRecord{
			ID:        uuid.NewString(),
			ProductID: productID,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  quantity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.inventory[record.ID] = record
		m.byVariant[variant] = record.ID
		records = append(records, record)
	}
	return records, nil
}

func (m *MemoryAdapter) DeleteInventory(ctx context.Context, inventoryID string) (domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.inventory[inventoryID]
	if !ok {
		return domain.InventoryRecord{}, domain.ErrInventoryNotFound
	}
	variant := record.Variant()
	for _, order := range m.orders {
		for _, line := range order.Lines {
			if line.Variant() == variant {
				return domain.InventoryRecord{}, domain.ErrInventoryInUse
			}
		}
	}

	delete(m.inventory, inventoryID)
	delete(m.byVariant, variant)
	return record, nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	product, ok := m.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &product, nil
}

func (m *MemoryAdapter) GetProducts(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		if product, ok := m.products[id]; ok {
			products = append(products, product)
		}
	}
	return products, nil
}

func (m *MemoryAdapter) ListProductIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryAdapter) SetProductInStock(ctx context.Context, productID string, inStock bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	product, ok := m.products[productID]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	if product.InStock == inStock {
		return false, nil
	}
	product.InStock = inStock
	product.UpdatedAt = m.now()
	m.products[productID] = product
	return true, nil
}

func (m *MemoryAdapter) PlaceOrder(ctx context.Context, plan domain.DecrementPlan, order domain.Order, customer domain.Customer) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check the whole plan before touching anything so a failure leaves no trace.
	var shortages []domain.StockShortage
	pending := make(map[string]int, len(plan))
	for _, d := range plan {
		record, ok := m.inventory[d.InventoryID]
		if !ok {
			shortages = append(shortages, shortageFor(d, 0, domain.ReasonVariantNotFound))
			continue
		}
		available := record.Quantity - pending[d.InventoryID]
		if available < d.Requested {
			shortages = append(shortages, shortageFor(d, available, domain.ReasonInsufficientStock))
			continue
		}
		pending[d.InventoryID] += d.Requested
	}
	if len(shortages) > 0 {
		return domain.Order{}, &domain.InsufficientStockError{Items: shortages, Conflict: true}
	}
	if _, taken := m.orderNumbers[order.OrderNumber]; taken {
		return domain.Order{}, domain.ErrDuplicateOrderNumber
	}

	now := m.now()
	for id, quantity := range pending {
		record := m.inventory[id]
		record.Quantity -= quantity
		record.UpdatedAt = now
		m.inventory[id] = record
	}

	existing, ok := m.customers[customer.Phone]
	if !ok {
		m.customers[customer.Phone] = customer
		existing = customer
	}
	order.CustomerID = existing.ID

	stored := cloneOrder(order)
	m.orders[order.ID] = stored
	m.orderNumbers[order.OrderNumber] = order.ID
	return cloneOrder(stored), nil
}

func (m *MemoryAdapter) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (m *MemoryAdapter) GetOrderByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.orderNumbers[orderNumber]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filter = filter.Normalize()
	var matched []domain.Order
	for _, order := range m.orders {
		if filter.Matches(order) {
			matched = append(matched, order)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].OrderNumber > matched[j].OrderNumber
	})

	total := len(matched)
	start := min(filter.Offset(), total)
	end := min(start+filter.Limit, total)
	page := make([]domain.Order, 0, end-start)
	for _, order := range matched[start:end] {
		page = append(page, cloneOrder(order))
	}
	return page, total, nil
}

func (m *MemoryAdapter) TransitionStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, false, domain.ErrOrderNotFound
	}
	if err := domain.CheckTransition(order.Status, status); err != nil {
		return domain.Order{}, false, err
	}

	now := m.now()
	restock := domain.RestocksOn(order.Status, status)
	if restock {
		for _, line := range order.Lines {
			id, ok := m.byVariant[line.Variant()]
			if !ok {
				continue
			}
			record := m.inventory[id]
			record.Quantity += line.Quantity
			record.UpdatedAt = now
			m.inventory[id] = record
		}
	}

	order.Status = status
	order.UpdatedAt = now
	m.orders[orderID] = order
	return cloneOrder(order), restock, nil
}

// CustomerByPhone exposes stored customers for inspection.
func (m *MemoryAdapter) CustomerByPhone(phone string) (domain.Customer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	customer, ok := m.customers[phone]
	return customer, ok
}

// OrderCount reports how many orders have been stored.
func (m *MemoryAdapter) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.orders)
}

func shortageFor(d domain.Decrement, available int, reason string) domain.StockShortage {
	return domain.StockShortage{
		ProductID: d.Variant.ProductID,
		Size:      d.Variant.Size,
		Color:     d.Variant.Color,
		Requested: d.Requested,
		Available: available,
		Reason:    reason,
	}
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return order
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)
