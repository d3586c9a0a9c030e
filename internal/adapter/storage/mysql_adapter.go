package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rl1809/shoe-store/internal/core/domain"
	"github.com/rl1809/shoe-store/internal/port"
)

type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	if db == nil {
		panic("db is nil")
	}
	return &MySQLAdapter{db: db}
}

// NormalizeDSN forces the driver options the adapter relies on. DATETIME
// columns are scanned into time.Time, which needs parseTime.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// stringList is stored as a JSON array column.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan string list: unsupported type %T", src)
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

type productRow struct {
	ID        string     `db:"id"`
	Name      string     `db:"name"`
	Sizes     stringList `db:"sizes"`
	Colors    stringList `db:"colors"`
	InStock   bool       `db:"in_stock"`
	UpdatedAt time.Time  `db:"updated_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:        r.ID,
		Name:      r.Name,
		Sizes:     r.Sizes,
		Colors:    r.Colors,
		InStock:   r.InStock,
		UpdatedAt: r.UpdatedAt,
	}
}

type inventoryRow struct {
	ID        string    `db:"id"`
	ProductID string    `db:"product_id"`
	Size      string    `db:"size"`
	Color     string    `db:"color"`
	Quantity  int       `db:"quantity"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r inventoryRow) toDomain() domain.InventoryRecord {
	return domain.InventoryRecord(r)
}

type customerRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Phone     string    `db:"phone"`
	Address   string    `db:"address"`
	City      string    `db:"city"`
	CreatedAt time.Time `db:"created_at"`
}

type orderRow struct {
	ID              string          `db:"id"`
	OrderNumber     string          `db:"order_number"`
	CustomerID      string          `db:"customer_id"`
	CustomerName    string          `db:"customer_name"`
	CustomerPhone   string          `db:"customer_phone"`
	DeliveryAddress string          `db:"delivery_address"`
	DeliveryCity    string          `db:"delivery_city"`
	Notes           sql.NullString  `db:"notes"`
	TotalAmount     decimal.Decimal `db:"total_amount"`
	Status          string          `db:"status"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func newOrderRow(o domain.Order) orderRow {
	return orderRow{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		CustomerName:    o.CustomerName,
		CustomerPhone:   o.CustomerPhone,
		DeliveryAddress: o.DeliveryAddress,
		DeliveryCity:    o.DeliveryCity,
		Notes:           sql.NullString{String: o.Notes, Valid: o.Notes != ""},
		TotalAmount:     o.TotalAmount,
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func (r orderRow) toDomain(lines []orderItemRow) domain.Order {
	order := domain.Order{
		ID:              r.ID,
		OrderNumber:     r.OrderNumber,
		CustomerID:      r.CustomerID,
		CustomerName:    r.CustomerName,
		CustomerPhone:   r.CustomerPhone,
		DeliveryAddress: r.DeliveryAddress,
		DeliveryCity:    r.DeliveryCity,
		Notes:           r.Notes.String,
		TotalAmount:     r.TotalAmount,
		Status:          domain.OrderStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	order.Lines = make([]domain.OrderLine, len(lines))
	for i, l := range lines {
		order.Lines[i] = domain.OrderLine(l)
	}
	return order
}

type orderItemRow struct {
	ID              string          `db:"id"`
	OrderID         string          `db:"order_id"`
	ProductID       string          `db:"product_id"`
	Size            string          `db:"size"`
	Color           string          `db:"color"`
	Quantity        int             `db:"quantity"`
	Price           decimal.Decimal `db:"price"`
	DiscountAmount  decimal.Decimal `db:"discount_amount"`
	DiscountedPrice decimal.Decimal `db:"discounted_price"`
}

const (
	selectProduct   = `SELECT id, name, sizes, colors, in_stock, updated_at FROM products`
	selectInventory = `SELECT id, product_id, size, color, quantity, created_at, updated_at FROM inventory_items`
	selectOrder     = `SELECT id, order_number, customer_id, customer_name, customer_phone, delivery_address,
		delivery_city, notes, total_amount, status, created_at, updated_at FROM orders`
	selectOrderItems = `SELECT id, order_id, product_id, size, color, quantity, price, discount_amount,
		discounted_price FROM order_items WHERE order_id = ? ORDER BY id`
)

// SaveProduct inserts or updates a catalog entry, leaving in_stock to the
// stock synchronizer.
func (m *MySQLAdapter) SaveProduct(ctx context.Context, product domain.Product) error {
	_, err := m.db.NamedExecContext(ctx, `
		INSERT INTO products (id, name, sizes, colors, in_stock, updated_at)
		VALUES (:id, :name, :sizes, :colors, :in_stock, NOW(3))
		ON DUPLICATE KEY UPDATE name = VALUES(name), sizes = VALUES(sizes), colors = VALUES(colors), updated_at = NOW(3)`,
		productRow{
			ID:      product.ID,
			Name:    product.Name,
			Sizes:   product.Sizes,
			Colors:  product.Colors,
			InStock: product.InStock,
		})
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) FindInventory(ctx context.Context, variant domain.Variant) (*domain.InventoryRecord, error) {
	var row inventoryRow
	err := m.db.GetContext(ctx, &row, selectInventory+` WHERE product_id = ? AND size = ? AND color = ?`,
		variant.ProductID, variant.Size, variant.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	record := row.toDomain()
	return &record, nil
}

func (m *MySQLAdapter) ListInventory(ctx context.Context, productID string) ([]domain.InventoryRecord, error) {
	var rows []inventoryRow
	err := m.db.SelectContext(ctx, &rows, selectInventory+` WHERE product_id = ? ORDER BY size, color`, productID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	records := make([]domain.InventoryRecord, len(rows))
	for i, row := range rows {
		records[i] = row.toDomain()
	}
	return records, nil
}

func (m *MySQLAdapter) SumInventory(ctx context.Context, productID string) (int, error) {
	var total int
	err := m.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(quantity), 0) FROM inventory_items WHERE product_id = ?`, productID)
	if err != nil {
		return 0, fmt.Errorf("sum inventory: %w", err)
	}
	return total, nil
}

func (m *MySQLAdapter) UpsertInventory(ctx context.Context, productID string, items []domain.VariantQuantity) ([]domain.InventoryRecord, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_items (id, product_id, size, color, quantity, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, NOW(3), NOW(3))
			ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), updated_at = NOW(3)`,
			uuid.NewString(), productID, item.Size, item.Color, domain.ClampQuantity(item.Quantity))
		if err != nil {
			return nil, fmt.Errorf("upsert inventory: %w", err)
		}
	}

	records := make([]domain.InventoryRecord, 0, len(items))
	for _, item := range items {
		var row inventoryRow
		err = tx.GetContext(ctx, &row, selectInventory+` WHERE product_id = ? AND size = ? AND color = ?`,
			productID, item.Size, item.Color)
		if err != nil {
			return nil, fmt.Errorf("read inventory: %w", err)
		}
		records = append(records, row.toDomain())
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return records, nil
}

func (m *MySQLAdapter) DeleteInventory(ctx context.Context, inventoryID string) (domain.InventoryRecord, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var row inventoryRow
	err = tx.GetContext(ctx, &row, selectInventory+` WHERE id = ? FOR UPDATE`, inventoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryRecord{}, domain.ErrInventoryNotFound
	}
	if err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("query inventory: %w", err)
	}

	var referenced bool
	err = tx.GetContext(ctx, &referenced, `
		SELECT EXISTS(SELECT 1 FROM order_items WHERE product_id = ? AND size = ? AND color = ?)`,
		row.ProductID, row.Size, row.Color)
	if err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("check order references: %w", err)
	}
	if referenced {
		return domain.InventoryRecord{}, domain.ErrInventoryInUse
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = ?`, inventoryID); err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("delete inventory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.InventoryRecord{}, fmt.Errorf("commit: %w", err)
	}
	return row.toDomain(), nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var row productRow
	err := m.db.GetContext(ctx, &row, selectProduct+` WHERE id = ?`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	product := row.toDomain()
	return &product, nil
}

func (m *MySQLAdapter) GetProducts(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(selectProduct+` WHERE id IN (?)`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("build products query: %w", err)
	}
	var rows []productRow
	if err := m.db.SelectContext(ctx, &rows, m.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	products := make([]domain.Product, len(rows))
	for i, row := range rows {
		products[i] = row.toDomain()
	}
	return products, nil
}

func (m *MySQLAdapter) ListProductIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := m.db.SelectContext(ctx, &ids, `SELECT id FROM products ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return ids, nil
}

func (m *MySQLAdapter) SetProductInStock(ctx context.Context, productID string, inStock bool) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE products SET in_stock = ?, updated_at = NOW(3)
		WHERE id = ? AND in_stock <> ?`,
		inStock, productID, inStock)
	if err != nil {
		return false, fmt.Errorf("update product stock flag: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return true, nil
	}

	var exists bool
	if err := m.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM products WHERE id = ?)`, productID); err != nil {
		return false, fmt.Errorf("query product: %w", err)
	}
	if !exists {
		return false, domain.ErrProductNotFound
	}
	return false, nil
}

// PlaceOrder applies the decrement plan, upserts the customer and writes the
// order with its lines in one transaction. Each decrement is conditional on
// the row still holding enough stock, so concurrent checkouts for the last
// units cannot both succeed.
func (m *MySQLAdapter) PlaceOrder(ctx context.Context, plan domain.DecrementPlan, order domain.Order, customer domain.Customer) (domain.Order, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var shortages []domain.StockShortage
	for _, d := range lockOrder(plan) {
		result, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET quantity = quantity - ?, updated_at = NOW(3)
			WHERE id = ? AND quantity >= ?`,
			d.Requested, d.InventoryID, d.Requested)
		if err != nil {
			return domain.Order{}, fmt.Errorf("decrement inventory: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 1 {
			continue
		}
		shortage, err := currentShortage(ctx, tx, d)
		if err != nil {
			return domain.Order{}, err
		}
		shortages = append(shortages, shortage)
	}
	if len(shortages) > 0 {
		return domain.Order{}, &domain.InsufficientStockError{Items: shortages, Conflict: true}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO customers (id, name, email, phone, address, city, created_at)
		VALUES (:id, :name, :email, :phone, :address, :city, :created_at)
		ON DUPLICATE KEY UPDATE phone = phone`,
		customerRow(customer))
	if err != nil {
		return domain.Order{}, fmt.Errorf("upsert customer: %w", err)
	}
	if err := tx.GetContext(ctx, &order.CustomerID, `SELECT id FROM customers WHERE phone = ?`, customer.Phone); err != nil {
		return domain.Order{}, fmt.Errorf("query customer: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO orders (id, order_number, customer_id, customer_name, customer_phone, delivery_address,
			delivery_city, notes, total_amount, status, created_at, updated_at)
		VALUES (:id, :order_number, :customer_id, :customer_name, :customer_phone, :delivery_address,
			:delivery_city, :notes, :total_amount, :status, :created_at, :updated_at)`,
		newOrderRow(order))
	if isErrorDuplicateEntry(err) {
		return domain.Order{}, domain.ErrDuplicateOrderNumber
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	if len(order.Lines) > 0 {
		items := make([]orderItemRow, len(order.Lines))
		for i, line := range order.Lines {
			items[i] = orderItemRow(line)
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, size, color, quantity, price, discount_amount, discounted_price)
			VALUES (:id, :order_id, :product_id, :size, :color, :quantity, :price, :discount_amount, :discounted_price)`,
			items)
		if err != nil {
			return domain.Order{}, fmt.Errorf("insert order items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit: %w", err)
	}
	return order, nil
}

// lockOrder merges repeated variants and sorts by inventory id so every
// transaction takes row locks in the same order.
func lockOrder(plan domain.DecrementPlan) domain.DecrementPlan {
	merged := make(domain.DecrementPlan, 0, len(plan))
	index := make(map[string]int, len(plan))
	for _, d := range plan {
		if i, ok := index[d.InventoryID]; ok {
			merged[i].Requested += d.Requested
			if d.Remaining < merged[i].Remaining {
				merged[i].Remaining = d.Remaining
			}
			continue
		}
		index[d.InventoryID] = len(merged)
		merged = append(merged, d)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].InventoryID < merged[j].InventoryID
	})
	return merged
}

// currentShortage reads the row a failed conditional decrement refused so
// the caller can report what is actually available.
func currentShortage(ctx context.Context, tx *sqlx.Tx, d domain.Decrement) (domain.StockShortage, error) {
	var available int
	err := tx.GetContext(ctx, &available, `SELECT quantity FROM inventory_items WHERE id = ? FOR UPDATE`, d.InventoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return shortageFor(d, 0, domain.ReasonVariantNotFound), nil
	}
	if err != nil {
		return domain.StockShortage{}, fmt.Errorf("query inventory: %w", err)
	}
	return shortageFor(d, available, domain.ReasonInsufficientStock), nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return m.getOrder(ctx, m.db, selectOrder+` WHERE id = ?`, orderID)
}

func (m *MySQLAdapter) GetOrderByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return m.getOrder(ctx, m.db, selectOrder+` WHERE order_number = ?`, orderNumber)
}

func (m *MySQLAdapter) getOrder(ctx context.Context, q sqlx.QueryerContext, query string, arg any) (domain.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("query order: %w", err)
	}

	var items []orderItemRow
	if err := sqlx.SelectContext(ctx, q, &items, selectOrderItems, row.ID); err != nil {
		return domain.Order{}, fmt.Errorf("query order items: %w", err)
	}
	return row.toDomain(items), nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	filter = filter.Normalize()

	where := ` WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Query != "" {
		like := containsPattern(filter.Query)
		where += ` AND (order_number LIKE ? ESCAPE '\\' OR customer_name LIKE ? ESCAPE '\\'
			OR customer_phone LIKE ? ESCAPE '\\' OR delivery_address LIKE ? ESCAPE '\\'
			OR delivery_city LIKE ? ESCAPE '\\')`
		args = append(args, like, like, like, like, like)
	}

	var total int
	if err := m.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	var rows []orderRow
	err := m.db.SelectContext(ctx, &rows, selectOrder+where+` ORDER BY created_at DESC, order_number DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	if len(rows) == 0 {
		return []domain.Order{}, total, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	query, inArgs, err := sqlx.In(`SELECT id, order_id, product_id, size, color, quantity, price, discount_amount,
		discounted_price FROM order_items WHERE order_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("build order items query: %w", err)
	}
	var items []orderItemRow
	if err := m.db.SelectContext(ctx, &items, m.db.Rebind(query), inArgs...); err != nil {
		return nil, 0, fmt.Errorf("query order items: %w", err)
	}
	byOrder := make(map[string][]orderItemRow, len(rows))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	orders := make([]domain.Order, len(rows))
	for i, row := range rows {
		orders[i] = row.toDomain(byOrder[row.ID])
	}
	return orders, total, nil
}

// TransitionStatus locks the order row, so two concurrent cancellations
// serialize and only the first one restocks.
func (m *MySQLAdapter) TransitionStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, bool, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order, err := m.getOrder(ctx, tx, selectOrder+` WHERE id = ? FOR UPDATE`, orderID)
	if err != nil {
		return domain.Order{}, false, err
	}
	if err := domain.CheckTransition(order.Status, status); err != nil {
		return domain.Order{}, false, err
	}

	restock := domain.RestocksOn(order.Status, status)
	if restock {
		if err := restoreInventory(ctx, tx, order.Lines); err != nil {
			return domain.Order{}, false, err
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, orderID)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("update order status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, false, fmt.Errorf("commit: %w", err)
	}

	order.Status = status
	order.UpdatedAt = now
	return order, restock, nil
}

// restoreInventory adds the order's quantities back, locking rows in
// inventory id order like PlaceOrder. A variant deleted since the order was
// placed is skipped.
func restoreInventory(ctx context.Context, tx *sqlx.Tx, lines []domain.OrderLine) error {
	quantities := make(map[string]int, len(lines))
	for _, line := range lines {
		var id string
		err := tx.GetContext(ctx, &id, `SELECT id FROM inventory_items WHERE product_id = ? AND size = ? AND color = ?`,
			line.ProductID, line.Size, line.Color)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("query inventory: %w", err)
		}
		quantities[id] += line.Quantity
	}

	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET quantity = quantity + ?, updated_at = NOW(3)
			WHERE id = ?`,
			quantities[id], id)
		if err != nil {
			return fmt.Errorf("restore inventory: %w", err)
		}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches q literally anywhere in a LIKE ... ESCAPE '\' clause.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)
