package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		sizes JSON NOT NULL,
		colors JSON NOT NULL,
		in_stock BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id CHAR(36) NOT NULL PRIMARY KEY,
		product_id VARCHAR(64) NOT NULL,
		size VARCHAR(32) NOT NULL,
		color VARCHAR(64) NOT NULL,
		quantity INT NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		UNIQUE KEY uq_inventory_variant (product_id, size, color),
		CONSTRAINT chk_inventory_quantity CHECK (quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id CHAR(36) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		address VARCHAR(512) NOT NULL,
		city VARCHAR(128) NOT NULL,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		UNIQUE KEY uq_customers_phone (phone)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id CHAR(36) NOT NULL PRIMARY KEY,
		order_number VARCHAR(32) NOT NULL,
		customer_id CHAR(36) NOT NULL,
		customer_name VARCHAR(255) NOT NULL,
		customer_phone VARCHAR(32) NOT NULL,
		delivery_address VARCHAR(512) NOT NULL,
		delivery_city VARCHAR(128) NOT NULL,
		notes TEXT NULL,
		total_amount DECIMAL(12,2) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		UNIQUE KEY uq_orders_number (order_number),
		KEY idx_orders_customer (customer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id CHAR(36) NOT NULL PRIMARY KEY,
		order_id CHAR(36) NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		size VARCHAR(32) NOT NULL,
		color VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		discount_amount DECIMAL(12,2) NOT NULL DEFAULT 0,
		discounted_price DECIMAL(12,2) NOT NULL,
		KEY idx_order_items_order (order_id),
		KEY idx_order_items_variant (product_id, size, color)
	)`,
}

// MigrateSchema creates the tables the order core needs. It is safe to run
// on every start.
func MigrateSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}
