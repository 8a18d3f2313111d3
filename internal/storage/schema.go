package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username VARCHAR(150) NOT NULL UNIQUE,
		email VARCHAR(254) NOT NULL,
		password_hash TEXT NOT NULL,
		role VARCHAR(16) NOT NULL CHECK (role IN ('admin', 'owner', 'staff')),
		restaurant_id INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS restaurants (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		owner_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		table_count INTEGER NOT NULL DEFAULT 0 CHECK (table_count >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`DO $$ BEGIN
		ALTER TABLE users ADD CONSTRAINT users_restaurant_fk
			FOREIGN KEY (restaurant_id) REFERENCES restaurants(id) ON DELETE SET NULL;
	EXCEPTION WHEN duplicate_object THEN NULL;
	END $$`,
	`CREATE TABLE IF NOT EXISTS restaurant_tables (
		id SERIAL PRIMARY KEY,
		restaurant_id INTEGER NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
		table_num INTEGER NOT NULL CHECK (table_num > 0),
		qr_code VARCHAR(255) NOT NULL DEFAULT '',
		UNIQUE (restaurant_id, table_num)
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS menu_items (
		id SERIAL PRIMARY KEY,
		restaurant_id INTEGER NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
		category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
		name VARCHAR(255) NOT NULL,
		price NUMERIC(10,2) NOT NULL CHECK (price >= 0),
		image VARCHAR(255) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		restaurant_id INTEGER NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
		table_id INTEGER NOT NULL REFERENCES restaurant_tables(id) ON DELETE CASCADE,
		is_finished BOOLEAN NOT NULL DEFAULT FALSE,
		cost NUMERIC(10,2) NOT NULL DEFAULT 0,
		order_time TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		item_id INTEGER NOT NULL REFERENCES menu_items(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		price NUMERIC(10,2) NOT NULL
	)`,
	"CREATE INDEX IF NOT EXISTS idx_orders_restaurant_time ON orders (restaurant_id, order_time DESC)",
	"CREATE INDEX IF NOT EXISTS idx_menu_items_restaurant ON menu_items (restaurant_id)",
}

// EnsureSchema creates any missing tables. It is safe to run on every start.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema `%s`: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
