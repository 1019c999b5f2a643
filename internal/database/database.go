package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("✅ Database connection established")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Create users table
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('client', 'store', 'partner', 'admin')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Create stores table
		`CREATE TABLE IF NOT EXISTS stores (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id),
			name TEXT NOT NULL,
			address TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Create partners table
		`CREATE TABLE IF NOT EXISTS partners (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			is_available BOOLEAN NOT NULL DEFAULT TRUE,
			vehicle_type TEXT NOT NULL DEFAULT 'bike',
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Create orders table
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			human_order_id TEXT NOT NULL UNIQUE,
			store_id TEXT NOT NULL REFERENCES stores(id),
			client_id TEXT NOT NULL REFERENCES users(id),
			partner_id TEXT REFERENCES partners(id),
			status TEXT NOT NULL DEFAULT 'received'
				CHECK(status IN ('received', 'preparing', 'partner_assigned', 'out_for_delivery', 'delivered', 'cancelled')),
			total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			delivery_otp TEXT,
			is_verified BOOLEAN NOT NULL DEFAULT FALSE,
			customer_lat DOUBLE PRECISION NOT NULL,
			customer_lng DOUBLE PRECISION NOT NULL,
			customer_address TEXT NOT NULL DEFAULT '',
			partner_lat DOUBLE PRECISION,
			partner_lng DOUBLE PRECISION,
			location_updated_at BIGINT,
			proof_of_delivery_image TEXT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			shipped_at BIGINT,
			delivered_at BIGINT,
			estimated_delivery_time BIGINT,
			actual_delivery_time BIGINT
		)`,

		// Create order_items table
		`CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			quantity INT NOT NULL,
			price DOUBLE PRECISION NOT NULL
		)`,

		// Create fcm_tokens table
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL DEFAULT 'android',
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Indexes for the hot lookups
		`CREATE INDEX IF NOT EXISTS idx_orders_store_id ON orders(store_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_client_id ON orders(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_partner_status ON orders(partner_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info("✅ Database migrations completed")
	return nil
}
