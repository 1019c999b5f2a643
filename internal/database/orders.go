package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"swiftdash-backend/internal/models"
	"swiftdash-backend/internal/orders"

	"github.com/jmoiron/sqlx"
)

// OrderStore is the Postgres implementation of orders.Store.
type OrderStore struct {
	db *sqlx.DB
}

func NewOrderStore(db *sqlx.DB) *OrderStore {
	return &OrderStore{db: db}
}

func (s *OrderStore) Create(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, human_order_id, store_id, client_id, status, total_amount,
			customer_lat, customer_lng, customer_address, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		order.ID, order.HumanOrderID, order.StoreID, order.ClientID, order.Status,
		order.TotalAmount, order.CustomerLat, order.CustomerLng, order.CustomerAddress,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, name, quantity, price)
			VALUES ($1, $2, $3, $4)`,
			order.ID, item.Name, item.Quantity, item.Price,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (s *OrderStore) FindByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, fmt.Errorf("failed to load items for order %s: %w", id, err)
	}
	return &order, nil
}

// UpdateFields applies a partial update. Keys are column names; a nil
// value writes NULL. Columns are sorted so the generated SQL is stable.
func (s *OrderStore) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns)+1)
	for i, col := range columns {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, fields[col])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}

// Claim performs the atomic conditional assignment: it only succeeds if
// the order is still unclaimed and in "preparing" at the moment of the
// write, so two concurrent claimants can never both win.
func (s *OrderStore) Claim(ctx context.Context, orderID, partnerID, otp string, now int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET partner_id = $1,
		    status = 'partner_assigned',
		    delivery_otp = $2,
		    is_verified = FALSE,
		    shipped_at = $3,
		    updated_at = $3
		WHERE id = $4
		  AND partner_id IS NULL
		  AND status = 'preparing'`,
		partnerID, otp, now, orderID,
	)
	if err != nil {
		return false, fmt.Errorf("claim update failed for order %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim update failed for order %s: %w", orderID, err)
	}
	return n == 1, nil
}

func (s *OrderStore) FindActiveByPartner(ctx context.Context, partnerID string) ([]models.Order, error) {
	var list []models.Order
	err := s.db.SelectContext(ctx, &list, `
		SELECT * FROM orders
		WHERE partner_id = $1
		  AND status IN ('partner_assigned', 'out_for_delivery')
		ORDER BY created_at DESC`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active orders for partner %s: %w", partnerID, err)
	}
	return list, nil
}

func (s *OrderStore) ExistsActiveForPartner(ctx context.Context, partnerID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM orders
			WHERE partner_id = $1
			  AND status IN ('partner_assigned', 'out_for_delivery')
		)`, partnerID)
	if err != nil {
		return false, fmt.Errorf("failed to check active orders for partner %s: %w", partnerID, err)
	}
	return exists, nil
}

func (s *OrderStore) ListByStore(ctx context.Context, storeID string) ([]models.Order, error) {
	return s.list(ctx, "SELECT * FROM orders WHERE store_id = $1 ORDER BY created_at DESC", storeID)
}

func (s *OrderStore) ListByClient(ctx context.Context, clientID string) ([]models.Order, error) {
	return s.list(ctx, "SELECT * FROM orders WHERE client_id = $1 ORDER BY created_at DESC", clientID)
}

func (s *OrderStore) ListByPartner(ctx context.Context, partnerID string) ([]models.Order, error) {
	return s.list(ctx, "SELECT * FROM orders WHERE partner_id = $1 ORDER BY created_at DESC", partnerID)
}

func (s *OrderStore) ListOpenJobs(ctx context.Context) ([]models.Order, error) {
	return s.list(ctx, "SELECT * FROM orders WHERE status = 'preparing' AND partner_id IS NULL ORDER BY created_at DESC")
}

func (s *OrderStore) list(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	var list []models.Order
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return list, nil
}
