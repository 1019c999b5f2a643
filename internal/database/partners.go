package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"swiftdash-backend/internal/models"
	"swiftdash-backend/internal/orders"

	"github.com/jmoiron/sqlx"
)

// PartnerStore is the Postgres implementation of orders.PartnerStore.
type PartnerStore struct {
	db *sqlx.DB
}

func NewPartnerStore(db *sqlx.DB) *PartnerStore {
	return &PartnerStore{db: db}
}

func (s *PartnerStore) FindByID(ctx context.Context, id string) (*models.DeliveryPartner, error) {
	var partner models.DeliveryPartner
	err := s.db.GetContext(ctx, &partner, "SELECT * FROM partners WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, orders.ErrPartnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load partner %s: %w", id, err)
	}
	return &partner, nil
}

func (s *PartnerStore) SetAvailability(ctx context.Context, id string, available bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE partners SET is_available = $1, updated_at = $2 WHERE id = $3",
		available, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update availability for partner %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return orders.ErrPartnerNotFound
	}
	return nil
}

func (s *PartnerStore) ListAvailable(ctx context.Context) ([]models.DeliveryPartner, error) {
	var list []models.DeliveryPartner
	err := s.db.SelectContext(ctx, &list,
		"SELECT * FROM partners WHERE is_available = TRUE ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list available partners: %w", err)
	}
	return list, nil
}

// FCMTokensForUser returns the registered push tokens for one user.
func FCMTokensForUser(ctx context.Context, db *sqlx.DB, userID string) ([]string, error) {
	var tokens []string
	err := db.SelectContext(ctx, &tokens, "SELECT token FROM fcm_tokens WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load FCM tokens for user %s: %w", userID, err)
	}
	return tokens, nil
}

// FCMTokensForAvailablePartners returns the push tokens of every
// partner currently marked available, for job-pool advertisements.
func FCMTokensForAvailablePartners(ctx context.Context, db *sqlx.DB) ([]string, error) {
	var tokens []string
	err := db.SelectContext(ctx, &tokens, `
		SELECT t.token
		FROM fcm_tokens t
		JOIN partners p ON p.user_id = t.user_id
		WHERE p.is_available = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("failed to load partner FCM tokens: %w", err)
	}
	return tokens, nil
}
