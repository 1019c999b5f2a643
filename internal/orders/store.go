package orders

import (
	"context"

	"swiftdash-backend/internal/models"
)

// Store is the narrow persistence contract the state machine depends on.
// The production implementation lives in internal/database; tests use an
// in-memory fake.
type Store interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id string) (*models.Order, error)

	// UpdateFields applies a partial update to the order row. Keys are
	// column names. The update targets the order by identity only; any
	// precondition that could have changed must be enforced by the
	// caller re-reading or by Claim below.
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error

	// Claim atomically assigns partnerID to the order, moves it to
	// partner_assigned, stores the OTP and stamps shipped_at — but only
	// if the order is still in "preparing" with no partner. Returns
	// false (and no error) when the conditional update matched no row.
	Claim(ctx context.Context, orderID, partnerID, otp string, now int64) (bool, error)

	FindActiveByPartner(ctx context.Context, partnerID string) ([]models.Order, error)
	ExistsActiveForPartner(ctx context.Context, partnerID string) (bool, error)

	ListByStore(ctx context.Context, storeID string) ([]models.Order, error)
	ListByClient(ctx context.Context, clientID string) ([]models.Order, error)
	ListByPartner(ctx context.Context, partnerID string) ([]models.Order, error)

	// ListOpenJobs returns unclaimed orders in "preparing", newest first.
	ListOpenJobs(ctx context.Context) ([]models.Order, error)
}

// PartnerStore is the narrow contract onto the partner aggregate.
type PartnerStore interface {
	FindByID(ctx context.Context, id string) (*models.DeliveryPartner, error)
	SetAvailability(ctx context.Context, id string, available bool) error
	ListAvailable(ctx context.Context) ([]models.DeliveryPartner, error)
}

// Notifier dispatches best-effort push notifications. Failures are
// logged by the machine and never block a state transition.
type Notifier interface {
	NotifyNewJob(ctx context.Context, order *models.Order, catchmentKm float64) error
	NotifyOTPIssued(ctx context.Context, clientID string, order *models.Order, otp string) error
}

// Publisher fans events out to realtime topic subscribers.
type Publisher interface {
	Publish(topic string, event interface{})
}
