package services

import (
	"context"
	"fmt"

	"swiftdash-backend/internal/database"
	"swiftdash-backend/internal/models"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// PushNotifier implements orders.Notifier over FCM. All sends are
// best-effort: token lookups and delivery failures are logged and
// reported back, never retried here.
type PushNotifier struct {
	db  *sqlx.DB
	fcm *FCMService // may be nil, push disabled
}

func NewPushNotifier(db *sqlx.DB, fcm *FCMService) *PushNotifier {
	return &PushNotifier{db: db, fcm: fcm}
}

// NotifyNewJob advertises a claimable order to every available partner.
func (n *PushNotifier) NotifyNewJob(ctx context.Context, order *models.Order, catchmentKm float64) error {
	if n.fcm == nil {
		return nil
	}

	tokens, err := database.FCMTokensForAvailablePartners(ctx, n.db)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	return n.fcm.SendMulticast(ctx, tokens,
		"New delivery available!",
		fmt.Sprintf("Order %s is ready to claim within %.0f km.", order.HumanOrderID, catchmentKm),
		map[string]string{
			"type":           "new_job_available",
			"order_id":       order.ID,
			"human_order_id": order.HumanOrderID,
		})
}

// NotifyOTPIssued sends the delivery code to the client's devices.
func (n *PushNotifier) NotifyOTPIssued(ctx context.Context, clientID string, order *models.Order, otp string) error {
	if n.fcm == nil {
		return nil
	}

	tokens, err := database.FCMTokensForUser(ctx, n.db, clientID)
	if err != nil {
		return err
	}

	var lastErr error
	for _, token := range tokens {
		if err := n.fcm.SendOTPNotification(ctx, token, order.HumanOrderID, otp); err != nil {
			log.Warnf("⚠️  OTP push to one device of client %s failed: %v", clientID, err)
			lastErr = err
		}
	}
	return lastErr
}
