package orders

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"strings"
	"time"

	"swiftdash-backend/internal/models"
	"swiftdash-backend/internal/realtime"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Machine owns every order status transition and its side effects. All
// lifecycle mutations (HTTP-triggered or realtime-triggered) go through
// here so the forward-only progression is enforced in one place.
type Machine struct {
	store       Store
	partners    PartnerStore
	hub         Publisher
	notifier    Notifier // may be nil, push disabled
	catchmentKm float64

	now func() int64 // epoch seconds, swappable in tests
}

func NewMachine(store Store, partners PartnerStore, hub Publisher, notifier Notifier, catchmentKm float64) *Machine {
	return &Machine{
		store:       store,
		partners:    partners,
		hub:         hub,
		notifier:    notifier,
		catchmentKm: catchmentKm,
		now:         func() int64 { return time.Now().Unix() },
	}
}

// TransitionContext carries the optional inputs of a transition request.
type TransitionContext struct {
	PartnerID  *string
	ProofImage *string
}

// CreateOrderInput is the payload for a new order.
type CreateOrderInput struct {
	StoreID         string
	ClientID        string
	Items           []models.OrderItem
	CustomerLat     float64
	CustomerLng     float64
	CustomerAddress string
}

// CreateOrder persists a new order in "received" and announces it to the
// store's and client's channels.
func (m *Machine) CreateOrder(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if in.StoreID == "" || in.ClientID == "" {
		return nil, newValidation("store_id and client_id are required")
	}
	if len(in.Items) == 0 {
		return nil, newValidation("an order needs at least one item")
	}
	if !isFiniteCoord(in.CustomerLat, in.CustomerLng) {
		return nil, newValidation("customer location coordinates are invalid")
	}

	total := 0.0
	for _, item := range in.Items {
		if item.Quantity <= 0 || item.Price < 0 {
			return nil, newValidation("item quantity must be positive and price non-negative")
		}
		total += float64(item.Quantity) * item.Price
	}

	now := m.now()
	order := &models.Order{
		ID:              uuid.New().String(),
		HumanOrderID:    newHumanOrderID(),
		StoreID:         in.StoreID,
		ClientID:        in.ClientID,
		Status:          models.OrderStatusReceived,
		TotalAmount:     total,
		CustomerLat:     in.CustomerLat,
		CustomerLng:     in.CustomerLng,
		CustomerAddress: in.CustomerAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           in.Items,
	}

	if err := m.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	log.Infof("🧾 Order %s created for store %s (%.2f)", order.HumanOrderID, order.StoreID, order.TotalAmount)
	m.broadcastOrder(order)
	return order, nil
}

// RequestTransition validates and applies a status change. "delivered"
// can never be reached through here — only VerifyAndComplete moves an
// order to delivered.
func (m *Machine) RequestTransition(ctx context.Context, orderID string, target models.OrderStatus, tc TransitionContext) (*models.Order, error) {
	order, err := m.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if target == models.OrderStatusDelivered {
		return nil, ErrUseVerificationEndpoint
	}

	if target == models.OrderStatusCancelled {
		return m.cancel(ctx, order, tc)
	}

	if target != order.Status.NextStatus() {
		return nil, newInvalidTransition(string(order.Status), string(target))
	}

	switch target {
	case models.OrderStatusPreparing:
		return m.startPreparing(ctx, order)
	case models.OrderStatusPartnerAssigned:
		if tc.PartnerID == nil || *tc.PartnerID == "" {
			return nil, ErrMissingPartner
		}
		return m.assign(ctx, order, *tc.PartnerID)
	case models.OrderStatusOutForDelivery:
		return m.applyStatus(ctx, order, models.OrderStatusOutForDelivery, nil)
	}

	return nil, newInvalidTransition(string(order.Status), string(target))
}

// cancel is the side exit, reachable from any non-terminal state. A
// proof-of-delivery image supplied with a cancel request is ignored:
// proof capture belongs to the delivered path only.
func (m *Machine) cancel(ctx context.Context, order *models.Order, tc TransitionContext) (*models.Order, error) {
	if order.Status.IsTerminal() {
		return nil, newInvalidTransition(string(order.Status), string(models.OrderStatusCancelled))
	}
	if tc.ProofImage != nil {
		log.Warnf("⚠️  Ignoring proof-of-delivery image on cancellation of order %s", order.ID)
	}

	fields := map[string]interface{}{
		"status":       models.OrderStatusCancelled,
		"delivery_otp": nil,
		"updated_at":   m.now(),
	}
	updated, err := m.applyStatus(ctx, order, models.OrderStatusCancelled, fields)
	if err != nil {
		return nil, err
	}

	// The assigned partner, if any, is freed up again.
	if updated.PartnerID != nil {
		m.reconcileBestEffort(ctx, *updated.PartnerID)
	}
	return updated, nil
}

// startPreparing moves the order into the kitchen and advertises the job
// to every partner listening on the pool channel.
func (m *Machine) startPreparing(ctx context.Context, order *models.Order) (*models.Order, error) {
	updated, err := m.applyStatus(ctx, order, models.OrderStatusPreparing, nil)
	if err != nil {
		return nil, err
	}

	m.hub.Publish(realtime.TopicPool, realtime.Event{
		Type: realtime.EventNewJobAvailable,
		Data: map[string]interface{}{
			"order_id":         updated.ID,
			"human_order_id":   updated.HumanOrderID,
			"store_id":         updated.StoreID,
			"customer_lat":     updated.CustomerLat,
			"customer_lng":     updated.CustomerLng,
			"customer_address": updated.CustomerAddress,
			"total_amount":     updated.TotalAmount,
			"catchment_km":     m.catchmentKm,
		},
	})

	if m.notifier != nil {
		if err := m.notifier.NotifyNewJob(ctx, updated, m.catchmentKm); err != nil {
			log.Warnf("⚠️  New-job push for order %s failed: %v", updated.ID, err)
		}
	}
	return updated, nil
}

// assign claims the order for partnerID. The claim is a single
// conditional update keyed on "no partner yet, still preparing", so two
// concurrent assignments can never both win.
func (m *Machine) assign(ctx context.Context, order *models.Order, partnerID string) (*models.Order, error) {
	otp, err := generateOTP()
	if err != nil {
		return nil, err
	}

	claimed, err := m.store.Claim(ctx, order.ID, partnerID, otp, m.now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim order %s: %w", order.ID, err)
	}
	if !claimed {
		current, err := m.store.FindByID(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.PartnerID != nil {
			return nil, ErrAlreadyClaimed
		}
		return nil, newWrongState(string(current.Status), string(models.OrderStatusPreparing))
	}

	updated, err := m.store.FindByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	log.Infof("✅ Order %s assigned to partner %s, OTP issued", updated.HumanOrderID, partnerID)

	// The OTP goes to the client only; it must never appear on the
	// store or partner channels.
	m.hub.Publish(realtime.TopicUser(updated.ClientID), realtime.Event{
		Type: realtime.EventOTPIssued,
		Data: map[string]interface{}{
			"order_id":       updated.ID,
			"human_order_id": updated.HumanOrderID,
			"delivery_otp":   otp,
		},
	})
	if m.notifier != nil {
		if err := m.notifier.NotifyOTPIssued(ctx, updated.ClientID, updated, otp); err != nil {
			log.Warnf("⚠️  OTP push for order %s failed: %v", updated.ID, err)
		}
	}

	m.reconcileBestEffort(ctx, partnerID)
	m.broadcastOrder(updated)
	return updated, nil
}

// ClaimJob is self-service assignment from the pool: a partner races to
// take an advertised order. At most one claimant ever succeeds.
func (m *Machine) ClaimJob(ctx context.Context, orderID, partnerID string) (*models.Order, error) {
	partner, err := m.partners.FindByID(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if !partner.IsAvailable {
		return nil, ErrPartnerBusy
	}

	order, err := m.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return m.assign(ctx, order, partner.ID)
}

// VerifyAndComplete is the only path to "delivered". The partner hands
// over the client's OTP; on an exact match the order completes.
func (m *Machine) VerifyAndComplete(ctx context.Context, orderID, partnerID, otp string, proofImage *string) (*models.Order, error) {
	otp = strings.TrimSpace(otp)
	if !isValidOTP(otp) {
		return nil, ErrInvalidOTP
	}

	order, err := m.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Checked before the status guard: a verified order has already
	// moved to delivered, and a repeat call must report the conflict,
	// not a state error.
	if order.IsVerified {
		return nil, ErrAlreadyVerified
	}
	if order.Status != models.OrderStatusOutForDelivery {
		return nil, newWrongState(string(order.Status), string(models.OrderStatusOutForDelivery))
	}
	if order.PartnerID == nil || *order.PartnerID != partnerID {
		return nil, ErrNotAssignedPartner
	}
	if order.DeliveryOTP == nil || *order.DeliveryOTP != otp {
		return nil, ErrOTPMismatch
	}

	now := m.now()
	fields := map[string]interface{}{
		"status":               models.OrderStatusDelivered,
		"is_verified":          true,
		"delivery_otp":         nil,
		"delivered_at":         now,
		"actual_delivery_time": now,
		"updated_at":           now,
	}
	if proofImage != nil {
		fields["proof_of_delivery_image"] = *proofImage
	}
	if err := m.store.UpdateFields(ctx, order.ID, fields); err != nil {
		return nil, fmt.Errorf("failed to complete order %s: %w", order.ID, err)
	}

	updated, err := m.store.FindByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	log.Infof("📦 Order %s delivered by partner %s", updated.HumanOrderID, partnerID)
	m.reconcileBestEffort(ctx, partnerID)
	m.broadcastOrder(updated)
	return updated, nil
}

// applyStatus writes the status change (plus any extra fields) and
// broadcasts the updated order.
func (m *Machine) applyStatus(ctx context.Context, order *models.Order, target models.OrderStatus, fields map[string]interface{}) (*models.Order, error) {
	if fields == nil {
		fields = map[string]interface{}{
			"status":     target,
			"updated_at": m.now(),
		}
	}
	if err := m.store.UpdateFields(ctx, order.ID, fields); err != nil {
		return nil, fmt.Errorf("failed to update order %s: %w", order.ID, err)
	}

	updated, err := m.store.FindByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	log.Infof("🔄 Order %s → %s", updated.HumanOrderID, updated.Status)
	m.broadcastOrder(updated)
	return updated, nil
}

// broadcastOrder pushes the updated order to the store's, the client's
// and (once assigned) the partner's private channels. The OTP is never
// part of this payload.
func (m *Machine) broadcastOrder(order *models.Order) {
	event := realtime.Event{
		Type: realtime.EventOrderUpdated,
		Data: order.ToResponse(false),
	}
	m.hub.Publish(realtime.TopicStore(order.StoreID), event)
	m.hub.Publish(realtime.TopicUser(order.ClientID), event)
	if order.PartnerID != nil {
		m.hub.Publish(realtime.TopicPartner(*order.PartnerID), event)
	}
}

// reconcileBestEffort recomputes partner availability; a failure here
// never rolls back the transition that triggered it.
func (m *Machine) reconcileBestEffort(ctx context.Context, partnerID string) {
	if err := m.ReconcileAvailability(ctx, partnerID); err != nil {
		log.Warnf("⚠️  Availability sync for partner %s failed: %v", partnerID, err)
	}
}

func isFiniteCoord(lat, lng float64) bool {
	return !math.IsNaN(lat) && !math.IsInf(lat, 0) &&
		!math.IsNaN(lng) && !math.IsInf(lng, 0)
}

const humanOrderIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newHumanOrderID builds the stable external order code, e.g. ORD-7XK2QD.
func newHumanOrderID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a uuid fragment; ids must still be unique-ish.
		return "ORD-" + strings.ToUpper(uuid.New().String()[:6])
	}
	for i, b := range buf {
		buf[i] = humanOrderIDAlphabet[int(b)%len(humanOrderIDAlphabet)]
	}
	return "ORD-" + string(buf)
}
