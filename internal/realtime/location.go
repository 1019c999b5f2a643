package realtime

import (
	"context"
	"math"
	"sync"
	"time"

	"swiftdash-backend/internal/geo"
	"swiftdash-backend/internal/models"

	log "github.com/sirupsen/logrus"
)

// OrderSource is the slice of order persistence the tracker needs.
type OrderSource interface {
	FindByID(ctx context.Context, id string) (*models.Order, error)
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
}

// PartnerPosition is a partner's last reported position.
type PartnerPosition struct {
	OrderID   string  `json:"order_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	UpdatedAt int64   `json:"updated_at"`
}

// LocationCache keeps last-known positions hot for read endpoints.
// Best-effort: a cache failure never affects the ping path.
type LocationCache interface {
	SetLocation(ctx context.Context, partnerID string, pos PartnerPosition) error
}

// Tracker ingests partner location pings: it persists the live
// position, fans it out to the interested parties and raises one-shot
// arrival events with geofence hysteresis.
//
// This is a best-effort ping channel — malformed or out-of-context
// pings are dropped silently, never surfaced to the sender.
type Tracker struct {
	orders   OrderSource
	pub      Publisher
	presence *Presence
	cache    LocationCache // nil when Redis is not configured

	// arrivalRadius is the geofence entry threshold in meters; the
	// exit threshold re-arming detection is 1.5x wider so a partner
	// hovering at the boundary cannot flap arrive/depart events.
	arrivalRadius float64

	mu      sync.Mutex
	arrived map[string]bool // orderID -> inside geofence

	clock func() time.Time
}

func NewTracker(orders OrderSource, pub Publisher, presence *Presence, cache LocationCache, arrivalRadiusMeters float64) *Tracker {
	return &Tracker{
		orders:        orders,
		pub:           pub,
		presence:      presence,
		cache:         cache,
		arrivalRadius: arrivalRadiusMeters,
		arrived:       make(map[string]bool),
		clock:         time.Now,
	}
}

// ReportLocation handles one location ping. connHandle identifies the
// reporting connection so the ping doubles as a presence heartbeat.
// endLat/endLng optionally override the order's stored destination.
func (t *Tracker) ReportLocation(ctx context.Context, connHandle, orderID, partnerID string, lat, lng float64, endLat, endLng *float64) {
	if !isFinite(lat) || !isFinite(lng) {
		log.Debugf("Dropping location ping with non-finite coordinates from partner %s", partnerID)
		return
	}

	// A location ping proves the connection is alive.
	t.presence.Touch(connHandle, partnerID)

	order, err := t.orders.FindByID(ctx, orderID)
	if err != nil {
		log.Debugf("Dropping location ping for unknown order %s: %v", orderID, err)
		return
	}
	if order.PartnerID == nil || *order.PartnerID != partnerID {
		log.Debugf("Dropping location ping: partner %s is not assigned to order %s", partnerID, orderID)
		return
	}
	if !order.Status.IsActive() {
		t.clearArrival(orderID)
		log.Debugf("Dropping location ping for inactive order %s (%s)", orderID, order.Status)
		return
	}

	now := t.clock().Unix()
	err = t.orders.UpdateFields(ctx, order.ID, map[string]interface{}{
		"partner_lat":         lat,
		"partner_lng":         lng,
		"location_updated_at": now,
	})
	if err != nil {
		log.Errorf("❌ Failed to persist location for order %s: %v", order.ID, err)
		return
	}

	pos := PartnerPosition{OrderID: order.ID, Lat: lat, Lng: lng, UpdatedAt: now}
	if t.cache != nil {
		if err := t.cache.SetLocation(ctx, partnerID, pos); err != nil {
			log.Warnf("⚠️  Location cache write for partner %s failed: %v", partnerID, err)
		}
	}

	event := Event{
		Type: EventPartnerLocation,
		Data: map[string]interface{}{
			"order_id":   order.ID,
			"partner_id": partnerID,
			"lat":        lat,
			"lng":        lng,
			"updated_at": now,
		},
	}
	// Partner's own channel too, for device echo / multi-tab sync.
	t.pub.Publish(TopicPartner(partnerID), event)
	t.pub.Publish(TopicUser(order.ClientID), event)
	t.pub.Publish(TopicStore(order.StoreID), event)

	t.detectArrival(order, partnerID, lat, lng, endLat, endLng, now)
}

// detectArrival measures the partner's distance to the destination and
// raises at most one arrived event per geofence entry.
func (t *Tracker) detectArrival(order *models.Order, partnerID string, lat, lng float64, endLat, endLng *float64, now int64) {
	destLat, destLng := order.CustomerLat, order.CustomerLng
	if endLat != nil && endLng != nil && isFinite(*endLat) && isFinite(*endLng) {
		destLat, destLng = *endLat, *endLng
	}

	distance := geo.HaversineMeters(lat, lng, destLat, destLng)

	t.mu.Lock()
	inside := t.arrived[order.ID]
	var fire bool
	switch {
	case distance <= t.arrivalRadius && !inside:
		t.arrived[order.ID] = true
		fire = true
	case distance > t.arrivalRadius*1.5 && inside:
		// Left the hysteresis band: re-arm arrival detection.
		delete(t.arrived, order.ID)
	}
	t.mu.Unlock()

	if !fire {
		return
	}

	log.Infof("📍 Partner %s arrived at order %s destination (%.0fm)", partnerID, order.HumanOrderID, distance)
	event := Event{
		Type: EventPartnerArrived,
		Data: map[string]interface{}{
			"order_id":       order.ID,
			"human_order_id": order.HumanOrderID,
			"partner_id":     partnerID,
			"distance_m":     math.Round(distance),
			"timestamp":      now,
		},
	}
	t.pub.Publish(TopicUser(order.ClientID), event)
	t.pub.Publish(TopicStore(order.StoreID), event)
}

// clearArrival drops the arrival flag for an order, re-arming detection.
func (t *Tracker) clearArrival(orderID string) {
	t.mu.Lock()
	delete(t.arrived, orderID)
	t.mu.Unlock()
}

// HasArrived reports whether the order is currently flagged arrived.
func (t *Tracker) HasArrived(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arrived[orderID]
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
