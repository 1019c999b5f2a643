package realtime

import (
	"context"
	"sync"
	"time"

	"swiftdash-backend/internal/models"

	log "github.com/sirupsen/logrus"
)

// Publisher fans events out to topic subscribers. Satisfied by *Hub.
type Publisher interface {
	Publish(topic string, event interface{})
}

// ActiveOrderSource resolves which orders a partner is currently
// working, so tracking alerts reach exactly the stores that care.
type ActiveOrderSource interface {
	FindActiveByPartner(ctx context.Context, partnerID string) ([]models.Order, error)
}

// session is one partner's live connection set. A partner may hold
// several simultaneous connections (multiple devices/tabs); presence is
// the union of all of them.
type session struct {
	handles       map[string]struct{}
	lastHeartbeat time.Time
}

// Presence tracks, per partner, whether at least one live connection is
// heartbeating. All state is process-local and resets on restart;
// partners re-announce themselves on reconnect.
//
// The tracking-unavailable flag is an explicit two-state automaton:
// notifications fire only on the edge, never repeatedly per sweep tick.
// Notifications are published while the state lock is held, so the
// event stream for a partner always matches the order in which its
// state edges occurred. Publish is a queue write and the active-order
// lookup is an indexed point query, so the hold stays short.
type Presence struct {
	mu       sync.Mutex
	sessions map[string]*session
	down     map[string]bool

	pub    Publisher
	orders ActiveOrderSource

	clock func() time.Time
}

func NewPresence(pub Publisher, orders ActiveOrderSource) *Presence {
	return &Presence{
		sessions: make(map[string]*session),
		down:     make(map[string]bool),
		pub:      pub,
		orders:   orders,
		clock:    time.Now,
	}
}

// Touch records a heartbeat from one of the partner's connections. If
// the partner was flagged tracking-unavailable, the flag clears and a
// single "restored" notification goes out.
func (p *Presence) Touch(handle, partnerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[partnerID]
	if !ok {
		s = &session{handles: make(map[string]struct{})}
		p.sessions[partnerID] = s
	}
	s.handles[handle] = struct{}{}
	s.lastHeartbeat = p.clock()

	if p.down[partnerID] {
		delete(p.down, partnerID)
		log.Infof("💚 Partner %s tracking restored", partnerID)
		p.notifyStoresLocked(partnerID, EventTrackingRestored, "heartbeat_resumed")
	}
}

// Release removes one connection handle. When the last handle goes, the
// session dies and an "unavailable" notification fires immediately —
// an explicit disconnect gets no grace period. If no store had an
// active order to notify, the flag is dropped again: nobody was told
// about the loss, so there is nothing to restore later.
func (p *Presence) Release(handle, partnerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[partnerID]
	if !ok {
		return
	}
	delete(s.handles, handle)
	if len(s.handles) > 0 {
		return
	}
	delete(p.sessions, partnerID)

	if p.down[partnerID] {
		// The sweeper already reported the outage. The partner is gone
		// now, so keep the flag only while a store is still waiting on
		// a restore notice.
		if p.activeOrderCountLocked(partnerID) == 0 {
			delete(p.down, partnerID)
		}
		return
	}
	p.down[partnerID] = true

	log.Infof("🔌 Partner %s lost all connections", partnerID)
	if p.notifyStoresLocked(partnerID, EventTrackingUnavailable, "connection_lost") == 0 {
		delete(p.down, partnerID)
	}
}

// SweepOnce expires partners whose heartbeats went silent (no explicit
// disconnect, e.g. a network partition). Notifications go out before
// the call returns, so the sweeper can guarantee non-overlapping ticks.
func (p *Presence) SweepOnce(timeout time.Duration) {
	now := p.clock()

	p.mu.Lock()
	defer p.mu.Unlock()
	for partnerID, s := range p.sessions {
		if len(s.handles) == 0 || now.Sub(s.lastHeartbeat) > timeout {
			if !p.down[partnerID] {
				p.down[partnerID] = true
				log.Warnf("⏱️  Partner %s heartbeat timed out", partnerID)
				p.notifyStoresLocked(partnerID, EventTrackingUnavailable, "timeout")
			}
		}
	}
}

// notifyStoresLocked tells every store with an active order assigned to
// the partner that live tracking changed state, and returns how many
// stores were notified. Caller must hold p.mu.
func (p *Presence) notifyStoresLocked(partnerID, eventType, reason string) int {
	active, err := p.orders.FindActiveByPartner(context.Background(), partnerID)
	if err != nil {
		log.Errorf("❌ Failed to load active orders for partner %s: %v", partnerID, err)
		return 0
	}

	for _, order := range active {
		p.pub.Publish(TopicStore(order.StoreID), Event{
			Type: eventType,
			Data: map[string]interface{}{
				"partner_id":     partnerID,
				"order_id":       order.ID,
				"human_order_id": order.HumanOrderID,
				"reason":         reason,
				"timestamp":      p.clock().Unix(),
			},
		})
	}
	return len(active)
}

// activeOrderCountLocked reports how many orders the partner is still
// working. Returns -1 on a lookup failure so callers keep the flag
// rather than pruning on bad data.
func (p *Presence) activeOrderCountLocked(partnerID string) int {
	active, err := p.orders.FindActiveByPartner(context.Background(), partnerID)
	if err != nil {
		log.Errorf("❌ Failed to load active orders for partner %s: %v", partnerID, err)
		return -1
	}
	return len(active)
}

// IsTrackingDown reports whether the partner is currently flagged
// tracking-unavailable.
func (p *Presence) IsTrackingDown(partnerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.down[partnerID]
}

// HandleCount returns the number of live connection handles for a partner.
func (p *Presence) HandleCount(partnerID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[partnerID]; ok {
		return len(s.handles)
	}
	return 0
}
