package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"swiftdash-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePublisher records published events per topic.
type capturePublisher struct {
	mu     sync.Mutex
	events map[string][]Event
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{events: make(map[string][]Event)}
}

func (p *capturePublisher) Publish(topic string, event interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := event.(Event); ok {
		p.events[topic] = append(p.events[topic], ev)
	}
}

func (p *capturePublisher) byType(topic, eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events[topic] {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// stubOrders serves a fixed set of active orders per partner.
type stubOrders struct {
	mu     sync.Mutex
	active map[string][]models.Order
}

func newStubOrders() *stubOrders {
	return &stubOrders{active: make(map[string][]models.Order)}
}

func (s *stubOrders) setActive(partnerID string, orders ...models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[partnerID] = orders
}

func (s *stubOrders) FindActiveByPartner(_ context.Context, partnerID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[partnerID], nil
}

func newTestPresence() (*Presence, *capturePublisher, *stubOrders, *time.Time) {
	pub := newCapturePublisher()
	orders := newStubOrders()
	p := NewPresence(pub, orders)

	now := time.Unix(1700000000, 0)
	p.clock = func() time.Time { return now }
	return p, pub, orders, &now
}

func TestReleaseLastHandleNotifiesOnce(t *testing.T) {
	p, pub, orders, _ := newTestPresence()
	orders.setActive("partner-1", models.Order{ID: "order-1", StoreID: "store-1", HumanOrderID: "ORD-AAAAAA"})

	p.Touch("conn-1", "partner-1")
	assert.Equal(t, 1, p.HandleCount("partner-1"))
	assert.False(t, p.IsTrackingDown("partner-1"))

	p.Release("conn-1", "partner-1")
	assert.True(t, p.IsTrackingDown("partner-1"))

	lost := pub.byType(TopicStore("store-1"), EventTrackingUnavailable)
	require.Len(t, lost, 1)
	data := lost[0].Data.(map[string]interface{})
	assert.Equal(t, "connection_lost", data["reason"])
	assert.Equal(t, "order-1", data["order_id"])

	// Releasing an already-gone session is a no-op, no duplicate event.
	p.Release("conn-1", "partner-1")
	assert.Len(t, pub.byType(TopicStore("store-1"), EventTrackingUnavailable), 1)
}

func TestMultiDevicePresenceIsUnion(t *testing.T) {
	p, pub, orders, _ := newTestPresence()
	orders.setActive("partner-1", models.Order{ID: "order-1", StoreID: "store-1"})

	p.Touch("phone", "partner-1")
	p.Touch("tablet", "partner-1")
	assert.Equal(t, 2, p.HandleCount("partner-1"))

	// One device dropping changes nothing while the other lives.
	p.Release("phone", "partner-1")
	assert.False(t, p.IsTrackingDown("partner-1"))
	assert.Empty(t, pub.byType(TopicStore("store-1"), EventTrackingUnavailable))

	p.Release("tablet", "partner-1")
	assert.True(t, p.IsTrackingDown("partner-1"))
	assert.Len(t, pub.byType(TopicStore("store-1"), EventTrackingUnavailable), 1)
}

func TestTouchRestoresTracking(t *testing.T) {
	p, pub, orders, _ := newTestPresence()
	orders.setActive("partner-1", models.Order{ID: "order-1", StoreID: "store-1"})

	p.Touch("conn-1", "partner-1")
	p.Release("conn-1", "partner-1")
	require.True(t, p.IsTrackingDown("partner-1"))

	p.Touch("conn-2", "partner-1")
	assert.False(t, p.IsTrackingDown("partner-1"))

	restored := pub.byType(TopicStore("store-1"), EventTrackingRestored)
	require.Len(t, restored, 1)
	assert.Equal(t, "heartbeat_resumed", restored[0].Data.(map[string]interface{})["reason"])

	// Further heartbeats stay quiet.
	p.Touch("conn-2", "partner-1")
	assert.Len(t, pub.byType(TopicStore("store-1"), EventTrackingRestored), 1)
}

func TestSweepExpiresSilentPartners(t *testing.T) {
	p, pub, orders, now := newTestPresence()
	orders.setActive("partner-1", models.Order{ID: "order-1", StoreID: "store-1"})

	p.Touch("conn-1", "partner-1")

	// Inside the timeout window nothing happens.
	*now = now.Add(15 * time.Second)
	p.SweepOnce(20 * time.Second)
	assert.False(t, p.IsTrackingDown("partner-1"))
	assert.Empty(t, pub.byType(TopicStore("store-1"), EventTrackingUnavailable))

	// Past the timeout the partner is flagged, once.
	*now = now.Add(10 * time.Second)
	p.SweepOnce(20 * time.Second)
	assert.True(t, p.IsTrackingDown("partner-1"))

	lost := pub.byType(TopicStore("store-1"), EventTrackingUnavailable)
	require.Len(t, lost, 1)
	assert.Equal(t, "timeout", lost[0].Data.(map[string]interface{})["reason"])

	// Subsequent sweeps never re-notify an already-down partner.
	*now = now.Add(time.Minute)
	p.SweepOnce(20 * time.Second)
	assert.Len(t, pub.byType(TopicStore("store-1"), EventTrackingUnavailable), 1)
}

func TestSweepThenHeartbeatRestores(t *testing.T) {
	p, pub, orders, now := newTestPresence()
	orders.setActive("partner-1", models.Order{ID: "order-1", StoreID: "store-1"})

	p.Touch("conn-1", "partner-1")
	*now = now.Add(30 * time.Second)
	p.SweepOnce(20 * time.Second)
	require.True(t, p.IsTrackingDown("partner-1"))

	// The connection was never released; a late heartbeat revives it.
	p.Touch("conn-1", "partner-1")
	assert.False(t, p.IsTrackingDown("partner-1"))
	assert.Len(t, pub.byType(TopicStore("store-1"), EventTrackingRestored), 1)
}

func TestNotificationsReachAllActiveStores(t *testing.T) {
	p, pub, orders, _ := newTestPresence()
	orders.setActive("partner-1",
		models.Order{ID: "order-1", StoreID: "store-1"},
		models.Order{ID: "order-2", StoreID: "store-2"},
	)

	p.Touch("conn-1", "partner-1")
	p.Release("conn-1", "partner-1")

	assert.Len(t, pub.byType(TopicStore("store-1"), EventTrackingUnavailable), 1)
	assert.Len(t, pub.byType(TopicStore("store-2"), EventTrackingUnavailable), 1)
}

func TestReleaseUnknownPartnerIsNoOp(t *testing.T) {
	p, pub, _, _ := newTestPresence()
	p.Release("conn-1", "ghost")
	assert.False(t, p.IsTrackingDown("ghost"))
	assert.Empty(t, pub.events)
}

// gatedPublisher stalls the first publish until released, exposing any
// window between a state change and its notification.
type gatedPublisher struct {
	*capturePublisher
	entered chan struct{}
	release chan struct{}
	first   sync.Once
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{
		capturePublisher: newCapturePublisher(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
}

func (g *gatedPublisher) Publish(topic string, event interface{}) {
	g.first.Do(func() {
		close(g.entered)
		<-g.release
	})
	g.capturePublisher.Publish(topic, event)
}

func TestDisconnectReconnectEventsKeepOrder(t *testing.T) {
	pub := newGatedPublisher()
	orders := newStubOrders()
	p := NewPresence(pub, orders)
	p.clock = func() time.Time { return time.Unix(1700000000, 0) }
	orders.setActive("partner-1", models.Order{ID: "order-1", StoreID: "store-1"})

	p.Touch("conn-1", "partner-1")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Release("conn-1", "partner-1")
	}()
	<-pub.entered

	// The reconnect races the in-flight disconnect notification.
	go func() {
		defer wg.Done()
		p.Touch("conn-2", "partner-1")
	}()

	// The restore event must not slip out while the disconnect is
	// still being announced.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, pub.byType(TopicStore("store-1"), EventTrackingRestored))

	close(pub.release)
	wg.Wait()

	events := pub.byType(TopicStore("store-1"), EventTrackingUnavailable)
	require.Len(t, events, 1)
	require.Len(t, pub.byType(TopicStore("store-1"), EventTrackingRestored), 1)

	pub.mu.Lock()
	all := pub.events[TopicStore("store-1")]
	pub.mu.Unlock()
	require.Len(t, all, 2)
	assert.Equal(t, EventTrackingUnavailable, all[0].Type)
	assert.Equal(t, EventTrackingRestored, all[1].Type)
	assert.False(t, p.IsTrackingDown("partner-1"))
}

func TestReleaseWithoutActiveOrdersLeavesNoFlag(t *testing.T) {
	p, pub, _, _ := newTestPresence()

	p.Touch("conn-1", "partner-1")
	p.Release("conn-1", "partner-1")

	// Nobody was told about the loss, so nothing is tracked for a
	// later restore either.
	assert.Empty(t, pub.events)
	assert.False(t, p.IsTrackingDown("partner-1"))
	assert.Equal(t, 0, p.HandleCount("partner-1"))
}

func TestSweptPartnerPrunedOnFinalDisconnect(t *testing.T) {
	p, pub, orders, now := newTestPresence()
	orders.setActive("partner-1", models.Order{ID: "order-1", StoreID: "store-1"})

	p.Touch("conn-1", "partner-1")
	*now = now.Add(30 * time.Second)
	p.SweepOnce(20 * time.Second)
	require.True(t, p.IsTrackingDown("partner-1"))

	// The order completes, then the dead connection finally drops.
	orders.setActive("partner-1")
	p.Release("conn-1", "partner-1")

	assert.False(t, p.IsTrackingDown("partner-1"))
	assert.Len(t, pub.byType(TopicStore("store-1"), EventTrackingUnavailable), 1)
}
