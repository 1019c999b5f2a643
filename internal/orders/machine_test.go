package orders

import (
	"context"
	"sync"
	"testing"

	"swiftdash-backend/internal/models"
	"swiftdash-backend/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with the same conditional-claim
// semantics as the Postgres implementation.
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]*models.Order)}
}

func (s *fakeStore) put(o *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
}

func (s *fakeStore) Create(_ context.Context, order *models.Order) error {
	s.put(order)
	return nil
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) UpdateFields(_ context.Context, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	for col, v := range fields {
		switch col {
		case "status":
			switch sv := v.(type) {
			case models.OrderStatus:
				o.Status = sv
			case string:
				o.Status = models.OrderStatus(sv)
			}
		case "delivery_otp":
			if v == nil {
				o.DeliveryOTP = nil
			} else {
				otp := v.(string)
				o.DeliveryOTP = &otp
			}
		case "is_verified":
			o.IsVerified = v.(bool)
		case "updated_at":
			o.UpdatedAt = v.(int64)
		case "delivered_at":
			ts := v.(int64)
			o.DeliveredAt = &ts
		case "actual_delivery_time":
			ts := v.(int64)
			o.ActualDeliveryTime = &ts
		case "proof_of_delivery_image":
			img := v.(string)
			o.ProofOfDeliveryImage = &img
		case "partner_lat":
			lat := v.(float64)
			o.PartnerLat = &lat
		case "partner_lng":
			lng := v.(float64)
			o.PartnerLng = &lng
		case "location_updated_at":
			ts := v.(int64)
			o.LocationUpdatedAt = &ts
		}
	}
	return nil
}

func (s *fakeStore) Claim(_ context.Context, orderID, partnerID, otp string, now int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	if o.PartnerID != nil || o.Status != models.OrderStatusPreparing {
		return false, nil
	}
	o.PartnerID = &partnerID
	o.Status = models.OrderStatusPartnerAssigned
	o.DeliveryOTP = &otp
	o.ShippedAt = &now
	o.UpdatedAt = now
	return true, nil
}

func (s *fakeStore) FindActiveByPartner(_ context.Context, partnerID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.PartnerID != nil && *o.PartnerID == partnerID && o.Status.IsActive() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) ExistsActiveForPartner(ctx context.Context, partnerID string) (bool, error) {
	active, err := s.FindActiveByPartner(ctx, partnerID)
	return len(active) > 0, err
}

func (s *fakeStore) ListByStore(_ context.Context, storeID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.StoreID == storeID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) ListByClient(_ context.Context, clientID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.ClientID == clientID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) ListByPartner(_ context.Context, partnerID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.PartnerID != nil && *o.PartnerID == partnerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *fakeStore) ListOpenJobs(_ context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.Status == models.OrderStatusPreparing && o.PartnerID == nil {
			out = append(out, *o)
		}
	}
	return out, nil
}

type fakePartnerStore struct {
	mu       sync.Mutex
	partners map[string]*models.DeliveryPartner
}

func newFakePartnerStore() *fakePartnerStore {
	return &fakePartnerStore{partners: make(map[string]*models.DeliveryPartner)}
}

func (s *fakePartnerStore) add(id string, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partners[id] = &models.DeliveryPartner{ID: id, UserID: "user-" + id, Name: id, IsAvailable: available}
}

func (s *fakePartnerStore) FindByID(_ context.Context, id string) (*models.DeliveryPartner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return nil, ErrPartnerNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakePartnerStore) SetAvailability(_ context.Context, id string, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partners[id]
	if !ok {
		return ErrPartnerNotFound
	}
	p.IsAvailable = available
	return nil
}

func (s *fakePartnerStore) ListAvailable(_ context.Context) ([]models.DeliveryPartner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryPartner
	for _, p := range s.partners {
		if p.IsAvailable {
			out = append(out, *p)
		}
	}
	return out, nil
}

// recordingHub captures published events per topic.
type recordingHub struct {
	mu     sync.Mutex
	events map[string][]realtime.Event
}

func newRecordingHub() *recordingHub {
	return &recordingHub{events: make(map[string][]realtime.Event)}
}

func (h *recordingHub) Publish(topic string, event interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev, ok := event.(realtime.Event); ok {
		h.events[topic] = append(h.events[topic], ev)
	}
}

func (h *recordingHub) byType(topic, eventType string) []realtime.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []realtime.Event
	for _, ev := range h.events[topic] {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestMachine() (*Machine, *fakeStore, *fakePartnerStore, *recordingHub) {
	store := newFakeStore()
	partners := newFakePartnerStore()
	hub := newRecordingHub()
	m := NewMachine(store, partners, hub, nil, 8)
	m.now = func() int64 { return 1700000000 }
	return m, store, partners, hub
}

func seedOrder(store *fakeStore, status models.OrderStatus) *models.Order {
	order := &models.Order{
		ID:           "order-1",
		HumanOrderID: "ORD-TEST01",
		StoreID:      "store-1",
		ClientID:     "client-1",
		Status:       status,
		TotalAmount:  24.50,
		CustomerLat:  37.3351,
		CustomerLng:  -121.8894,
	}
	store.put(order)
	return order
}

func TestCreateOrderValidation(t *testing.T) {
	m, _, _, _ := newTestMachine()
	ctx := context.Background()

	_, err := m.CreateOrder(ctx, CreateOrderInput{ClientID: "c", Items: []models.OrderItem{{Name: "x", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.CreateOrder(ctx, CreateOrderInput{StoreID: "s", ClientID: "c"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = m.CreateOrder(ctx, CreateOrderInput{
		StoreID: "s", ClientID: "c",
		Items: []models.OrderItem{{Name: "x", Quantity: 0, Price: 1}},
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateOrder(t *testing.T) {
	m, _, _, hub := newTestMachine()

	order, err := m.CreateOrder(context.Background(), CreateOrderInput{
		StoreID:  "store-1",
		ClientID: "client-1",
		Items: []models.OrderItem{
			{Name: "Burrito", Quantity: 2, Price: 9.50},
			{Name: "Soda", Quantity: 1, Price: 2.00},
		},
		CustomerLat:     37.33,
		CustomerLng:     -121.88,
		CustomerAddress: "1 Main St",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusReceived, order.Status)
	assert.InDelta(t, 21.0, order.TotalAmount, 1e-9)
	assert.Regexp(t, `^ORD-[A-Z2-9]{6}$`, order.HumanOrderID)
	assert.Nil(t, order.PartnerID)
	assert.Nil(t, order.DeliveryOTP)

	assert.Len(t, hub.byType(realtime.TopicStore("store-1"), realtime.EventOrderUpdated), 1)
	assert.Len(t, hub.byType(realtime.TopicUser("client-1"), realtime.EventOrderUpdated), 1)
}

func TestTransitionsAreForwardOnly(t *testing.T) {
	m, store, _, _ := newTestMachine()
	ctx := context.Background()
	seedOrder(store, models.OrderStatusReceived)

	// Skipping a state is rejected.
	_, err := m.RequestTransition(ctx, "order-1", models.OrderStatusOutForDelivery, TransitionContext{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Moving backwards is rejected too.
	updated, err := m.RequestTransition(ctx, "order-1", models.OrderStatusPreparing, TransitionContext{})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, updated.Status)

	_, err = m.RequestTransition(ctx, "order-1", models.OrderStatusReceived, TransitionContext{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeliveredRequiresVerification(t *testing.T) {
	m, store, _, _ := newTestMachine()
	seedOrder(store, models.OrderStatusOutForDelivery)

	_, err := m.RequestTransition(context.Background(), "order-1", models.OrderStatusDelivered, TransitionContext{})
	assert.ErrorIs(t, err, ErrUseVerificationEndpoint)
}

func TestAssignRequiresPartnerID(t *testing.T) {
	m, store, _, _ := newTestMachine()
	seedOrder(store, models.OrderStatusPreparing)

	_, err := m.RequestTransition(context.Background(), "order-1", models.OrderStatusPartnerAssigned, TransitionContext{})
	assert.ErrorIs(t, err, ErrMissingPartner)
}

func TestAssignIssuesOTPToClientOnly(t *testing.T) {
	m, store, partners, hub := newTestMachine()
	ctx := context.Background()
	seedOrder(store, models.OrderStatusPreparing)
	partners.add("partner-1", true)

	partnerID := "partner-1"
	updated, err := m.RequestTransition(ctx, "order-1", models.OrderStatusPartnerAssigned, TransitionContext{PartnerID: &partnerID})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPartnerAssigned, updated.Status)
	require.NotNil(t, updated.PartnerID)
	assert.Equal(t, "partner-1", *updated.PartnerID)
	require.NotNil(t, updated.DeliveryOTP)
	assert.Regexp(t, `^\d{4}$`, *updated.DeliveryOTP)

	// OTP event lands on the client channel only.
	otpEvents := hub.byType(realtime.TopicUser("client-1"), realtime.EventOTPIssued)
	require.Len(t, otpEvents, 1)
	assert.Empty(t, hub.byType(realtime.TopicStore("store-1"), realtime.EventOTPIssued))
	assert.Empty(t, hub.byType(realtime.TopicPartner("partner-1"), realtime.EventOTPIssued))

	// The order_updated broadcast never carries the OTP.
	broadcasts := hub.byType(realtime.TopicStore("store-1"), realtime.EventOrderUpdated)
	require.NotEmpty(t, broadcasts)
	resp, ok := broadcasts[len(broadcasts)-1].Data.(models.OrderResponse)
	require.True(t, ok)
	assert.Nil(t, resp.DeliveryOTP)

	// Partner availability derives from the active order.
	p, err := partners.FindByID(ctx, "partner-1")
	require.NoError(t, err)
	assert.False(t, p.IsAvailable)
}

func TestAssignAlreadyClaimed(t *testing.T) {
	m, store, partners, _ := newTestMachine()
	ctx := context.Background()
	seedOrder(store, models.OrderStatusPreparing)
	partners.add("partner-1", true)
	partners.add("partner-2", true)

	first := "partner-1"
	_, err := m.RequestTransition(ctx, "order-1", models.OrderStatusPartnerAssigned, TransitionContext{PartnerID: &first})
	require.NoError(t, err)

	_, err = m.ClaimJob(ctx, "order-1", "partner-2")
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestClaimJobConcurrentSingleWinner(t *testing.T) {
	m, store, partners, _ := newTestMachine()
	ctx := context.Background()
	seedOrder(store, models.OrderStatusPreparing)

	const n = 16
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "partner-" + string(rune('a'+i))
		partners.add(ids[i], true)
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = m.ClaimJob(ctx, "order-1", ids[i])
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, winners)

	final, err := store.FindByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPartnerAssigned, final.Status)
	require.NotNil(t, final.PartnerID)
}

func TestClaimJobBusyPartner(t *testing.T) {
	m, store, partners, _ := newTestMachine()
	seedOrder(store, models.OrderStatusPreparing)
	partners.add("partner-1", false)

	_, err := m.ClaimJob(context.Background(), "order-1", "partner-1")
	assert.ErrorIs(t, err, ErrPartnerBusy)
}

func TestVerifyAndCompleteHappyPath(t *testing.T) {
	m, store, partners, _ := newTestMachine()
	ctx := context.Background()
	seedOrder(store, models.OrderStatusPreparing)
	partners.add("partner-1", true)

	assigned, err := m.ClaimJob(ctx, "order-1", "partner-1")
	require.NoError(t, err)
	otp := *assigned.DeliveryOTP

	_, err = m.RequestTransition(ctx, "order-1", models.OrderStatusOutForDelivery, TransitionContext{})
	require.NoError(t, err)

	proof := "https://cdn.example.com/proof.jpg"
	delivered, err := m.VerifyAndComplete(ctx, "order-1", "partner-1", otp, &proof)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDelivered, delivered.Status)
	assert.True(t, delivered.IsVerified)
	assert.Nil(t, delivered.DeliveryOTP, "OTP must be cleared on completion")
	require.NotNil(t, delivered.DeliveredAt)
	require.NotNil(t, delivered.ProofOfDeliveryImage)
	assert.Equal(t, proof, *delivered.ProofOfDeliveryImage)

	// Completing the delivery frees the partner again.
	p, err := partners.FindByID(ctx, "partner-1")
	require.NoError(t, err)
	assert.True(t, p.IsAvailable)
}

func TestVerifyWrongOTPLeavesOrderInFlight(t *testing.T) {
	m, store, partners, _ := newTestMachine()
	ctx := context.Background()
	seedOrder(store, models.OrderStatusPreparing)
	partners.add("partner-1", true)

	assigned, err := m.ClaimJob(ctx, "order-1", "partner-1")
	require.NoError(t, err)

	_, err = m.RequestTransition(ctx, "order-1", models.OrderStatusOutForDelivery, TransitionContext{})
	require.NoError(t, err)

	wrong := "0000"
	if *assigned.DeliveryOTP == wrong {
		wrong = "1111"
	}
	_, err = m.VerifyAndComplete(ctx, "order-1", "partner-1", wrong, nil)
	assert.ErrorIs(t, err, ErrOTPMismatch)

	current, err := store.FindByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOutForDelivery, current.Status)
	assert.False(t, current.IsVerified)
	assert.NotNil(t, current.DeliveryOTP)
}

func TestVerifyRejectsMalformedOTP(t *testing.T) {
	m, store, _, _ := newTestMachine()
	seedOrder(store, models.OrderStatusOutForDelivery)

	for _, otp := range []string{"", "12a4", "123", "12345"} {
		_, err := m.VerifyAndComplete(context.Background(), "order-1", "partner-1", otp, nil)
		assert.ErrorIs(t, err, ErrInvalidOTP, "otp %q", otp)
	}

	// Surrounding whitespace is tolerated, format still enforced after trim.
	_, err := m.VerifyAndComplete(context.Background(), "order-1", "partner-1", "  12a4  ", nil)
	assert.ErrorIs(t, err, ErrInvalidOTP)
}

func TestVerifyByUnassignedPartner(t *testing.T) {
	m, store, _, _ := newTestMachine()
	partnerID := "partner-1"
	otp := "1234"
	order := seedOrder(store, models.OrderStatusOutForDelivery)
	order.PartnerID = &partnerID
	order.DeliveryOTP = &otp
	store.put(order)

	_, err := m.VerifyAndComplete(context.Background(), "order-1", "partner-2", "1234", nil)
	assert.ErrorIs(t, err, ErrNotAssignedPartner)
}

func TestVerifyWrongState(t *testing.T) {
	m, store, _, _ := newTestMachine()
	seedOrder(store, models.OrderStatusPreparing)

	_, err := m.VerifyAndComplete(context.Background(), "order-1", "partner-1", "1234", nil)
	assert.ErrorIs(t, err, ErrWrongState)
}

func TestVerifyTwiceReportsAlreadyVerified(t *testing.T) {
	m, store, partners, _ := newTestMachine()
	ctx := context.Background()
	seedOrder(store, models.OrderStatusPreparing)
	partners.add("partner-1", true)

	assigned, err := m.ClaimJob(ctx, "order-1", "partner-1")
	require.NoError(t, err)
	otp := *assigned.DeliveryOTP

	_, err = m.RequestTransition(ctx, "order-1", models.OrderStatusOutForDelivery, TransitionContext{})
	require.NoError(t, err)

	// First verification completes the order.
	delivered, err := m.VerifyAndComplete(ctx, "order-1", "partner-1", otp, nil)
	require.NoError(t, err)
	assert.True(t, delivered.IsVerified)

	// Repeating the exact same call is a conflict, not a state error.
	_, err = m.VerifyAndComplete(ctx, "order-1", "partner-1", otp, nil)
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	current, err := store.FindByID(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, current.Status)
}

func TestCancelFreesPartnerAndClearsOTP(t *testing.T) {
	m, store, partners, _ := newTestMachine()
	ctx := context.Background()
	seedOrder(store, models.OrderStatusPreparing)
	partners.add("partner-1", true)

	_, err := m.ClaimJob(ctx, "order-1", "partner-1")
	require.NoError(t, err)

	// A proof image on a cancellation is ignored, not stored.
	proof := "https://cdn.example.com/nope.jpg"
	cancelled, err := m.RequestTransition(ctx, "order-1", models.OrderStatusCancelled, TransitionContext{ProofImage: &proof})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.DeliveryOTP)
	assert.Nil(t, cancelled.ProofOfDeliveryImage)

	p, err := partners.FindByID(ctx, "partner-1")
	require.NoError(t, err)
	assert.True(t, p.IsAvailable)
}

func TestCancelFromTerminalState(t *testing.T) {
	m, store, _, _ := newTestMachine()
	ctx := context.Background()

	for _, status := range []models.OrderStatus{models.OrderStatusDelivered, models.OrderStatusCancelled} {
		seedOrder(store, status)
		_, err := m.RequestTransition(ctx, "order-1", models.OrderStatusCancelled, TransitionContext{})
		assert.ErrorIs(t, err, ErrInvalidTransition, "from %s", status)
	}
}

func TestStartPreparingAdvertisesJob(t *testing.T) {
	m, store, _, hub := newTestMachine()
	seedOrder(store, models.OrderStatusReceived)

	_, err := m.RequestTransition(context.Background(), "order-1", models.OrderStatusPreparing, TransitionContext{})
	require.NoError(t, err)

	jobs := hub.byType(realtime.TopicPool, realtime.EventNewJobAvailable)
	require.Len(t, jobs, 1)
	data, ok := jobs[0].Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "order-1", data["order_id"])
	assert.Equal(t, 8.0, data["catchment_km"])
}

func TestReconcileAvailability(t *testing.T) {
	m, store, partners, _ := newTestMachine()
	ctx := context.Background()
	partners.add("partner-1", false)

	// No active orders: partner becomes available.
	require.NoError(t, m.ReconcileAvailability(ctx, "partner-1"))
	p, _ := partners.FindByID(ctx, "partner-1")
	assert.True(t, p.IsAvailable)

	// An active order flips them busy.
	partnerID := "partner-1"
	order := seedOrder(store, models.OrderStatusOutForDelivery)
	order.PartnerID = &partnerID
	store.put(order)

	require.NoError(t, m.ReconcileAvailability(ctx, "partner-1"))
	p, _ = partners.FindByID(ctx, "partner-1")
	assert.False(t, p.IsAvailable)
}

func TestOrderNotFound(t *testing.T) {
	m, _, _, _ := newTestMachine()
	_, err := m.RequestTransition(context.Background(), "missing", models.OrderStatusPreparing, TransitionContext{})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
