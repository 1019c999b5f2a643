package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(userID string, buffer int) *Client {
	return &Client{
		ID:     "conn-" + userID,
		UserID: userID,
		Role:   "client",
		send:   make(chan []byte, buffer),
	}
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	require.Eventually(t, func() bool { return hub.ClientCount() > 0 }, time.Second, 5*time.Millisecond)
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHubDeliversToTopicSubscribersOnly(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	subscriber := testClient("alice", 4)
	bystander := testClient("bob", 4)
	registerClient(t, hub, subscriber)
	registerClient(t, hub, bystander)

	hub.Subscribe(subscriber, TopicUser("alice"))
	assert.Equal(t, 1, hub.SubscriberCount(TopicUser("alice")))

	hub.Publish(TopicUser("alice"), Event{Type: EventOrderUpdated, Data: map[string]interface{}{"order_id": "order-1"}})

	var ev Event
	require.NoError(t, json.Unmarshal(receive(t, subscriber), &ev))
	assert.Equal(t, EventOrderUpdated, ev.Type)

	select {
	case data := <-bystander.send:
		t.Fatalf("bystander received unexpected event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := testClient("alice", 4)
	registerClient(t, hub, c)

	hub.Subscribe(c, TopicPool)
	hub.Unsubscribe(c, TopicPool)
	assert.Equal(t, 0, hub.SubscriberCount(TopicPool))

	hub.Publish(TopicPool, Event{Type: EventNewJobAvailable})
	select {
	case data := <-c.send:
		t.Fatalf("unsubscribed client received event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsClientWithFullBuffer(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// Buffer of one: the second event cannot be queued.
	c := testClient("alice", 1)
	registerClient(t, hub, c)
	hub.Subscribe(c, TopicUser("alice"))

	hub.Publish(TopicUser("alice"), Event{Type: EventOrderUpdated})
	hub.Publish(TopicUser("alice"), Event{Type: EventOrderUpdated})

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.SubscriberCount(TopicUser("alice")))
}

func TestHubUnregisterPurgesSubscriptions(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := testClient("alice", 4)
	registerClient(t, hub, c)
	hub.Subscribe(c, TopicUser("alice"))
	hub.Subscribe(c, TopicPool)

	hub.unregister <- c
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.SubscriberCount(TopicUser("alice")))
	assert.Equal(t, 0, hub.SubscriberCount(TopicPool))

	// The hub closed the send channel on the way out.
	_, open := <-c.send
	assert.False(t, open)
}
