package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 2048
)

// Client represents a WebSocket client connection
type Client struct {
	ID     string // connection handle, unique per socket
	UserID string
	Role   string // "client", "store", "partner" or "admin"

	// PartnerID is resolved at attach time for partner-role users and
	// bound to the connection on the first partner-scoped message.
	PartnerID string

	conn     *websocket.Conn
	hub      *Hub
	presence *Presence
	tracker  *Tracker
	send     chan []byte

	bound bool // partner identity bound to this connection
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// NewClient creates a new WebSocket client
func NewClient(userID, role, partnerID string, conn *websocket.Conn, hub *Hub, presence *Presence, tracker *Tracker) *Client {
	return &Client{
		ID:        uuid.New().String(),
		UserID:    userID,
		Role:      role,
		PartnerID: partnerID,
		conn:      conn,
		hub:       hub,
		presence:  presence,
		tracker:   tracker,
		send:      make(chan []byte, 256),
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
	defer func() {
		if c.bound {
			c.presence.Release(c.ID, c.PartnerID)
		}
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("WebSocket error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debugf("Invalid message format from %s: %v", c.UserID, err)
			continue
		}

		switch msg.Type {
		case "ping":
			response, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			c.send <- response

		case "join", "heartbeat":
			// Both bind the partner identity to this connection and
			// refresh the presence session.
			if c.bindPartner() {
				c.presence.Touch(c.ID, c.PartnerID)
			}

		case "location_update":
			c.handleLocationUpdate(msg.Data)

		case "join_pool":
			if c.bindPartner() {
				c.hub.Subscribe(c, TopicPool)
			}

		case "leave_pool":
			c.hub.Unsubscribe(c, TopicPool)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// bindPartner attaches the resolved partner identity to this
// connection. Idempotent; only partner-role connections can bind.
func (c *Client) bindPartner() bool {
	if c.PartnerID == "" {
		log.Debugf("Ignoring partner event from non-partner connection %s", c.ID)
		return false
	}
	if c.bound {
		return true
	}
	c.bound = true
	c.hub.Subscribe(c, TopicPartner(c.PartnerID))
	log.Infof("🤝 Connection %s bound to partner %s", c.ID, c.PartnerID)
	return true
}

// handleLocationUpdate feeds a partner location ping into the tracker.
// Everything invalid is dropped without a reply.
func (c *Client) handleLocationUpdate(data map[string]interface{}) {
	if !c.bindPartner() {
		return
	}

	orderID, ok := data["order_id"].(string)
	if !ok || orderID == "" {
		log.Debugf("Dropping location update without order_id from partner %s", c.PartnerID)
		return
	}
	lat, ok := data["lat"].(float64)
	if !ok {
		log.Debugf("Dropping location update with invalid lat from partner %s", c.PartnerID)
		return
	}
	lng, ok := data["lng"].(float64)
	if !ok {
		log.Debugf("Dropping location update with invalid lng from partner %s", c.PartnerID)
		return
	}

	// Optional destination hint overriding the order's stored one.
	var endLat, endLng *float64
	if v, ok := data["end_lat"].(float64); ok {
		endLat = &v
	}
	if v, ok := data["end_lng"].(float64); ok {
		endLng = &v
	}

	c.tracker.ReportLocation(context.Background(), c.ID, orderID, c.PartnerID, lat, lng, endLat, endLng)
}
