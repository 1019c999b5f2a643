package realtime

import (
	"database/sql"
	"net/http"

	"swiftdash-backend/internal/middleware"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		// TODO: Restrict in production
		return true
	},
}

// HandleWebSocket upgrades the HTTP connection and attaches the client
// to its private channels. Authentication uses the JWT passed as a
// query parameter, since browsers cannot set headers on WebSocket dials.
func HandleWebSocket(hub *Hub, db *sqlx.DB, presence *Presence, tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.URL.Query().Get("token")
		if tokenString == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userClaims, err := middleware.ParseToken(tokenString)
		if err != nil {
			log.Debugf("❌ Rejected WebSocket token: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Partner connections carry the partner aggregate id resolved
		// up front; the identity binds to the socket on first use.
		var partnerID string
		if userClaims.Role == "partner" {
			err := db.Get(&partnerID, "SELECT id FROM partners WHERE user_id = $1", userClaims.UserID)
			if err != nil && err != sql.ErrNoRows {
				log.Errorf("❌ Failed to resolve partner for user %s: %v", userClaims.UserID, err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(userClaims.UserID, userClaims.Role, partnerID, conn, hub, presence, tracker)
		hub.register <- client

		// Every actor listens on their own private channel. Store
		// owners get their store's channel.
		switch userClaims.Role {
		case "client":
			hub.Subscribe(client, TopicUser(userClaims.UserID))
		case "store":
			var storeID string
			err := db.Get(&storeID, "SELECT id FROM stores WHERE owner_id = $1", userClaims.UserID)
			if err == nil {
				hub.Subscribe(client, TopicStore(storeID))
			} else if err != sql.ErrNoRows {
				log.Errorf("❌ Failed to resolve store for user %s: %v", userClaims.UserID, err)
			}
		case "partner":
			if partnerID != "" {
				hub.Subscribe(client, TopicPartner(partnerID))
			}
		}

		go client.WritePump()
		go client.ReadPump()

		log.Infof("✅ WebSocket connection established for user %s (%s)", userClaims.UserID, userClaims.Role)
	}
}
