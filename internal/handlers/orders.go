package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"swiftdash-backend/internal/middleware"
	"swiftdash-backend/internal/models"
	"swiftdash-backend/internal/orders"
	"swiftdash-backend/internal/services"
	"swiftdash-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
)

// respondDomainError maps a typed orders.Error onto its HTTP status;
// anything else is a 500.
func respondDomainError(w http.ResponseWriter, err error) {
	var domainErr *orders.Error
	if errors.As(err, &domainErr) {
		utils.RespondError(w, domainErr.HTTPStatus, domainErr.Message)
		return
	}
	log.Errorf("❌ Unexpected error: %v", err)
	utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
}

// partnerIDForUser resolves the partner aggregate behind a partner-role
// user. Returns "" when the user has no partner record.
func partnerIDForUser(db *sqlx.DB, userID string) (string, error) {
	var partnerID string
	err := db.Get(&partnerID, "SELECT id FROM partners WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return partnerID, err
}

// storeIDForUser resolves the store owned by a store-role user.
func storeIDForUser(db *sqlx.DB, userID string) (string, error) {
	var storeID string
	err := db.Get(&storeID, "SELECT id FROM stores WHERE owner_id = $1", userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return storeID, err
}

type createOrderRequest struct {
	StoreID         string             `json:"store_id"`
	Items           []models.OrderItem `json:"items"`
	CustomerLat     float64            `json:"customer_lat"`
	CustomerLng     float64            `json:"customer_lng"`
	CustomerAddress string             `json:"customer_address"`
}

// CreateOrder places a new order for the authenticated client.
func CreateOrder(machine *orders.Machine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		order, err := machine.CreateOrder(r.Context(), orders.CreateOrderInput{
			StoreID:         req.StoreID,
			ClientID:        userClaims.UserID,
			Items:           req.Items,
			CustomerLat:     req.CustomerLat,
			CustomerLng:     req.CustomerLng,
			CustomerAddress: req.CustomerAddress,
		})
		if err != nil {
			respondDomainError(w, err)
			return
		}

		utils.RespondJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"data":    order.ToResponse(true),
		})
	}
}

// GetOrder returns one order. Only the order's client, its store's
// owner, its assigned partner or an admin may see it; the OTP is
// exposed to the client alone.
func GetOrder(store orders.Store, db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		order, err := store.FindByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondDomainError(w, err)
			return
		}

		includeOTP := false
		allowed := false
		switch userClaims.Role {
		case "admin":
			allowed = true
		case "client":
			allowed = order.ClientID == userClaims.UserID
			includeOTP = allowed
		case "store":
			storeID, err := storeIDForUser(db, userClaims.UserID)
			if err != nil {
				respondDomainError(w, err)
				return
			}
			allowed = storeID != "" && order.StoreID == storeID
		case "partner":
			partnerID, err := partnerIDForUser(db, userClaims.UserID)
			if err != nil {
				respondDomainError(w, err)
				return
			}
			allowed = partnerID != "" && order.PartnerID != nil && *order.PartnerID == partnerID
		}
		if !allowed {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    order.ToResponse(includeOTP),
		})
	}
}

// ListOrders returns the caller's orders: a client's purchases, a
// store's sales or a partner's deliveries.
func ListOrders(store orders.Store, db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var list []models.Order
		var err error
		switch userClaims.Role {
		case "client":
			list, err = store.ListByClient(r.Context(), userClaims.UserID)
		case "store":
			var storeID string
			storeID, err = storeIDForUser(db, userClaims.UserID)
			if err == nil && storeID != "" {
				list, err = store.ListByStore(r.Context(), storeID)
			}
		case "partner":
			var partnerID string
			partnerID, err = partnerIDForUser(db, userClaims.UserID)
			if err == nil && partnerID != "" {
				list, err = store.ListByPartner(r.Context(), partnerID)
			}
		default:
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}
		if err != nil {
			respondDomainError(w, err)
			return
		}

		responses := make([]models.OrderResponse, 0, len(list))
		for i := range list {
			responses = append(responses, list[i].ToResponse(false))
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    responses,
		})
	}
}

type updateStatusRequest struct {
	Status     string  `json:"status"`
	PartnerID  *string `json:"partner_id,omitempty"`
	ProofImage *string `json:"proof_image,omitempty"`
}

// UpdateOrderStatus requests a lifecycle transition. Store owners may
// only move their own orders; admins may move any.
func UpdateOrderStatus(machine *orders.Machine, store orders.Store, db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		orderID := chi.URLParam(r, "id")
		var req updateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if userClaims.Role == "store" {
			order, err := store.FindByID(r.Context(), orderID)
			if err != nil {
				respondDomainError(w, err)
				return
			}
			storeID, err := storeIDForUser(db, userClaims.UserID)
			if err != nil {
				respondDomainError(w, err)
				return
			}
			if storeID == "" || order.StoreID != storeID {
				utils.RespondError(w, http.StatusForbidden, "Forbidden")
				return
			}
		}

		updated, err := machine.RequestTransition(r.Context(), orderID,
			models.OrderStatus(req.Status), orders.TransitionContext{
				PartnerID:  req.PartnerID,
				ProofImage: req.ProofImage,
			})
		if err != nil {
			respondDomainError(w, err)
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    updated.ToResponse(false),
		})
	}
}

type verifyDeliveryRequest struct {
	OTP        string  `json:"otp"`
	ProofImage *string `json:"proof_image,omitempty"`
}

// VerifyDelivery completes an order: the assigned partner submits the
// client's OTP and optionally a proof-of-delivery image.
func VerifyDelivery(machine *orders.Machine, db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		partnerID, err := partnerIDForUser(db, userClaims.UserID)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		if partnerID == "" {
			utils.RespondError(w, http.StatusForbidden, "No partner profile for this account")
			return
		}

		var req verifyDeliveryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		updated, err := machine.VerifyAndComplete(r.Context(), chi.URLParam(r, "id"), partnerID, req.OTP, req.ProofImage)
		if err != nil {
			respondDomainError(w, err)
			return
		}

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    updated.ToResponse(false),
		})
	}
}

// ClaimJob lets an available partner take an advertised order. At most
// one claimant wins the race.
func ClaimJob(machine *orders.Machine, db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		partnerID, err := partnerIDForUser(db, userClaims.UserID)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		if partnerID == "" {
			utils.RespondError(w, http.StatusForbidden, "No partner profile for this account")
			return
		}

		updated, err := machine.ClaimJob(r.Context(), chi.URLParam(r, "id"), partnerID)
		if err != nil {
			respondDomainError(w, err)
			return
		}

		// The OTP is never in this response: the partner collects it
		// from the client at handoff.
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    updated.ToResponse(false),
		})
	}
}

// ListOpenJobs returns the advertised, still-unclaimed orders.
func ListOpenJobs(store orders.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := store.ListOpenJobs(r.Context())
		if err != nil {
			respondDomainError(w, err)
			return
		}

		responses := make([]models.OrderResponse, 0, len(jobs))
		for i := range jobs {
			responses = append(responses, jobs[i].ToResponse(false))
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    responses,
		})
	}
}

// GetPartnerLocation returns the assigned partner's last known position
// for an order, preferring the Redis cache over the orders row.
func GetPartnerLocation(store orders.Store, db *sqlx.DB, cache *services.LocationCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		order, err := store.FindByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			respondDomainError(w, err)
			return
		}

		allowed := userClaims.Role == "admin" || order.ClientID == userClaims.UserID
		if !allowed && userClaims.Role == "store" {
			storeID, err := storeIDForUser(db, userClaims.UserID)
			if err == nil && storeID != "" && order.StoreID == storeID {
				allowed = true
			}
		}
		if !allowed && userClaims.Role == "partner" {
			partnerID, err := partnerIDForUser(db, userClaims.UserID)
			if err == nil && partnerID != "" && order.PartnerID != nil && *order.PartnerID == partnerID {
				allowed = true
			}
		}
		if !allowed {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		if order.PartnerID == nil {
			utils.RespondError(w, http.StatusNotFound, "No partner assigned yet")
			return
		}

		if cache != nil {
			pos, err := cache.GetLocation(r.Context(), *order.PartnerID)
			if err != nil {
				log.Warnf("⚠️  Location cache read failed for partner %s: %v", *order.PartnerID, err)
			} else if pos != nil && pos.OrderID == order.ID {
				utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
					"success": true,
					"data":    pos,
					"source":  "cache",
				})
				return
			}
		}

		if order.PartnerLat == nil || order.PartnerLng == nil {
			utils.RespondError(w, http.StatusNotFound, "No location reported yet")
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"order_id":   order.ID,
				"lat":        *order.PartnerLat,
				"lng":        *order.PartnerLng,
				"updated_at": order.LocationUpdatedAt,
			},
			"source": "database",
		})
	}
}
