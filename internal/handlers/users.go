package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"swiftdash-backend/internal/models"
	"swiftdash-backend/pkg/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"` // "client", "store", "partner" or "admin"

	// Partner profile fields, used when role is "partner"
	Phone       string `json:"phone,omitempty"`
	VehicleType string `json:"vehicle_type,omitempty"`

	// Store profile fields, used when role is "store"
	StoreName    string  `json:"store_name,omitempty"`
	StoreAddress string  `json:"store_address,omitempty"`
	StoreLat     float64 `json:"store_lat,omitempty"`
	StoreLng     float64 `json:"store_lng,omitempty"`
}

type CreateUserResponse struct {
	Success bool                 `json:"success"`
	User    *models.UserResponse `json:"user,omitempty"`
	Message string               `json:"message,omitempty"`
}

// CreateUser creates a new user account. Partner and store accounts get
// their domain profile row in the same transaction. Admin only.
func CreateUser(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("📥 REQUEST: POST /api/admin/users - Create new user")

		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("❌ Invalid request body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.Email == "" || req.Password == "" || req.Name == "" || req.Role == "" {
			utils.RespondError(w, http.StatusBadRequest, "Email, password, name, and role are required")
			return
		}

		validRoles := map[string]bool{"client": true, "store": true, "partner": true, "admin": true}
		if !validRoles[req.Role] {
			log.Printf("❌ Invalid role: %s", req.Role)
			utils.RespondError(w, http.StatusBadRequest, "Role must be 'client', 'store', 'partner', or 'admin'")
			return
		}

		var existingID string
		if err := db.Get(&existingID, "SELECT id FROM users WHERE email = $1", req.Email); err == nil {
			log.Printf("❌ User already exists: %s", req.Email)
			utils.RespondError(w, http.StatusConflict, "User with this email already exists")
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Printf("❌ Failed to hash password: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		now := time.Now().Unix()
		user := models.User{
			ID:        uuid.New().String(),
			Email:     req.Email,
			Password:  string(hashedPassword),
			Name:      req.Name,
			Role:      req.Role,
			CreatedAt: now,
			UpdatedAt: now,
		}

		tx, err := db.Beginx()
		if err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO users (id, email, password, name, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			user.ID, user.Email, user.Password, user.Name, user.Role, user.CreatedAt, user.UpdatedAt,
		)
		if err != nil {
			log.Printf("❌ Database error: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		switch req.Role {
		case "partner":
			_, err = tx.Exec(`
				INSERT INTO partners (id, user_id, name, phone, is_available, vehicle_type, created_at, updated_at)
				VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7)`,
				uuid.New().String(), user.ID, user.Name, req.Phone, req.VehicleType, now, now,
			)
		case "store":
			storeName := req.StoreName
			if storeName == "" {
				storeName = user.Name
			}
			_, err = tx.Exec(`
				INSERT INTO stores (id, owner_id, name, address, latitude, longitude, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				uuid.New().String(), user.ID, storeName, req.StoreAddress, req.StoreLat, req.StoreLng, now, now,
			)
		}
		if err != nil {
			log.Printf("❌ Failed to create %s profile: %v", req.Role, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user profile")
			return
		}

		if err := tx.Commit(); err != nil {
			utils.RespondError(w, http.StatusInternalServerError, "Failed to create user")
			return
		}

		log.Printf("✅ User created: %s (%s)", user.Email, user.Role)

		userResponse := user.ToUserResponse()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(CreateUserResponse{
			Success: true,
			User:    &userResponse,
			Message: "User created successfully",
		})
	}
}
