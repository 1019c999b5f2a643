package models

// DeliveryPartner represents a roaming delivery partner
type DeliveryPartner struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`
	Phone  string `json:"phone" db:"phone"`

	// IsAvailable is derived state: true iff the partner has no order
	// currently in partner_assigned or out_for_delivery. Recomputed by
	// the state machine whenever assignment state changes.
	IsAvailable bool `json:"is_available" db:"is_available"`

	VehicleType string `json:"vehicle_type" db:"vehicle_type"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
	UpdatedAt   int64  `json:"updated_at" db:"updated_at"`
}

// Store represents a merchant storefront that prepares orders
type Store struct {
	ID        string  `json:"id" db:"id"`
	OwnerID   string  `json:"owner_id" db:"owner_id"`
	Name      string  `json:"name" db:"name"`
	Address   string  `json:"address" db:"address"`
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	CreatedAt int64   `json:"created_at" db:"created_at"`
	UpdatedAt int64   `json:"updated_at" db:"updated_at"`
}
