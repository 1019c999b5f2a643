package models

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusReceived        OrderStatus = "received"
	OrderStatusPreparing       OrderStatus = "preparing"
	OrderStatusPartnerAssigned OrderStatus = "partner_assigned"
	OrderStatusOutForDelivery  OrderStatus = "out_for_delivery"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// NextStatus returns the next state in the canonical forward flow,
// or "" if the status is terminal.
func (s OrderStatus) NextStatus() OrderStatus {
	switch s {
	case OrderStatusReceived:
		return OrderStatusPreparing
	case OrderStatusPreparing:
		return OrderStatusPartnerAssigned
	case OrderStatusPartnerAssigned:
		return OrderStatusOutForDelivery
	case OrderStatusOutForDelivery:
		return OrderStatusDelivered
	}
	return ""
}

// IsTerminal reports whether no further transitions are possible
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// IsActive reports whether a partner is currently working this order.
// Location pings are only accepted while the order is active.
func (s OrderStatus) IsActive() bool {
	return s == OrderStatusPartnerAssigned || s == OrderStatusOutForDelivery
}

// Order represents a delivery order
type Order struct {
	ID           string  `json:"id" db:"id"`
	HumanOrderID string  `json:"human_order_id" db:"human_order_id"`
	StoreID      string  `json:"store_id" db:"store_id"`
	ClientID     string  `json:"client_id" db:"client_id"`
	PartnerID    *string `json:"partner_id" db:"partner_id"` // null until assigned

	Status      OrderStatus `json:"status" db:"status"`
	TotalAmount float64     `json:"total_amount" db:"total_amount"`

	// DeliveryOTP is only set while the order is assigned and not yet
	// verified. Never serialized to anyone but the order's client.
	DeliveryOTP *string `json:"-" db:"delivery_otp"`
	IsVerified  bool    `json:"is_verified" db:"is_verified"`

	// Destination, set at creation
	CustomerLat     float64 `json:"customer_lat" db:"customer_lat"`
	CustomerLng     float64 `json:"customer_lng" db:"customer_lng"`
	CustomerAddress string  `json:"customer_address" db:"customer_address"`

	// Live partner position, mutated only by location events
	PartnerLat        *float64 `json:"partner_lat" db:"partner_lat"`
	PartnerLng        *float64 `json:"partner_lng" db:"partner_lng"`
	LocationUpdatedAt *int64   `json:"location_updated_at" db:"location_updated_at"`

	ProofOfDeliveryImage *string `json:"proof_of_delivery_image" db:"proof_of_delivery_image"`

	CreatedAt             int64  `json:"created_at" db:"created_at"`
	UpdatedAt             int64  `json:"updated_at" db:"updated_at"`
	ShippedAt             *int64 `json:"shipped_at" db:"shipped_at"`
	DeliveredAt           *int64 `json:"delivered_at" db:"delivered_at"`
	EstimatedDeliveryTime *int64 `json:"estimated_delivery_time" db:"estimated_delivery_time"`
	ActualDeliveryTime    *int64 `json:"actual_delivery_time" db:"actual_delivery_time"`

	Items []OrderItem `json:"items" db:"-"`
}

// OrderItem is a line item snapshot taken at order creation
type OrderItem struct {
	ID       int     `json:"id" db:"id"`
	OrderID  string  `json:"order_id" db:"order_id"`
	Name     string  `json:"name" db:"name"`
	Quantity int     `json:"quantity" db:"quantity"`
	Price    float64 `json:"price" db:"price"`
}

// OrderResponse is the order as exposed over the API. The OTP field is
// only populated for the order's client.
type OrderResponse struct {
	Order
	DeliveryOTP *string `json:"delivery_otp,omitempty"`
}

// ToResponse builds the API view of the order. includeOTP must only be
// true when the requester is the order's client.
func (o *Order) ToResponse(includeOTP bool) OrderResponse {
	resp := OrderResponse{Order: *o}
	if includeOTP {
		resp.DeliveryOTP = o.DeliveryOTP
	}
	return resp
}
