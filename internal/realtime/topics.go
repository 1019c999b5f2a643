package realtime

// Topic addressing for the hub. Every actor gets a private channel;
// partners waiting for work additionally join the shared job pool.

// TopicPool is the broadcast channel for job advertisements.
const TopicPool = "partners:pool"

func TopicStore(storeID string) string {
	return "store:" + storeID
}

func TopicUser(clientID string) string {
	return "user:" + clientID
}

func TopicPartner(partnerID string) string {
	return "partner:" + partnerID
}

// Outbound event types
const (
	EventOrderUpdated        = "order_updated"
	EventOTPIssued           = "otp_issued"
	EventNewJobAvailable     = "new_job_available"
	EventPartnerLocation     = "partner_location"
	EventPartnerArrived      = "partner_arrived"
	EventTrackingUnavailable = "partner_tracking_unavailable"
	EventTrackingRestored    = "partner_tracking_restored"
)

// Event is the envelope every outbound message is wrapped in.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
