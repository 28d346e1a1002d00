package core

import "time"

// Event is one normalized occurrence extracted from a webhook envelope:
// either an inbound message or a delivery status. Fields beyond From/Type
// are populated per type.
type Event struct {
	From        string `json:"from"`
	Type        string `json:"type"` // text, image, audio, document, location, button, status, ...
	ProfileName string `json:"profile_name,omitempty"`

	// text
	Text string `json:"text,omitempty"`

	// media (image/audio/document)
	MediaID  string `json:"id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`

	// location
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`

	// button
	Payload string `json:"payload,omitempty"`

	// message id (wamid) for inbound messages, status subject for statuses
	MessageID string `json:"msg_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// status
	Status       string         `json:"status,omitempty"` // sent, delivered, read, failed
	Errors       []StatusError  `json:"errors,omitempty"`
	Conversation map[string]any `json:"conversation,omitempty"`
	Pricing      map[string]any `json:"pricing,omitempty"`
}

// StatusError is one provider-reported delivery failure.
type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Details string `json:"details,omitempty"`
}

// Action is one outbound message decided by a router or tenant automation.
// Exactly one of Text/Template is set.
type Action struct {
	To       string         `json:"to"`
	Text     string         `json:"text,omitempty"`
	Template map[string]any `json:"template,omitempty"`
}

// Kind reports "template" or "text" for logging.
func (a Action) Kind() string {
	if a.Template != nil {
		return "template"
	}
	return "text"
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MessageRecord is one stored conversation message, inbound or outbound.
type MessageRecord struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	Phone           string         `json:"phone"`
	Direction       string         `json:"direction"`
	Text            string         `json:"text,omitempty"`
	AttachmentsMeta map[string]any `json:"attachments_meta,omitempty"`
	ExternalMsgID   string         `json:"external_msg_id,omitempty"`
	Status          string         `json:"status,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Contact is a phone that exchanged messages recently.
type Contact struct {
	Phone         string    `json:"phone"`
	TenantID      string    `json:"tenant_id"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Session holds the conversation state of one (tenant, phone) pair.
type Session struct {
	SessionID    string            `json:"session_id"`
	Tenant       string            `json:"tenant"`
	Phone        string            `json:"phone"`
	State        string            `json:"state"`
	Context      map[string]string `json:"context"`
	LastActivity time.Time         `json:"last_activity"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// Conversation states used by tenant automations.
const (
	StateIdle           = "idle"
	StateAwaitingMenu   = "awaiting_menu_selection"
	StateAwaitingName   = "awaiting_name"
	StateEscalated      = "escalated"
	StateBookingPending = "booking_pending"
	StateClosed         = "closed"
)
