package whatsapp

import "encoding/json"

// TextMessage is the Cloud API payload for a plain text message.
type TextMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// TemplateMessage is the Cloud API payload for a pre-approved template
// message. The template spec (name, language, components) is passed through
// as provided; the provider validates it.
type TemplateMessage struct {
	MessagingProduct string         `json:"messaging_product"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Template         map[string]any `json:"template"`
}

// WebhookPayload is the inbound envelope delivered by the Cloud API.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry wraps the changes of one subscribed object.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries one value (messages and/or statuses) plus the field name.
type Change struct {
	Value ChangeValue `json:"value"`
	Field string      `json:"field"`
}

// ChangeValue is the payload of a change: metadata about the receiving
// number, the sender contacts, and the message/status lists.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

// Metadata identifies the business number that received the event.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact carries the sender's profile.
type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// Message is one inbound message of any supported type.
type Message struct {
	From      string    `json:"from"`
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Type      string    `json:"type"`
	Text      *Text     `json:"text,omitempty"`
	Image     *Media    `json:"image,omitempty"`
	Audio     *Media    `json:"audio,omitempty"`
	Document  *Media    `json:"document,omitempty"`
	Location  *Location `json:"location,omitempty"`
	Button    *Button   `json:"button,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// Location is a shared location pin.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Button is a quick-reply button press.
type Button struct {
	Payload string `json:"payload"`
	Text    string `json:"text,omitempty"`
}

// Media holds the shared attributes of image/audio/document payloads.
type Media struct {
	ID       string `json:"id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Status is one delivery status update (sent/delivered/read/failed).
type Status struct {
	Status       string          `json:"status"`
	ID           string          `json:"id"`
	RecipientID  string          `json:"recipient_id"`
	Timestamp    string          `json:"timestamp"`
	Errors       []StatusError   `json:"errors,omitempty"`
	Conversation json.RawMessage `json:"conversation,omitempty"`
	Pricing      json.RawMessage `json:"pricing,omitempty"`
}

// StatusError is one failure detail attached to a failed status.
type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Details string `json:"details,omitempty"`
}

// PhoneNumberID extracts entry[0].changes[0].value.metadata.phone_number_id,
// the number the provider delivered this envelope for. Empty when absent.
func (p WebhookPayload) PhoneNumberID() string {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return ""
	}
	return p.Entry[0].Changes[0].Value.Metadata.PhoneNumberID
}
