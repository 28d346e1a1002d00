package core

import (
	"context"
	"time"
)

// Gateway sends outbound messages through the WhatsApp Cloud API. The
// phoneNumberID selects the sending number; empty means the configured
// default. The returned map is the provider's parsed JSON response.
type Gateway interface {
	SendText(ctx context.Context, to, body, phoneNumberID string) (map[string]any, error)
	SendTemplate(ctx context.Context, to string, template map[string]any, phoneNumberID string) (map[string]any, error)
}

// MessageStore persists conversation messages and the inbound dedupe set.
type MessageStore interface {
	Insert(ctx context.Context, rec *MessageRecord) error
	UpdateStatusByExternalID(ctx context.Context, externalMsgID, status string) error
	// ListByPhone returns up to limit records for phone, newest first.
	// A non-zero before bounds created_at.
	ListByPhone(ctx context.Context, phone string, limit int, before time.Time) ([]MessageRecord, error)
	RecentContacts(ctx context.Context, limit int) ([]Contact, error)
	// MarkProcessed records an inbound wamid; false means it was already seen.
	MarkProcessed(ctx context.Context, externalMsgID string) (bool, error)
}

// SessionStore keeps conversation state per (tenant, phone) with
// state-dependent TTLs.
type SessionStore interface {
	Get(ctx context.Context, tenant, phone string) (*Session, error)
	// Touch returns the existing session or creates an idle one.
	Touch(ctx context.Context, tenant, phone string) (*Session, error)
	SetState(ctx context.Context, tenant, phone, state string) error
	SetContext(ctx context.Context, tenant, phone string, updates map[string]string) error
	Delete(ctx context.Context, tenant, phone string) error
}
