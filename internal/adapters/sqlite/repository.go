package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atendezap/zapbridge/internal/core"
)

// MessageModel is the GORM model behind the messages table.
type MessageModel struct {
	ID              string  `gorm:"column:id;primaryKey"`
	TenantID        string  `gorm:"column:tenant_id;index:idx_messages_tenant_created,priority:1"`
	Phone           string  `gorm:"column:phone;index:idx_messages_phone_created,priority:1"`
	Direction       string  `gorm:"column:direction"`
	Text            string  `gorm:"column:text"`
	AttachmentsMeta string  `gorm:"column:attachments_meta"`
	ExternalMsgID   *string `gorm:"column:external_msg_id;uniqueIndex"`
	Status          string  `gorm:"column:status"`
	CreatedAt       time.Time `gorm:"column:created_at;index:idx_messages_phone_created,priority:2;index:idx_messages_tenant_created,priority:2"`
}

// TableName keeps the original table name.
func (MessageModel) TableName() string { return "messages" }

// ProcessedIDModel is the inbound dedupe set, keyed by wamid.
type ProcessedIDModel struct {
	ExternalMsgID string    `gorm:"column:external_msg_id;primaryKey"`
	SeenAt        time.Time `gorm:"column:seen_at"`
}

// TableName keeps the original table name.
func (ProcessedIDModel) TableName() string { return "processed_ids" }

// Repository implements core.MessageStore on SQLite via GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository opens (creating if needed) the SQLite database at path and
// migrates the schema.
func NewRepository(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&MessageModel{}, &ProcessedIDModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Insert stores one message record, assigning id and created_at when unset.
func (r *Repository) Insert(ctx context.Context, rec *core.MessageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	model := MessageModel{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Phone:     rec.Phone,
		Direction: rec.Direction,
		Text:      rec.Text,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
	}
	if rec.ExternalMsgID != "" {
		id := rec.ExternalMsgID
		model.ExternalMsgID = &id
	}
	if rec.AttachmentsMeta != nil {
		data, err := json.Marshal(rec.AttachmentsMeta)
		if err != nil {
			return fmt.Errorf("failed to marshal attachments meta: %w", err)
		}
		model.AttachmentsMeta = string(data)
	}

	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// UpdateStatusByExternalID sets the delivery status of the message carrying
// the given wamid. Unknown ids are a no-op.
func (r *Repository) UpdateStatusByExternalID(ctx context.Context, externalMsgID, status string) error {
	if err := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("external_msg_id = ?", externalMsgID).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// ListByPhone returns up to limit records for phone, newest first. A
// non-zero before bounds created_at.
func (r *Repository) ListByPhone(ctx context.Context, phone string, limit int, before time.Time) ([]core.MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx).Where("phone = ?", phone)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}

	var models []MessageModel
	if err := q.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	records := make([]core.MessageRecord, len(models))
	for i, m := range models {
		records[i] = m.toDomain()
	}
	return records, nil
}

// contactRow receives the aggregate query. SQLite hands MAX(created_at) back
// as TEXT (the aggregate loses the column's declared type), so the timestamp
// is scanned as a string and parsed afterwards.
type contactRow struct {
	Phone         string
	TenantID      string
	LastMessageAt string
}

// sqliteTimeLayouts are the formats the driver writes DATETIME values in.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseSQLiteTime(s string) time.Time {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// RecentContacts returns the phones with the most recent activity.
func (r *Repository) RecentContacts(ctx context.Context, limit int) ([]core.Contact, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []contactRow
	if err := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Select("phone, tenant_id, MAX(created_at) AS last_message_at").
		Group("phone, tenant_id").
		Order("last_message_at DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent contacts: %w", err)
	}

	contacts := make([]core.Contact, len(rows))
	for i, row := range rows {
		contacts[i] = core.Contact{
			Phone:         row.Phone,
			TenantID:      row.TenantID,
			LastMessageAt: parseSQLiteTime(row.LastMessageAt),
		}
	}
	return contacts, nil
}

// MarkProcessed records an inbound wamid; false means it was already seen.
func (r *Repository) MarkProcessed(ctx context.Context, externalMsgID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ProcessedIDModel{ExternalMsgID: externalMsgID, SeenAt: time.Now().UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark processed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (m MessageModel) toDomain() core.MessageRecord {
	rec := core.MessageRecord{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Phone:     m.Phone,
		Direction: m.Direction,
		Text:      m.Text,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
	if m.ExternalMsgID != nil {
		rec.ExternalMsgID = *m.ExternalMsgID
	}
	if m.AttachmentsMeta != "" {
		meta := map[string]any{}
		if err := json.Unmarshal([]byte(m.AttachmentsMeta), &meta); err == nil {
			rec.AttachmentsMeta = meta
		}
	}
	return rec
}
