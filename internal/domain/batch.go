package domain

import (
	"time"

	"gorm.io/gorm"
)

// BatchStatus is the lifecycle state of an AlertBatch.
type BatchStatus string

// Batch lifecycle states. A batch moves pending→processing before any
// network I/O, then processing→sent or processing→failed. Failed batches are
// never retried in place; a fresh pending batch accumulates later events.
const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchSent       BatchStatus = "sent"
	BatchFailed     BatchStatus = "failed"
)

// AlertBatch accumulates alert-worthy events for one batched subscriber
// until its scheduled dispatch time.
//
// At most one open batch may exist per (subscription, frequency). SQLite has
// no partial unique indexes through GORM tags, so the uniqueness rides on the
// nullable Open marker: it is set while the batch is pending and NULLed at
// the flip to processing, so events arriving mid-dispatch can open a fresh
// batch. NULLs never collide in a unique index, so released and closed
// batches accumulate freely while a second pending one is rejected by the
// storage layer.
type AlertBatch struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	SubscriptionID string         `json:"subscription_id" gorm:"type:char(36);not null;uniqueIndex:ux_batch_open,priority:1;index"`
	Frequency      AlertFrequency `json:"frequency"       gorm:"type:varchar(16);not null;uniqueIndex:ux_batch_open,priority:2"`
	Open           *bool          `json:"-"               gorm:"uniqueIndex:ux_batch_open,priority:3"`
	UserID         string         `json:"user_id"         gorm:"type:char(36);not null;index"`
	Phone          string         `json:"phone"           gorm:"type:varchar(32);not null"`
	Status         BatchStatus    `json:"status"          gorm:"type:varchar(16);not null;default:'pending';index"`
	ScheduledFor   time.Time      `json:"scheduled_for"   gorm:"not null;index"`
	EventIDs       IDSet          `json:"event_ids"       gorm:"serializer:json"`
	ItemCount      int            `json:"item_count"      gorm:"not null;default:0"`
	SentCount      int            `json:"sent_count"      gorm:"not null;default:0"`
	FailedCount    int            `json:"failed_count"    gorm:"not null;default:0"`
	FailureReason  string         `json:"failure_reason,omitempty" gorm:"type:varchar(255)"`
	ProcessingAt   *time.Time     `json:"processing_at,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	FailedAt       *time.Time     `json:"failed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for AlertBatch.
func (AlertBatch) TableName() string { return "alert_batches" }

// AddEvent unions an event id into the batch and keeps the count in step
// with the list. It reports whether the batch changed (false on duplicate).
func (b *AlertBatch) AddEvent(eventID string) bool {
	if !b.EventIDs.Add(eventID) {
		return false
	}
	b.ItemCount = len(b.EventIDs)
	return true
}

// openMarker is the non-NULL value stored in Open for an open batch.
var openMarker = true

// NewOpenMarker returns the Open column value for a pending batch.
func NewOpenMarker() *bool {
	v := openMarker
	return &v
}
