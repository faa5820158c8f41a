package domain

import (
	"time"

	"gorm.io/gorm"
)

// AlertStatus is the delivery state of one Alert. Transitions are
// one-directional; see CanTransition.
type AlertStatus string

// Alert delivery states.
const (
	// AlertPending is the batched-not-yet-released state.
	AlertPending AlertStatus = "pending"
	// AlertQueued means accepted for immediate dispatch with a concrete
	// scheduled_for.
	AlertQueued AlertStatus = "queued"
	AlertSent   AlertStatus = "sent"
	// AlertDelivered is terminal (provider confirmed receipt).
	AlertDelivered AlertStatus = "delivered"
	// AlertFailed is terminal; the reason is recorded on the row.
	AlertFailed AlertStatus = "failed"
)

// alertTransitions enumerates the legal status edges. Batched alerts move
// pending→sent directly when their batch dispatches; pending→failed covers a
// failed batch marking its contents.
var alertTransitions = map[AlertStatus][]AlertStatus{
	AlertPending: {AlertQueued, AlertSent, AlertFailed},
	AlertQueued:  {AlertSent, AlertFailed},
	AlertSent:    {AlertDelivered, AlertFailed},
}

// CanTransition reports whether moving from s to next is a legal edge.
// Terminal states have no outgoing edges; there is no regression from sent
// back to queued.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	for _, t := range alertTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s AlertStatus) Terminal() bool {
	return s == AlertDelivered || s == AlertFailed
}

// AlertType classifies the event that produced an alert.
type AlertType string

// Alert types.
const (
	AlertNewCatch AlertType = "new_catch"
	AlertJobMatch AlertType = "job_match"
	AlertNewOffer AlertType = "new_offer"
)

// maxFailureReason caps stored failure reasons; provider errors can be
// arbitrarily long.
const maxFailureReason = 255

// TruncateReason clips a failure reason to the stored maximum.
func TruncateReason(reason string) string {
	if len(reason) > maxFailureReason {
		return reason[:maxFailureReason]
	}
	return reason
}

// Alert is one delivery attempt of one event to one recipient. The
// (event, subscription) pair is unique: creation is guarded by an existence
// check backed by the index, so webhook replays cannot double-alert.
//
// DistanceKm is computed once when the alert is created and frozen;
// re-matching later must not change a previously shown distance.
type Alert struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	EventID        string         `json:"event_id"        gorm:"type:char(36);not null;uniqueIndex:ux_alert_event_recipient,priority:1"`
	SubscriptionID string         `json:"subscription_id" gorm:"type:char(36);not null;uniqueIndex:ux_alert_event_recipient,priority:2;index"`
	UserID         string         `json:"user_id"         gorm:"type:char(36);not null;index"`
	Phone          string         `json:"phone"           gorm:"type:varchar(32);not null"`
	Type           AlertType      `json:"alert_type"      gorm:"type:varchar(24);not null"`
	Status         AlertStatus    `json:"status"          gorm:"type:varchar(16);not null;default:'pending';index"`
	DistanceKm     float64        `json:"distance_km"     gorm:"not null"`
	BatchID        *string        `json:"batch_id,omitempty" gorm:"type:char(36);index"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	QueuedAt       *time.Time     `json:"queued_at,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	FailedAt       *time.Time     `json:"failed_at,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty" gorm:"type:varchar(255)"`
	ProviderMsgID  string         `json:"provider_message_id,omitempty" gorm:"type:varchar(128)"`
	ClickAction    string         `json:"click_action,omitempty" gorm:"type:varchar(64)"`
	ClickedAt      *time.Time     `json:"clicked_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for Alert.
func (Alert) TableName() string { return "alerts" }
