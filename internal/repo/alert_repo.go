// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Alert
// model.
//
// Every status transition is a guarded UPDATE keyed on the legal from-states
// (see domain.AlertStatus.CanTransition). RowsAffected == 0 means the alert
// was already past that state, which callers surface as a boolean no-op
// failure rather than an error.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

// CreateAlert inserts an alert row. At most one alert may exist per
// (event, recipient): the unique index turns a replayed creation into
// ErrDuplicate, which callers treat as "already alerted", not an error.
func CreateAlert(ctx context.Context, db *gorm.DB, a *domain.Alert) error {
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// AlertExists reports whether an alert already exists for the
// (event, recipient) pair.
func AlertExists(ctx context.Context, db *gorm.DB, eventID, subscriptionID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("event_id = ? AND subscription_id = ?", eventID, subscriptionID).
		Count(&n).Error
	return n > 0, err
}

// GetAlert fetches an alert by id, or ErrNotFound.
func GetAlert(ctx context.Context, db *gorm.DB, id string) (*domain.Alert, error) {
	var a domain.Alert
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAlertByProviderMsgID resolves an alert from the provider's message id,
// as carried on delivery-status callbacks. ErrNotFound when unknown.
func GetAlertByProviderMsgID(ctx context.Context, db *gorm.DB, providerMsgID string) (*domain.Alert, error) {
	var a domain.Alert
	err := db.WithContext(ctx).
		Where("provider_msg_id = ?", providerMsgID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListDueQueuedAlerts returns queued alerts whose scheduled time has
// elapsed, oldest first. The sweep dispatches these.
func ListDueQueuedAlerts(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Alert, error) {
	var out []domain.Alert
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", domain.AlertQueued, now).
		Order("scheduled_for asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListBatchAlerts returns the alerts attached to a batch in creation order.
func ListBatchAlerts(ctx context.Context, db *gorm.DB, batchID string) ([]domain.Alert, error) {
	var out []domain.Alert
	err := db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// MarkAlertQueued moves a pending alert to queued with a concrete
// scheduled time. Returns false when the alert is not pending.
func MarkAlertQueued(ctx context.Context, db *gorm.DB, id string, scheduledFor, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ? AND status = ?", id, domain.AlertPending).
		Updates(map[string]any{
			"status":        domain.AlertQueued,
			"scheduled_for": scheduledFor,
			"queued_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkAlertSent records a successful provider handoff. Legal from queued
// (the usual dispatch path) and pending (a batch alert whose release was
// interrupted); returns false otherwise, there is no regression from sent.
func MarkAlertSent(ctx context.Context, db *gorm.DB, id, providerMsgID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ? AND status IN ?", id, []domain.AlertStatus{domain.AlertPending, domain.AlertQueued}).
		Updates(map[string]any{
			"status":          domain.AlertSent,
			"provider_msg_id": providerMsgID,
			"sent_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkAlertDelivered records provider delivery confirmation for a sent
// alert. Returns false when the alert was not in sent.
func MarkAlertDelivered(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ? AND status = ?", id, domain.AlertSent).
		Updates(map[string]any{
			"status":       domain.AlertDelivered,
			"delivered_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkAlertFailed records a delivery failure with a truncated reason. Legal
// from pending, queued, or sent; delivered alerts cannot fail.
func MarkAlertFailed(ctx context.Context, db *gorm.DB, id, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ? AND status IN ?", id,
			[]domain.AlertStatus{domain.AlertPending, domain.AlertQueued, domain.AlertSent}).
		Updates(map[string]any{
			"status":         domain.AlertFailed,
			"failure_reason": domain.TruncateReason(reason),
			"failed_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReassignBatchAlerts moves the still-pending alerts of one batch onto
// another, adopting the target's scheduled time. Used when a stale
// processing batch is folded into its successor: alerts already sent or
// failed stay with the original batch for audit.
func ReassignBatchAlerts(ctx context.Context, db *gorm.DB, fromBatchID, toBatchID string, scheduledFor time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("batch_id = ? AND status = ?", fromBatchID, domain.AlertPending).
		Updates(map[string]any{
			"batch_id":      toBatchID,
			"scheduled_for": scheduledFor,
		})
	return res.RowsAffected, res.Error
}

// RecordAlertClick stores the recipient's click outcome. Orthogonal to
// delivery status: legal any time after the alert went out (sent_at set),
// including after delivery confirmation.
func RecordAlertClick(ctx context.Context, db *gorm.DB, id, action string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ? AND sent_at IS NOT NULL", id).
		Updates(map[string]any{
			"click_action": action,
			"clicked_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListAlertsPage returns a page of alerts ordered by creation time
// descending, optionally filtered by status.
func ListAlertsPage(ctx context.Context, db *gorm.DB, status domain.AlertStatus, offset, limit int) ([]domain.Alert, error) {
	q := db.WithContext(ctx).Model(&domain.Alert{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.Alert
	err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountAlerts returns the number of alerts, optionally filtered by status.
func CountAlerts(ctx context.Context, db *gorm.DB, status domain.AlertStatus) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Alert{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}
