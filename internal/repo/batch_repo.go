// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the AlertBatch
// model.
//
// The at-most-one-open-batch invariant lives here, not in the service: the
// ux_batch_open unique index rejects a second open batch for the same
// (subscription, frequency), so concurrent event arrivals converge on one
// row no matter how they interleave. Status flips are guarded UPDATEs whose
// RowsAffected tells the caller whether it won the transition.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

// FindOpenBatch returns the single open (pending) batch for a subscription
// and frequency, or ErrNotFound.
func FindOpenBatch(ctx context.Context, db *gorm.DB, subscriptionID string, freq domain.AlertFrequency) (*domain.AlertBatch, error) {
	var b domain.AlertBatch
	err := db.WithContext(ctx).
		Where("subscription_id = ? AND frequency = ? AND status = ?",
			subscriptionID, freq, domain.BatchPending).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBatch inserts a fresh pending batch with its Open marker set. When a
// concurrent caller won the create race, the unique index fires and
// ErrDuplicate is returned; callers re-fetch via FindOpenBatch.
func CreateBatch(ctx context.Context, db *gorm.DB, sub *domain.FishSubscription, scheduledFor time.Time) (*domain.AlertBatch, error) {
	b := &domain.AlertBatch{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		Frequency:      sub.Frequency,
		Open:           domain.NewOpenMarker(),
		UserID:         sub.UserID,
		Phone:          sub.Phone,
		Status:         domain.BatchPending,
		ScheduledFor:   scheduledFor,
	}
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return b, nil
}

// SaveBatchItems persists the batch's event list and count in one statement,
// guarded on the batch still being pending AND still holding the item count
// the caller read (prevCount). The count guard makes the append a
// compare-and-swap: a concurrent append or dispatch zeroes RowsAffected and
// the caller re-reads, re-unions, and retries. ErrNotFound covers both lost
// races; callers distinguish them by re-fetching.
func SaveBatchItems(ctx context.Context, db *gorm.DB, b *domain.AlertBatch, prevCount int) error {
	res := db.WithContext(ctx).
		Model(&domain.AlertBatch{}).
		Where("id = ? AND status = ? AND item_count = ?", b.ID, domain.BatchPending, prevCount).
		Updates(map[string]any{
			"event_ids":  b.EventIDs,
			"item_count": b.ItemCount,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReadyBatches returns pending batches whose scheduled time has elapsed and
// that contain at least one item. Empty batches past their time stay
// dormant; they are never sent empty.
func ReadyBatches(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.AlertBatch, error) {
	var out []domain.AlertBatch
	err := db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ? AND item_count > 0", domain.BatchPending, now).
		Order("scheduled_for asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkBatchProcessing flips a batch pending→processing and reports whether
// this caller won the flip. Exactly one of any number of concurrent sweep
// ticks sees true, which is what prevents double-sending; the flip happens
// before any network I/O. The Open marker is released here, not at close:
// events arriving during the dispatch I/O window must be able to open a
// fresh pending batch instead of erroring out.
func MarkBatchProcessing(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.AlertBatch{}).
		Where("id = ? AND status = ?", id, domain.BatchPending).
		Updates(map[string]any{
			"status":        domain.BatchProcessing,
			"open":          nil,
			"processing_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkBatchSent closes a processing batch as sent, recording per-item
// success counts. The Open marker was already released at the processing
// flip; clearing it again here is a no-op that keeps the close
// self-contained.
func MarkBatchSent(ctx context.Context, db *gorm.DB, id string, sentCount, failedCount int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.AlertBatch{}).
		Where("id = ? AND status = ?", id, domain.BatchProcessing).
		Updates(map[string]any{
			"status":       domain.BatchSent,
			"open":         nil,
			"sent_count":   sentCount,
			"failed_count": failedCount,
			"sent_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkBatchFailed closes a processing batch as failed with a truncated
// reason. Failed batches are kept for operator visibility and never retried
// in place; a fresh pending batch accumulates subsequent events.
func MarkBatchFailed(ctx context.Context, db *gorm.DB, id, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.AlertBatch{}).
		Where("id = ? AND status = ?", id, domain.BatchProcessing).
		Updates(map[string]any{
			"status":         domain.BatchFailed,
			"open":           nil,
			"failure_reason": domain.TruncateReason(reason),
			"failed_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// StaleProcessingBatches returns batches stuck in processing since before
// cutoff, the footprint of a scheduler crash mid-dispatch.
func StaleProcessingBatches(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.AlertBatch, error) {
	var out []domain.AlertBatch
	err := db.WithContext(ctx).
		Where("status = ? AND processing_at < ?", domain.BatchProcessing, cutoff).
		Order("processing_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RequeueBatch returns a stale processing batch to pending with a new
// scheduled time so the next sweep picks it up again. Reopening re-claims
// the Open marker; when an event that arrived mid-dispatch already opened a
// successor batch, the unique index fires and ErrDuplicate is returned so
// the caller can merge the stale batch into the successor instead.
func RequeueBatch(ctx context.Context, db *gorm.DB, id string, scheduledFor time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.AlertBatch{}).
		Where("id = ? AND status = ?", id, domain.BatchProcessing).
		Updates(map[string]any{
			"status":        domain.BatchPending,
			"open":          domain.NewOpenMarker(),
			"processing_at": nil,
			"scheduled_for": scheduledFor,
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, ErrDuplicate
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetBatch fetches a batch by id, or ErrNotFound.
func GetBatch(ctx context.Context, db *gorm.DB, id string) (*domain.AlertBatch, error) {
	var b domain.AlertBatch
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatchesPage returns a page of batches ordered by creation time
// descending, optionally filtered by status.
func ListBatchesPage(ctx context.Context, db *gorm.DB, status domain.BatchStatus, offset, limit int) ([]domain.AlertBatch, error) {
	q := db.WithContext(ctx).Model(&domain.AlertBatch{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.AlertBatch
	err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountBatches returns the number of batches, optionally filtered by status.
func CountBatches(ctx context.Context, db *gorm.DB, status domain.BatchStatus) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.AlertBatch{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}
