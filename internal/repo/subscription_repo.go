// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// FishSubscription model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

// CreateSubscription inserts a new subscription row. Validation of the
// radius against the allowed set happens in the service layer before this
// call.
func CreateSubscription(ctx context.Context, db *gorm.DB, s *domain.FishSubscription) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(s).Error
}

// GetSubscription fetches a subscription by id, or ErrNotFound.
func GetSubscription(ctx context.Context, db *gorm.DB, id string) (*domain.FishSubscription, error) {
	var s domain.FishSubscription
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListUserSubscriptions returns all subscriptions owned by userID.
func ListUserSubscriptions(ctx context.Context, db *gorm.DB, userID string) ([]domain.FishSubscription, error) {
	var out []domain.FishSubscription
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListCandidateSubscriptions returns subscriptions that may be active right
// now: active ones plus paused ones whose PausedUntil has elapsed (lazy
// un-pause happens in memory, not as a write). Spatial and temporal filters
// run in the matcher.
func ListCandidateSubscriptions(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.FishSubscription, error) {
	var out []domain.FishSubscription
	err := db.WithContext(ctx).
		Where("active = ? OR (paused_until IS NOT NULL AND paused_until <= ?)", true, now).
		Find(&out).Error
	return out, err
}

// PauseSubscription deactivates a subscription, optionally until a given
// time. Returns ErrNotFound when the row does not exist. Pausing affects
// future scheduling only; in-flight alerts are not cancelled.
func PauseSubscription(ctx context.Context, db *gorm.DB, id string, until *time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.FishSubscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":       false,
			"paused_until": until,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResumeSubscription reactivates a subscription and clears any pause
// deadline.
func ResumeSubscription(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.FishSubscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":       true,
			"paused_until": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementSubscriptionCounters bumps the running received/clicked counters
// atomically in the database. Deltas of zero leave the column untouched.
func IncrementSubscriptionCounters(ctx context.Context, db *gorm.DB, id string, received, clicked int64) error {
	updates := map[string]any{}
	if received != 0 {
		updates["alerts_received"] = gorm.Expr("alerts_received + ?", received)
	}
	if clicked != 0 {
		updates["alerts_clicked"] = gorm.Expr("alerts_clicked + ?", clicked)
	}
	if len(updates) == 0 {
		return nil
	}
	res := db.WithContext(ctx).
		Model(&domain.FishSubscription{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
