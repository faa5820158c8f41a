// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ConversationSession model.
//
// Two inbound webhooks for the same phone may race. Sessions therefore carry
// an optimistic version counter: every mutation goes through SaveSessionCAS,
// which only writes when the in-memory version still matches the row. A lost
// race surfaces as ErrVersionConflict and the caller re-reads and re-decides.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

// ErrVersionConflict is returned when a compare-and-swap write loses a race
// with a concurrent session mutation for the same phone.
var ErrVersionConflict = errors.New("session version conflict")

// GetSessionByPhone fetches the session for a phone, or ErrNotFound.
func GetSessionByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.ConversationSession, error) {
	var s domain.ConversationSession
	err := db.WithContext(ctx).Where("phone = ?", phone).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrCreateSession returns the session for phone, creating an idle one
// lazily on first contact. A concurrent create for the same phone is caught
// by the unique phone index; the loser re-fetches the winner's row.
func GetOrCreateSession(ctx context.Context, db *gorm.DB, phone string, now time.Time) (*domain.ConversationSession, error) {
	s, err := GetSessionByPhone(ctx, db, phone)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &domain.ConversationSession{
		ID:             uuid.NewString(),
		Phone:          phone,
		CurrentFlow:    domain.FlowNone,
		CurrentStep:    domain.StepIdle,
		Language:       "en",
		LastActivityAt: now,
	}
	if err := db.WithContext(ctx).Create(fresh).Error; err != nil {
		if isUniqueViolation(err) {
			return GetSessionByPhone(ctx, db, phone)
		}
		return nil, err
	}
	return fresh, nil
}

// SaveSessionCAS persists a mutated session iff its version still matches
// the stored row, bumping the version in the same statement. On success the
// in-memory version is advanced; on a lost race it returns
// ErrVersionConflict and writes nothing.
func SaveSessionCAS(ctx context.Context, db *gorm.DB, s *domain.ConversationSession) error {
	res := db.WithContext(ctx).
		Model(&domain.ConversationSession{}).
		Where("id = ? AND version = ?", s.ID, s.Version).
		Updates(map[string]any{
			"user_id":          s.UserID,
			"current_flow":     s.CurrentFlow,
			"current_step":     s.CurrentStep,
			"temp_data":        s.TempData,
			"context_data":     s.ContextData,
			"last_message_id":  s.LastMessageID,
			"language":         s.Language,
			"last_activity_at": s.LastActivityAt,
			"version":          s.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

// StaleInFlowSessions returns sessions that are inside a flow and have been
// inactive since before cutoff. The sweep force-resets these so a user does
// not resume a half-finished flow after a long gap.
func StaleInFlowSessions(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.ConversationSession, error) {
	var out []domain.ConversationSession
	err := db.WithContext(ctx).
		Where("current_step NOT IN ? AND last_activity_at < ?",
			[]domain.Step{domain.StepIdle, domain.StepMainMenu}, cutoff).
		Order("last_activity_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PruneSessions soft-deletes idle sessions whose last activity predates the
// retention cutoff. It returns the number of rows pruned.
func PruneSessions(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("current_step IN ? AND last_activity_at < ?",
			[]domain.Step{domain.StepIdle, domain.StepMainMenu}, cutoff).
		Delete(&domain.ConversationSession{})
	return res.RowsAffected, res.Error
}
