// Package services – SubscriptionService
//
// This file implements the SubscriptionService, which validates and persists
// subscriber location profiles. The radius is checked against the closed
// allowed set here, at creation time; the matcher trusts stored radii.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
)

// SubscriptionService provides subscription creation and pause/resume.
type SubscriptionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// AllowedRadiiKm is the closed set of acceptable radii.
	AllowedRadiiKm []float64
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(db *gorm.DB, allowedRadii []float64) *SubscriptionService {
	return &SubscriptionService{DB: db, AllowedRadiiKm: allowedRadii}
}

// SubscriptionParams carries the caller-supplied fields for Create.
type SubscriptionParams struct {
	UserID         string
	Phone          string
	Latitude       float64
	Longitude      float64
	RadiusKm       float64
	AllTypes       bool
	FishTypeIDs    []string
	Frequency      domain.AlertFrequency
	QuietStartHour *int
	QuietEndHour   *int
	ActiveDays     []int
}

// Create validates params and inserts a new active subscription. Arbitrary
// radii are rejected here, not in the matcher.
func (s *SubscriptionService) Create(ctx context.Context, p SubscriptionParams) (*domain.FishSubscription, error) {
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return nil, ErrInvalidCoordinates
	}
	if !s.radiusAllowed(p.RadiusKm) {
		return nil, ErrInvalidRadius
	}
	if !p.Frequency.Valid() {
		return nil, ErrInvalidFrequency
	}

	sub := &domain.FishSubscription{
		UserID:         p.UserID,
		Phone:          p.Phone,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		RadiusKm:       p.RadiusKm,
		AllTypes:       p.AllTypes,
		FishTypeIDs:    p.FishTypeIDs,
		Frequency:      p.Frequency,
		Active:         true,
		QuietStartHour: p.QuietStartHour,
		QuietEndHour:   p.QuietEndHour,
		ActiveDays:     p.ActiveDays,
	}
	if err := repo.CreateSubscription(ctx, s.DB, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// List returns a user's subscriptions.
func (s *SubscriptionService) List(ctx context.Context, userID string) ([]domain.FishSubscription, error) {
	return repo.ListUserSubscriptions(ctx, s.DB, userID)
}

// Pause deactivates a subscription, optionally until a given time. Taking
// effect on the next evaluation only: alerts already queued or sent are not
// recalled.
func (s *SubscriptionService) Pause(ctx context.Context, id string, until *time.Time) error {
	err := repo.PauseSubscription(ctx, s.DB, id, until)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSubscriptionNotFound
	}
	return err
}

// Resume reactivates a subscription immediately.
func (s *SubscriptionService) Resume(ctx context.Context, id string) error {
	err := repo.ResumeSubscription(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSubscriptionNotFound
	}
	return err
}

func (s *SubscriptionService) radiusAllowed(r float64) bool {
	for _, allowed := range s.AllowedRadiiKm {
		if r == allowed {
			return true
		}
	}
	return false
}
