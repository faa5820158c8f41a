// Package services – MatcherService
//
// This file implements subscription matching: deciding which subscribers are
// alerted about a new catch, and routing each match to immediate or batched
// delivery. The predicate is evaluated in memory over the candidate set, so
// every filter lives in one place instead of being split between SQL and Go.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/geo"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
	"github.com/aswinsasi/nearbuy-sub002/internal/schedule"
)

// Match pairs a matched subscription with the distance that will be shown to
// the subscriber. The distance is computed once here and frozen onto the
// alert row.
type Match struct {
	Sub        domain.FishSubscription
	DistanceKm float64
}

// MatcherService matches catch events against subscriptions and fans the
// matches out to delivery.
type MatcherService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Alerts creates the per-recipient alert rows.
	Alerts *AlertService
	// Batches accumulates batched matches.
	Batches *BatchService
	// Policy supplies the operational time zone for quiet-hour and
	// active-day checks.
	Policy *schedule.Policy

	Log zerolog.Logger
	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewMatcherService constructs a MatcherService.
func NewMatcherService(db *gorm.DB, alerts *AlertService, batches *BatchService, policy *schedule.Policy, log zerolog.Logger) *MatcherService {
	return &MatcherService{DB: db, Alerts: alerts, Batches: batches, Policy: policy, Log: log, Now: time.Now}
}

func (s *MatcherService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// FindMatching returns the subscriptions a catch should alert, with frozen
// distances. A subscription matches when all of these hold:
//
//   - effectively active (lazy un-pause applies),
//   - the catch's fish type passes its type filter,
//   - the seller is not on its block list,
//   - the catch lies within its radius,
//   - now is outside its quiet hours and on one of its active days, both
//     evaluated in the operational time zone.
//
// The subscriber's own catches never match their subscriptions.
func (s *MatcherService) FindMatching(ctx context.Context, c *domain.FishCatch) ([]Match, error) {
	now := s.now()
	local := now.In(s.Policy.Location())

	cands, err := repo.ListCandidateSubscriptions(ctx, s.DB, now)
	if err != nil {
		return nil, err
	}

	var out []Match
	for i := range cands {
		sub := &cands[i]
		if sub.UserID == c.SellerID {
			continue
		}
		if !sub.EffectivelyActive(now) {
			continue
		}
		if !sub.TypeAllowed(c.FishTypeID) {
			continue
		}
		if sub.SellerBlocked(c.SellerID) {
			continue
		}
		if sub.InQuietHours(local) || !sub.ActiveOn(local.Weekday()) {
			continue
		}
		d := geo.DistanceKm(sub.Latitude, sub.Longitude, c.Latitude, c.Longitude)
		if d > sub.RadiusKm {
			continue
		}
		out = append(out, Match{Sub: cands[i], DistanceKm: d})
	}
	return out, nil
}

// Notify matches a catch and creates delivery work for every match:
// immediate subscribers get a queued alert released by the next sweep,
// batched subscribers get a pending alert folded into their open batch.
// Per-subscriber failures are logged and skipped so one bad row cannot
// starve the rest; the first error is returned after the fan-out completes.
func (s *MatcherService) Notify(ctx context.Context, c *domain.FishCatch) (int, error) {
	matches, err := s.FindMatching(ctx, c)
	if err != nil {
		return 0, err
	}

	var firstErr error
	notified := 0
	for i := range matches {
		m := &matches[i]
		if err := s.notifyOne(ctx, c, m); err != nil {
			s.Log.Error().Err(err).
				Str("catch_id", c.ID).
				Str("subscription_id", m.Sub.ID).
				Msg("notify match failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		notified++
	}
	s.Log.Info().
		Str("catch_id", c.ID).
		Int("matches", len(matches)).
		Int("notified", notified).
		Msg("catch matched")
	return notified, firstErr
}

func (s *MatcherService) notifyOne(ctx context.Context, c *domain.FishCatch, m *Match) error {
	if !m.Sub.Frequency.Batched() {
		_, err := s.Alerts.CreateImmediate(ctx, &m.Sub, c.ID, domain.AlertNewCatch, m.DistanceKm)
		return err
	}
	seen, err := repo.AlertExists(ctx, s.DB, c.ID, m.Sub.ID)
	if err != nil {
		return err
	}
	if seen {
		// Replayed event. The existing alert row may sit on a batch that
		// has already closed; re-enqueueing would reopen a batch for an
		// event this recipient was already told about.
		return nil
	}
	b, err := s.Batches.Enqueue(ctx, &m.Sub, c.ID)
	if err != nil {
		return err
	}
	_, err = s.Alerts.CreateBatched(ctx, &m.Sub, b, c.ID, domain.AlertNewCatch, m.DistanceKm)
	return err
}
