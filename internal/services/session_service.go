// Package services – SessionService
//
// This file implements the SessionService, which owns the per-phone
// conversation state machine: lazy creation, flow/step transitions, scratch
// data scoping, timeout-driven resets, and keyword intents. All mutations go
// through the repository's compare-and-swap write so two near-simultaneous
// webhooks for the same phone cannot both advance the session.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
)

// casRetries bounds how often a transition is retried after losing the
// optimistic-lock race before giving up with ErrSessionConflict.
const casRetries = 3

// SessionService manages conversation session lifecycle and transitions.
type SessionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// DefaultTimeout applies to sessions outside any flow (main menu).
	DefaultTimeout time.Duration

	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(db *gorm.DB, defaultTimeout time.Duration) *SessionService {
	return &SessionService{DB: db, DefaultTimeout: defaultTimeout, Now: time.Now}
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// GetOrCreate returns the session for phone, creating an idle one on first
// contact.
func (s *SessionService) GetOrCreate(ctx context.Context, phone string) (*domain.ConversationSession, error) {
	return repo.GetOrCreateSession(ctx, s.DB, phone, s.now())
}

// GetActiveOrReset fetches the session and applies the timeout policy: a
// session that timed out mid-flow is force-reset to the main menu before the
// new message is processed; an active (or idle) session just has its
// activity touched by the subsequent transition. It reports whether a forced
// reset happened. Informational, not an error.
func (s *SessionService) GetActiveOrReset(ctx context.Context, phone string) (*domain.ConversationSession, bool, error) {
	sess, err := s.GetOrCreate(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	if sess.Idle() || sess.IsActive(now, s.DefaultTimeout) {
		return sess, false, nil
	}

	// Timed out mid-flow; drop the half-finished flow. Scratch in
	// ContextData survives, TempData does not.
	if err := s.Reset(ctx, sess); err != nil {
		return nil, false, err
	}
	sessionResets.Inc()
	return sess, true, nil
}

// Advance moves the session to (flow, step) and persists the transition.
// The in-memory session is updated on success.
func (s *SessionService) Advance(ctx context.Context, sess *domain.ConversationSession, flow domain.Flow, step domain.Step) error {
	sess.CurrentFlow = flow
	sess.CurrentStep = step
	sess.LastActivityAt = s.now()
	return s.save(ctx, sess)
}

// SetScratch stores a value in the session's transient scratch space. The
// write is persisted together with a touched activity timestamp.
func (s *SessionService) SetScratch(ctx context.Context, sess *domain.ConversationSession, key string, value any) error {
	t := sess.Temp()
	t[key] = value
	sess.TempData = domain.EncodeScratch(t)
	sess.LastActivityAt = s.now()
	return s.save(ctx, sess)
}

// SetContextValue stores a value in the cross-flow scratch space.
func (s *SessionService) SetContextValue(ctx context.Context, sess *domain.ConversationSession, key string, value any) error {
	c := sess.Context()
	c[key] = value
	sess.ContextData = domain.EncodeScratch(c)
	sess.LastActivityAt = s.now()
	return s.save(ctx, sess)
}

// Reset returns the session to the main menu, clearing the current flow and
// its transient scratch. Cross-flow context survives.
func (s *SessionService) Reset(ctx context.Context, sess *domain.ConversationSession) error {
	sess.CurrentFlow = domain.FlowNone
	sess.CurrentStep = domain.StepMainMenu
	sess.TempData = ""
	sess.LastActivityAt = s.now()
	return s.save(ctx, sess)
}

// Touch refreshes the activity timestamp without a flow transition.
func (s *SessionService) Touch(ctx context.Context, sess *domain.ConversationSession) error {
	sess.LastActivityAt = s.now()
	return s.save(ctx, sess)
}

// DetectIntent exposes keyword interception for callers outside the flow
// driver.
func (s *SessionService) DetectIntent(text string) domain.Intent {
	return domain.DetectIntent(text)
}

// save persists the mutated session via CAS. A lost race means another
// webhook advanced the phone concurrently; the whole transition is stale, so
// the caller's decision must be rebuilt from fresh state rather than blindly
// replayed. ErrSessionConflict tells the driver to do exactly that.
func (s *SessionService) save(ctx context.Context, sess *domain.ConversationSession) error {
	err := repo.SaveSessionCAS(ctx, s.DB, sess)
	if errors.Is(err, repo.ErrVersionConflict) {
		return ErrSessionConflict
	}
	return err
}

// SweepStale force-resets sessions stuck mid-flow past the largest flow
// timeout. Run from the scheduler; each reset is logged by the caller.
// Returns the number of sessions reset.
func (s *SessionService) SweepStale(ctx context.Context, limit int) (int, error) {
	// The coarse DB cutoff uses the default timeout; the per-flow window is
	// re-checked in memory so short-timeout flows reset promptly and
	// long-timeout flows are not cut short.
	now := s.now()
	candidates, err := repo.StaleInFlowSessions(ctx, s.DB, now.Add(-s.DefaultTimeout), 10*limit)
	if err != nil {
		return 0, err
	}
	reset := 0
	for i := range candidates {
		sess := &candidates[i]
		if sess.IsActive(now, s.DefaultTimeout) {
			continue
		}
		if err := s.Reset(ctx, sess); err != nil {
			if errors.Is(err, ErrSessionConflict) {
				// The phone spoke up concurrently; leave it alone.
				continue
			}
			return reset, err
		}
		sessionResets.Inc()
		reset++
		if reset >= limit {
			break
		}
	}
	return reset, nil
}

// Prune hard-removes idle sessions whose last activity predates the
// retention window.
func (s *SessionService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return repo.PruneSessions(ctx, s.DB, s.now().Add(-retention))
}
