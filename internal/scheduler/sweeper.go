// Package scheduler runs the periodic sweep: dispatching due batches and
// queued alerts, recovering crashed dispatches, and cleaning up stale
// sessions and expired catches. One process-wide cron drives everything; the
// work itself is idempotent (guarded status flips), so overlapping or
// restarted ticks are safe.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
	"github.com/aswinsasi/nearbuy-sub002/internal/services"
)

// sweepSessionLimit bounds how many stale sessions one tick resets.
const sweepSessionLimit = 200

// Sweeper owns the cron loop and the per-tick duties.
type Sweeper struct {
	DB       *gorm.DB
	Batches  *services.BatchService
	Alerts   *services.AlertService
	Sessions *services.SessionService
	// SessionRetention is how long idle sessions are kept before pruning.
	SessionRetention time.Duration
	Log              zerolog.Logger

	cron *cron.Cron
}

// New constructs a Sweeper ticking on the given 5-field cron spec, evaluated
// in loc.
func New(db *gorm.DB, batches *services.BatchService, alerts *services.AlertService, sessions *services.SessionService, retention time.Duration, spec string, loc *time.Location, log zerolog.Logger) (*Sweeper, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Sweeper{
		DB:               db,
		Batches:          batches,
		Alerts:           alerts,
		Sessions:         sessions,
		SessionRetention: retention,
		Log:              log,
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("sweep spec %q: %w", spec, err)
	}
	s.cron = c
	return s, nil
}

// Start begins ticking in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.Log.Info().Msg("sweep scheduler started")
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		s.Log.Warn().Msg("sweep shutdown timed out")
	}
}

// tick runs one sweep. Duties are independent; a failure in one is logged
// and the rest still run.
func (s *Sweeper) tick() {
	ctx := context.Background()
	s.RunOnce(ctx)
}

// RunOnce performs every sweep duty once. Exposed for tests and for an
// eager sweep at startup, so work stranded by a crash is recovered without
// waiting for the first tick.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if n, err := s.Batches.RequeueStale(ctx); err != nil {
		s.Log.Error().Err(err).Msg("requeue stale batches")
	} else if n > 0 {
		s.Log.Warn().Int("requeued", n).Msg("recovered stale batches")
	}

	if n, err := s.Batches.DispatchReady(ctx); err != nil {
		s.Log.Error().Err(err).Msg("dispatch ready batches")
	} else if n > 0 {
		s.Log.Info().Int("batches", n).Msg("batches dispatched")
	}

	if n, err := s.Alerts.DispatchQueued(ctx, renderAlert); err != nil {
		s.Log.Error().Err(err).Msg("dispatch queued alerts")
	} else if n > 0 {
		s.Log.Info().Int("alerts", n).Msg("alerts dispatched")
	}

	if n, err := s.Sessions.SweepStale(ctx, sweepSessionLimit); err != nil {
		s.Log.Error().Err(err).Msg("sweep stale sessions")
	} else if n > 0 {
		s.Log.Info().Int("sessions", n).Msg("stale sessions reset")
	}

	if n, err := s.Sessions.Prune(ctx, s.SessionRetention); err != nil {
		s.Log.Error().Err(err).Msg("prune sessions")
	} else if n > 0 {
		s.Log.Info().Int64("sessions", n).Msg("idle sessions pruned")
	}

	if n, err := repo.ExpireCatches(ctx, s.DB, time.Now().UTC()); err != nil {
		s.Log.Error().Err(err).Msg("expire catches")
	} else if n > 0 {
		s.Log.Info().Int64("catches", n).Msg("catches expired")
	}
}

// renderAlert formats the outbound text for a standalone alert.
func renderAlert(a *domain.Alert) string {
	switch a.Type {
	case domain.AlertJobMatch:
		return fmt.Sprintf("A job matching your profile was posted %.1f km away. Reply MENU to browse.", a.DistanceKm)
	default:
		return fmt.Sprintf("Fresh catch %.1f km from you. Reply MENU to browse.", a.DistanceKm)
	}
}
