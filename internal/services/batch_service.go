// Package services – BatchService
//
// This file implements the batched side of alert delivery: acquiring the one
// open batch per (subscription, frequency), accumulating events into it, and
// dispatching batches whose scheduled time has elapsed. Acquisition and
// accumulation are lock-free retry loops over the storage layer's unique
// index and compare-and-swap append.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/messaging"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
	"github.com/aswinsasi/nearbuy-sub002/internal/schedule"
)

// sweepBatchLimit bounds how many batches one sweep tick picks up.
const sweepBatchLimit = 100

// BatchService accumulates alert events into per-subscriber batches and
// dispatches them on schedule.
type BatchService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Policy computes scheduled dispatch times from subscriber frequency.
	Policy *schedule.Policy
	// Sender is the outbound transport for digest messages.
	Sender messaging.Sender
	// Events receives delivery domain events.
	Events EventHandler
	// StaleGrace is how long a batch may sit in processing before a sweep
	// treats it as crashed and requeues it.
	StaleGrace time.Duration

	Log zerolog.Logger
	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewBatchService constructs a BatchService.
func NewBatchService(db *gorm.DB, policy *schedule.Policy, sender messaging.Sender, events EventHandler, staleGrace time.Duration, log zerolog.Logger) *BatchService {
	if events == nil {
		events = NopHandler{}
	}
	return &BatchService{
		DB:         db,
		Policy:     policy,
		Sender:     sender,
		Events:     events,
		StaleGrace: staleGrace,
		Log:        log,
		Now:        time.Now,
	}
}

func (s *BatchService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Enqueue folds one event into the subscriber's open batch, creating the
// batch with its next scheduled dispatch time when none is open. The append
// is retried a bounded number of times against concurrent appends and
// dispatches; exhausting the retries returns ErrBatchContention and the
// event is simply not batched (the next event re-attempts acquisition).
//
// Re-adding an event already in the batch is a no-op, which makes webhook
// redeliveries harmless here.
func (s *BatchService) Enqueue(ctx context.Context, sub *domain.FishSubscription, eventID string) (*domain.AlertBatch, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		b, err := s.acquire(ctx, sub)
		if errors.Is(err, repo.ErrNotFound) {
			// The batch closed between lookup and re-fetch; a fresh
			// pending batch is legal now, so start over.
			continue
		}
		if err != nil {
			return nil, err
		}
		prev := b.ItemCount
		if !b.AddEvent(eventID) {
			return b, nil
		}
		err = repo.SaveBatchItems(ctx, s.DB, b, prev)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		// Lost the append race or the batch closed under us; re-acquire.
	}
	return nil, ErrBatchContention
}

// acquire returns the open batch for sub, creating one when absent. The
// create race between concurrent events resolves through the unique index:
// the loser re-fetches the winner's row.
func (s *BatchService) acquire(ctx context.Context, sub *domain.FishSubscription) (*domain.AlertBatch, error) {
	b, err := repo.FindOpenBatch(ctx, s.DB, sub.ID, sub.Frequency)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	scheduledFor := s.Policy.Next(sub.Frequency, s.now())
	b, err = repo.CreateBatch(ctx, s.DB, sub, scheduledFor)
	if err == nil {
		return b, nil
	}
	if errors.Is(err, repo.ErrDuplicate) {
		return repo.FindOpenBatch(ctx, s.DB, sub.ID, sub.Frequency)
	}
	return nil, err
}

// DispatchReady dispatches every batch whose scheduled time has elapsed and
// that holds at least one event. It returns how many batches were sent.
// Per-batch failures are recorded on the batch and do not stop the sweep.
func (s *BatchService) DispatchReady(ctx context.Context) (int, error) {
	now := s.now()
	ready, err := repo.ReadyBatches(ctx, s.DB, now, sweepBatchLimit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range ready {
		if err := s.Dispatch(ctx, &ready[i]); err != nil {
			s.Log.Error().Err(err).Str("batch_id", ready[i].ID).Msg("batch dispatch failed")
			continue
		}
		sent++
	}
	return sent, nil
}

// Dispatch sends one batch as a single digest message. The batch is flipped
// to processing before any network I/O so that a concurrent sweep tick (or a
// crashed-and-restarted one) cannot send it twice; losing the flip is not an
// error, it means another dispatcher owns the batch.
//
// The batch's pending alerts are released to queued before the send. On
// transport success the batch closes as sent and the alerts move to sent;
// on transport failure the batch closes as failed, its alerts are marked
// failed, and later events accumulate into a fresh batch.
func (s *BatchService) Dispatch(ctx context.Context, b *domain.AlertBatch) error {
	tr := otel.Tracer("services/BatchService")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(attribute.String("batch.id", b.ID)),
	)
	defer span.End()

	now := s.now()
	won, err := repo.MarkBatchProcessing(ctx, s.DB, b.ID, now)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	alerts, err := repo.ListBatchAlerts(ctx, s.DB, b.ID)
	if err != nil {
		return err
	}

	// Release the batch's pending alerts before the digest goes out. A
	// crash past this point leaves them queued and due, so the alert
	// sweep picks them up individually instead of leaving them stuck
	// pending on a dead batch.
	for i := range alerts {
		a := &alerts[i]
		if a.Status != domain.AlertPending {
			continue
		}
		if _, err := repo.MarkAlertQueued(ctx, s.DB, a.ID, now, now); err != nil {
			return err
		}
	}

	providerMsgID, sendErr := s.Sender.Send(ctx, b.Phone, s.renderDigest(b))
	if sendErr != nil {
		return s.closeFailed(ctx, b, alerts, sendErr)
	}
	return s.closeSent(ctx, b, alerts, providerMsgID)
}

func (s *BatchService) closeSent(ctx context.Context, b *domain.AlertBatch, alerts []domain.Alert, providerMsgID string) error {
	now := s.now()
	for i := range alerts {
		a := &alerts[i]
		ok, err := repo.MarkAlertSent(ctx, s.DB, a.ID, providerMsgID, now)
		if err != nil {
			s.Log.Error().Err(err).Str("alert_id", a.ID).Msg("mark alert sent failed")
			continue
		}
		if ok {
			s.Events.Handle(ctx, AlertSentEvent{AlertID: a.ID, SubscriptionID: a.SubscriptionID, Type: a.Type})
		}
	}
	if _, err := repo.MarkBatchSent(ctx, s.DB, b.ID, len(alerts), 0, now); err != nil {
		return err
	}
	batchesDispatched.WithLabelValues("sent").Inc()
	s.Log.Info().
		Str("batch_id", b.ID).
		Str("phone", messaging.MaskPhone(b.Phone)).
		Int("items", b.ItemCount).
		Msg("batch dispatched")
	return nil
}

func (s *BatchService) closeFailed(ctx context.Context, b *domain.AlertBatch, alerts []domain.Alert, sendErr error) error {
	now := s.now()
	reason := sendErr.Error()
	for i := range alerts {
		a := &alerts[i]
		ok, err := repo.MarkAlertFailed(ctx, s.DB, a.ID, reason, now)
		if err != nil {
			s.Log.Error().Err(err).Str("alert_id", a.ID).Msg("mark alert failed failed")
			continue
		}
		if ok {
			s.Events.Handle(ctx, AlertFailedEvent{AlertID: a.ID, SubscriptionID: a.SubscriptionID, Type: a.Type, Reason: reason})
		}
	}
	if _, err := repo.MarkBatchFailed(ctx, s.DB, b.ID, reason, now); err != nil {
		return err
	}
	batchesDispatched.WithLabelValues("failed").Inc()
	s.Log.Warn().
		Str("batch_id", b.ID).
		Str("phone", messaging.MaskPhone(b.Phone)).
		Str("reason", domain.TruncateReason(reason)).
		Msg("batch dispatch failed")
	return fmt.Errorf("send digest: %w", sendErr)
}

// RequeueStale returns crashed-mid-dispatch batches (stuck in processing
// past StaleGrace) to pending so the next sweep retries them. A batch whose
// digest actually went out before the crash may be re-sent; the recovery
// trades a possible duplicate digest for never silently dropping one.
func (s *BatchService) RequeueStale(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := repo.StaleProcessingBatches(ctx, s.DB, now.Add(-s.StaleGrace), sweepBatchLimit)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for i := range stale {
		b := &stale[i]
		ok, err := repo.RequeueBatch(ctx, s.DB, b.ID, now)
		if errors.Is(err, repo.ErrDuplicate) {
			// An event that arrived mid-dispatch already opened a
			// successor batch; fold the stale one into it.
			if err := s.foldInto(ctx, b); err != nil {
				s.Log.Error().Err(err).Str("batch_id", b.ID).Msg("fold into successor failed")
				continue
			}
			requeued++
			s.Log.Warn().Str("batch_id", b.ID).Msg("stale processing batch folded into successor")
			continue
		}
		if err != nil {
			s.Log.Error().Err(err).Str("batch_id", b.ID).Msg("requeue failed")
			continue
		}
		if ok {
			requeued++
			s.Log.Warn().Str("batch_id", b.ID).Msg("stale processing batch requeued")
		}
	}
	return requeued, nil
}

// foldInto merges a stale processing batch into the pending successor that
// claimed the open slot while the stale one was mid-dispatch: still-pending
// alerts move over with their event ids, and the stale row closes as failed
// for operator visibility. Alerts the crashed dispatch already released to
// queued (or concluded) stay with the stale batch; the alert sweep owns
// queued rows, so folding their events would double-notify.
func (s *BatchService) foldInto(ctx context.Context, stale *domain.AlertBatch) error {
	staleAlerts, err := repo.ListBatchAlerts(ctx, s.DB, stale.ID)
	if err != nil {
		return err
	}
	var carry []string
	for i := range staleAlerts {
		if staleAlerts[i].Status == domain.AlertPending {
			carry = append(carry, staleAlerts[i].EventID)
		}
	}
	open, err := repo.FindOpenBatch(ctx, s.DB, stale.SubscriptionID, stale.Frequency)
	if err != nil {
		return err
	}
	if _, err := repo.ReassignBatchAlerts(ctx, s.DB, stale.ID, open.ID, open.ScheduledFor); err != nil {
		return err
	}
	for attempt := 0; attempt < casRetries; attempt++ {
		prev := open.ItemCount
		changed := false
		for _, id := range carry {
			if open.AddEvent(id) {
				changed = true
			}
		}
		if !changed {
			break
		}
		err := repo.SaveBatchItems(ctx, s.DB, open, prev)
		if err == nil {
			break
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		// Lost an append race against a live Enqueue; re-read and retry.
		open, err = repo.FindOpenBatch(ctx, s.DB, stale.SubscriptionID, stale.Frequency)
		if err != nil {
			return err
		}
	}
	if _, err := repo.MarkBatchFailed(ctx, s.DB, stale.ID, "superseded during recovery", s.now()); err != nil {
		return err
	}
	return nil
}

// renderDigest formats the single outbound message for a batch. Content
// construction is intentionally minimal; a template layer can replace this
// without touching the lifecycle.
func (s *BatchService) renderDigest(b *domain.AlertBatch) string {
	noun := "updates"
	if b.ItemCount == 1 {
		noun = "update"
	}
	return fmt.Sprintf("You have %d new %s near you. Reply MENU to browse.", b.ItemCount, noun)
}
