// Package services – AlertService
//
// This file implements the per-alert lifecycle: creating alert rows for
// matched subscribers, dispatching due queued alerts, and folding provider
// delivery-status callbacks and recipient clicks back onto the rows.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/messaging"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
)

// sweepAlertLimit bounds how many queued alerts one sweep tick dispatches.
const sweepAlertLimit = 200

// AlertService creates alert rows and drives individual delivery.
type AlertService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Sender is the outbound transport for standalone alerts.
	Sender messaging.Sender
	// Events receives delivery domain events.
	Events EventHandler

	Log zerolog.Logger
	// Now is a seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewAlertService constructs an AlertService.
func NewAlertService(db *gorm.DB, sender messaging.Sender, events EventHandler, log zerolog.Logger) *AlertService {
	if events == nil {
		events = NopHandler{}
	}
	return &AlertService{DB: db, Sender: sender, Events: events, Log: log, Now: time.Now}
}

func (s *AlertService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateImmediate inserts an alert born queued with scheduled_for = now, so
// the next sweep (or an inline DispatchQueued) sends it at once. The frozen
// distance is recorded on the row. A replayed event for the same recipient
// collapses on the unique pair index and returns the existing semantics:
// nil alert, nil error.
func (s *AlertService) CreateImmediate(ctx context.Context, sub *domain.FishSubscription, eventID string, alertType domain.AlertType, distanceKm float64) (*domain.Alert, error) {
	now := s.now()
	a := &domain.Alert{
		ID:             uuid.NewString(),
		EventID:        eventID,
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Phone:          sub.Phone,
		Type:           alertType,
		Status:         domain.AlertQueued,
		DistanceKm:     distanceKm,
		ScheduledFor:   &now,
		QueuedAt:       &now,
	}
	if err := repo.CreateAlert(ctx, s.DB, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// CreateBatched inserts a pending alert attached to an open batch. The row
// carries the frozen distance; its status moves when the batch dispatches.
// Duplicate (event, recipient) pairs are swallowed the same way as in
// CreateImmediate.
func (s *AlertService) CreateBatched(ctx context.Context, sub *domain.FishSubscription, b *domain.AlertBatch, eventID string, alertType domain.AlertType, distanceKm float64) (*domain.Alert, error) {
	a := &domain.Alert{
		ID:             uuid.NewString(),
		EventID:        eventID,
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Phone:          sub.Phone,
		Type:           alertType,
		Status:         domain.AlertPending,
		DistanceKm:     distanceKm,
		BatchID:        &b.ID,
		ScheduledFor:   &b.ScheduledFor,
	}
	if err := repo.CreateAlert(ctx, s.DB, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// DispatchQueued sends every queued alert whose scheduled time has elapsed
// and returns how many went out. Transport failures mark the individual
// alert failed and continue the sweep.
func (s *AlertService) DispatchQueued(ctx context.Context, render func(a *domain.Alert) string) (int, error) {
	now := s.now()
	due, err := repo.ListDueQueuedAlerts(ctx, s.DB, now, sweepAlertLimit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range due {
		if err := s.dispatchOne(ctx, &due[i], render); err != nil {
			s.Log.Error().Err(err).Str("alert_id", due[i].ID).Msg("alert dispatch failed")
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *AlertService) dispatchOne(ctx context.Context, a *domain.Alert, render func(a *domain.Alert) string) error {
	providerMsgID, sendErr := s.Sender.Send(ctx, a.Phone, render(a))
	now := s.now()
	if sendErr != nil {
		ok, err := repo.MarkAlertFailed(ctx, s.DB, a.ID, sendErr.Error(), now)
		if err != nil {
			return err
		}
		if ok {
			s.Events.Handle(ctx, AlertFailedEvent{AlertID: a.ID, SubscriptionID: a.SubscriptionID, Type: a.Type, Reason: sendErr.Error()})
		}
		return sendErr
	}
	ok, err := repo.MarkAlertSent(ctx, s.DB, a.ID, providerMsgID, now)
	if err != nil {
		return err
	}
	if ok {
		s.Events.Handle(ctx, AlertSentEvent{AlertID: a.ID, SubscriptionID: a.SubscriptionID, Type: a.Type})
		s.Log.Info().
			Str("alert_id", a.ID).
			Str("phone", messaging.MaskPhone(a.Phone)).
			Str("type", string(a.Type)).
			Msg("alert dispatched")
	}
	return nil
}

// HandleDeliveryStatus folds a provider status callback onto the alert row
// resolved by provider message id. Unknown message ids and illegal
// transitions are dropped silently: status callbacks arrive out of order
// and redelivered, so a no-op is the normal case, not an error.
func (s *AlertService) HandleDeliveryStatus(ctx context.Context, providerMsgID, status, reason string) error {
	a, err := repo.GetAlertByProviderMsgID(ctx, s.DB, providerMsgID)
	if errors.Is(err, repo.ErrNotFound) {
		s.Log.Debug().Str("provider_msg_id", providerMsgID).Msg("status callback for unknown message")
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	switch status {
	case "delivered", "read":
		_, err = repo.MarkAlertDelivered(ctx, s.DB, a.ID, now)
	case "failed", "undelivered":
		var ok bool
		ok, err = repo.MarkAlertFailed(ctx, s.DB, a.ID, reason, now)
		if err == nil && ok {
			s.Events.Handle(ctx, AlertFailedEvent{AlertID: a.ID, SubscriptionID: a.SubscriptionID, Type: a.Type, Reason: reason})
		}
	default:
		// "sent" echoes and unrecognized statuses carry no new state.
	}
	return err
}

// RecordClick stores the recipient's click on a delivered alert and bumps
// the subscription's click counter. Clicks on alerts that never went out
// are rejected with ErrNotFound semantics (false, nil) by the storage layer
// and dropped here.
func (s *AlertService) RecordClick(ctx context.Context, alertID, action string) error {
	a, err := repo.GetAlert(ctx, s.DB, alertID)
	if err != nil {
		return err
	}
	ok, err := repo.RecordAlertClick(ctx, s.DB, alertID, action, s.now())
	if err != nil {
		return err
	}
	if ok {
		s.Events.Handle(ctx, AlertClickedEvent{AlertID: a.ID, SubscriptionID: a.SubscriptionID, Action: action})
	}
	return nil
}
