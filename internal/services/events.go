// Package services – domain events for cross-entity side effects.
//
// Marking an alert sent or clicked must bump counters on the owning
// subscription. Those increments are modeled as explicit events consumed by
// a dedicated handler rather than hidden inside the mark* call paths, so the
// side effects of a delivery are enumerable and testable.
package services

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
)

// Event is a domain event emitted by the alerting core.
type Event interface {
	eventName() string
}

// AlertSentEvent fires once per alert handed to the transport.
type AlertSentEvent struct {
	AlertID        string
	SubscriptionID string
	Type           domain.AlertType
}

func (AlertSentEvent) eventName() string { return "alert_sent" }

// AlertFailedEvent fires once per alert whose delivery failed.
type AlertFailedEvent struct {
	AlertID        string
	SubscriptionID string
	Type           domain.AlertType
	Reason         string
}

func (AlertFailedEvent) eventName() string { return "alert_failed" }

// AlertClickedEvent fires when a recipient acts on a delivered alert.
type AlertClickedEvent struct {
	AlertID        string
	SubscriptionID string
	Action         string
}

func (AlertClickedEvent) eventName() string { return "alert_clicked" }

// EventHandler consumes domain events. Handlers must tolerate replays: the
// emitting side does not guarantee exactly-once.
type EventHandler interface {
	Handle(ctx context.Context, ev Event)
}

// CounterHandler updates subscription counters and Prometheus collectors in
// response to delivery events. Counter failures are logged, never
// propagated: a lost increment must not fail a delivery.
type CounterHandler struct {
	DB  *gorm.DB
	Log zerolog.Logger
}

// Handle applies the counter side effects for one event.
func (h *CounterHandler) Handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case AlertSentEvent:
		alertsSent.WithLabelValues(string(e.Type)).Inc()
		if err := repo.IncrementSubscriptionCounters(ctx, h.DB, e.SubscriptionID, 1, 0); err != nil {
			h.Log.Warn().Err(err).Str("subscription_id", e.SubscriptionID).Msg("received counter update failed")
		}
	case AlertFailedEvent:
		alertsFailed.WithLabelValues(string(e.Type)).Inc()
	case AlertClickedEvent:
		if err := repo.IncrementSubscriptionCounters(ctx, h.DB, e.SubscriptionID, 0, 1); err != nil {
			h.Log.Warn().Err(err).Str("subscription_id", e.SubscriptionID).Msg("clicked counter update failed")
		}
	}
}

// NopHandler discards events; useful in tests that assert core behavior
// without counters.
type NopHandler struct{}

// Handle discards the event.
func (NopHandler) Handle(context.Context, Event) {}
