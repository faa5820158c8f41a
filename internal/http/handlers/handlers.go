package handlers

import (
	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/services"
)

// Handlers bundles the service dependencies for the HTTP layer. All fields
// must be non-nil; the router wires them at startup.
type Handlers struct {
	DB     *gorm.DB
	Chat   *services.ChatService
	Alerts *services.AlertService
	Subs   *services.SubscriptionService
}

// New constructs the handler set.
func New(db *gorm.DB, chat *services.ChatService, alerts *services.AlertService, subs *services.SubscriptionService) *Handlers {
	return &Handlers{DB: db, Chat: chat, Alerts: alerts, Subs: subs}
}
