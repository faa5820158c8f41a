// Package handlers – webhook endpoints.
//
// The messaging provider delivers two callback shapes: inbound user messages
// and delivery-status updates for messages we sent. Both endpoints are
// at-least-once: the provider retries until it sees a 2xx, so every handler
// here must be safe to replay. The handlers acknowledge quickly and keep the
// response body minimal; the provider only cares about the status code.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aswinsasi/nearbuy-sub002/internal/http/middleware"
	"github.com/aswinsasi/nearbuy-sub002/internal/services"
)

// inboundRequest is the parsed inbound-message callback.
type inboundRequest struct {
	MessageID string  `json:"message_id" binding:"required"`
	From      string  `json:"from"       binding:"required"`
	Text      string  `json:"text"`
	MediaID   string  `json:"media_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// statusRequest is the parsed delivery-status callback.
type statusRequest struct {
	ProviderMsgID string `json:"provider_message_id" binding:"required"`
	Status        string `json:"status"              binding:"required"`
	Reason        string `json:"reason"`
}

// ReceiveMessage handles POST /webhook/messages: one inbound user message.
//
// Responses:
//   - 200 with the reply that was sent (or {"dropped":true} for a
//     redelivered message)
//   - 400 on a malformed payload
//   - 500 when processing failed; the provider will redeliver and dedup
//     keeps the retry harmless
func (h *Handlers) ReceiveMessage(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid webhook payload")
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		fail(c, http.StatusBadRequest, ErrCodeInvalidLocation, "latitude and longitude must come together")
		return
	}

	reply, err := h.Chat.ProcessInbound(c.Request.Context(), services.InboundMessage{
		MessageID: req.MessageID,
		Phone:     req.From,
		Text:      req.Text,
		MediaID:   req.MediaID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		if errors.Is(err, services.ErrSessionConflict) {
			// Lost every optimistic-lock retry; the redelivery will land
			// after the concurrent burst settles.
			fail(c, http.StatusConflict, ErrCodeConflict, "message is being processed")
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Msg("inbound processing failed")
		fail(c, http.StatusInternalServerError, ErrCodeProcessFailed, "could not process message")
		return
	}
	if reply == "" {
		ok(c, http.StatusOK, gin.H{"dropped": true})
		return
	}
	ok(c, http.StatusOK, gin.H{"reply": reply})
}

// ReceiveStatus handles POST /webhook/statuses: a delivery-status update for
// a message we sent. Unknown provider ids and out-of-order callbacks are
// acknowledged without effect.
func (h *Handlers) ReceiveStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid status payload")
		return
	}
	if err := h.Alerts.HandleDeliveryStatus(c.Request.Context(), req.ProviderMsgID, req.Status, req.Reason); err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("status callback failed")
		fail(c, http.StatusInternalServerError, ErrCodeProcessFailed, "could not record status")
		return
	}
	noContent(c)
}
