// Package handlers – operator endpoints.
//
// These endpoints expose delivery health and manual controls: aggregate
// stats, paged listings of alerts and batches, and subscription pause and
// resume. They are read-mostly and sit behind the same middleware stack as
// the webhooks.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/http/middleware"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
	"github.com/aswinsasi/nearbuy-sub002/internal/services"
	"github.com/aswinsasi/nearbuy-sub002/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageParams extracts page / per_page query parameters with sane bounds.
func pageParams(c *gin.Context) (offset, limit int) {
	page := utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	per := utils.AtoiDefault(c.Query("per_page"), defaultPageSize)
	if per < 1 {
		per = defaultPageSize
	}
	if per > maxPageSize {
		per = maxPageSize
	}
	return (page - 1) * per, per
}

// AlertStats handles GET /admin/stats/alerts: delivery counters, the derived
// success rate, and the top failure reasons.
func (h *Handlers) AlertStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := repo.AlertStats(ctx, h.DB)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("alert stats failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not compute stats")
		return
	}
	reasons, err := repo.FailureReasons(ctx, h.DB, 10)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("failure reasons failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not compute stats")
		return
	}
	ok(c, http.StatusOK, gin.H{
		"delivery":     stats,
		"success_rate": stats.SuccessRate(),
		"top_failures": reasons,
	})
}

// BatchStats handles GET /admin/stats/batches.
func (h *Handlers) BatchStats(c *gin.Context) {
	stats, err := repo.BatchStatsByStatus(c.Request.Context(), h.DB)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("batch stats failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not compute stats")
		return
	}
	ok(c, http.StatusOK, stats)
}

// ListAlerts handles GET /admin/alerts with optional ?status= filtering and
// pagination.
func (h *Handlers) ListAlerts(c *gin.Context) {
	ctx := c.Request.Context()
	status := domain.AlertStatus(c.Query("status"))
	offset, limit := pageParams(c)

	rows, err := repo.ListAlertsPage(ctx, h.DB, status, offset, limit)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("list alerts failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list alerts")
		return
	}
	total, err := repo.CountAlerts(ctx, h.DB, status)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("count alerts failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list alerts")
		return
	}
	ok(c, http.StatusOK, gin.H{"total": total, "items": rows})
}

// ListBatches handles GET /admin/batches with optional ?status= filtering
// and pagination.
func (h *Handlers) ListBatches(c *gin.Context) {
	ctx := c.Request.Context()
	status := domain.BatchStatus(c.Query("status"))
	offset, limit := pageParams(c)

	rows, err := repo.ListBatchesPage(ctx, h.DB, status, offset, limit)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("list batches failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list batches")
		return
	}
	total, err := repo.CountBatches(ctx, h.DB, status)
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("count batches failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list batches")
		return
	}
	ok(c, http.StatusOK, gin.H{"total": total, "items": rows})
}

// pauseRequest optionally bounds a pause; absent means paused until resumed.
type pauseRequest struct {
	Until *time.Time `json:"until"`
}

// PauseSubscription handles POST /admin/subscriptions/:id/pause.
func (h *Handlers) PauseSubscription(c *gin.Context) {
	// An empty body is fine (indefinite pause); a malformed one is not.
	var req pauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid pause payload")
			return
		}
	}
	err := h.Subs.Pause(c.Request.Context(), c.Param("id"), req.Until)
	if errors.Is(err, services.ErrSubscriptionNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
		return
	}
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("pause failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not pause subscription")
		return
	}
	noContent(c)
}

// ResumeSubscription handles POST /admin/subscriptions/:id/resume.
func (h *Handlers) ResumeSubscription(c *gin.Context) {
	err := h.Subs.Resume(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrSubscriptionNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
		return
	}
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("resume failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not resume subscription")
		return
	}
	noContent(c)
}

// clickRequest carries the recipient's click action.
type clickRequest struct {
	Action string `json:"action" binding:"required"`
}

// RecordClick handles POST /alerts/:id/click: the link target recipients hit
// from an alert message. Clicks on alerts that never went out are rejected.
func (h *Handlers) RecordClick(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid click payload")
		return
	}
	err := h.Alerts.RecordClick(c.Request.Context(), c.Param("id"), req.Action)
	if errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "alert not found")
		return
	}
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("record click failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not record click")
		return
	}
	noContent(c)
}
