// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate delivery statistics the
// operator endpoints expose: recipients never see a failure, so operators
// must.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

// DeliveryStats summarizes alert delivery outcomes.
type DeliveryStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Queued    int64 `json:"queued"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Clicked   int64 `json:"clicked"`
}

// SuccessRate returns the fraction of concluded alerts that went out
// (sent or delivered over sent+delivered+failed), or 0 with no data.
func (s DeliveryStats) SuccessRate() float64 {
	done := s.Sent + s.Delivered + s.Failed
	if done == 0 {
		return 0
	}
	return float64(s.Sent+s.Delivered) / float64(done)
}

// AlertStats aggregates alert counts by status plus the click total.
func AlertStats(ctx context.Context, db *gorm.DB) (DeliveryStats, error) {
	var stats DeliveryStats

	var rows []struct {
		Status domain.AlertStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}
	for _, r := range rows {
		stats.Total += r.N
		switch r.Status {
		case domain.AlertPending:
			stats.Pending = r.N
		case domain.AlertQueued:
			stats.Queued = r.N
		case domain.AlertSent:
			stats.Sent = r.N
		case domain.AlertDelivered:
			stats.Delivered = r.N
		case domain.AlertFailed:
			stats.Failed = r.N
		}
	}

	err = db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("clicked_at IS NOT NULL").
		Count(&stats.Clicked).Error
	return stats, err
}

// ReasonCount is one failure reason with its occurrence count.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// FailureReasons returns the most frequent alert failure reasons, most
// common first.
func FailureReasons(ctx context.Context, db *gorm.DB, limit int) ([]ReasonCount, error) {
	var out []ReasonCount
	err := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Select("failure_reason as reason, count(*) as count").
		Where("status = ?", domain.AlertFailed).
		Group("failure_reason").
		Order("count desc").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// BatchStats summarizes batch lifecycle outcomes.
type BatchStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

// BatchStatsByStatus aggregates batch counts by status.
func BatchStatsByStatus(ctx context.Context, db *gorm.DB) (BatchStats, error) {
	var stats BatchStats

	var rows []struct {
		Status domain.BatchStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.AlertBatch{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}
	for _, r := range rows {
		stats.Total += r.N
		switch r.Status {
		case domain.BatchPending:
			stats.Pending = r.N
		case domain.BatchProcessing:
			stats.Processing = r.N
		case domain.BatchSent:
			stats.Sent = r.N
		case domain.BatchFailed:
			stats.Failed = r.N
		}
	}
	return stats, nil
}
