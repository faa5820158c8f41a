package domain

import (
	"time"

	"gorm.io/gorm"
)

// AlertFrequency is a subscriber's dispatch preference. Immediate alerts are
// delivered as standalone Alert rows; every other frequency accumulates into
// an AlertBatch released by the scheduler.
type AlertFrequency string

// Supported frequencies.
const (
	FrequencyImmediate    AlertFrequency = "immediate"
	FrequencyMorningOnly  AlertFrequency = "morning_only"
	FrequencyTwiceDaily   AlertFrequency = "twice_daily"
	FrequencyWeeklyDigest AlertFrequency = "weekly_digest"
)

// Valid reports whether f is one of the supported frequencies.
func (f AlertFrequency) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyMorningOnly, FrequencyTwiceDaily, FrequencyWeeklyDigest:
		return true
	}
	return false
}

// Batched reports whether alerts for this frequency accumulate into a batch
// instead of being queued directly.
func (f AlertFrequency) Batched() bool {
	return f.Valid() && f != FrequencyImmediate
}

// IDSet is an ordered, JSON-serialized list of entity ids. Membership is
// checked linearly; sets stay small (a handful of fish types or blocked
// sellers per subscription).
type IDSet []string

// Contains reports whether id is a member of the set.
func (s IDSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add appends id if absent and reports whether the set changed.
func (s *IDSet) Add(id string) bool {
	if s.Contains(id) {
		return false
	}
	*s = append(*s, id)
	return true
}

// FishSubscription is one location profile a user listens on. A user may
// hold several subscriptions with different coordinates or filters.
//
// Invariants:
//   - RadiusKm is drawn from a closed enumerated set, validated at creation
//     (the matcher does not re-check it).
//   - A paused subscription whose PausedUntil has elapsed is treated as
//     active again without a write (lazy un-pause).
type FishSubscription struct {
	ID               string         `json:"id"                gorm:"type:char(36);primaryKey"`
	UserID           string         `json:"user_id"           gorm:"type:char(36);not null;index:idx_sub_user"`
	Phone            string         `json:"phone"             gorm:"type:varchar(32);not null;index"`
	Latitude         float64        `json:"latitude"          gorm:"not null"`
	Longitude        float64        `json:"longitude"         gorm:"not null"`
	RadiusKm         float64        `json:"radius_km"         gorm:"not null"`
	AllTypes         bool           `json:"all_types"         gorm:"not null;default:true"`
	FishTypeIDs      IDSet          `json:"fish_type_ids"     gorm:"serializer:json"`
	BlockedSellerIDs IDSet          `json:"blocked_seller_ids" gorm:"serializer:json"`
	Frequency        AlertFrequency `json:"alert_frequency"   gorm:"type:varchar(16);not null;default:'immediate'"`
	Active           bool           `json:"active"            gorm:"not null;default:true;index"`
	PausedUntil      *time.Time     `json:"paused_until,omitempty"`
	QuietStartHour   *int           `json:"quiet_start_hour,omitempty"`
	QuietEndHour     *int           `json:"quiet_end_hour,omitempty"`
	ActiveDays       []int          `json:"active_days,omitempty" gorm:"serializer:json"`
	AlertsReceived   int64          `json:"alerts_received"   gorm:"not null;default:0"`
	AlertsClicked    int64          `json:"alerts_clicked"    gorm:"not null;default:0"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                 gorm:"index"`
}

// TableName returns the database table name for FishSubscription.
func (FishSubscription) TableName() string { return "fish_subscriptions" }

// EffectivelyActive applies the lazy un-pause rule: active subscriptions
// count, and so do paused ones whose PausedUntil lies at or before now.
// A paused subscription with no PausedUntil stays paused until resumed.
func (s *FishSubscription) EffectivelyActive(now time.Time) bool {
	if s.Active {
		return true
	}
	return s.PausedUntil != nil && !now.Before(*s.PausedUntil)
}

// TypeAllowed reports whether the subscription's type filter passes for the
// given fish type.
func (s *FishSubscription) TypeAllowed(fishTypeID string) bool {
	return s.AllTypes || s.FishTypeIDs.Contains(fishTypeID)
}

// SellerBlocked reports whether the seller is on the subscription's block
// list.
func (s *FishSubscription) SellerBlocked(sellerID string) bool {
	return s.BlockedSellerIDs.Contains(sellerID)
}

// InQuietHours reports whether now falls inside the subscriber's quiet
// window. The window may wrap midnight (e.g. 22 → 6). Absent bounds mean no
// quiet hours.
func (s *FishSubscription) InQuietHours(now time.Time) bool {
	if s.QuietStartHour == nil || s.QuietEndHour == nil {
		return false
	}
	start, end := *s.QuietStartHour, *s.QuietEndHour
	if start == end {
		return false
	}
	h := now.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// ActiveOn reports whether the subscription accepts alerts on the given
// weekday. An empty set means every day.
func (s *FishSubscription) ActiveOn(day time.Weekday) bool {
	if len(s.ActiveDays) == 0 {
		return true
	}
	for _, d := range s.ActiveDays {
		if time.Weekday(d) == day {
			return true
		}
	}
	return false
}
