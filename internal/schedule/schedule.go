// Package schedule computes dispatch times for batched alerts. The policy is
// deterministic and re-derivable from (frequency, now, zone); scheduled times
// are never stored as raw offsets. All policy times are evaluated in one
// fixed operational time zone, configured globally.
package schedule

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

// Dispatch hours in the operational time zone.
const (
	MorningHour = 6
	EveningHour = 16
	// WeeklyHour is the Sunday digest hour.
	WeeklyHour = 8
)

// Policy resolves a subscriber frequency to the next dispatch time in a
// fixed operational location.
type Policy struct {
	loc *time.Location
}

// NewPolicy returns a Policy evaluating times in loc. A nil loc falls back
// to UTC.
func NewPolicy(loc *time.Location) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	return &Policy{loc: loc}
}

// Location returns the operational time zone.
func (p *Policy) Location() *time.Location { return p.loc }

// Next returns the next dispatch time strictly after now for the given
// frequency:
//
//   - morning_only: next 06:00; if now is at or past 06:00 today, tomorrow.
//   - twice_daily: the next of {06:00, 16:00}; past both rolls to tomorrow
//     06:00.
//   - weekly_digest: next Sunday 08:00 strictly after now.
//
// Immediate (and unknown) frequencies are not batched; Next returns now
// unchanged so a misrouted caller dispatches at once instead of stalling.
func (p *Policy) Next(freq domain.AlertFrequency, now time.Time) time.Time {
	now = now.In(p.loc)
	switch freq {
	case domain.FrequencyMorningOnly:
		return p.nextAtHour(now, MorningHour)
	case domain.FrequencyTwiceDaily:
		morning := p.nextAtHour(now, MorningHour)
		evening := p.nextAtHour(now, EveningHour)
		if evening.Before(morning) {
			return evening
		}
		return morning
	case domain.FrequencyWeeklyDigest:
		return p.nextWeekly(now)
	default:
		return now
	}
}

// nextAtHour returns the next occurrence of hour:00 strictly after now.
func (p *Policy) nextAtHour(now time.Time, hour int) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, p.loc)
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// nextWeekly returns the next Sunday at WeeklyHour strictly after now.
func (p *Policy) nextWeekly(now time.Time) time.Time {
	days := int(time.Sunday-now.Weekday()+7) % 7
	at := time.Date(now.Year(), now.Month(), now.Day(), WeeklyHour, 0, 0, 0, p.loc).
		AddDate(0, 0, days)
	if !at.After(now) {
		at = at.AddDate(0, 0, 7)
	}
	return at
}

// cronParser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow) for the sweep cadence.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSweepSpec validates a 5-field cron expression used for the scheduler
// sweep cadence and returns its schedule.
func ParseSweepSpec(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}
