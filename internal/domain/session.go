// Package domain defines the persistence models for conversation sessions,
// subscriptions, catches, alerts, and alert batches. These types are mapped
// with GORM and form the core data layer of the platform.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Flow identifies a multi-step conversation a phone number may be inside.
// The empty flow means the session is parked at the main menu.
type Flow string

// Known conversation flows.
const (
	FlowNone         Flow = ""
	FlowRegistration Flow = "registration"
	FlowCatchPosting Flow = "catch_posting"
	FlowSubscription Flow = "subscription_setup"
	FlowJobPosting   Flow = "job_posting"
)

// flowTimeouts declares the per-flow inactivity window. Flows missing here
// fall back to the default passed to Timeout (applies to the main menu).
var flowTimeouts = map[Flow]time.Duration{
	FlowRegistration: 30 * time.Minute,
	FlowCatchPosting: 15 * time.Minute,
	FlowSubscription: 20 * time.Minute,
	FlowJobPosting:   30 * time.Minute,
}

// Timeout returns the inactivity window for the flow, or fallback when the
// flow declares none.
func (f Flow) Timeout(fallback time.Duration) time.Duration {
	if d, ok := flowTimeouts[f]; ok {
		return d
	}
	return fallback
}

// Step identifies a position within a flow and determines what input type is
// expected next.
type Step string

// Steps shared across flows plus flow-specific positions.
const (
	StepIdle     Step = "idle"
	StepMainMenu Step = "main_menu"

	// registration
	StepAwaitingName Step = "awaiting_name"
	StepAwaitingRole Step = "awaiting_role"

	// catch posting
	StepAwaitingSpecies  Step = "awaiting_species"
	StepAwaitingPrice    Step = "awaiting_price"
	StepAwaitingQuantity Step = "awaiting_quantity"
	StepAwaitingPhoto    Step = "awaiting_photo"
	StepAwaitingLocation Step = "awaiting_location"

	// subscription setup
	StepAwaitingRadius    Step = "awaiting_radius"
	StepAwaitingTypes     Step = "awaiting_types"
	StepAwaitingFrequency Step = "awaiting_frequency"

	// job posting
	StepAwaitingJobTitle Step = "awaiting_job_title"
	StepAwaitingJobPay   Step = "awaiting_job_pay"

	StepConfirm Step = "confirm"
)

// Idle reports whether the step means "not inside a flow": both the idle and
// main-menu steps count, regardless of the recorded flow tag.
func (s Step) Idle() bool {
	return s == StepIdle || s == StepMainMenu || s == ""
}

// Intent is the result of keyword interception on inbound text. A non-none
// intent short-circuits the current flow regardless of step, so the main menu
// stays reachable from anywhere.
type Intent int

// Recognized intents.
const (
	IntentNone Intent = iota
	IntentMenu
	IntentCancel
	IntentHelp
	IntentRestart
)

// String returns the lowercase intent name for logging.
func (i Intent) String() string {
	switch i {
	case IntentMenu:
		return "menu"
	case IntentCancel:
		return "cancel"
	case IntentHelp:
		return "help"
	case IntentRestart:
		return "restart"
	default:
		return "none"
	}
}

// intentKeywords maps normalized inbound words to intents. Matching is
// whole-message, case-insensitive, after trimming.
var intentKeywords = map[string]Intent{
	"menu":    IntentMenu,
	"home":    IntentMenu,
	"hi":      IntentMenu,
	"hello":   IntentMenu,
	"cancel":  IntentCancel,
	"stop":    IntentCancel,
	"exit":    IntentCancel,
	"help":    IntentHelp,
	"?":       IntentHelp,
	"restart": IntentRestart,
	"reset":   IntentRestart,
}

// DetectIntent checks inbound text against the fixed keyword sets. It runs
// before any flow-specific parsing and must never fail, whatever the input.
func DetectIntent(text string) Intent {
	if in, ok := intentKeywords[strings.ToLower(strings.TrimSpace(text))]; ok {
		return in
	}
	return IntentNone
}

// Scratch is the typed key-value scratch space carried by a session. Values
// round-trip through JSON, so numbers decode as float64.
type Scratch map[string]any

// String returns the string stored under key, or "" when absent or of
// another type.
func (s Scratch) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Float returns the number stored under key, or 0 when absent.
func (s Scratch) Float(key string) float64 {
	v, _ := s[key].(float64)
	return v
}

// Int returns the number stored under key truncated to int, or 0 when absent.
func (s Scratch) Int(key string) int {
	return int(s.Float(key))
}

// Bool returns the bool stored under key, or false when absent.
func (s Scratch) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// DecodeScratch deserializes a stored scratch payload. Corrupt or empty
// payloads decode to an empty map: state loss must never break the
// keyword-intercept path.
func DecodeScratch(raw string) Scratch {
	if strings.TrimSpace(raw) == "" {
		return Scratch{}
	}
	var s Scratch
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s == nil {
		return Scratch{}
	}
	return s
}

// EncodeScratch serializes a scratch map for storage. A nil or empty map
// encodes to the empty string.
func EncodeScratch(s Scratch) string {
	if len(s) == 0 {
		return ""
	}
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}

// ConversationSession tracks where one phone number is inside the chat
// interface. Exactly one row exists per phone (unique index); rows are
// created lazily on the first inbound message and soft-expired rather than
// deleted when the inactivity window passes.
//
// Fields:
//   - Phone: E.164 digits, unique key for the session.
//   - UserID: set once the phone completes registration.
//   - CurrentFlow / CurrentStep: position in the conversation state machine.
//   - TempData: JSON scratch cleared on flow completion or reset.
//   - ContextData: JSON scratch that survives across flows.
//   - LastMessageID: provider message id of the last processed inbound
//     message, used to drop at-least-once webhook redeliveries.
//   - Version: optimistic-lock counter; every transition must bump it.
type ConversationSession struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	Phone          string         `json:"phone"            gorm:"type:varchar(32);not null;uniqueIndex:ux_session_phone"`
	UserID         *string        `json:"user_id,omitempty" gorm:"type:char(36);index"`
	CurrentFlow    Flow           `json:"current_flow"     gorm:"type:varchar(32);not null;default:''"`
	CurrentStep    Step           `json:"current_step"     gorm:"type:varchar(32);not null;default:'idle'"`
	TempData       string         `json:"-"                gorm:"type:text"`
	ContextData    string         `json:"-"                gorm:"type:text"`
	LastMessageID  string         `json:"last_message_id"  gorm:"type:varchar(128)"`
	Language       string         `json:"language"         gorm:"type:varchar(8);not null;default:'en'"`
	LastActivityAt time.Time      `json:"last_activity_at" gorm:"index"`
	Version        int64          `json:"-"                gorm:"not null;default:0"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"                gorm:"index"`
}

// TableName returns the database table name for ConversationSession.
func (ConversationSession) TableName() string { return "conversation_sessions" }

// Temp decodes the transient scratch map. Never fails; corrupt data reads
// as empty.
func (s *ConversationSession) Temp() Scratch { return DecodeScratch(s.TempData) }

// Context decodes the cross-flow scratch map.
func (s *ConversationSession) Context() Scratch { return DecodeScratch(s.ContextData) }

// Idle reports whether the session is parked outside any flow.
func (s *ConversationSession) Idle() bool { return s.CurrentStep.Idle() }

// IsActive reports whether the session's last activity falls within the
// current flow's inactivity window. fallback applies to flows without their
// own timeout (the main menu).
func (s *ConversationSession) IsActive(now time.Time, fallback time.Duration) bool {
	return now.Sub(s.LastActivityAt) < s.CurrentFlow.Timeout(fallback)
}
