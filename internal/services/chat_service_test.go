package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
)

const testPhone = "+919876543210"

func newChat(t *testing.T, now time.Time) (*ChatService, *fakeSender) {
	t.Helper()
	db := newTestDB(t)
	sender := &fakeSender{}
	sessions := NewSessionService(db, 10*time.Minute)
	sessions.Now = fixedNow(now)
	subs := NewSubscriptionService(db, []float64{2, 5, 10})
	alerts := NewAlertService(db, sender, NopHandler{}, testLogger())
	alerts.Now = fixedNow(now)
	batches := NewBatchService(db, newPolicy(), sender, NopHandler{}, 10*time.Minute, testLogger())
	batches.Now = fixedNow(now)
	matcher := NewMatcherService(db, alerts, batches, newPolicy(), testLogger())
	matcher.Now = fixedNow(now)
	chat := NewChatService(db, sessions, subs, matcher, sender, testLogger())
	chat.Now = fixedNow(now)
	return chat, sender
}

// setClock repins every seam the chat service depends on.
func setClock(chat *ChatService, now time.Time) {
	chat.Now = fixedNow(now)
	chat.Sessions.Now = fixedNow(now)
	chat.Matcher.Now = fixedNow(now)
	chat.Matcher.Alerts.Now = fixedNow(now)
	chat.Matcher.Batches.Now = fixedNow(now)
}

func say(t *testing.T, chat *ChatService, id, text string) string {
	t.Helper()
	reply, err := chat.ProcessInbound(context.Background(), InboundMessage{
		MessageID: id,
		Phone:     testPhone,
		Text:      text,
	})
	if err != nil {
		t.Fatalf("ProcessInbound(%q): %v", text, err)
	}
	return reply
}

func sayLocation(t *testing.T, chat *ChatService, id string, lat, lng float64) string {
	t.Helper()
	reply, err := chat.ProcessInbound(context.Background(), InboundMessage{
		MessageID: id,
		Phone:     testPhone,
		Latitude:  &lat,
		Longitude: &lng,
	})
	if err != nil {
		t.Fatalf("ProcessInbound(location): %v", err)
	}
	return reply
}

// register walks the phone through the registration flow. Role "2" makes a
// seller.
func register(t *testing.T, chat *ChatService, name, role string) {
	t.Helper()
	say(t, chat, "r1", "hi")
	say(t, chat, "r2", "1") // any menu pick routes an unknown phone to registration
	say(t, chat, "r3", name)
	say(t, chat, "r4", role)
}

func sessionOf(t *testing.T, db *gorm.DB) *domain.ConversationSession {
	t.Helper()
	s, err := repo.GetSessionByPhone(context.Background(), db, testPhone)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return s
}

func TestProcessInbound_DuplicateMessageDropped(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, sender := newChat(t, now)

	first := say(t, chat, "msg-1", "hi")
	if first == "" {
		t.Fatal("fresh message must get a reply")
	}
	before := sender.count()

	replay := say(t, chat, "msg-1", "hi")
	if replay != "" {
		t.Fatalf("redelivered message must be dropped, got reply %q", replay)
	}
	if sender.count() != before {
		t.Fatal("redelivery must not send anything")
	}
}

func TestProcessInbound_RegistrationFlow(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, _ := newChat(t, now)

	reply := say(t, chat, "m1", "hello")
	if !strings.Contains(reply, "What would you like to do") {
		t.Fatalf("greeting should show the menu, got %q", reply)
	}
	reply = say(t, chat, "m2", "1")
	if !strings.Contains(reply, "name") {
		t.Fatalf("unknown phone should enter registration, got %q", reply)
	}
	reply = say(t, chat, "m3", "Asha")
	if !strings.Contains(reply, "Asha") {
		t.Fatalf("role prompt should echo the name, got %q", reply)
	}
	reply = say(t, chat, "m4", "2")
	if !strings.Contains(reply, "all set") {
		t.Fatalf("registration should complete, got %q", reply)
	}

	u, err := repo.GetUserByPhone(context.Background(), chat.DB, testPhone)
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if u.Name != "Asha" || !u.IsSeller() {
		t.Fatalf("want seller Asha, got %q seller=%v", u.Name, u.IsSeller())
	}
	if s := sessionOf(t, chat.DB); s.CurrentStep != domain.StepMainMenu {
		t.Fatalf("session should land on the menu, got %s", s.CurrentStep)
	} else if s.UserID == nil || *s.UserID != u.ID {
		t.Fatalf("session should link to the new account, got %v", s.UserID)
	}
}

func TestProcessInbound_CatchPostingFansOut(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, _ := newChat(t, now)
	register(t, chat, "Asha", "2")

	// A nearby immediate subscriber should be matched on post.
	sub := seedSub(t, chat.DB, domain.FrequencyImmediate, nearLat, nearLng, 5)

	say(t, chat, "c1", "1")
	say(t, chat, "c2", "sardine")
	say(t, chat, "c3", "250")
	say(t, chat, "c4", "12")
	say(t, chat, "c5", "skip")
	reply := sayLocation(t, chat, "c6", harborLat, harborLng)
	if !strings.Contains(reply, "YES") {
		t.Fatalf("want confirmation prompt, got %q", reply)
	}
	reply = say(t, chat, "c7", "yes")
	if !strings.Contains(reply, "Posted") {
		t.Fatalf("want posted confirmation, got %q", reply)
	}

	var c domain.FishCatch
	if err := chat.DB.First(&c).Error; err != nil {
		t.Fatalf("catch not created: %v", err)
	}
	if c.PricePerKg != 250 || c.QuantityKg != 12 || c.FishTypeID != "sardine" {
		t.Fatalf("catch fields wrong: %+v", c)
	}
	var a domain.Alert
	if err := chat.DB.Where("subscription_id = ?", sub.ID).First(&a).Error; err != nil {
		t.Fatalf("subscriber was not alerted: %v", err)
	}
	if a.Status != domain.AlertQueued {
		t.Fatalf("immediate alert should be queued, got %s", a.Status)
	}
}

func TestProcessInbound_KeywordInterruptMidFlow(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, _ := newChat(t, now)
	register(t, chat, "Asha", "2")

	say(t, chat, "k1", "1")
	say(t, chat, "k2", "sardine")
	say(t, chat, "k3", "250")
	say(t, chat, "k4", "12")
	if s := sessionOf(t, chat.DB); s.CurrentStep != domain.StepAwaitingPhoto {
		t.Fatalf("should be awaiting the photo, got %s", s.CurrentStep)
	}

	reply := say(t, chat, "k5", "menu")
	if !strings.Contains(reply, "What would you like to do") {
		t.Fatalf("MENU must interrupt the flow, got %q", reply)
	}
	s := sessionOf(t, chat.DB)
	if s.CurrentStep != domain.StepMainMenu || s.CurrentFlow != domain.FlowNone {
		t.Fatalf("interrupt should land on the menu, got %s/%s", s.CurrentFlow, s.CurrentStep)
	}
	if s.TempData != "" {
		t.Fatalf("flow scratch must be dropped on interrupt, got %q", s.TempData)
	}

	var n int64
	if err := chat.DB.Model(&domain.FishCatch{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatal("abandoned flow must not post a catch")
	}
}

func TestProcessInbound_HelpAnswersInPlace(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, _ := newChat(t, now)
	register(t, chat, "Asha", "2")

	say(t, chat, "h1", "1")
	say(t, chat, "h2", "sardine")
	reply := say(t, chat, "h3", "help")
	if !strings.Contains(reply, "CANCEL") {
		t.Fatalf("want help text, got %q", reply)
	}
	if s := sessionOf(t, chat.DB); s.CurrentStep != domain.StepAwaitingPrice {
		t.Fatalf("HELP must not move the flow, got %s", s.CurrentStep)
	}
}

func TestProcessInbound_BadInputReprompts(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, _ := newChat(t, now)
	register(t, chat, "Asha", "2")

	say(t, chat, "b1", "1")
	say(t, chat, "b2", "sardine")
	reply := say(t, chat, "b3", "cheap")
	if !strings.Contains(reply, "number") {
		t.Fatalf("want number reprompt, got %q", reply)
	}
	if s := sessionOf(t, chat.DB); s.CurrentStep != domain.StepAwaitingPrice {
		t.Fatalf("bad input must stay on the step, got %s", s.CurrentStep)
	}
}

func TestProcessInbound_SubscriptionFlow(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, _ := newChat(t, now)
	register(t, chat, "Belen", "1")

	say(t, chat, "s1", "2")
	sayLocation(t, chat, "s2", nearLat, nearLng)

	// An arbitrary radius is rejected; the set is closed.
	reply := say(t, chat, "s3", "7")
	if !strings.Contains(reply, "2, 5, 10") {
		t.Fatalf("off-menu radius must reprompt with choices, got %q", reply)
	}
	say(t, chat, "s4", "5")
	say(t, chat, "s5", "sardine, mackerel")
	reply = say(t, chat, "s6", "2")
	if !strings.Contains(reply, "Done") {
		t.Fatalf("want subscribed confirmation, got %q", reply)
	}

	u, err := repo.GetUserByPhone(context.Background(), chat.DB, testPhone)
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	subs, err := repo.ListUserSubscriptions(context.Background(), chat.DB, u.ID)
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("want 1 subscription, got %d", len(subs))
	}
	s := subs[0]
	if s.RadiusKm != 5 || s.AllTypes || len(s.FishTypeIDs) != 2 {
		t.Fatalf("subscription fields wrong: %+v", s)
	}
	if s.Frequency != domain.FrequencyMorningOnly {
		t.Fatalf("want morning_only, got %s", s.Frequency)
	}
}

func TestProcessInbound_TimeoutResetsMidFlow(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, _ := newChat(t, now)
	register(t, chat, "Asha", "2")

	say(t, chat, "t1", "1")
	say(t, chat, "t2", "sardine")

	// The catch flow allows 15 minutes of silence; exceed it.
	setClock(chat, now.Add(time.Hour))
	reply := say(t, chat, "t3", "250")
	if !strings.Contains(reply, "started over") {
		t.Fatalf("timed-out flow must announce the reset, got %q", reply)
	}
	if s := sessionOf(t, chat.DB); s.CurrentFlow == domain.FlowCatchPosting {
		t.Fatal("stale flow survived the timeout")
	}
}

func TestProcessInbound_CatchConfirmWithoutSellerProfile(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	chat, _ := newChat(t, now)
	register(t, chat, "Asha", "2")

	say(t, chat, "c1", "1")
	say(t, chat, "c2", "sardine")
	say(t, chat, "c3", "250")
	say(t, chat, "c4", "12")
	say(t, chat, "c5", "skip")
	sayLocation(t, chat, "c6", harborLat, harborLng)

	// The seller profile disappears between the menu guard and the
	// confirmation, so the deferred create must refuse.
	u, err := repo.GetUserByPhone(context.Background(), chat.DB, testPhone)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if err := chat.DB.Where("user_id = ?", u.ID).Delete(&domain.SellerProfile{}).Error; err != nil {
		t.Fatalf("detach seller profile: %v", err)
	}

	reply := say(t, chat, "c7", "yes")
	if reply != replySomethingBroke {
		t.Fatalf("want the failure reply, got %q", reply)
	}
	var n int64
	if err := chat.DB.Model(&domain.FishCatch{}).Count(&n).Error; err != nil {
		t.Fatalf("count catches: %v", err)
	}
	if n != 0 {
		t.Fatalf("no catch should be created, got %d", n)
	}
}
