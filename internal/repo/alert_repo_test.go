package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

func newAlert(eventID, subID string) *domain.Alert {
	return &domain.Alert{
		ID:             uuid.NewString(),
		EventID:        eventID,
		SubscriptionID: subID,
		UserID:         uuid.NewString(),
		Phone:          "+1555200001",
		Type:           domain.AlertNewCatch,
		Status:         domain.AlertPending,
		DistanceKm:     3.2,
	}
}

func TestCreateAlert_DuplicateRecipientPair(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	event, sub := uuid.NewString(), uuid.NewString()

	if err := CreateAlert(ctx, db, newAlert(event, sub)); err != nil {
		t.Fatalf("first CreateAlert: %v", err)
	}
	err := CreateAlert(ctx, db, newAlert(event, sub))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("replayed CreateAlert: got %v, want ErrDuplicate", err)
	}

	// Same event to a different recipient is fine.
	if err := CreateAlert(ctx, db, newAlert(event, uuid.NewString())); err != nil {
		t.Fatalf("other recipient: %v", err)
	}

	ok, err := AlertExists(ctx, db, event, sub)
	if err != nil || !ok {
		t.Fatalf("AlertExists: ok=%v err=%v", ok, err)
	}
}

func TestAlertTransitions_HappyPath(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newAlert(uuid.NewString(), uuid.NewString())
	if err := CreateAlert(ctx, db, a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	if ok, err := MarkAlertQueued(ctx, db, a.ID, now, now); err != nil || !ok {
		t.Fatalf("queued: ok=%v err=%v", ok, err)
	}
	if ok, err := MarkAlertSent(ctx, db, a.ID, "wamid.1", now); err != nil || !ok {
		t.Fatalf("sent: ok=%v err=%v", ok, err)
	}
	if ok, err := MarkAlertDelivered(ctx, db, a.ID, now); err != nil || !ok {
		t.Fatalf("delivered: ok=%v err=%v", ok, err)
	}

	got, _ := GetAlert(ctx, db, a.ID)
	if got.Status != domain.AlertDelivered || got.ProviderMsgID != "wamid.1" {
		t.Fatalf("final alert wrong: %+v", got)
	}
}

func TestAlertTransitions_NoRegression(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newAlert(uuid.NewString(), uuid.NewString())
	if err := CreateAlert(ctx, db, a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if ok, _ := MarkAlertSent(ctx, db, a.ID, "wamid.2", now); !ok {
		t.Fatal("pending->sent (batch release) should be legal")
	}

	// Re-queueing a sent alert is a no-op failure.
	if ok, err := MarkAlertQueued(ctx, db, a.ID, now, now); err != nil || ok {
		t.Fatalf("sent->queued: ok=%v err=%v, want no-op", ok, err)
	}
	// Failing a delivered alert is a no-op failure.
	if ok, _ := MarkAlertDelivered(ctx, db, a.ID, now); !ok {
		t.Fatal("sent->delivered should be legal")
	}
	if ok, err := MarkAlertFailed(ctx, db, a.ID, "late error", now); err != nil || ok {
		t.Fatalf("delivered->failed: ok=%v err=%v, want no-op", ok, err)
	}
}

func TestMarkAlertFailed_FromQueued(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newAlert(uuid.NewString(), uuid.NewString())
	if err := CreateAlert(ctx, db, a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if ok, _ := MarkAlertQueued(ctx, db, a.ID, now, now); !ok {
		t.Fatal("queue failed")
	}
	if ok, err := MarkAlertFailed(ctx, db, a.ID, "provider 500", now); err != nil || !ok {
		t.Fatalf("failed: ok=%v err=%v", ok, err)
	}
	got, _ := GetAlert(ctx, db, a.ID)
	if got.Status != domain.AlertFailed || got.FailureReason != "provider 500" || got.FailedAt == nil {
		t.Fatalf("failed alert wrong: %+v", got)
	}
}

func TestRecordAlertClick_RequiresSent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := newAlert(uuid.NewString(), uuid.NewString())
	if err := CreateAlert(ctx, db, a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}

	// Not yet sent: click is ignored.
	if ok, err := RecordAlertClick(ctx, db, a.ID, "view_catch", now); err != nil || ok {
		t.Fatalf("click before send: ok=%v err=%v", ok, err)
	}

	if ok, _ := MarkAlertSent(ctx, db, a.ID, "wamid.3", now); !ok {
		t.Fatal("send failed")
	}
	if ok, err := RecordAlertClick(ctx, db, a.ID, "view_catch", now); err != nil || !ok {
		t.Fatalf("click after send: ok=%v err=%v", ok, err)
	}

	// Click is orthogonal: delivery confirmation may land afterwards.
	if ok, _ := MarkAlertDelivered(ctx, db, a.ID, now); !ok {
		t.Fatal("deliver after click should still work")
	}
}

func TestAlertStats_AggregatesByStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sent := newAlert(uuid.NewString(), uuid.NewString())
	failed := newAlert(uuid.NewString(), uuid.NewString())
	pending := newAlert(uuid.NewString(), uuid.NewString())
	for _, a := range []*domain.Alert{sent, failed, pending} {
		if err := CreateAlert(ctx, db, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if ok, _ := MarkAlertSent(ctx, db, sent.ID, "wamid.4", now); !ok {
		t.Fatal("seed sent")
	}
	if ok, _ := MarkAlertFailed(ctx, db, failed.ID, "timeout", now); !ok {
		t.Fatal("seed failed")
	}

	stats, err := AlertStats(ctx, db)
	if err != nil {
		t.Fatalf("AlertStats: %v", err)
	}
	if stats.Total != 3 || stats.Sent != 1 || stats.Failed != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if r := stats.SuccessRate(); r != 0.5 {
		t.Fatalf("success rate = %v, want 0.5", r)
	}

	reasons, err := FailureReasons(ctx, db, 5)
	if err != nil {
		t.Fatalf("FailureReasons: %v", err)
	}
	if len(reasons) != 1 || reasons[0].Reason != "timeout" || reasons[0].Count != 1 {
		t.Fatalf("unexpected reasons: %+v", reasons)
	}
}
