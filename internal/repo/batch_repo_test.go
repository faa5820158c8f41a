package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
)

func newSub(freq domain.AlertFrequency) *domain.FishSubscription {
	return &domain.FishSubscription{
		ID:        uuid.NewString(),
		UserID:    uuid.NewString(),
		Phone:     "+1555100001",
		Latitude:  9.93,
		Longitude: 76.26,
		RadiusKm:  5,
		AllTypes:  true,
		Frequency: freq,
		Active:    true,
	}
}

func TestCreateBatch_SecondOpenBatchIsDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := newSub(domain.FrequencyMorningOnly)
	if err := CreateSubscription(ctx, db, sub); err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	when := time.Now().UTC().Add(time.Hour)

	if _, err := CreateBatch(ctx, db, sub, when); err != nil {
		t.Fatalf("first CreateBatch: %v", err)
	}
	_, err := CreateBatch(ctx, db, sub, when)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second CreateBatch: got %v, want ErrDuplicate", err)
	}
}

func TestCreateBatch_AllowedAgainAfterClose(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := newSub(domain.FrequencyMorningOnly)
	if err := CreateSubscription(ctx, db, sub); err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	now := time.Now().UTC()

	b, err := CreateBatch(ctx, db, sub, now)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if ok, err := MarkBatchProcessing(ctx, db, b.ID, now); err != nil || !ok {
		t.Fatalf("MarkBatchProcessing: ok=%v err=%v", ok, err)
	}
	if ok, err := MarkBatchSent(ctx, db, b.ID, 2, 0, now); err != nil || !ok {
		t.Fatalf("MarkBatchSent: ok=%v err=%v", ok, err)
	}

	// Closed batches free the open slot.
	if _, err := CreateBatch(ctx, db, sub, now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateBatch after close: %v", err)
	}
}

func TestSaveBatchItems_SetUnionAndCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := newSub(domain.FrequencyTwiceDaily)
	if err := CreateSubscription(ctx, db, sub); err != nil {
		t.Fatalf("seed sub: %v", err)
	}

	b, err := CreateBatch(ctx, db, sub, time.Now().UTC())
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if !b.AddEvent("e1") || !b.AddEvent("e2") {
		t.Fatal("AddEvent rejected fresh ids")
	}
	if b.AddEvent("e1") {
		t.Fatal("AddEvent accepted a duplicate id")
	}
	if err := SaveBatchItems(ctx, db, b, 0); err != nil {
		t.Fatalf("SaveBatchItems: %v", err)
	}

	got, err := GetBatch(ctx, db, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.ItemCount != 2 || len(got.EventIDs) != 2 {
		t.Fatalf("item list mismatch: count=%d ids=%v", got.ItemCount, got.EventIDs)
	}
}

func TestSaveBatchItems_ConcurrentAppendLosesCAS(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := newSub(domain.FrequencyMorningOnly)
	if err := CreateSubscription(ctx, db, sub); err != nil {
		t.Fatalf("seed sub: %v", err)
	}

	b, _ := CreateBatch(ctx, db, sub, time.Now().UTC())

	// Two event arrivals read the same empty batch.
	a1 := *b
	a2 := *b
	a1.EventIDs = append(domain.IDSet{}, b.EventIDs...)
	a2.EventIDs = append(domain.IDSet{}, b.EventIDs...)

	a1.AddEvent("e1")
	if err := SaveBatchItems(ctx, db, &a1, 0); err != nil {
		t.Fatalf("first append: %v", err)
	}

	a2.AddEvent("e2")
	if err := SaveBatchItems(ctx, db, &a2, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second append: got %v, want CAS failure", err)
	}

	// The loser re-reads, re-unions, and retries with the fresh count.
	fresh, _ := GetBatch(ctx, db, b.ID)
	prev := fresh.ItemCount
	fresh.AddEvent("e2")
	if err := SaveBatchItems(ctx, db, fresh, prev); err != nil {
		t.Fatalf("retry append: %v", err)
	}
	got, _ := GetBatch(ctx, db, b.ID)
	if got.ItemCount != 2 {
		t.Fatalf("item count = %d, want 2 (no lost update)", got.ItemCount)
	}
}

func TestSaveBatchItems_ClosedBatchRejectsAppend(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := newSub(domain.FrequencyWeeklyDigest)
	if err := CreateSubscription(ctx, db, sub); err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	now := time.Now().UTC()

	b, _ := CreateBatch(ctx, db, sub, now)
	if ok, _ := MarkBatchProcessing(ctx, db, b.ID, now); !ok {
		t.Fatal("MarkBatchProcessing lost")
	}

	b.AddEvent("late")
	if err := SaveBatchItems(ctx, db, b, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("append to processing batch: got %v, want ErrNotFound", err)
	}
}

func TestReadyBatches_SkipsEmptyAndFuture(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ready := newSub(domain.FrequencyMorningOnly)
	empty := newSub(domain.FrequencyMorningOnly)
	future := newSub(domain.FrequencyMorningOnly)
	for _, s := range []*domain.FishSubscription{ready, empty, future} {
		if err := CreateSubscription(ctx, db, s); err != nil {
			t.Fatalf("seed sub: %v", err)
		}
	}

	rb, _ := CreateBatch(ctx, db, ready, now.Add(-time.Minute))
	rb.AddEvent("e1")
	if err := SaveBatchItems(ctx, db, rb, 0); err != nil {
		t.Fatalf("seed ready: %v", err)
	}
	if _, err := CreateBatch(ctx, db, empty, now.Add(-time.Minute)); err != nil {
		t.Fatalf("seed empty: %v", err)
	}
	fb, _ := CreateBatch(ctx, db, future, now.Add(time.Hour))
	fb.AddEvent("e2")
	if err := SaveBatchItems(ctx, db, fb, 0); err != nil {
		t.Fatalf("seed future: %v", err)
	}

	got, err := ReadyBatches(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("ReadyBatches: %v", err)
	}
	if len(got) != 1 || got[0].ID != rb.ID {
		t.Fatalf("unexpected ready set: %+v", got)
	}
}

func TestMarkBatchProcessing_OnlyOneWinner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := newSub(domain.FrequencyMorningOnly)
	if err := CreateSubscription(ctx, db, sub); err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	now := time.Now().UTC()
	b, _ := CreateBatch(ctx, db, sub, now)

	first, err := MarkBatchProcessing(ctx, db, b.ID, now)
	if err != nil || !first {
		t.Fatalf("first flip: ok=%v err=%v", first, err)
	}
	second, err := MarkBatchProcessing(ctx, db, b.ID, now)
	if err != nil {
		t.Fatalf("second flip: %v", err)
	}
	if second {
		t.Fatal("two sweep ticks both won the pending->processing flip")
	}
}

func TestRequeueBatch_RecoverableAfterCrash(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := newSub(domain.FrequencyTwiceDaily)
	if err := CreateSubscription(ctx, db, sub); err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)

	b, _ := CreateBatch(ctx, db, sub, past)
	b.AddEvent("e1")
	if err := SaveBatchItems(ctx, db, b, 0); err != nil {
		t.Fatalf("seed items: %v", err)
	}
	if ok, _ := MarkBatchProcessing(ctx, db, b.ID, past); !ok {
		t.Fatal("flip lost")
	}

	stale, err := StaleProcessingBatches(ctx, db, time.Now().UTC().Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("StaleProcessingBatches: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale count = %d, want 1", len(stale))
	}

	next := time.Now().UTC().Add(time.Minute)
	if ok, err := RequeueBatch(ctx, db, b.ID, next); err != nil || !ok {
		t.Fatalf("RequeueBatch: ok=%v err=%v", ok, err)
	}
	got, _ := GetBatch(ctx, db, b.ID)
	if got.Status != domain.BatchPending || got.ProcessingAt != nil {
		t.Fatalf("requeued batch not pending: %+v", got)
	}
}

func TestMarkBatchFailed_TruncatesReasonAndFreesSlot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	sub := newSub(domain.FrequencyMorningOnly)
	if err := CreateSubscription(ctx, db, sub); err != nil {
		t.Fatalf("seed sub: %v", err)
	}
	now := time.Now().UTC()

	b, _ := CreateBatch(ctx, db, sub, now)
	if ok, _ := MarkBatchProcessing(ctx, db, b.ID, now); !ok {
		t.Fatal("flip lost")
	}

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	if ok, err := MarkBatchFailed(ctx, db, b.ID, string(long), now); err != nil || !ok {
		t.Fatalf("MarkBatchFailed: ok=%v err=%v", ok, err)
	}

	got, _ := GetBatch(ctx, db, b.ID)
	if got.Status != domain.BatchFailed || len(got.FailureReason) > 255 {
		t.Fatalf("failed batch wrong shape: status=%s reason_len=%d", got.Status, len(got.FailureReason))
	}
	// A fresh pending batch may accumulate subsequent events.
	if _, err := CreateBatch(ctx, db, sub, now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateBatch after failure: %v", err)
	}
}
