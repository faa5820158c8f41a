package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aswinsasi/nearbuy-sub002/internal/domain"
	"github.com/aswinsasi/nearbuy-sub002/internal/repo"
	"github.com/aswinsasi/nearbuy-sub002/internal/schedule"
)

// newTestDB opens a throwaway on-disk SQLite database and migrates the full
// schema. On-disk (not :memory:) so unique indexes behave as in production.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// outbound records one message handed to the fake transport.
type outbound struct {
	Phone   string
	Content string
}

// fakeSender is an in-memory transport. Set Fail to make every Send error.
type fakeSender struct {
	mu   sync.Mutex
	Sent []outbound
	Fail error
}

func (f *fakeSender) Send(_ context.Context, phone, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail != nil {
		return "", f.Fail
	}
	f.Sent = append(f.Sent, outbound{Phone: phone, Content: content})
	return fmt.Sprintf("fake-%d", len(f.Sent)), nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// fixedNow returns a clock pinned to ts.
func fixedNow(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// seedSub inserts an active subscription placed at (lat, lng).
func seedSub(t *testing.T, db *gorm.DB, freq domain.AlertFrequency, lat, lng, radius float64) *domain.FishSubscription {
	t.Helper()
	s := &domain.FishSubscription{
		ID:        uuid.NewString(),
		UserID:    uuid.NewString(),
		Phone:     "+9198" + uuid.NewString()[:8],
		Latitude:  lat,
		Longitude: lng,
		RadiusKm:  radius,
		AllTypes:  true,
		Frequency: freq,
		Active:    true,
	}
	if err := repo.CreateSubscription(context.Background(), db, s); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return s
}

// seedCatch inserts an available catch at (lat, lng).
func seedCatch(t *testing.T, db *gorm.DB, sellerID, fishType string, lat, lng float64) *domain.FishCatch {
	t.Helper()
	c := &domain.FishCatch{
		ID:         uuid.NewString(),
		SellerID:   sellerID,
		FishTypeID: fishType,
		PricePerKg: 300,
		QuantityKg: 10,
		Latitude:   lat,
		Longitude:  lng,
	}
	if err := repo.CreateCatch(context.Background(), db, c); err != nil {
		t.Fatalf("seed catch: %v", err)
	}
	return c
}

// recordingHandler captures emitted events for assertions.
type recordingHandler struct {
	mu     sync.Mutex
	Events []Event
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Events = append(h.Events, ev)
}

func (h *recordingHandler) sentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.Events {
		if _, ok := ev.(AlertSentEvent); ok {
			n++
		}
	}
	return n
}

var errSendBoom = errors.New("provider unreachable")

// newPolicy returns a UTC dispatch policy for tests.
func newPolicy() *schedule.Policy {
	return schedule.NewPolicy(time.UTC)
}
