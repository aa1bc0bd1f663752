package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testCycle(groupID string) *models.OrderCycle {
	return &models.OrderCycle{
		GroupID:          groupID,
		Phase:            models.PhaseCollecting,
		CollectingEndsAt: time.Now().Add(24 * time.Hour).Unix(),
		Participants: []models.Participant{{
			UserID:        "u1",
			UserName:      "User One",
			Items:         []models.OrderItem{{ProductID: "rice", ProductName: "Rice", Quantity: 30, MinQuantity: 50, UnitPrice: 45}},
			TotalAmount:   1350,
			PaymentStatus: models.PaymentPending,
			OrderStatus:   models.OrderStatusPlaced,
		}},
	}
}

func TestCreateAndGetCycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := testCycle("g1")
	if err := store.CreateCycle(ctx, c); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}
	if c.ID == "" {
		t.Fatal("CreateCycle should assign an ID")
	}

	got, err := store.GetCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.GroupID != "g1" || got.Phase != models.PhaseCollecting {
		t.Errorf("got group=%s phase=%s", got.GroupID, got.Phase)
	}
	if len(got.Participants) != 1 || got.Participants[0].UserID != "u1" {
		t.Errorf("participants did not round-trip: %+v", got.Participants)
	}
}

func TestGetCycleNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetCycle(context.Background(), "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOneOpenCyclePerGroup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateCycle(ctx, testCycle("g1")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := store.CreateCycle(ctx, testCycle("g1")); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("second open cycle err = %v, want ErrConflict", err)
	}
	// A different group is unaffected.
	if err := store.CreateCycle(ctx, testCycle("g2")); err != nil {
		t.Errorf("other group create: %v", err)
	}
}

func TestNewOpenCycleAllowedAfterClose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testCycle("g1")
	if err := store.CreateCycle(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.UpdateCycle(ctx, first.ID, func(c *models.OrderCycle) error {
		c.Phase = models.PhaseCancelled
		return nil
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := store.CreateCycle(ctx, testCycle("g1")); err != nil {
		t.Errorf("create after close: %v, want success", err)
	}
}

func TestGetOpenCycleForGroup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOpenCycleForGroup(ctx, "g1"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound before any cycle exists", err)
	}

	c := testCycle("g1")
	if err := store.CreateCycle(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.GetOpenCycleForGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("GetOpenCycleForGroup: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("got cycle %s, want %s", got.ID, c.ID)
	}
}

func TestUpdateCycleClosureErrorAborts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := testCycle("g1")
	if err := store.CreateCycle(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	sentinel := errors.New("business rejection")
	if _, err := store.UpdateCycle(ctx, c.ID, func(c *models.OrderCycle) error {
		c.Phase = models.PhaseCancelled
		return sentinel
	}); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want the closure's error unchanged", err)
	}

	got, err := store.GetCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Phase != models.PhaseCollecting {
		t.Errorf("phase = %s, aborted update must not persist", got.Phase)
	}
}

func TestUpdateCycleConcurrentJoinsLoseNoUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := testCycle("g1")
	c.Participants = nil
	if err := store.CreateCycle(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 48
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpdateCycle(ctx, c.ID, func(c *models.OrderCycle) error {
				c.Participants = append(c.Participants, models.Participant{
					UserID:      fmt.Sprintf("u%02d", i),
					OrderStatus: models.OrderStatusPlaced,
				})
				return nil
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
	}

	got, err := store.GetCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Participants) != n {
		t.Errorf("participants = %d, want %d: a lost update occurred", len(got.Participants), n)
	}
}

func TestListDueCycleIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	due := testCycle("g1")
	due.CollectingEndsAt = time.Now().Add(-time.Minute).Unix()
	if err := store.CreateCycle(ctx, due); err != nil {
		t.Fatalf("create due: %v", err)
	}
	notDue := testCycle("g2")
	if err := store.CreateCycle(ctx, notDue); err != nil {
		t.Fatalf("create not-due: %v", err)
	}

	ids, err := store.ListDueCycleIDs(ctx, time.Now().Unix())
	if err != nil {
		t.Fatalf("ListDueCycleIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != due.ID {
		t.Errorf("ids = %v, want [%s]", ids, due.ID)
	}
}

func TestListRefundPendingCycleIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := testCycle("g1")
	if err := store.CreateCycle(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	ids, err := store.ListRefundPendingCycleIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("ids = %v, want none before cancellation", ids)
	}

	// Cancel with a paid participant: refund obligation outstanding.
	if _, err := store.UpdateCycle(ctx, c.ID, func(c *models.OrderCycle) error {
		c.Phase = models.PhaseCancelled
		c.Participants[0].PaymentStatus = models.PaymentPaid
		return nil
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	ids, err = store.ListRefundPendingCycleIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != c.ID {
		t.Errorf("ids = %v, want [%s]", ids, c.ID)
	}

	// Settling the refund clears the flag.
	if _, err := store.UpdateCycle(ctx, c.ID, func(c *models.OrderCycle) error {
		c.Participants[0].PaymentStatus = models.PaymentRefunded
		return nil
	}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	ids, err = store.ListRefundPendingCycleIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none after settlement", ids)
	}
}

func TestPaymentLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &models.PaymentRecord{
		GatewayOrderID:   "order_1",
		Status:           models.PaymentRecordCreated,
		CycleID:          "cycle-1",
		UserID:           "u1",
		AmountMinorUnits: 14950,
		Currency:         "INR",
		Receipt:          "receipt-1",
	}
	if err := store.CreatePayment(ctx, rec); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if err := store.CreatePayment(ctx, rec); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("duplicate create err = %v, want ErrConflict", err)
	}

	got, err := store.GetPayment(ctx, "order_1")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if got.AmountMinorUnits != 14950 || got.Status != models.PaymentRecordCreated {
		t.Errorf("got amount=%d status=%s", got.AmountMinorUnits, got.Status)
	}

	if _, err := store.GetPaymentByPaymentID(ctx, "pay_1"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("lookup before capture err = %v, want ErrNotFound", err)
	}

	if _, err := store.UpdatePayment(ctx, "order_1", func(r *models.PaymentRecord) error {
		r.Status = models.PaymentRecordCaptured
		r.PaymentID = "pay_1"
		r.Signature = "sig"
		return nil
	}); err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}

	got, err = store.GetPaymentByPaymentID(ctx, "pay_1")
	if err != nil {
		t.Fatalf("GetPaymentByPaymentID: %v", err)
	}
	if got.Status != models.PaymentRecordCaptured || got.GatewayOrderID != "order_1" {
		t.Errorf("got status=%s order=%s", got.Status, got.GatewayOrderID)
	}

	recs, err := store.ListPaymentsByCycle(ctx, "cycle-1")
	if err != nil {
		t.Fatalf("ListPaymentsByCycle: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("payments = %d, want 1", len(recs))
	}
}

func TestMarkEventProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.MarkEventProcessed(ctx, "payment.captured:pay_1")
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !first {
		t.Error("first occurrence should report true")
	}

	again, err := store.MarkEventProcessed(ctx, "payment.captured:pay_1")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if again {
		t.Error("replay should report false")
	}

	other, err := store.MarkEventProcessed(ctx, "payment.failed:pay_1")
	if err != nil {
		t.Fatalf("other event mark: %v", err)
	}
	if !other {
		t.Error("a different event for the same payment is a distinct identity")
	}
}

func TestAuditAppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []*models.AuditEntry{
		models.NewAuditEntry(models.AuditSignatureMismatch, "cycle-1", "u1", "bad signature"),
		models.NewAuditEntry(models.AuditRefundIssued, "cycle-1", "u2", "refund rfnd_1"),
		models.NewAuditEntry(models.AuditUnpaidDrop, "cycle-2", "u3", "dropped"),
	}
	for _, e := range entries {
		if err := store.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	got, err := store.ListAuditByCycle(ctx, "cycle-1")
	if err != nil {
		t.Fatalf("ListAuditByCycle: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Kind != models.AuditSignatureMismatch || got[1].Kind != models.AuditRefundIssued {
		t.Errorf("entries out of order: %s, %s", got[0].Kind, got[1].Kind)
	}
}
