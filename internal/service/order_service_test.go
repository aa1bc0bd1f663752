package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/auth"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/dispatch"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/gateway/gatewaytest"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/notify"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/storage"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/storage/sqlite"
)

type testEnv struct {
	orders   *OrderService
	payments *PaymentService
	store    storage.Store
	gw       *gatewaytest.Fake
	disp     *dispatch.Dispatcher
}

const (
	testKeySecret     = "test-key-secret"
	testWebhookSecret = "test-webhook-secret"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	gw := gatewaytest.NewFake()
	disp := dispatch.New(2*time.Second, notify.SlogSink{})
	opts := Options{
		CollectingWindow: time.Hour,
		PaymentWindow:    time.Hour,
		GatewayTimeout:   2 * time.Second,
	}
	env := &testEnv{
		orders: NewOrderService(store, gw, disp, opts),
		payments: NewPaymentService(store, gw, disp, GatewaySecrets{
			KeySecret:     testKeySecret,
			WebhookSecret: testWebhookSecret,
		}, "INR", opts),
		store: store,
		gw:    gw,
		disp:  disp,
	}
	t.Cleanup(func() {
		disp.Wait()
		store.Close()
	})
	return env
}

func member(userID string) auth.Identity {
	return auth.Identity{UserID: userID, Name: "User " + userID, Role: auth.RoleMember}
}

func admin() auth.Identity {
	return auth.Identity{UserID: "admin-1", Name: "Admin", Role: auth.RoleAdmin}
}

func riceItem(qty int64) models.OrderItem {
	return models.OrderItem{
		ProductID:   "rice-25kg",
		ProductName: "Rice 25kg",
		Quantity:    qty,
		MinQuantity: 50,
		UnitPrice:   45,
	}
}

// forceDeadline rewinds the cycle's active deadline so the next touch
// triggers the transition.
func forceDeadline(t *testing.T, store storage.Store, cycleID string) {
	t.Helper()
	past := time.Now().Add(-time.Minute).Unix()
	if _, err := store.UpdateCycle(context.Background(), cycleID, func(c *models.OrderCycle) error {
		switch c.Phase {
		case models.PhaseCollecting:
			c.CollectingEndsAt = past
		case models.PhasePaymentWindow:
			c.PaymentWindowEndsAt = past
		}
		return nil
	}); err != nil {
		t.Fatalf("forceDeadline: %v", err)
	}
}

func TestPlaceOrderCreatesCycleLazily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before := time.Now()
	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if c.Phase != models.PhaseCollecting {
		t.Errorf("phase = %s, want collecting", c.Phase)
	}
	if len(c.Participants) != 1 || c.Participants[0].UserID != "u1" {
		t.Fatalf("participants = %+v, want just u1", c.Participants)
	}
	if got := c.Participants[0].TotalAmount; got != 30*45.0 {
		t.Errorf("TotalAmount = %v, want %v", got, 30*45.0)
	}
	if got := c.ProductAggregates["rice-25kg"].Quantity; got != 30 {
		t.Errorf("aggregate = %d, want 30", got)
	}
	if c.MinQuantityMet {
		t.Error("30 < 50, threshold must not be met")
	}
	wantDeadline := before.Add(time.Hour).Unix()
	if c.CollectingEndsAt < wantDeadline || c.CollectingEndsAt > wantDeadline+2 {
		t.Errorf("CollectingEndsAt = %d, want about %d", c.CollectingEndsAt, wantDeadline)
	}
}

func TestPlaceOrderReplacesEntryWhileCollecting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)})
	if err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}
	second, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(40)})
	if err != nil {
		t.Fatalf("second PlaceOrder: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("re-submission created a new cycle %s, want %s", second.ID, first.ID)
	}
	if len(second.Participants) != 1 {
		t.Fatalf("participants = %d, want 1: replacement must not duplicate", len(second.Participants))
	}
	if got := second.ProductAggregates["rice-25kg"].Quantity; got != 40 {
		t.Errorf("aggregate = %d, want 40 after replacement", got)
	}
}

func TestPlaceOrderAggregatesAcrossUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)}); err != nil {
		t.Fatalf("u1: %v", err)
	}
	c, err := env.orders.PlaceOrder(ctx, member("u2"), "g1", []models.OrderItem{riceItem(25)})
	if err != nil {
		t.Fatalf("u2: %v", err)
	}

	if got := c.ProductAggregates["rice-25kg"].Quantity; got != 55 {
		t.Errorf("aggregate = %d, want 55", got)
	}
	if !c.MinQuantityMet {
		t.Error("55 >= 50, threshold should be met")
	}
	if c.TotalParticipants != 2 {
		t.Errorf("TotalParticipants = %d, want 2", c.TotalParticipants)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		items []models.OrderItem
	}{
		{"no items", nil},
		{"zero quantity", []models.OrderItem{{ProductID: "rice", ProductName: "Rice", Quantity: 0, MinQuantity: 1, UnitPrice: 45}}},
		{"zero price", []models.OrderItem{{ProductID: "rice", ProductName: "Rice", Quantity: 1, MinQuantity: 1, UnitPrice: 0}}},
		{"missing product id", []models.OrderItem{{ProductName: "Rice", Quantity: 1, MinQuantity: 1, UnitPrice: 45}}},
		{"duplicate product", []models.OrderItem{riceItem(5), riceItem(3)}},
	}
	for _, tc := range cases {
		if _, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", tc.items); !errors.Is(err, errs.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tc.name, err)
		}
	}

	if _, err := env.orders.PlaceOrder(ctx, auth.Identity{}, "g1", []models.OrderItem{riceItem(5)}); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Errorf("anonymous caller err = %v, want ErrUnauthenticated", err)
	}
}

func TestWithdrawWhileCollecting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	got, err := env.orders.Withdraw(ctx, member("u1"), c.ID)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if len(got.Participants) != 0 {
		t.Errorf("participants = %d, want 0", len(got.Participants))
	}
	if len(got.ProductAggregates) != 0 {
		t.Errorf("aggregates = %v, want empty", got.ProductAggregates)
	}

	if _, err := env.orders.Withdraw(ctx, member("u1"), c.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("second withdraw err = %v, want ErrNotFound", err)
	}
}

func TestWithdrawAfterWindowOpensIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := env.orders.CloseCollecting(ctx, admin(), c.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := env.orders.Withdraw(ctx, member("u1"), c.ID); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("withdraw after close err = %v, want ErrConflict", err)
	}
}

func TestCloseCollecting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if _, err := env.orders.CloseCollecting(ctx, member("u1"), c.ID); !errors.Is(err, errs.ErrPermission) {
		t.Errorf("member close err = %v, want ErrPermission", err)
	}

	closed, err := env.orders.CloseCollecting(ctx, admin(), c.ID)
	if err != nil {
		t.Fatalf("admin close: %v", err)
	}
	if closed.Phase != models.PhasePaymentWindow {
		t.Errorf("phase = %s, want payment_window", closed.Phase)
	}
	if closed.PaymentWindowEndsAt == 0 {
		t.Error("PaymentWindowEndsAt should be set")
	}

	again, err := env.orders.CloseCollecting(ctx, admin(), c.ID)
	if err != nil {
		t.Fatalf("repeat close: %v", err)
	}
	if again.PaymentWindowEndsAt != closed.PaymentWindowEndsAt {
		t.Error("repeat close must not move the payment deadline")
	}
}

func TestMidWindowJoinRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := env.orders.CloseCollecting(ctx, admin(), c.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Existing participants cannot change their entry.
	if _, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(40)}); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("replacement after close err = %v, want ErrConflict", err)
	}

	// New participants may only order products already in the round.
	unknown := models.OrderItem{ProductID: "oil-5l", ProductName: "Oil 5l", Quantity: 2, MinQuantity: 5, UnitPrice: 120}
	if _, err := env.orders.PlaceOrder(ctx, member("u2"), "g1", []models.OrderItem{unknown}); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("new product mid-window err = %v, want ErrConflict", err)
	}

	joined, err := env.orders.PlaceOrder(ctx, member("u2"), "g1", []models.OrderItem{riceItem(25)})
	if err != nil {
		t.Fatalf("mid-window join with existing product: %v", err)
	}
	if got := joined.ProductAggregates["rice-25kg"].Quantity; got != 55 {
		t.Errorf("aggregate = %d, want 55", got)
	}
	if !joined.MinQuantityMet {
		t.Error("threshold should be met at 55/50")
	}

	// A joiner's own minimum must not move the round's threshold.
	inflated := riceItem(1)
	inflated.MinQuantity = 1000
	joined, err = env.orders.PlaceOrder(ctx, member("u3"), "g1", []models.OrderItem{inflated})
	if err != nil {
		t.Fatalf("mid-window join with inflated minimum: %v", err)
	}
	agg := joined.ProductAggregates["rice-25kg"]
	if agg.MinQuantity != 50 {
		t.Errorf("minQuantity = %d, want 50: mid-window joins must not change the round's minimum", agg.MinQuantity)
	}
	if !joined.MinQuantityMet {
		t.Error("a satisfied threshold must stay satisfied after a mid-window join")
	}
}

func TestGetCycleAppliesDueTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	forceDeadline(t, env.store, c.ID)

	got, err := env.orders.GetCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.Phase != models.PhasePaymentWindow {
		t.Errorf("phase = %s, want payment_window after the collecting deadline", got.Phase)
	}
}

func TestPlaceOrderAfterExpiredCycleStartsNewRound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(30)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	// Expire collecting, then expire the payment window with nobody paid:
	// the cycle cancels and the group has no open cycle left.
	forceDeadline(t, env.store, c.ID)
	if _, err := env.orders.GetCycle(ctx, c.ID); err != nil {
		t.Fatalf("advance to window: %v", err)
	}
	forceDeadline(t, env.store, c.ID)

	fresh, err := env.orders.PlaceOrder(ctx, member("u2"), "g1", []models.OrderItem{riceItem(10)})
	if err != nil {
		t.Fatalf("place after expiry: %v", err)
	}
	if fresh.ID == c.ID {
		t.Error("order after expiry should start a new cycle")
	}
	if fresh.Phase != models.PhaseCollecting {
		t.Errorf("phase = %s, want collecting", fresh.Phase)
	}

	old, err := env.orders.GetCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("get old cycle: %v", err)
	}
	if old.Phase != models.PhaseCancelled {
		t.Errorf("old phase = %s, want cancelled", old.Phase)
	}
}

func TestAdvancePhaseAdminFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(60)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	// Put the cycle in confirmed directly; the payment tests drive the full
	// reconciliation path.
	if _, err := env.store.UpdateCycle(ctx, c.ID, func(c *models.OrderCycle) error {
		c.Phase = models.PhaseConfirmed
		c.Participants[0].PaymentStatus = models.PaymentPaid
		c.Participants[0].OrderStatus = models.OrderStatusConfirmed
		return nil
	}); err != nil {
		t.Fatalf("seed confirmed: %v", err)
	}

	if _, err := env.orders.AdvancePhase(ctx, member("u1"), c.ID, models.PhaseProcessing); !errors.Is(err, errs.ErrPermission) {
		t.Errorf("member advance err = %v, want ErrPermission", err)
	}
	if _, err := env.orders.AdvancePhase(ctx, admin(), c.ID, models.PhaseCompleted); !errors.Is(err, errs.ErrConflict) {
		t.Errorf("skip to completed err = %v, want ErrConflict", err)
	}

	got, err := env.orders.AdvancePhase(ctx, admin(), c.ID, models.PhaseProcessing)
	if err != nil {
		t.Fatalf("to processing: %v", err)
	}
	if got.Phase != models.PhaseProcessing {
		t.Errorf("phase = %s, want processing", got.Phase)
	}

	got, err = env.orders.AdvancePhase(ctx, admin(), c.ID, models.PhaseCompleted)
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if got.Phase != models.PhaseCompleted {
		t.Errorf("phase = %s, want completed", got.Phase)
	}
	if got.Participants[0].OrderStatus != models.OrderStatusDelivered {
		t.Errorf("participant status = %s, want delivered", got.Participants[0].OrderStatus)
	}

	// Idempotent re-invocation.
	got, err = env.orders.AdvancePhase(ctx, admin(), c.ID, models.PhaseProcessing)
	if err != nil {
		t.Fatalf("repeat advance: %v", err)
	}
	if got.Phase != models.PhaseCompleted {
		t.Errorf("phase = %s, repeat advance must not regress", got.Phase)
	}
}

func TestCancelCycleRefundsPaidParticipants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(60)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := env.orders.CloseCollecting(ctx, admin(), c.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Pay through the reconciler so a captured record exists.
	rec, err := env.payments.CreateIntent(ctx, member("u1"), c.ID, 60*45.0, "INR")
	if err != nil {
		t.Fatalf("intent: %v", err)
	}
	sig := paymentSignatureForTest(rec.GatewayOrderID, "pay_1")
	if _, err := env.payments.Verify(ctx, member("u1"), rec.GatewayOrderID, "pay_1", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := env.orders.CancelCycle(ctx, member("u1"), c.ID); !errors.Is(err, errs.ErrPermission) {
		t.Errorf("member cancel err = %v, want ErrPermission", err)
	}

	got, err := env.orders.CancelCycle(ctx, admin(), c.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Phase != models.PhaseCancelled {
		t.Errorf("phase = %s, want cancelled", got.Phase)
	}
	if !env.gw.Refunded("pay_1") {
		t.Error("paid participant should be refunded on cancellation")
	}

	final, err := env.store.GetCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := final.Participant("u1").PaymentStatus; got != models.PaymentRefunded {
		t.Errorf("payment status = %s, want refunded", got)
	}

	// Re-cancel is a no-op and must not double-refund.
	if _, err := env.orders.CancelCycle(ctx, admin(), c.ID); err != nil {
		t.Fatalf("re-cancel: %v", err)
	}
	if env.gw.RefundCount() != 1 {
		t.Errorf("refunds = %d, want 1", env.gw.RefundCount())
	}
}

func TestSweepAdvancesDueCyclesAndRetriesRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c, err := env.orders.PlaceOrder(ctx, member("u1"), "g1", []models.OrderItem{riceItem(60)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := env.orders.CloseCollecting(ctx, admin(), c.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec, err := env.payments.CreateIntent(ctx, member("u1"), c.ID, 60*45.0, "INR")
	if err != nil {
		t.Fatalf("intent: %v", err)
	}
	sig := paymentSignatureForTest(rec.GatewayOrderID, "pay_1")
	if _, err := env.payments.Verify(ctx, member("u1"), rec.GatewayOrderID, "pay_1", sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Cancel while the gateway is down: the refund stays pending.
	env.gw.FailRefunds = true
	if _, err := env.orders.CancelCycle(ctx, admin(), c.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if env.gw.Refunded("pay_1") {
		t.Fatal("refund should have failed")
	}

	// The sweep resumes the interrupted refund run once the gateway recovers.
	env.gw.FailRefunds = false
	env.orders.Sweep(ctx)

	if !env.gw.Refunded("pay_1") {
		t.Error("sweep should retry the pending refund")
	}
	got, err := env.store.GetCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status := got.Participant("u1").PaymentStatus; status != models.PaymentRefunded {
		t.Errorf("payment status = %s, want refunded after sweep", status)
	}
}
