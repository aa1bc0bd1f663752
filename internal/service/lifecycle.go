// Package service implements the participant ledger, payment reconciler and
// phase scheduling on top of the storage transaction primitive. Every ledger
// mutation, aggregate recompute and phase check runs inside a single
// UpdateCycle closure; events and gateway side effects happen only after the
// closure's write commits.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/cycle"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/dispatch"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/gateway"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/metrics"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/storage"
)

// Options tunes the shared lifecycle behavior of the services.
type Options struct {
	// CollectingWindow is the collection deadline granted to a new cycle.
	CollectingWindow time.Duration
	// PaymentWindow is the fixed span granted when collection closes.
	PaymentWindow time.Duration
	// GatewayTimeout bounds each outbound gateway call.
	GatewayTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.CollectingWindow <= 0 {
		o.CollectingWindow = 24 * time.Hour
	}
	if o.PaymentWindow <= 0 {
		o.PaymentWindow = 6 * time.Hour
	}
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = 10 * time.Second
	}
	return o
}

// errNoChange aborts an UpdateCycle closure that turned out to be a no-op,
// so idempotent re-invocations don't burn version bumps.
var errNoChange = errors.New("no change")

// lifecycle carries the plumbing shared by OrderService and PaymentService:
// deadline-driven transitions and refund settlement.
type lifecycle struct {
	store      storage.Store
	gw         gateway.Gateway
	dispatcher *dispatch.Dispatcher
	opts       Options
}

func recordTransition(from, to models.Phase) {
	if from != to {
		metrics.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

// dueNow reports whether the cycle's active deadline has elapsed.
func dueNow(c *models.OrderCycle, now time.Time) bool {
	due := c.ActiveDeadline()
	return due > 0 && now.Unix() >= due
}

// advanceDue applies any deadline transition owed to the cycle: lazy reads,
// the cron sweep and pre-mutation checks all funnel through here, so the
// transition logic runs exactly once no matter which path fires first.
func (l *lifecycle) advanceDue(ctx context.Context, id string) (*models.OrderCycle, error) {
	var (
		res  cycle.Result
		prev models.Phase
	)
	updated, err := l.store.UpdateCycle(ctx, id, func(c *models.OrderCycle) error {
		prev = c.Phase
		res = cycle.Advance(c, time.Now(), l.opts.PaymentWindow)
		if !res.Changed {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return l.store.GetCycle(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	recordTransition(prev, updated.Phase)
	for _, userID := range res.Dropped {
		l.audit(ctx, models.NewAuditEntry(models.AuditUnpaidDrop, updated.ID, userID,
			"dropped at payment-window expiry: payment not completed"))
	}
	l.dispatcher.Dispatch(res.Events...)

	if updated.Phase == models.PhaseCancelled && len(res.RefundDue) > 0 {
		l.settleRefunds(ctx, updated)
	}
	return updated, nil
}

// settleRefunds refunds every paid participant of a cancelled cycle. Gateway
// failures are logged and left pending; the sweep retries them until the
// cycle holds no paid participants.
func (l *lifecycle) settleRefunds(ctx context.Context, c *models.OrderCycle) {
	payments, err := l.store.ListPaymentsByCycle(ctx, c.ID)
	if err != nil {
		slog.Error("refund settlement: failed to list payments", "cycle_id", c.ID, "error", err)
		return
	}

	for _, p := range c.Participants {
		if p.PaymentStatus != models.PaymentPaid {
			continue
		}
		rec := capturedPaymentFor(payments, p.UserID)
		if rec == nil {
			slog.Error("refund settlement: no captured payment for paid participant",
				"cycle_id", c.ID, "user_id", p.UserID)
			continue
		}
		if err := l.refundRecord(ctx, rec, rec.AmountMinorUnits, "cycle cancelled"); err != nil {
			slog.Error("refund settlement: refund failed, will retry on sweep",
				"cycle_id", c.ID, "user_id", p.UserID, "payment_id", rec.PaymentID, "error", err)
		}
	}
}

func capturedPaymentFor(payments []*models.PaymentRecord, userID string) *models.PaymentRecord {
	for _, rec := range payments {
		if rec.UserID == userID && rec.Status == models.PaymentRecordCaptured {
			return rec
		}
	}
	return nil
}

// refundRecord issues a gateway refund for a captured payment and marks both
// the payment record and the participant refunded. It never touches the
// cycle's phase.
func (l *lifecycle) refundRecord(ctx context.Context, rec *models.PaymentRecord, amountMinor int64, reason string) error {
	gctx, cancel := context.WithTimeout(ctx, l.opts.GatewayTimeout)
	refund, err := l.gw.RefundPayment(gctx, rec.PaymentID, amountMinor)
	cancel()
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("refund", "error").Inc()
		return err
	}
	metrics.GatewayCalls.WithLabelValues("refund", "ok").Inc()

	if _, err := l.store.UpdatePayment(ctx, rec.GatewayOrderID, func(r *models.PaymentRecord) error {
		if r.Status == models.PaymentRecordRefunded {
			return errNoChange
		}
		r.Status = models.PaymentRecordRefunded
		r.RefundID = refund.ID
		return nil
	}); err != nil && !errors.Is(err, errNoChange) {
		return err
	}

	if _, err := l.store.UpdateCycle(ctx, rec.CycleID, func(c *models.OrderCycle) error {
		p := c.Participant(rec.UserID)
		if p == nil || p.PaymentStatus == models.PaymentRefunded {
			return errNoChange
		}
		p.PaymentStatus = models.PaymentRefunded
		return nil
	}); err != nil && !errors.Is(err, errNoChange) {
		return err
	}

	l.audit(ctx, models.NewAuditEntry(models.AuditRefundIssued, rec.CycleID, rec.UserID,
		"refund "+refund.ID+" issued: "+reason))
	return nil
}

// audit best-effort appends an audit entry; failures are logged, never
// propagated into the caller's outcome.
func (l *lifecycle) audit(ctx context.Context, entry *models.AuditEntry) {
	if err := l.store.AppendAudit(ctx, entry); err != nil {
		slog.Error("audit append failed", "kind", entry.Kind, "cycle_id", entry.CycleID, "error", err)
	}
}
