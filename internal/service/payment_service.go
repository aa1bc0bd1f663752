package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/auth"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/cycle"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/dispatch"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/gateway"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/metrics"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/storage"
)

// GatewaySecrets holds the two signing secrets of the gateway integration.
// The key secret signs per-payment signatures; the webhook secret signs
// webhook payloads. They are never interchangeable.
type GatewaySecrets struct {
	KeySecret     string
	WebhookSecret string
}

// WebhookOutcome classifies how a webhook delivery was handled. Every outcome
// is acknowledged to the provider; only signature and parse failures are not.
type WebhookOutcome string

const (
	WebhookAccepted  WebhookOutcome = "accepted"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

// PaymentService reconciles gateway payments against the participant ledger:
// intent creation, signature verification, webhook processing and refunds.
type PaymentService struct {
	lifecycle
	secrets  GatewaySecrets
	currency string
}

// NewPaymentService creates the payment reconciler. currency is the default
// for intents that don't specify one.
func NewPaymentService(store storage.Store, gw gateway.Gateway, d *dispatch.Dispatcher, secrets GatewaySecrets, currency string, opts Options) *PaymentService {
	if currency == "" {
		currency = "INR"
	}
	return &PaymentService{
		lifecycle: lifecycle{store: store, gw: gw, dispatcher: d, opts: opts.withDefaults()},
		secrets:   secrets,
		currency:  currency,
	}
}

// paymentReceipt derives the gateway idempotency key for one participant's
// dues in one cycle. Hashed because the gateway caps receipt length.
func paymentReceipt(cycleID, userID string) string {
	sum := sha256.Sum256([]byte(cycleID + ":" + userID))
	return hex.EncodeToString(sum[:])[:40]
}

// CreateIntent registers a gateway order for the caller's dues in the cycle.
// The amount must match the caller's ledger total, the cycle must be in its
// payment window, and repeating the call returns the existing record instead
// of charging again.
func (s *PaymentService) CreateIntent(ctx context.Context, caller auth.Identity, cycleID string, amount float64, currency string) (*models.PaymentRecord, error) {
	if caller.UserID == "" {
		return nil, errs.ErrUnauthenticated
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", errs.ErrValidation)
	}
	if currency == "" {
		currency = s.currency
	}

	c, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if dueNow(c, time.Now()) {
		if c, err = s.advanceDue(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	if c.Phase != models.PhasePaymentWindow {
		return nil, fmt.Errorf("cycle is %s, payments are not open: %w", c.Phase, errs.ErrConflict)
	}
	p := c.Participant(caller.UserID)
	if p == nil || p.OrderStatus == models.OrderStatusCancelled {
		return nil, fmt.Errorf("no active order for user in this cycle: %w", errs.ErrNotFound)
	}
	if math.Abs(amount-p.TotalAmount) > 0.005 {
		return nil, fmt.Errorf("amount %.2f does not match order total %.2f: %w", amount, p.TotalAmount, errs.ErrValidation)
	}

	// An open record for this participant is reused; the gateway order it
	// points at is still payable.
	existing, err := s.store.ListPaymentsByCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	for _, rec := range existing {
		if rec.UserID == caller.UserID &&
			(rec.Status == models.PaymentRecordCreated || rec.Status == models.PaymentRecordCaptured) {
			return rec, nil
		}
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	order, err := s.gw.CreateOrder(gctx, models.MinorUnits(amount), currency, paymentReceipt(cycleID, caller.UserID), map[string]string{
		"cycleId": cycleID,
		"userId":  caller.UserID,
	})
	cancel()
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("create_order", "error").Inc()
		return nil, err
	}
	metrics.GatewayCalls.WithLabelValues("create_order", "ok").Inc()

	now := time.Now().Unix()
	rec := &models.PaymentRecord{
		GatewayOrderID:   order.ID,
		Status:           models.PaymentRecordCreated,
		CycleID:          cycleID,
		UserID:           caller.UserID,
		AmountMinorUnits: models.MinorUnits(amount),
		Currency:         currency,
		Receipt:          paymentReceipt(cycleID, caller.UserID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreatePayment(ctx, rec); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			// The gateway deduplicated on the receipt and returned an order
			// we already track.
			return s.store.GetPayment(ctx, order.ID)
		}
		return nil, err
	}
	return rec, nil
}

// Verify checks a client-reported payment signature and, on success, marks
// the participant paid. A signature mismatch is audited and rejected without
// touching any state. A valid capture arriving after the window closed is
// flagged for manual reconciliation instead of being applied.
func (s *PaymentService) Verify(ctx context.Context, caller auth.Identity, orderID, paymentID, signature string) (*models.PaymentRecord, error) {
	if caller.UserID == "" {
		return nil, errs.ErrUnauthenticated
	}
	rec, err := s.store.GetPayment(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != caller.UserID && !caller.Admin() {
		return nil, fmt.Errorf("payment belongs to another user: %w", errs.ErrPermission)
	}

	if !gateway.VerifyPaymentSignature(s.secrets.KeySecret, orderID, paymentID, signature) {
		metrics.SignatureFailures.Inc()
		s.audit(ctx, models.NewAuditEntry(models.AuditSignatureMismatch, rec.CycleID, rec.UserID,
			"payment signature mismatch for order "+orderID))
		return nil, fmt.Errorf("payment signature mismatch: %w", errs.ErrSignatureMismatch)
	}

	flagged, err := s.applyCapture(ctx, rec, paymentID, signature)
	if err != nil {
		return nil, err
	}
	if flagged {
		return nil, fmt.Errorf("payment window closed before capture, held for reconciliation: %w", errs.ErrConflict)
	}
	return s.store.GetPayment(ctx, orderID)
}

// applyCapture marks rec's participant paid inside the cycle transaction,
// conditioned on the cycle still being in its payment window; whichever of
// capture and expiry commits first wins. Returns flagged=true when the
// window had already closed (or the participant was dropped), in which case
// the record is held instead of applied. Re-applying a capture is a no-op.
func (s *PaymentService) applyCapture(ctx context.Context, rec *models.PaymentRecord, paymentID, signature string) (flagged bool, err error) {
	switch rec.Status {
	case models.PaymentRecordCaptured, models.PaymentRecordRefunded:
		return false, nil
	case models.PaymentRecordFlagged:
		return true, nil
	}

	var (
		events []models.Event
		prev   models.Phase
	)
	updated, err := s.store.UpdateCycle(ctx, rec.CycleID, func(c *models.OrderCycle) error {
		events, flagged, prev = nil, false, c.Phase
		if c.Phase != models.PhasePaymentWindow {
			flagged = true
			return errNoChange
		}
		p := c.Participant(rec.UserID)
		if p == nil || p.OrderStatus == models.OrderStatusCancelled {
			flagged = true
			return errNoChange
		}
		if p.PaymentStatus == models.PaymentPaid {
			return errNoChange
		}
		p.PaymentStatus = models.PaymentPaid
		events = append(events, models.NewEvent(models.EventPaymentReceived, c.ID, c.GroupID,
			[]string{rec.UserID}, map[string]string{"paymentId": paymentID}))
		events = append(events, cycle.ConfirmIfAllPaid(c).Events...)
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return false, err
	}

	if flagged {
		if _, uerr := s.store.UpdatePayment(ctx, rec.GatewayOrderID, func(r *models.PaymentRecord) error {
			switch r.Status {
			case models.PaymentRecordCaptured, models.PaymentRecordRefunded, models.PaymentRecordFlagged:
				return errNoChange
			}
			r.Status = models.PaymentRecordFlagged
			if paymentID != "" {
				r.PaymentID = paymentID
			}
			if signature != "" {
				r.Signature = signature
			}
			return nil
		}); uerr != nil && !errors.Is(uerr, errNoChange) {
			return true, uerr
		}
		s.audit(ctx, models.NewAuditEntry(models.AuditPaymentFlagged, rec.CycleID, rec.UserID,
			"capture "+paymentID+" arrived outside the payment window"))
		return true, nil
	}

	if _, uerr := s.store.UpdatePayment(ctx, rec.GatewayOrderID, func(r *models.PaymentRecord) error {
		switch r.Status {
		case models.PaymentRecordCaptured, models.PaymentRecordRefunded:
			return errNoChange
		}
		r.Status = models.PaymentRecordCaptured
		if paymentID != "" {
			r.PaymentID = paymentID
		}
		if signature != "" {
			r.Signature = signature
		}
		return nil
	}); uerr != nil && !errors.Is(uerr, errNoChange) {
		return false, uerr
	}

	if updated != nil {
		recordTransition(prev, updated.Phase)
	}
	s.dispatcher.Dispatch(events...)
	return false, nil
}

// applyFailure records a gateway-reported payment failure. A failure arriving
// after a capture is rejected and audited; payment states only move forward.
func (s *PaymentService) applyFailure(ctx context.Context, rec *models.PaymentRecord, paymentID string) error {
	rejected := false
	if _, err := s.store.UpdatePayment(ctx, rec.GatewayOrderID, func(r *models.PaymentRecord) error {
		switch r.Status {
		case models.PaymentRecordCaptured, models.PaymentRecordRefunded:
			rejected = true
			return errNoChange
		case models.PaymentRecordFailed:
			return errNoChange
		}
		r.Status = models.PaymentRecordFailed
		r.PaymentID = paymentID
		return nil
	}); err != nil && !errors.Is(err, errNoChange) {
		return err
	}
	if rejected {
		s.audit(ctx, models.NewAuditEntry(models.AuditWebhookRejected, rec.CycleID, rec.UserID,
			"failure report for "+paymentID+" ignored: payment already captured"))
		return nil
	}

	if _, err := s.store.UpdateCycle(ctx, rec.CycleID, func(c *models.OrderCycle) error {
		p := c.Participant(rec.UserID)
		if p == nil || p.PaymentStatus != models.PaymentPending {
			return errNoChange
		}
		p.PaymentStatus = models.PaymentFailed
		return nil
	}); err != nil && !errors.Is(err, errNoChange) {
		return err
	}
	return nil
}

// webhookEnvelope is the subset of the gateway's webhook payload we consume.
// payment.* deliveries carry payload.payment.entity; order.paid may instead
// (or additionally) carry payload.order.entity, whose id is the gateway
// order ID.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
				Amount  int64  `json:"amount"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID         string `json:"id"`
				Status     string `json:"status"`
				AmountPaid int64  `json:"amount_paid"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// HandleWebhook processes one webhook delivery: verifies the raw-body
// signature with the webhook secret, applies the event monotonically, then
// records the event identity so replays are acknowledged without re-applying
// anything. Unknown event types are acknowledged and ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookOutcome, error) {
	if !gateway.VerifyWebhookSignature(s.secrets.WebhookSecret, body, signature) {
		metrics.SignatureFailures.Inc()
		metrics.WebhookEvents.WithLabelValues("unknown", "bad_signature").Inc()
		s.audit(ctx, models.NewAuditEntry(models.AuditSignatureMismatch, "", "",
			"webhook signature mismatch"))
		return "", fmt.Errorf("webhook signature mismatch: %w", errs.ErrSignatureMismatch)
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		return "", fmt.Errorf("malformed webhook payload: %w", errs.ErrValidation)
	}

	switch env.Event {
	case "payment.captured", "order.paid", "payment.failed":
	default:
		metrics.WebhookEvents.WithLabelValues(env.Event, "ignored").Inc()
		return WebhookIgnored, nil
	}

	paymentID := env.Payload.Payment.Entity.ID
	orderID := env.Payload.Payment.Entity.OrderID
	if orderID == "" {
		orderID = env.Payload.Order.Entity.ID
	}
	// order.paid can arrive with only the order entity, so the payment ID is
	// optional there; everything needs the gateway order ID to key on.
	if orderID == "" || (paymentID == "" && env.Event != "order.paid") {
		metrics.WebhookEvents.WithLabelValues(env.Event, "malformed").Inc()
		return "", fmt.Errorf("webhook payload missing payment identifiers: %w", errs.ErrValidation)
	}

	rec, err := s.store.GetPayment(ctx, orderID)
	if errors.Is(err, errs.ErrNotFound) {
		metrics.WebhookEvents.WithLabelValues(env.Event, "unknown_order").Inc()
		s.audit(ctx, models.NewAuditEntry(models.AuditWebhookRejected, "", "",
			"webhook for unknown gateway order "+orderID))
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	amount := env.Payload.Payment.Entity.Amount
	if amount == 0 {
		amount = env.Payload.Order.Entity.AmountPaid
	}
	if amount != 0 && amount != rec.AmountMinorUnits {
		metrics.WebhookEvents.WithLabelValues(env.Event, "amount_mismatch").Inc()
		s.audit(ctx, models.NewAuditEntry(models.AuditWebhookRejected, rec.CycleID, rec.UserID,
			fmt.Sprintf("webhook amount %d does not match order amount %d", amount, rec.AmountMinorUnits)))
		return WebhookIgnored, nil
	}

	switch env.Event {
	case "payment.captured", "order.paid":
		if _, err := s.applyCapture(ctx, rec, paymentID, ""); err != nil {
			metrics.WebhookEvents.WithLabelValues(env.Event, "error").Inc()
			return "", err
		}
	case "payment.failed":
		if err := s.applyFailure(ctx, rec, paymentID); err != nil {
			metrics.WebhookEvents.WithLabelValues(env.Event, "error").Inc()
			return "", err
		}
	}

	// Recorded after a successful apply so a transient failure above leaves
	// the provider free to retry. Application itself is monotonic, so the
	// rare double-delivery racing past this point is still harmless.
	eventID := paymentID
	if eventID == "" {
		eventID = orderID
	}
	first, err := s.store.MarkEventProcessed(ctx, env.Event+":"+eventID)
	if err != nil {
		return "", err
	}
	if !first {
		metrics.WebhookEvents.WithLabelValues(env.Event, "duplicate").Inc()
		return WebhookDuplicate, nil
	}
	metrics.WebhookEvents.WithLabelValues(env.Event, "ok").Inc()
	return WebhookAccepted, nil
}

// Refund refunds a captured payment, fully when amountMinorUnits is zero.
// Administrator only. Refunding never changes the cycle's phase, and
// refunding an already-refunded payment is a no-op.
func (s *PaymentService) Refund(ctx context.Context, caller auth.Identity, paymentID string, amountMinorUnits int64) (*models.PaymentRecord, error) {
	if !caller.Admin() {
		return nil, fmt.Errorf("refunds require the admin role: %w", errs.ErrPermission)
	}

	rec, err := s.store.GetPaymentByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case models.PaymentRecordRefunded:
		return rec, nil
	case models.PaymentRecordCaptured:
	default:
		return nil, fmt.Errorf("payment is %s, only captured payments can be refunded: %w", rec.Status, errs.ErrConflict)
	}

	if amountMinorUnits == 0 {
		amountMinorUnits = rec.AmountMinorUnits
	}
	if amountMinorUnits < 0 || amountMinorUnits > rec.AmountMinorUnits {
		return nil, fmt.Errorf("refund amount out of range: %w", errs.ErrValidation)
	}

	if err := s.refundRecord(ctx, rec, amountMinorUnits, "administrator refund"); err != nil {
		return nil, err
	}
	return s.store.GetPayment(ctx, rec.GatewayOrderID)
}
