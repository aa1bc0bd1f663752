package cycle

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
)

// Result describes what a transition did to a cycle. Events and refund
// obligations are side effects the caller performs after the transaction
// commits; the state machine itself only mutates the in-memory cycle.
type Result struct {
	Changed bool
	Events  []models.Event

	// Dropped lists users removed from aggregates at payment-window expiry
	// for non-payment. They never paid, so no refund is owed.
	Dropped []string

	// RefundDue lists users who had paid before the cycle was cancelled and
	// are owed a refund.
	RefundDue []string
}

func (r *Result) merge(other Result) {
	r.Changed = r.Changed || other.Changed
	r.Events = append(r.Events, other.Events...)
	r.Dropped = append(r.Dropped, other.Dropped...)
	r.RefundDue = append(r.RefundDue, other.RefundDue...)
}

// Advance applies any deadline-driven transition due at now. It is the single
// shared path behind lazy (read-triggered) and active (cron-triggered)
// scheduling: both call it inside the same transactional update, so whichever
// fires first wins and the other becomes a no-op.
func Advance(c *models.OrderCycle, now time.Time, paymentWindow time.Duration) Result {
	var res Result
	if c.Phase == models.PhaseCollecting && c.CollectingEndsAt > 0 && now.Unix() >= c.CollectingEndsAt {
		res.merge(OpenPaymentWindow(c, now, paymentWindow))
	}
	if c.Phase == models.PhasePaymentWindow && c.PaymentWindowEndsAt > 0 && now.Unix() >= c.PaymentWindowEndsAt {
		res.merge(ExpirePaymentWindow(c))
	}
	return res
}

// OpenPaymentWindow moves a collecting cycle into its payment window, fixing
// paymentWindowEndsAt = now + window. Invoked by deadline elapse or an
// authorized close; a no-op if the cycle already left collecting.
func OpenPaymentWindow(c *models.OrderCycle, now time.Time, window time.Duration) Result {
	if c.Phase != models.PhaseCollecting {
		return Result{}
	}
	c.Phase = models.PhasePaymentWindow
	c.PaymentWindowEndsAt = now.Add(window).Unix()
	Recompute(c)

	ev := models.NewEvent(models.EventPaymentWindowOpened, c.ID, c.GroupID, c.UserIDs(), map[string]string{
		"paymentWindowEndsAt": strconv.FormatInt(c.PaymentWindowEndsAt, 10),
	})
	return Result{Changed: true, Events: []models.Event{ev}}
}

// ExpirePaymentWindow settles a cycle whose payment deadline has elapsed.
// Unpaid participants are dropped from the aggregates and the threshold is
// re-evaluated: if it still holds the cycle confirms with the surviving
// (paid) participants, otherwise it cancels and every paid participant is
// owed a refund. No-op outside the payment window.
func ExpirePaymentWindow(c *models.OrderCycle) Result {
	if c.Phase != models.PhasePaymentWindow {
		return Result{}
	}

	var res Result
	paid := 0
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.OrderStatus == models.OrderStatusCancelled {
			continue
		}
		if p.PaymentStatus == models.PaymentPaid {
			paid++
			continue
		}
		p.OrderStatus = models.OrderStatusCancelled
		res.Dropped = append(res.Dropped, p.UserID)
	}
	Recompute(c)

	if c.MinQuantityMet && paid > 0 {
		res.merge(confirm(c))
		res.Changed = true
		return res
	}
	cancelled, _ := Cancel(c)
	res.merge(cancelled)
	return res
}

// ConfirmIfAllPaid confirms a payment-window cycle once every surviving
// participant has paid. Called after each payment capture; no-op while
// anyone is still pending.
func ConfirmIfAllPaid(c *models.OrderCycle) Result {
	if c.Phase != models.PhasePaymentWindow {
		return Result{}
	}
	active := c.ActiveParticipants()
	if len(active) == 0 {
		return Result{}
	}
	for _, p := range active {
		if p.PaymentStatus != models.PaymentPaid {
			return Result{}
		}
	}
	return confirm(c)
}

func confirm(c *models.OrderCycle) Result {
	c.Phase = models.PhaseConfirmed
	for i := range c.Participants {
		if c.Participants[i].OrderStatus != models.OrderStatusCancelled {
			c.Participants[i].OrderStatus = models.OrderStatusConfirmed
		}
	}
	ev := models.NewEvent(models.EventOrderConfirmed, c.ID, c.GroupID, c.UserIDs(), nil)
	return Result{Changed: true, Events: []models.Event{ev}}
}

// Progress applies the administrator-driven linear transitions
// confirmed → processing → completed. Re-invoking with a phase the cycle
// already reached (or passed) is a no-op, never an error; skipping ahead is
// a conflict.
func Progress(c *models.OrderCycle, target models.Phase) (Result, error) {
	if target != models.PhaseProcessing && target != models.PhaseCompleted {
		return Result{}, fmt.Errorf("phase %q is not an administrative target: %w", target, errs.ErrValidation)
	}
	if c.Phase.AtOrPast(target) {
		return Result{}, nil
	}
	switch {
	case target == models.PhaseProcessing && c.Phase == models.PhaseConfirmed:
		c.Phase = models.PhaseProcessing
	case target == models.PhaseCompleted && c.Phase == models.PhaseProcessing:
		c.Phase = models.PhaseCompleted
		for i := range c.Participants {
			if c.Participants[i].OrderStatus != models.OrderStatusCancelled {
				c.Participants[i].OrderStatus = models.OrderStatusDelivered
			}
		}
	default:
		return Result{}, fmt.Errorf("cannot move %s cycle to %s: %w", c.Phase, target, errs.ErrConflict)
	}
	return Result{Changed: true}, nil
}

// Cancel moves any non-terminal cycle to cancelled, the absorbing state.
// Every paid participant becomes a refund obligation for the caller.
// Cancelling an already-cancelled cycle is a no-op; a completed cycle
// cannot be cancelled.
func Cancel(c *models.OrderCycle) (Result, error) {
	if c.Phase == models.PhaseCancelled {
		return Result{}, nil
	}
	if c.Phase == models.PhaseCompleted {
		return Result{}, fmt.Errorf("completed cycle cannot be cancelled: %w", errs.ErrConflict)
	}

	var res Result
	for i := range c.Participants {
		p := &c.Participants[i]
		if p.OrderStatus == models.OrderStatusCancelled {
			continue
		}
		if p.PaymentStatus == models.PaymentPaid {
			res.RefundDue = append(res.RefundDue, p.UserID)
		}
		p.OrderStatus = models.OrderStatusCancelled
	}
	c.Phase = models.PhaseCancelled
	Recompute(c)

	ev := models.NewEvent(models.EventCycleCancelled, c.ID, c.GroupID, c.UserIDs(), nil)
	res.Changed = true
	res.Events = append(res.Events, ev)
	return res, nil
}
