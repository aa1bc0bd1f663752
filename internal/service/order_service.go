package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/auth"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/cycle"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/dispatch"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/gateway"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/storage"
)

// errCycleDue signals that a deadline elapsed under the caller's feet; the
// caller must apply the owed transition and re-resolve the cycle.
var errCycleDue = errors.New("cycle deadline elapsed")

// OrderService owns the participant ledger: placing and withdrawing orders,
// cycle reads, and the administrator-driven phase controls.
type OrderService struct {
	lifecycle
}

// NewOrderService creates the ledger service.
func NewOrderService(store storage.Store, gw gateway.Gateway, d *dispatch.Dispatcher, opts Options) *OrderService {
	return &OrderService{lifecycle{store: store, gw: gw, dispatcher: d, opts: opts.withDefaults()}}
}

// PlaceOrder joins the caller into the group's open cycle, creating a fresh
// collecting cycle when the group has none. During collecting a re-submission
// replaces the caller's entry; during the payment window only new participants
// ordering already-aggregated products may join.
func (s *OrderService) PlaceOrder(ctx context.Context, caller auth.Identity, groupID string, items []models.OrderItem) (*models.OrderCycle, error) {
	if caller.UserID == "" {
		return nil, errs.ErrUnauthenticated
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupId is required: %w", errs.ErrValidation)
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	now := time.Now()
	p := models.Participant{
		UserID:        caller.UserID,
		UserName:      caller.Name,
		Items:         items,
		PaymentStatus: models.PaymentPending,
		OrderStatus:   models.OrderStatusPlaced,
		JoinedAt:      now.Unix(),
	}
	p.TotalAmount = p.ItemTotal()

	// The create/join race and lazy deadline transitions both force a
	// re-resolve, so the whole placement runs in a short retry loop.
	for attempt := 0; attempt < 3; attempt++ {
		c, err := s.store.GetOpenCycleForGroup(ctx, groupID)
		if errors.Is(err, errs.ErrNotFound) {
			created := s.newCycle(groupID, p, now)
			if err := s.store.CreateCycle(ctx, created); err != nil {
				if errors.Is(err, errs.ErrConflict) {
					// Lost the creation race; join the winner's cycle.
					continue
				}
				return nil, err
			}
			s.dispatcher.Dispatch(placedEvent(created, caller.UserID))
			return created, nil
		}
		if err != nil {
			return nil, err
		}

		if dueNow(c, time.Now()) {
			if _, err := s.advanceDue(ctx, c.ID); err != nil {
				return nil, err
			}
			// The transition may have closed the cycle; a closed cycle means
			// this order starts the group's next round.
			continue
		}

		updated, err := s.store.UpdateCycle(ctx, c.ID, func(c *models.OrderCycle) error {
			return joinParticipant(c, p, time.Now())
		})
		if errors.Is(err, errCycleDue) {
			if _, err := s.advanceDue(ctx, c.ID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		s.dispatcher.Dispatch(placedEvent(updated, caller.UserID))
		return updated, nil
	}
	return nil, fmt.Errorf("could not settle on an open cycle for group %s: %w", groupID, errs.ErrConflict)
}

// joinParticipant merges p into the cycle's ledger under the phase rules and
// recomputes the aggregates in the same transaction.
func joinParticipant(c *models.OrderCycle, p models.Participant, now time.Time) error {
	if dueNow(c, now) {
		return errCycleDue
	}

	switch c.Phase {
	case models.PhaseCollecting:
		if existing := c.Participant(p.UserID); existing != nil {
			// Replacement keeps the original join time.
			p.JoinedAt = existing.JoinedAt
			*existing = p
		} else {
			c.Participants = append(c.Participants, p)
		}
	case models.PhasePaymentWindow:
		if c.Participant(p.UserID) != nil {
			return fmt.Errorf("entries cannot change once the payment window opens: %w", errs.ErrConflict)
		}
		for i, item := range p.Items {
			agg, ok := c.ProductAggregates[item.ProductID]
			if !ok {
				return fmt.Errorf("product %s is not part of this round: %w", item.ProductID, errs.ErrConflict)
			}
			// The round's minimums are frozen once the window opens; a
			// joiner's own minQuantity cannot raise or lower them.
			p.Items[i].MinQuantity = agg.MinQuantity
		}
		c.Participants = append(c.Participants, p)
	default:
		return fmt.Errorf("cycle is %s and no longer accepts orders: %w", c.Phase, errs.ErrConflict)
	}

	cycle.Recompute(c)
	return nil
}

func (s *OrderService) newCycle(groupID string, p models.Participant, now time.Time) *models.OrderCycle {
	c := &models.OrderCycle{
		GroupID:          groupID,
		Phase:            models.PhaseCollecting,
		CollectingEndsAt: now.Add(s.opts.CollectingWindow).Unix(),
		Participants:     []models.Participant{p},
		CreatedAt:        now.Unix(),
		UpdatedAt:        now.Unix(),
	}
	cycle.Recompute(c)
	return c
}

func placedEvent(c *models.OrderCycle, userID string) models.Event {
	return models.NewEvent(models.EventOrderPlaced, c.ID, c.GroupID, c.UserIDs(), map[string]string{
		"userId": userID,
	})
}

func validateItems(items []models.OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("at least one item is required: %w", errs.ErrValidation)
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		switch {
		case item.ProductID == "":
			return fmt.Errorf("item productId is required: %w", errs.ErrValidation)
		case item.Quantity <= 0:
			return fmt.Errorf("item %s quantity must be positive: %w", item.ProductID, errs.ErrValidation)
		case item.UnitPrice <= 0:
			return fmt.Errorf("item %s unitPrice must be positive: %w", item.ProductID, errs.ErrValidation)
		case item.MinQuantity < 1:
			return fmt.Errorf("item %s minQuantity must be at least 1: %w", item.ProductID, errs.ErrValidation)
		case seen[item.ProductID]:
			return fmt.Errorf("item %s appears twice: %w", item.ProductID, errs.ErrValidation)
		}
		seen[item.ProductID] = true
	}
	return nil
}

// Withdraw removes the caller's entry from a collecting cycle. Once the
// payment window opens entries are frozen and withdrawal is a conflict.
func (s *OrderService) Withdraw(ctx context.Context, caller auth.Identity, cycleID string) (*models.OrderCycle, error) {
	if caller.UserID == "" {
		return nil, errs.ErrUnauthenticated
	}

	updated, err := s.store.UpdateCycle(ctx, cycleID, func(c *models.OrderCycle) error {
		if dueNow(c, time.Now()) {
			return errCycleDue
		}
		if c.Phase != models.PhaseCollecting {
			return fmt.Errorf("orders are frozen once collection closes: %w", errs.ErrConflict)
		}
		idx := -1
		for i := range c.Participants {
			if c.Participants[i].UserID == caller.UserID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("no order for user in this cycle: %w", errs.ErrNotFound)
		}
		c.Participants = append(c.Participants[:idx], c.Participants[idx+1:]...)
		cycle.Recompute(c)
		return nil
	})
	if errors.Is(err, errCycleDue) {
		if _, aerr := s.advanceDue(ctx, cycleID); aerr != nil {
			return nil, aerr
		}
		return nil, fmt.Errorf("orders are frozen once collection closes: %w", errs.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetCycle reads a cycle, applying any deadline transition owed before the
// state is returned. Terminal cycles remain readable.
func (s *OrderService) GetCycle(ctx context.Context, cycleID string) (*models.OrderCycle, error) {
	c, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if dueNow(c, time.Now()) {
		return s.advanceDue(ctx, c.ID)
	}
	return c, nil
}

// GetOpenCycle resolves the group's currently open cycle, with the same lazy
// transition semantics as GetCycle.
func (s *OrderService) GetOpenCycle(ctx context.Context, groupID string) (*models.OrderCycle, error) {
	c, err := s.store.GetOpenCycleForGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if dueNow(c, time.Now()) {
		return s.advanceDue(ctx, c.ID)
	}
	return c, nil
}

// CloseCollecting opens the payment window ahead of the collection deadline.
// Administrator only; closing an already-open window is a no-op.
func (s *OrderService) CloseCollecting(ctx context.Context, caller auth.Identity, cycleID string) (*models.OrderCycle, error) {
	if !caller.Admin() {
		return nil, fmt.Errorf("closing collection requires the admin role: %w", errs.ErrPermission)
	}

	now := time.Now()
	var (
		res  cycle.Result
		prev models.Phase
	)
	updated, err := s.store.UpdateCycle(ctx, cycleID, func(c *models.OrderCycle) error {
		res, prev = cycle.Result{}, c.Phase
		if c.Phase == models.PhasePaymentWindow {
			return errNoChange
		}
		if c.Phase != models.PhaseCollecting {
			return fmt.Errorf("cycle is %s, collection cannot be closed: %w", c.Phase, errs.ErrConflict)
		}
		res = cycle.OpenPaymentWindow(c, now, s.opts.PaymentWindow)
		return nil
	})
	if errors.Is(err, errNoChange) {
		return s.store.GetCycle(ctx, cycleID)
	}
	if err != nil {
		return nil, err
	}

	recordTransition(prev, updated.Phase)
	s.dispatcher.Dispatch(res.Events...)
	return updated, nil
}

// AdvancePhase applies the administrator transitions confirmed → processing →
// completed. Repeating a transition already applied is a no-op.
func (s *OrderService) AdvancePhase(ctx context.Context, caller auth.Identity, cycleID string, target models.Phase) (*models.OrderCycle, error) {
	if !caller.Admin() {
		return nil, fmt.Errorf("phase advancement requires the admin role: %w", errs.ErrPermission)
	}

	var prev models.Phase
	updated, err := s.store.UpdateCycle(ctx, cycleID, func(c *models.OrderCycle) error {
		prev = c.Phase
		res, err := cycle.Progress(c, target)
		if err != nil {
			return err
		}
		if !res.Changed {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return s.store.GetCycle(ctx, cycleID)
	}
	if err != nil {
		return nil, err
	}

	recordTransition(prev, updated.Phase)
	return updated, nil
}

// CancelCycle aborts a non-terminal cycle and refunds every paid participant.
// Administrator only; re-cancelling is a no-op.
func (s *OrderService) CancelCycle(ctx context.Context, caller auth.Identity, cycleID string) (*models.OrderCycle, error) {
	if !caller.Admin() {
		return nil, fmt.Errorf("cancelling a cycle requires the admin role: %w", errs.ErrPermission)
	}

	var (
		res  cycle.Result
		prev models.Phase
	)
	updated, err := s.store.UpdateCycle(ctx, cycleID, func(c *models.OrderCycle) error {
		res, prev = cycle.Result{}, c.Phase
		r, err := cycle.Cancel(c)
		if err != nil {
			return err
		}
		if !r.Changed {
			return errNoChange
		}
		res = r
		return nil
	})
	if errors.Is(err, errNoChange) {
		return s.store.GetCycle(ctx, cycleID)
	}
	if err != nil {
		return nil, err
	}

	recordTransition(prev, updated.Phase)
	s.audit(ctx, models.NewAuditEntry(models.AuditCycleCancelled, updated.ID, caller.UserID,
		"cycle cancelled by administrator"))
	s.dispatcher.Dispatch(res.Events...)

	if len(res.RefundDue) > 0 {
		s.settleRefunds(ctx, updated)
	}
	return updated, nil
}

// GetAudit returns a cycle's audit trail. Administrator only.
func (s *OrderService) GetAudit(ctx context.Context, caller auth.Identity, cycleID string) ([]*models.AuditEntry, error) {
	if !caller.Admin() {
		return nil, fmt.Errorf("the audit trail requires the admin role: %w", errs.ErrPermission)
	}
	return s.store.ListAuditByCycle(ctx, cycleID)
}

// Sweep is the proactive scheduling pass: it applies every due deadline
// transition and resumes interrupted refund runs. Lazy evaluation on reads
// gives correctness; the sweep bounds how stale an untouched cycle can get.
func (s *OrderService) Sweep(ctx context.Context) {
	now := time.Now().Unix()

	due, err := s.store.ListDueCycleIDs(ctx, now)
	if err != nil {
		slog.Error("sweep: listing due cycles failed", "error", err)
	}
	for _, id := range due {
		if _, err := s.advanceDue(ctx, id); err != nil {
			slog.Error("sweep: advancing cycle failed", "cycle_id", id, "error", err)
		}
	}

	pending, err := s.store.ListRefundPendingCycleIDs(ctx)
	if err != nil {
		slog.Error("sweep: listing refund-pending cycles failed", "error", err)
		return
	}
	for _, id := range pending {
		c, err := s.store.GetCycle(ctx, id)
		if err != nil {
			slog.Error("sweep: loading refund-pending cycle failed", "cycle_id", id, "error", err)
			continue
		}
		if c.Phase == models.PhaseCancelled {
			s.settleRefunds(ctx, c)
		}
	}

	if len(due) > 0 || len(pending) > 0 {
		slog.Info("sweep pass complete", "due", len(due), "refund_pending", len(pending))
	}
}
