package models

// Phase is the lifecycle stage of an OrderCycle.
//
// Phases only move forward (collecting → payment_window → confirmed →
// processing → completed); cancelled is the absorbing exception reachable
// from any non-terminal phase.
type Phase string

const (
	PhaseCollecting    Phase = "collecting"
	PhasePaymentWindow Phase = "payment_window"
	PhaseConfirmed     Phase = "confirmed"
	PhaseProcessing    Phase = "processing"
	PhaseCompleted     Phase = "completed"
	PhaseCancelled     Phase = "cancelled"
)

// phaseOrder fixes the forward-only ordering used for idempotent transitions.
var phaseOrder = map[Phase]int{
	PhaseCollecting:    0,
	PhasePaymentWindow: 1,
	PhaseConfirmed:     2,
	PhaseProcessing:    3,
	PhaseCompleted:     4,
	PhaseCancelled:     5,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Terminal reports whether the cycle is finished (completed or cancelled).
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// AtOrPast reports whether p is already at target or a later phase.
// Transition checks use this to turn repeated invocations into no-ops.
func (p Phase) AtOrPast(target Phase) bool {
	return phaseOrder[p] >= phaseOrder[target]
}

// ProductAggregate is the summed demand for one product across all active
// participants in a cycle.
type ProductAggregate struct {
	Name        string `json:"name"`
	Quantity    int64  `json:"quantity"`
	MinQuantity int64  `json:"minQuantity"`
}

// Met reports whether the aggregate quantity reaches the product's threshold.
func (a ProductAggregate) Met() bool {
	return a.Quantity >= a.MinQuantity
}

// OrderCycle is one buying round for one group.
//
// TotalAmount, TotalParticipants, ProductAggregates and MinQuantityMet are
// derived from Participants and must be recomputed inside the same
// transaction as any ledger mutation (see the cycle package).
type OrderCycle struct {
	ID      string `json:"id"`
	GroupID string `json:"groupId"`
	Phase   Phase  `json:"phase"`

	// CollectingEndsAt and PaymentWindowEndsAt are Unix timestamps; zero
	// means the deadline is not set.
	CollectingEndsAt    int64 `json:"collectingEndsAt,omitempty"`
	PaymentWindowEndsAt int64 `json:"paymentWindowEndsAt,omitempty"`

	Participants      []Participant               `json:"participants"`
	ProductAggregates map[string]ProductAggregate `json:"productAggregates"`

	TotalAmount       float64 `json:"totalAmount"`
	TotalParticipants int     `json:"totalParticipants"`
	MinQuantityMet    bool    `json:"minQuantityMet"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Participant returns the entry for userID, or nil if the user never joined.
// Cancelled entries are returned too; callers filter by OrderStatus.
func (c *OrderCycle) Participant(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// ActiveParticipants returns the participants still part of the round,
// i.e. everyone whose order has not been cancelled.
func (c *OrderCycle) ActiveParticipants() []Participant {
	var active []Participant
	for _, p := range c.Participants {
		if p.OrderStatus != OrderStatusCancelled {
			active = append(active, p)
		}
	}
	return active
}

// ActiveDeadline returns the deadline governing the current phase, or zero
// when no timer applies (confirmed onward is administrator-driven).
func (c *OrderCycle) ActiveDeadline() int64 {
	switch c.Phase {
	case PhaseCollecting:
		return c.CollectingEndsAt
	case PhasePaymentWindow:
		return c.PaymentWindowEndsAt
	default:
		return 0
	}
}

// UserIDs returns the IDs of all participants, cancelled included.
// Used for notification fan-out.
func (c *OrderCycle) UserIDs() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserID
	}
	return ids
}
