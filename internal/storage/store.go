// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
)

// Store defines the persistence interface for the group-buy coordinator.
// This abstraction allows swapping storage backends (SQLite, Firestore,
// PostgreSQL, ...) without changing the service layer.
//
// UpdateCycle and UpdatePayment are the store's transaction primitive: the
// closure receives the current document, mutates it, and the store performs
// a conditional write (compare-and-swap on a version counter) with bounded
// optimistic retries. Returning an error from the closure aborts the write
// and propagates the error unchanged, so business rejections pass through
// untouched. Concurrent mutations of the same document are serialized by
// this primitive; callers must never read-then-write around it.
type Store interface {
	// CreateCycle persists a new cycle. At most one open cycle may exist per
	// group; violating that returns errs.ErrConflict.
	CreateCycle(ctx context.Context, c *models.OrderCycle) error

	// GetCycle retrieves a cycle by ID; errs.ErrNotFound when missing.
	// Terminal (archived) cycles remain readable.
	GetCycle(ctx context.Context, id string) (*models.OrderCycle, error)

	// GetOpenCycleForGroup returns the group's cycle still accepting
	// participants or payments; errs.ErrNotFound when the group has none.
	GetOpenCycleForGroup(ctx context.Context, groupID string) (*models.OrderCycle, error)

	// UpdateCycle atomically applies fn to the cycle. On write contention it
	// re-reads and re-applies fn up to a bounded retry count with backoff,
	// then fails with errs.ErrPersistence.
	UpdateCycle(ctx context.Context, id string, fn func(*models.OrderCycle) error) (*models.OrderCycle, error)

	// ListDueCycleIDs returns IDs of cycles whose active deadline elapsed at
	// or before now, for the periodic sweep.
	ListDueCycleIDs(ctx context.Context, now int64) ([]string, error)

	// ListRefundPendingCycleIDs returns cancelled cycles that still contain
	// paid participants, so interrupted refund runs can be resumed.
	ListRefundPendingCycleIDs(ctx context.Context) ([]string, error)

	// CreatePayment persists a new payment record keyed by gateway order ID.
	CreatePayment(ctx context.Context, rec *models.PaymentRecord) error

	// GetPayment retrieves a payment record by gateway order ID.
	GetPayment(ctx context.Context, gatewayOrderID string) (*models.PaymentRecord, error)

	// GetPaymentByPaymentID retrieves a payment record by the gateway's
	// payment entity ID (set once the payer completes checkout).
	GetPaymentByPaymentID(ctx context.Context, paymentID string) (*models.PaymentRecord, error)

	// ListPaymentsByCycle returns every payment record for a cycle.
	ListPaymentsByCycle(ctx context.Context, cycleID string) ([]*models.PaymentRecord, error)

	// UpdatePayment atomically applies fn to a payment record, with the same
	// semantics as UpdateCycle.
	UpdatePayment(ctx context.Context, gatewayOrderID string, fn func(*models.PaymentRecord) error) (*models.PaymentRecord, error)

	// MarkEventProcessed records a webhook event identity and reports whether
	// this was its first occurrence. Replays return false and must be acked
	// without re-applying side effects.
	MarkEventProcessed(ctx context.Context, key string) (first bool, err error)

	// AppendAudit persists an immutable audit entry.
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error

	// ListAuditByCycle returns the audit trail for one cycle, oldest first.
	ListAuditByCycle(ctx context.Context, cycleID string) ([]*models.AuditEntry, error)

	// Close releases any resources held by the store.
	Close() error
}
