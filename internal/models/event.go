package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event emitted after a committed mutation.
type EventType string

const (
	EventOrderPlaced         EventType = "OrderPlaced"
	EventPaymentWindowOpened EventType = "PaymentWindowOpened"
	EventOrderConfirmed      EventType = "OrderConfirmed"
	EventPaymentReceived     EventType = "PaymentReceived"
	EventCycleCancelled      EventType = "CycleCancelled"
)

// Event is a domain event handed to the dispatcher after commit.
// Delivery is best-effort; events never feed back into ledger state.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	CycleID    string            `json:"cycleId"`
	GroupID    string            `json:"groupId"`
	UserIDs    []string          `json:"userIds"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt int64             `json:"occurredAt"`
}

// NewEvent builds an event addressed to the given users.
func NewEvent(t EventType, cycleID, groupID string, userIDs []string, data map[string]string) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		CycleID:    cycleID,
		GroupID:    groupID,
		UserIDs:    userIDs,
		Data:       data,
		OccurredAt: time.Now().Unix(),
	}
}

// AuditKind classifies audit log entries.
type AuditKind string

const (
	AuditSignatureMismatch AuditKind = "signature_mismatch"
	AuditPaymentFlagged    AuditKind = "payment_flagged"
	AuditUnpaidDrop        AuditKind = "unpaid_drop"
	AuditCycleCancelled    AuditKind = "cycle_cancelled"
	AuditRefundIssued      AuditKind = "refund_issued"
	AuditWebhookRejected   AuditKind = "webhook_rejected"
)

// AuditEntry is an immutable record of a security- or money-relevant action.
type AuditEntry struct {
	ID        string    `json:"id"`
	Kind      AuditKind `json:"kind"`
	CycleID   string    `json:"cycleId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt int64     `json:"createdAt"`
}

// NewAuditEntry builds an audit entry stamped with the current time.
func NewAuditEntry(kind AuditKind, cycleID, userID, detail string) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.New().String(),
		Kind:      kind,
		CycleID:   cycleID,
		UserID:    userID,
		Detail:    detail,
		CreatedAt: time.Now().Unix(),
	}
}
