package models

import "math"

// PaymentRecordStatus is the gateway-facing state of a payment record.
type PaymentRecordStatus string

const (
	// PaymentRecordCreated: gateway order created, awaiting capture.
	PaymentRecordCreated PaymentRecordStatus = "created"
	// PaymentRecordCaptured: signature-verified capture applied to the ledger.
	PaymentRecordCaptured PaymentRecordStatus = "captured"
	// PaymentRecordFailed: gateway reported the payment failed.
	PaymentRecordFailed PaymentRecordStatus = "failed"
	// PaymentRecordRefunded: a refund was issued for the capture.
	PaymentRecordRefunded PaymentRecordStatus = "refunded"
	// PaymentRecordFlagged: capture arrived while the cycle was no longer in
	// its payment window; held for manual reconciliation, never auto-applied.
	PaymentRecordFlagged PaymentRecordStatus = "flagged"
)

// PaymentRecord tracks one participant's payment for one cycle.
// Created when the participant enters the payment window; mutated only by
// the payment reconciler.
type PaymentRecord struct {
	GatewayOrderID   string              `json:"gatewayOrderId"`
	PaymentID        string              `json:"paymentId,omitempty"`
	Signature        string              `json:"signature,omitempty"`
	Status           PaymentRecordStatus `json:"status"`
	CycleID          string              `json:"cycleId"`
	UserID           string              `json:"userId"`
	AmountMinorUnits int64               `json:"amountMinorUnits"`
	Currency         string              `json:"currency"`
	// Receipt doubles as the gateway idempotency key, derived from
	// (cycleId, userId), so a timed-out create retried by the client cannot
	// double-charge.
	Receipt   string `json:"receipt"`
	RefundID  string `json:"refundId,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// MinorUnits converts a major-unit amount to integer minor units
// (e.g. 149.5 INR → 14950 paise).
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// MajorUnits converts integer minor units back to a major-unit amount.
func MajorUnits(minor int64) float64 {
	return float64(minor) / 100
}
