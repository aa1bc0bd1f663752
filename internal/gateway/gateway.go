// Package gateway defines the payment gateway boundary and its Razorpay
// implementation. The reconciler only ever sees the Gateway interface, so
// tests inject a fake and no package holds a global client.
package gateway

import "context"

// Order is a gateway-side payment order created for one participant's dues.
type Order struct {
	ID     string
	Status string
}

// Refund is the gateway's acknowledgement of a refund request.
type Refund struct {
	ID     string
	Status string
}

// Gateway is the payment collaborator. Calls are fire-once: the receipt
// passed to CreateOrder is an idempotency key, so a client-side timeout
// followed by a retry cannot double-charge. Implementations must honor
// context deadlines.
type Gateway interface {
	// CreateOrder registers a payable order for amountMinorUnits
	// (e.g. paise) and returns the gateway's order ID.
	CreateOrder(ctx context.Context, amountMinorUnits int64, currency, receipt string, notes map[string]string) (*Order, error)

	// RefundPayment refunds amountMinorUnits of a captured payment.
	RefundPayment(ctx context.Context, paymentID string, amountMinorUnits int64) (*Refund, error)
}
