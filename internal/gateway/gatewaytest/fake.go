// Package gatewaytest provides an in-memory Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/gateway"
)

// Ensure Fake implements gateway.Gateway
var _ gateway.Gateway = (*Fake)(nil)

// Fake records gateway calls in memory. Orders are idempotent by receipt,
// matching the real gateway's behavior for retried creates.
type Fake struct {
	mu sync.Mutex

	ordersByReceipt map[string]*gateway.Order
	refunds         map[string]*gateway.Refund
	nextOrder       int
	nextRefund      int

	// FailCreates and FailRefunds make the respective calls return
	// errs.ErrGateway, for transient-failure tests.
	FailCreates bool
	FailRefunds bool
}

// NewFake creates an empty fake gateway.
func NewFake() *Fake {
	return &Fake{
		ordersByReceipt: make(map[string]*gateway.Order),
		refunds:         make(map[string]*gateway.Refund),
	}
}

// CreateOrder returns a stable order for each receipt.
func (f *Fake) CreateOrder(ctx context.Context, amountMinorUnits int64, currency, receipt string, notes map[string]string) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreates {
		return nil, fmt.Errorf("fake create failure: %w", errs.ErrGateway)
	}
	if order, ok := f.ordersByReceipt[receipt]; ok {
		return order, nil
	}
	f.nextOrder++
	order := &gateway.Order{ID: fmt.Sprintf("order_fake%04d", f.nextOrder), Status: "created"}
	f.ordersByReceipt[receipt] = order
	return order, nil
}

// RefundPayment records a refund; repeated refunds of the same payment
// return the original refund.
func (f *Fake) RefundPayment(ctx context.Context, paymentID string, amountMinorUnits int64) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailRefunds {
		return nil, fmt.Errorf("fake refund failure: %w", errs.ErrGateway)
	}
	if refund, ok := f.refunds[paymentID]; ok {
		return refund, nil
	}
	f.nextRefund++
	refund := &gateway.Refund{ID: fmt.Sprintf("rfnd_fake%04d", f.nextRefund), Status: "processed"}
	f.refunds[paymentID] = refund
	return refund, nil
}

// RefundCount returns how many distinct payments were refunded.
func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

// Refunded reports whether paymentID was refunded.
func (f *Fake) Refunded(paymentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.refunds[paymentID]
	return ok
}
