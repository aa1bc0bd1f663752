package gateway

import (
	"context"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
)

// Ensure RazorpayGateway implements Gateway
var _ Gateway = (*RazorpayGateway)(nil)

// RazorpayGateway adapts the Razorpay SDK to the Gateway interface.
type RazorpayGateway struct {
	client *razorpay.Client
}

// NewRazorpay creates a gateway backed by the Razorpay REST API.
func NewRazorpay(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret)}
}

// callResult carries an SDK response across the context-watch goroutine.
type callResult struct {
	body map[string]interface{}
	err  error
}

// call runs an SDK operation while honoring the context deadline. The SDK
// call is never cancelled midway (fire-once); on timeout the result is
// discarded and the caller retries with the same idempotency key.
func call(ctx context.Context, op func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ch := make(chan callResult, 1)
	go func() {
		body, err := op()
		ch <- callResult{body: body, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gateway call abandoned: %v: %w", ctx.Err(), errs.ErrGateway)
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("gateway call failed: %v: %w", res.err, errs.ErrGateway)
		}
		return res.body, nil
	}
}

func stringField(body map[string]interface{}, key string) string {
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

// CreateOrder registers a payable order with Razorpay.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountMinorUnits int64, currency, receipt string, notes map[string]string) (*Order, error) {
	data := map[string]interface{}{
		"amount":   amountMinorUnits,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		noteData := make(map[string]interface{}, len(notes))
		for k, v := range notes {
			noteData[k] = v
		}
		data["notes"] = noteData
	}

	body, err := call(ctx, func() (map[string]interface{}, error) {
		return g.client.Order.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}

	order := &Order{ID: stringField(body, "id"), Status: stringField(body, "status")}
	if order.ID == "" {
		return nil, fmt.Errorf("gateway returned order without id: %w", errs.ErrGateway)
	}
	return order, nil
}

// RefundPayment refunds part or all of a captured payment.
func (g *RazorpayGateway) RefundPayment(ctx context.Context, paymentID string, amountMinorUnits int64) (*Refund, error) {
	body, err := call(ctx, func() (map[string]interface{}, error) {
		return g.client.Payment.Refund(paymentID, int(amountMinorUnits), nil, nil)
	})
	if err != nil {
		return nil, err
	}

	refund := &Refund{ID: stringField(body, "id"), Status: stringField(body, "status")}
	if refund.ID == "" {
		return nil, fmt.Errorf("gateway returned refund without id: %w", errs.ErrGateway)
	}
	return refund, nil
}
