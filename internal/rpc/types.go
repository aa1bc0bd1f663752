package rpc

import "github.com/Nikhil170404/hyperlocal-sub001/internal/models"

// OrderItemInput is one product line of an order submission.
type OrderItemInput struct {
	ProductID       string  `json:"productId" validate:"required"`
	ProductName     string  `json:"productName" validate:"required"`
	Quantity        int64   `json:"quantity" validate:"gt=0"`
	UnitPrice       float64 `json:"unitPrice" validate:"gt=0"`
	RetailUnitPrice float64 `json:"retailUnitPrice" validate:"gte=0"`
	MinQuantity     int64   `json:"minQuantity" validate:"gte=1"`
}

func (in OrderItemInput) toModel() models.OrderItem {
	return models.OrderItem{
		ProductID:       in.ProductID,
		ProductName:     in.ProductName,
		Quantity:        in.Quantity,
		UnitPrice:       in.UnitPrice,
		RetailUnitPrice: in.RetailUnitPrice,
		MinQuantity:     in.MinQuantity,
	}
}

type PlaceOrderRequest struct {
	GroupID string           `json:"groupId" validate:"required"`
	Items   []OrderItemInput `json:"items" validate:"min=1,dive"`
}

type PlaceOrderResponse struct {
	Cycle *models.OrderCycle `json:"cycle"`
}

type WithdrawOrderRequest struct {
	CycleID string `json:"cycleId" validate:"required"`
}

type WithdrawOrderResponse struct {
	Cycle *models.OrderCycle `json:"cycle"`
}

// GetCycleRequest resolves a cycle either directly by ID or as the group's
// currently open cycle; exactly one selector must be set.
type GetCycleRequest struct {
	CycleID string `json:"cycleId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

type GetCycleResponse struct {
	Cycle *models.OrderCycle `json:"cycle"`
}

type CloseCollectingRequest struct {
	CycleID string `json:"cycleId" validate:"required"`
}

type CloseCollectingResponse struct {
	Cycle *models.OrderCycle `json:"cycle"`
}

type AdvancePhaseRequest struct {
	CycleID string `json:"cycleId" validate:"required"`
	Target  string `json:"target" validate:"required"`
}

type AdvancePhaseResponse struct {
	Cycle *models.OrderCycle `json:"cycle"`
}

type CancelCycleRequest struct {
	CycleID string `json:"cycleId" validate:"required"`
}

type CancelCycleResponse struct {
	Cycle *models.OrderCycle `json:"cycle"`
}

type GetAuditRequest struct {
	CycleID string `json:"cycleId" validate:"required"`
}

type GetAuditResponse struct {
	Entries []*models.AuditEntry `json:"entries"`
}

type CreatePaymentIntentRequest struct {
	CycleID  string  `json:"cycleId" validate:"required"`
	Amount   float64 `json:"amount" validate:"gt=0"`
	Currency string  `json:"currency,omitempty"`
}

// CreatePaymentIntentResponse carries everything the client checkout needs.
type CreatePaymentIntentResponse struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	Currency         string `json:"currency"`
	KeyID            string `json:"keyId"`
	Status           string `json:"status"`
}

type VerifyPaymentRequest struct {
	GatewayOrderID string `json:"gatewayOrderId" validate:"required"`
	PaymentID      string `json:"paymentId" validate:"required"`
	Signature      string `json:"signature" validate:"required"`
}

// VerifyPaymentResponse reports the verification outcome. Verified is true
// exactly when the signature matched and the capture was applied.
type VerifyPaymentResponse struct {
	Verified bool                  `json:"verified"`
	Payment  *models.PaymentRecord `json:"payment"`
}

type RefundPaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
	// AmountMinorUnits zero means a full refund.
	AmountMinorUnits int64 `json:"amountMinorUnits" validate:"gte=0"`
}

type RefundPaymentResponse struct {
	Payment *models.PaymentRecord `json:"payment"`
}
