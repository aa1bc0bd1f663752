package models

// PaymentStatus tracks a participant's dues against the gateway.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// OrderStatus tracks a participant's order through fulfilment.
type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderItem is one product line in a participant's contribution.
// MinQuantity is the group threshold for this product in this cycle.
type OrderItem struct {
	ProductID       string  `json:"productId"`
	ProductName     string  `json:"productName"`
	Quantity        int64   `json:"quantity"`
	UnitPrice       float64 `json:"unitPrice"`
	RetailUnitPrice float64 `json:"retailUnitPrice"`
	MinQuantity     int64   `json:"minQuantity"`
}

// LineTotal is the group-rate cost of this line.
func (i OrderItem) LineTotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

// Participant is one user's contribution to a cycle.
// Participants are unique by UserID within a cycle: re-submission replaces
// the entry, it never duplicates it. Entries are never deleted after the
// collecting phase, only marked cancelled or refunded.
type Participant struct {
	UserID        string        `json:"userId"`
	UserName      string        `json:"userName"`
	Items         []OrderItem   `json:"items"`
	TotalAmount   float64       `json:"totalAmount"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	OrderStatus   OrderStatus   `json:"orderStatus"`
	JoinedAt      int64         `json:"joinedAt"`
}

// ItemTotal sums the participant's line totals.
func (p Participant) ItemTotal() float64 {
	var total float64
	for _, item := range p.Items {
		total += item.LineTotal()
	}
	return total
}
