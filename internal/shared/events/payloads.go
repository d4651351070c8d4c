package events

// Shared payload shapes for the order saga flow. Payloads stay opaque to the
// bus; these types are the agreed contract between the modules that produce
// and consume them.

// OrderItem is a single line of an order.
type OrderItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// OrderCreatedPayload accompanies order.created.
type OrderCreatedPayload struct {
	OrderID     string      `json:"order_id"`
	UserID      string      `json:"user_id"`
	Items       []OrderItem `json:"items"`
	AmountCents int64       `json:"amount_cents"`
	AccountRef  string      `json:"account_ref"`
}

// ReserveInventoryPayload accompanies inventory.reserve and inventory.release.
type ReserveInventoryPayload struct {
	OrderID string      `json:"order_id"`
	Items   []OrderItem `json:"items"`
}

// InventoryResultPayload accompanies inventory.reserved,
// inventory.reservation.denied and inventory.released.
type InventoryResultPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// ProcessPaymentPayload accompanies payment.process and payment.refund.
type ProcessPaymentPayload struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	AccountRef  string `json:"account_ref"`
}

// PaymentResultPayload accompanies payment.processed and payment.failed.
// Retryable distinguishes a gateway outage fallback (breaker open, charge
// queued for retry) from a business decline; the saga orchestrator compensates
// in both cases but operators and notifications treat them differently.
type PaymentResultPayload struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// OrderClosedPayload accompanies order.confirmed and order.cancelled.
type OrderClosedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// UserRegisteredPayload accompanies user.registered.
type UserRegisteredPayload struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// NotificationSentPayload accompanies notification.sent.
type NotificationSentPayload struct {
	OrderID  string `json:"order_id,omitempty"`
	Channel  string `json:"channel"`
	Template string `json:"template"`
}

// Payment failure reasons carried in PaymentResultPayload.Reason.
const (
	PaymentReasonDeclined           = "declined"
	PaymentReasonGatewayUnavailable = "gateway_unavailable"
)
