package events

// Type identifies an event within the closed catalog below. Consumers must
// decode incoming strings through ParseType so unknown types land on the
// dead-letter path instead of being silently ignored.
type Type string

// Order domain events.
const (
	TypeOrderCreated   Type = "order.created"
	TypeOrderConfirmed Type = "order.confirmed"
	TypeOrderCancelled Type = "order.cancelled"
)

// Inventory domain events. The *.reserve and *.release types are commands
// issued by the saga orchestrator; the rest are results emitted by the
// inventory service.
const (
	TypeInventoryReserve           Type = "inventory.reserve"
	TypeInventoryReserved          Type = "inventory.reserved"
	TypeInventoryReservationDenied Type = "inventory.reservation.denied"
	TypeInventoryRelease           Type = "inventory.release"
	TypeInventoryReleased          Type = "inventory.released"
)

// Payment domain events. payment.process is the orchestrator command,
// payment.refund the compensation command.
const (
	TypePaymentProcess   Type = "payment.process"
	TypePaymentProcessed Type = "payment.processed"
	TypePaymentFailed    Type = "payment.failed"
	TypePaymentRefund    Type = "payment.refund"
)

// User and notification domain events.
const (
	TypeUserRegistered   Type = "user.registered"
	TypeNotificationSent Type = "notification.sent"
)

// Topic names. One topic per domain; partitioning within a topic is keyed on
// the envelope's aggregate id.
const (
	TopicOrders        = "orders"
	TopicInventory     = "inventory"
	TopicPayments      = "payments"
	TopicUsers         = "users"
	TopicNotifications = "notifications"
)

var catalog = map[Type]string{
	TypeOrderCreated:               TopicOrders,
	TypeOrderConfirmed:             TopicOrders,
	TypeOrderCancelled:             TopicOrders,
	TypeInventoryReserve:           TopicInventory,
	TypeInventoryReserved:          TopicInventory,
	TypeInventoryReservationDenied: TopicInventory,
	TypeInventoryRelease:           TopicInventory,
	TypeInventoryReleased:          TopicInventory,
	TypePaymentProcess:             TopicPayments,
	TypePaymentProcessed:           TopicPayments,
	TypePaymentFailed:              TopicPayments,
	TypePaymentRefund:              TopicPayments,
	TypeUserRegistered:             TopicUsers,
	TypeNotificationSent:           TopicNotifications,
}

// Known reports whether t is part of the event catalog.
func (t Type) Known() bool {
	_, ok := catalog[t]
	return ok
}

func (t Type) String() string { return string(t) }

// ParseType maps a wire string onto the catalog. The boolean is false for
// types outside the catalog.
func ParseType(raw string) (Type, bool) {
	t := Type(raw)
	return t, t.Known()
}

// TopicFor returns the topic an event type is published on.
func TopicFor(t Type) (string, bool) {
	topic, ok := catalog[t]
	return topic, ok
}
