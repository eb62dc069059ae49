package enums

import "fmt"

// OrderStatus is the lifecycle status of a customer order.
type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusFulfilled      OrderStatus = "FULFILLED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunding      OrderStatus = "REFUNDING"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
	OrderStatusClosed         OrderStatus = "CLOSED"
	OrderStatusDeleted        OrderStatus = "DELETED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusPendingPayment,
	OrderStatusPaid,
	OrderStatusFulfilled,
	OrderStatusCancelled,
	OrderStatusRefunding,
	OrderStatusRefunded,
	OrderStatusClosed,
	OrderStatusDeleted,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is frozen.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusClosed || s == OrderStatusRefunded || s == OrderStatusDeleted
}

// IsAwaitingPayment reports whether the order can still be paid.
func (s OrderStatus) IsAwaitingPayment() bool {
	return s == OrderStatusCreated || s == OrderStatusPendingPayment
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
