package enums

import "fmt"

// PaymentStatus tracks a payment attempt. Orders mirror it as pay_status.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = "NONE"
	PaymentStatusInit      PaymentStatus = "INIT"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFail      PaymentStatus = "FAIL"
	PaymentStatusClosed    PaymentStatus = "CLOSED"
	PaymentStatusException PaymentStatus = "EXCEPTION"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusNone,
	PaymentStatusInit,
	PaymentStatusPending,
	PaymentStatusSuccess,
	PaymentStatusFail,
	PaymentStatusClosed,
	PaymentStatusException,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsFinal reports whether the attempt can no longer move.
func (p PaymentStatus) IsFinal() bool {
	switch p {
	case PaymentStatusSuccess, PaymentStatusFail, PaymentStatusClosed, PaymentStatusException:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the attempt is live (INIT or PENDING).
func (p PaymentStatus) IsOpen() bool {
	return p == PaymentStatusInit || p == PaymentStatusPending
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// PaymentChannel identifies the gateway that owns a payment attempt.
type PaymentChannel string

const (
	PaymentChannelNone   PaymentChannel = "NONE"
	PaymentChannelSquare PaymentChannel = "SQUARE"
)

// ParsePaymentChannel converts raw input into a PaymentChannel usable for checkout.
func ParsePaymentChannel(value string) (PaymentChannel, error) {
	switch PaymentChannel(value) {
	case PaymentChannelSquare:
		return PaymentChannelSquare, nil
	default:
		return "", fmt.Errorf("invalid payment channel %q", value)
	}
}
