package enums

import "fmt"

// RefundStatus tracks a single refund attempt.
type RefundStatus string

const (
	RefundStatusInit    RefundStatus = "INIT"
	RefundStatusPending RefundStatus = "PENDING"
	RefundStatusSuccess RefundStatus = "SUCCESS"
	RefundStatusFail    RefundStatus = "FAIL"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusInit,
	RefundStatusPending,
	RefundStatusSuccess,
	RefundStatusFail,
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsOpen reports whether the refund has not resolved yet.
func (r RefundStatus) IsOpen() bool {
	return r == RefundStatusInit || r == RefundStatusPending
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}

// RefundReasonCode classifies why money went back.
type RefundReasonCode string

const (
	RefundReasonCustomerRequest RefundReasonCode = "CUSTOMER_REQUEST"
	RefundReasonDuplicate       RefundReasonCode = "DUPLICATE"
	RefundReasonFraud           RefundReasonCode = "FRAUD"
	RefundReasonLatePayment     RefundReasonCode = "LATE_PAYMENT"
	RefundReasonException       RefundReasonCode = "EXCEPTION"
	RefundReasonOther           RefundReasonCode = "OTHER"
)

// RefundInitiator records who asked for the refund.
type RefundInitiator string

const (
	RefundInitiatorUser   RefundInitiator = "USER"
	RefundInitiatorAdmin  RefundInitiator = "ADMIN"
	RefundInitiatorSystem RefundInitiator = "SYSTEM"
)
