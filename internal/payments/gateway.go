package payments

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
)

// Gateway statuses reported for a payment.
const (
	GatewayPaymentApproved  = "APPROVED"
	GatewayPaymentPending   = "PENDING"
	GatewayPaymentCompleted = "COMPLETED"
	GatewayPaymentCanceled  = "CANCELED"
	GatewayPaymentFailed    = "FAILED"
)

// Gateway is the outbound payment provider port.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*GatewayPayment, error)
	GetPayment(ctx context.Context, externalID string) (*GatewayPayment, error)
	CompletePayment(ctx context.Context, externalID string) (*GatewayPayment, error)
	CancelPayment(ctx context.Context, externalID string) (*GatewayPayment, error)
	RefundPayment(ctx context.Context, req RefundPaymentRequest) (*GatewayRefund, error)
	GetRefund(ctx context.Context, externalRefundID string) (*GatewayRefund, error)
	VerifyWebhook(signature, notificationURL string, body []byte) bool
}

type CreatePaymentRequest struct {
	IdempotencyKey string
	// ReferenceID lets notifications resolve the attempt before the provider id is bound.
	ReferenceID    string
	SourceID       string
	Amount         int64
	Currency       enums.Currency
	OrderNo        string
	Note           string
}

// GatewayPayment is the provider's view of a payment.
type GatewayPayment struct {
	ID          string
	Status      string
	CaptureID   string
	Amount      int64
	Currency    string
	UpdatedAt   time.Time
	RawResponse string
}

type RefundPaymentRequest struct {
	IdempotencyKey string
	PaymentID      string
	Amount         int64
	Currency       enums.Currency
	Reason         string
}

// GatewayRefund is the provider's view of a refund.
type GatewayRefund struct {
	ID          string
	PaymentID   string
	Status      string
	Amount      int64
	Currency    string
	RawResponse string
}

// MapRefundStatus converts a provider refund status. Unknown values stay PENDING.
func MapRefundStatus(raw string) enums.RefundStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COMPLETED":
		return enums.RefundStatusSuccess
	case "FAILED", "CANCELED", "REJECTED":
		return enums.RefundStatusFail
	default:
		return enums.RefundStatusPending
	}
}
