package payments

import (
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/money"
)

// PaymentView is the API projection of a payment attempt.
type PaymentView struct {
	ID         string               `json:"id"`
	OrderNo    string               `json:"order_no"`
	Channel    enums.PaymentChannel `json:"channel"`
	ExternalID *string              `json:"external_id,omitempty"`
	Status     enums.PaymentStatus  `json:"status"`
	Amount     string               `json:"amount"`
	Currency   enums.Currency       `json:"currency"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

func NewPaymentView(p *models.PaymentOrder) PaymentView {
	return PaymentView{
		ID:         p.ID.String(),
		OrderNo:    p.OrderNo,
		Channel:    p.Channel,
		ExternalID: p.ExternalID,
		Status:     p.Status,
		Amount:     money.FormatMajor(p.Amount, p.Currency),
		Currency:   p.Currency,
		UpdatedAt:  p.UpdatedAt,
	}
}

// RefundView is the API projection of a refund.
type RefundView struct {
	RefundNo         string                 `json:"refund_no"`
	ExternalRefundID *string                `json:"external_refund_id,omitempty"`
	Status           enums.RefundStatus     `json:"status"`
	Amount           string                 `json:"amount"`
	ItemsAmount      string                 `json:"items_amount"`
	ShippingAmount   string                 `json:"shipping_amount"`
	Currency         enums.Currency         `json:"currency"`
	ReasonCode       enums.RefundReasonCode `json:"reason_code"`
	Initiator        enums.RefundInitiator  `json:"initiator"`
	CreatedAt        time.Time              `json:"created_at"`
}

func NewRefundView(r *models.PaymentRefund) RefundView {
	return RefundView{
		RefundNo:         r.RefundNo,
		ExternalRefundID: r.ExternalRefundID,
		Status:           r.Status,
		Amount:           money.FormatMajor(r.Amount, r.Currency),
		ItemsAmount:      money.FormatMajor(r.ItemsAmount, r.Currency),
		ShippingAmount:   money.FormatMajor(r.ShippingAmount, r.Currency),
		Currency:         r.Currency,
		ReasonCode:       r.ReasonCode,
		Initiator:        r.Initiator,
		CreatedAt:        r.CreatedAt,
	}
}
