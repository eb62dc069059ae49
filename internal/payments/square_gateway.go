package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/square"
	sq "github.com/square/square-go-sdk"
)

// NewSquareGateway adapts the shared pkg/square client to the Gateway port.
func NewSquareGateway(client *square.Client, locationID string) Gateway {
	return &squareGateway{square: client, locationID: strings.TrimSpace(locationID)}
}

type squareGateway struct {
	square     *square.Client
	locationID string
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePaymentView struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	AmountMoney squareMoney `json:"amount_money"`
	UpdatedAt   string      `json:"updated_at"`
}

type squareRefundView struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	PaymentID   string      `json:"payment_id"`
	AmountMoney squareMoney `json:"amount_money"`
}

func (g *squareGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*GatewayPayment, error) {
	if g.square == nil {
		return nil, fmt.Errorf("square client required")
	}
	if g.locationID == "" {
		return nil, fmt.Errorf("square location id required")
	}
	payment, err := g.square.CreatePayment(ctx, square.PaymentCreateParams{
		AmountMinor:    req.Amount,
		Currency:       string(req.Currency),
		LocationID:     g.locationID,
		SourceID:       req.SourceID,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Note,
		ReferenceID:    req.ReferenceID,
	})
	if err != nil {
		return nil, err
	}
	return convertPayment(payment)
}

func (g *squareGateway) GetPayment(ctx context.Context, externalID string) (*GatewayPayment, error) {
	payment, err := g.square.GetPayment(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return convertPayment(payment)
}

func (g *squareGateway) CompletePayment(ctx context.Context, externalID string) (*GatewayPayment, error) {
	payment, err := g.square.CompletePayment(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return convertPayment(payment)
}

func (g *squareGateway) CancelPayment(ctx context.Context, externalID string) (*GatewayPayment, error) {
	payment, err := g.square.CancelPayment(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return convertPayment(payment)
}

func (g *squareGateway) RefundPayment(ctx context.Context, req RefundPaymentRequest) (*GatewayRefund, error) {
	refund, err := g.square.RefundPayment(ctx, square.RefundCreateParams{
		PaymentID:      req.PaymentID,
		AmountMinor:    req.Amount,
		Currency:       string(req.Currency),
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	return convertRefund(refund)
}

func (g *squareGateway) GetRefund(ctx context.Context, externalRefundID string) (*GatewayRefund, error) {
	refund, err := g.square.GetRefund(ctx, externalRefundID)
	if err != nil {
		return nil, err
	}
	return convertRefund(refund)
}

func (g *squareGateway) VerifyWebhook(signature, notificationURL string, body []byte) bool {
	return g.square.VerifyWebhook(signature, notificationURL, body)
}

// The SDK objects are read through their JSON form so only the wire fields we
// store are depended on.
func convertPayment(payment *sq.Payment) (*GatewayPayment, error) {
	if payment == nil {
		return nil, fmt.Errorf("square returned no payment")
	}
	raw, err := json.Marshal(payment)
	if err != nil {
		return nil, fmt.Errorf("encode square payment: %w", err)
	}
	var view squarePaymentView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decode square payment: %w", err)
	}
	out := &GatewayPayment{
		ID:          view.ID,
		Status:      strings.ToUpper(view.Status),
		CaptureID:   view.ID,
		Amount:      view.AmountMoney.Amount,
		Currency:    view.AmountMoney.Currency,
		RawResponse: string(raw),
	}
	if ts, err := time.Parse(time.RFC3339Nano, view.UpdatedAt); err == nil {
		out.UpdatedAt = ts.UTC()
	}
	return out, nil
}

func convertRefund(refund *sq.PaymentRefund) (*GatewayRefund, error) {
	if refund == nil {
		return nil, fmt.Errorf("square returned no refund")
	}
	raw, err := json.Marshal(refund)
	if err != nil {
		return nil, fmt.Errorf("encode square refund: %w", err)
	}
	var view squareRefundView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decode square refund: %w", err)
	}
	return &GatewayRefund{
		ID:          view.ID,
		PaymentID:   view.PaymentID,
		Status:      strings.ToUpper(view.Status),
		Amount:      view.AmountMoney.Amount,
		Currency:    view.AmountMoney.Currency,
		RawResponse: string(raw),
	}, nil
}
