package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type webhookEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type webhookMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type webhookPayment struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	ReferenceID string       `json:"reference_id"`
	AmountMoney webhookMoney `json:"amount_money"`
	UpdatedAt   string       `json:"updated_at"`
}

type webhookRefund struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	PaymentID   string       `json:"payment_id"`
	AmountMoney webhookMoney `json:"amount_money"`
}

type webhookObject struct {
	Payment *webhookPayment `json:"payment"`
	Refund  *webhookRefund  `json:"refund"`
}

// HandleWebhook verifies and applies a payment provider notification. Byte
// identical redeliveries inside the replay window are absorbed by the gate.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (dedupe.Result, error) {
	if !s.gateway.VerifyWebhook(signature, s.notificationURL, body) {
		return dedupe.Entered, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return dedupe.Entered, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}

	key := s.gate.KeyFor(dedupe.NamespacePaymentWebhook, body)
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": envelope.EventID, "event_type": envelope.Type})
	res, err := s.gate.Guard(ctx, key, s.replayTTL, func(ctx context.Context) error {
		return s.dispatchWebhook(ctx, envelope, string(body))
	})
	if err != nil {
		return res, err
	}
	if res == dedupe.AlreadyProcessed {
		s.logg.Info(ctx, "payment webhook replay ignored")
	}
	return res, nil
}

func (s *Service) dispatchWebhook(ctx context.Context, envelope webhookEnvelope, raw string) error {
	var object webhookObject
	if len(envelope.Data.Object) > 0 {
		if err := json.Unmarshal(envelope.Data.Object, &object); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook object")
		}
	}
	switch {
	case strings.HasPrefix(envelope.Type, "payment.") && object.Payment != nil:
		return s.handlePaymentNotification(ctx, *object.Payment, raw)
	case strings.HasPrefix(envelope.Type, "refund.") && object.Refund != nil:
		return s.handleRefundNotification(ctx, *object.Refund, raw)
	default:
		s.logg.Debug(ctx, "payment webhook type ignored")
		return nil
	}
}

func (s *Service) handlePaymentNotification(ctx context.Context, gp webhookPayment, raw string) error {
	payment, err := s.paymentForNotification(ctx, gp)
	if err != nil {
		return err
	}
	if payment == nil {
		s.logg.Warn(s.logg.WithField(ctx, "external_id", gp.ID), "payment webhook for unknown payment skipped")
		return nil
	}
	ctx = s.logg.WithPaymentID(ctx, payment.ID.String())

	switch strings.ToUpper(gp.Status) {
	case GatewayPaymentCompleted, GatewayPaymentFailed:
		captureTime, _ := time.Parse(time.RFC3339Nano, gp.UpdatedAt)
		_, err := s.ApplyCaptureResult(ctx, CaptureResult{
			PaymentID:   &payment.ID,
			ExternalID:  gp.ID,
			CaptureID:   gp.ID,
			Success:     strings.EqualFold(gp.Status, GatewayPaymentCompleted),
			CaptureTime: captureTime.UTC(),
			Source:      enums.EventSourcePaymentCallback,
			RawPayload:  raw,
		})
		return err
	case GatewayPaymentCanceled:
		_, err := s.ClosePayment(ctx, payment.ID, enums.EventSourcePaymentCallback, raw)
		return err
	default:
		if payment.ExternalID == nil && gp.ID != "" && payment.Status.IsOpen() {
			if _, err := s.BindGatewayOrder(ctx, payment.ID, gp.ID); err != nil {
				return err
			}
		}
		if err := s.repo.TouchPaymentNotified(ctx, payment.ID, &raw, s.now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment notification")
		}
		return nil
	}
}

// paymentForNotification resolves by provider id, then by our reference id.
// A nil payment with a nil error means the notification is not ours.
func (s *Service) paymentForNotification(ctx context.Context, gp webhookPayment) (*models.PaymentOrder, error) {
	if gp.ID != "" {
		payment, err := s.repo.FindPaymentByExternalID(ctx, gp.ID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment by external id")
		}
	}
	ref, err := uuid.Parse(strings.TrimSpace(gp.ReferenceID))
	if err != nil {
		return nil, nil
	}
	payment, err := s.repo.FindPaymentByID(ctx, ref)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment by reference")
	}
	return payment, nil
}

func (s *Service) handleRefundNotification(ctx context.Context, gr webhookRefund, raw string) error {
	payment, err := s.repo.FindPaymentByExternalID(ctx, gr.PaymentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(s.logg.WithField(ctx, "external_refund_id", gr.ID), "refund webhook for unknown payment skipped")
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refunded payment")
	}
	refund, err := s.GetRefundTargetForWebhook(ctx, payment.ID, gr.ID, gr.AmountMoney.Amount, enums.Currency(strings.ToUpper(gr.AmountMoney.Currency)))
	if err != nil {
		return err
	}
	_, err = s.ApplyRefundResult(ctx, RefundResult{
		RefundID:   refund.ID,
		Status:     MapRefundStatus(gr.Status),
		RawPayload: raw,
		Source:     enums.EventSourcePaymentCallback,
	})
	return err
}
