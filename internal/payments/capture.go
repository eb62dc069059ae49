package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CaptureResult is a capture notification from any source: webhook, sync job
// or the user-triggered capture call. PaymentID wins over ExternalID.
type CaptureResult struct {
	PaymentID   *uuid.UUID
	ExternalID  string
	CaptureID   string
	Success     bool
	CaptureTime time.Time
	Source      enums.EventSource
	RawPayload  string
}

type lateCapture struct {
	payment   models.PaymentOrder
	captureID string
}

// ApplyCaptureResult is the single write path for capture outcomes. The order
// row is locked for the whole decision so a concurrent cancel or a second
// capture sees the committed result. Only the first SUCCESS advances the order;
// successes that cannot be honoured become EXCEPTION and are refunded.
func (s *Service) ApplyCaptureResult(ctx context.Context, result CaptureResult) (outcome.Outcome, error) {
	if result.PaymentID == nil && strings.TrimSpace(result.ExternalID) == "" {
		return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "payment id or external id required")
	}
	if result.CaptureTime.IsZero() {
		result.CaptureTime = s.now().UTC()
	}
	if result.Source == "" {
		result.Source = enums.EventSourcePaymentCallback
	}

	var (
		applied outcome.Outcome
		late    *lateCapture
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := s.resolvePayment(ctx, repo, result)
		if err != nil {
			return err
		}

		order, err := s.orders.LockByIDTx(ctx, tx, payment.OrderID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) && result.Success {
				consistency := pkgerrors.New(pkgerrors.CodeConsistency, "captured payment has no order").
					WithDetails(map[string]any{"payment_id": payment.ID, "order_id": payment.OrderID})
				s.logg.Alert(s.logg.WithPaymentID(ctx, payment.ID.String()), "captured payment has no order", consistency)
				return consistency
			}
			return err
		}
		// re-read under the order lock
		payment, err = repo.FindPaymentByID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
		}

		touch := func() error {
			var payload *string
			if result.RawPayload != "" {
				payload = &result.RawPayload
			}
			if err := repo.TouchPaymentNotified(ctx, payment.ID, payload, s.now().UTC()); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment notification")
			}
			return nil
		}

		if payment.Status == enums.PaymentStatusSuccess || order.Status == enums.OrderStatusRefunded {
			applied = outcome.NoOp()
			return touch()
		}
		if payment.Status == enums.PaymentStatusException {
			// already diverted; a replayed success still owes its refund
			applied = outcome.NoOp()
			if result.Success {
				late = &lateCapture{payment: *payment, captureID: captureRef(result, payment)}
			}
			return touch()
		}

		isActive := order.ActivePaymentID != nil && *order.ActivePaymentID == payment.ID
		orderPayable := order.Status.IsAwaitingPayment() && order.PayStatus != enums.PaymentStatusSuccess
		attemptPayable := payment.Status.IsOpen()
		isLate := result.CaptureTime.After(order.CreatedAt.Add(s.orders.PaymentTTL()))

		event := EventCaptureFail
		if result.Success {
			event = EventException
			if isActive && orderPayable && attemptPayable && !isLate {
				event = EventCaptureSuccess
			}
		}
		next, err := Transition(payment.Status, event)
		if err != nil {
			applied = outcome.Rejected("%s", err.Error())
			return touch()
		}

		extra := map[string]any{"last_notified_at": s.now().UTC()}
		if result.CaptureID != "" {
			extra["capture_id"] = result.CaptureID
		}
		if result.RawPayload != "" {
			if result.Source == enums.EventSourcePaymentCallback {
				extra["notify_payload"] = result.RawPayload
			} else {
				extra["response_payload"] = result.RawPayload
			}
		}
		backfilled := false
		if payment.ExternalID == nil && strings.TrimSpace(result.ExternalID) != "" {
			extra["external_id"] = strings.TrimSpace(result.ExternalID)
			backfilled = true
		}

		swapped, err := repo.CompareAndSetPaymentStatus(ctx, payment.ID, payment.Status, next, extra)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !swapped {
			applied = outcome.NoOp()
			return nil
		}

		from := payment.Status
		payment.Status = next
		if backfilled {
			ext := strings.TrimSpace(result.ExternalID)
			payment.ExternalID = &ext
		}
		if err := s.emitPaymentChange(ctx, tx, payment, from, actorSource(result.Source, nil)); err != nil {
			return err
		}

		if isActive {
			mirror := orders.PayMirror{Status: next}
			if backfilled {
				mirror.ExternalID = payment.ExternalID
			}
			if _, err := s.orders.MirrorPayStatusTx(ctx, tx, order, mirror); err != nil {
				return err
			}
		}

		if next == enums.PaymentStatusSuccess {
			actor := orders.Actor{Source: result.Source, Ref: captureRef(result, payment)}
			paid, err := s.orders.MarkPaidTx(ctx, tx, order, actor, result.CaptureTime)
			if err != nil {
				return err
			}
			if !paid.IsApplied() {
				s.logg.Warn(s.logg.WithOrderNo(ctx, order.OrderNo), "captured payment did not advance order: "+paid.String())
			}
		}
		if next == enums.PaymentStatusException && result.Success {
			late = &lateCapture{payment: *payment, captureID: captureRef(result, payment)}
		}

		logCtx := s.logg.WithPaymentID(s.logg.WithOrderNo(ctx, order.OrderNo), payment.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"from_status":     from,
			"to_status":       next,
			"event_source":    result.Source,
			"active_attempt":  isActive,
			"order_payable":   orderPayable,
			"attempt_payable": attemptPayable,
			"late":            isLate,
		})
		s.logg.Info(logCtx, "payment capture applied")
		applied = outcome.Applied()
		return nil
	})
	if err != nil {
		return outcome.Outcome{}, wrapDependency(err, "apply capture result")
	}

	if late != nil {
		if _, err := s.refundDivertedCapture(ctx, late.payment, late.captureID); err != nil {
			s.logg.Error(s.logg.WithPaymentID(ctx, late.payment.ID.String()), "automatic refund of diverted capture failed", err)
			return applied, err
		}
	}
	return applied, nil
}

func (s *Service) resolvePayment(ctx context.Context, repo Repository, result CaptureResult) (*models.PaymentOrder, error) {
	var (
		payment *models.PaymentOrder
		err     error
	)
	if result.PaymentID != nil {
		payment, err = repo.FindPaymentByID(ctx, *result.PaymentID)
	} else {
		payment, err = repo.FindPaymentByExternalID(ctx, strings.TrimSpace(result.ExternalID))
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

func captureRef(result CaptureResult, payment *models.PaymentOrder) string {
	if result.CaptureID != "" {
		return result.CaptureID
	}
	if result.ExternalID != "" {
		return result.ExternalID
	}
	if payment.ExternalID != nil {
		return *payment.ExternalID
	}
	return payment.ID.String()
}

func captureFromGateway(paymentID uuid.UUID, gp *GatewayPayment, source enums.EventSource, now time.Time) CaptureResult {
	captureTime := gp.UpdatedAt
	if captureTime.IsZero() {
		captureTime = now
	}
	captureID := gp.CaptureID
	if captureID == "" {
		captureID = gp.ID
	}
	return CaptureResult{
		PaymentID:   &paymentID,
		ExternalID:  gp.ID,
		CaptureID:   captureID,
		Success:     gp.Status == GatewayPaymentCompleted,
		CaptureTime: captureTime.UTC(),
		Source:      source,
		RawPayload:  gp.RawResponse,
	}
}
