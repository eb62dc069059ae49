package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/intlshop-backend/internal/orders"
	dbpkg "github.com/angelmondragon/intlshop-backend/pkg/db"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Client refund numbers double as gateway idempotency keys.
const (
	refundKindManual  = "manual"
	refundKindLate    = "late"
	refundKindWebhook = "webhook"
)

func clientRefundNo(paymentID uuid.UUID, kind, key string) string {
	return fmt.Sprintf("ppref-%s-%s-%s", paymentID, kind, key)
}

func newRefundNo() string {
	return "RF-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

// ConfirmRefundInput describes a refund of an order's captured payment.
// A nil Amount refunds the full pay amount. ClientRefundNo is the caller's
// dedupe key: repeating a request with the same key returns the same refund.
type ConfirmRefundInput struct {
	OrderNo        string
	ClientRefundNo string
	Amount         *int64
	Initiator      enums.RefundInitiator
	ActorID        *uuid.UUID
	ReasonCode     enums.RefundReasonCode
	Reason         string
}

// ConfirmRefund creates the refund row and asks the gateway to move the money.
// Any refund already in progress or succeeded for the payment is a CONFLICT,
// unless it carries the same client refund number.
func (s *Service) ConfirmRefund(ctx context.Context, input ConfirmRefundInput) (*models.PaymentRefund, error) {
	if input.Initiator == "" {
		input.Initiator = enums.RefundInitiatorAdmin
	}
	if input.ReasonCode == "" {
		input.ReasonCode = enums.RefundReasonCustomerRequest
	}
	actor := orders.Actor{Source: initiatorSource(input.Initiator), UserID: input.ActorID}

	var (
		refund   *models.PaymentRefund
		payment  *models.PaymentOrder
		existing bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.orders.LockByNoTx(ctx, tx, input.OrderNo)
		if err != nil {
			return err
		}
		switch order.Status {
		case enums.OrderStatusRefunding:
		case enums.OrderStatusPaid, enums.OrderStatusFulfilled:
			if input.Initiator == enums.RefundInitiatorUser {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "refund must be requested first")
			}
			moved, err := s.orders.RequestRefundTx(ctx, tx, order, actor, input.Reason)
			if err != nil {
				return err
			}
			if !moved.IsApplied() {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order could not enter refunding").
					WithDetails(map[string]any{"outcome": moved.String()})
			}
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not refundable").
				WithDetails(map[string]any{"status": order.Status})
		}

		if order.ActivePaymentID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no captured payment")
		}
		payment, err = repo.FindPaymentByID(ctx, *order.ActivePaymentID)
		if err != nil {
			return notFoundOr(err, "payment not found", "load payment")
		}
		if payment.Status != enums.PaymentStatusSuccess {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no captured payment").
				WithDetails(map[string]any{"payment_status": payment.Status})
		}

		var clientNo string
		if key := strings.TrimSpace(input.ClientRefundNo); key != "" {
			clientNo = clientRefundNo(payment.ID, refundKindManual, key)
			prior, err := repo.FindRefundByClientNo(ctx, clientNo)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund by client number")
			}
			if prior != nil {
				refund = prior
				existing = true
				return nil
			}
		}
		inFlight, err := repo.ExistsRefundInProgressOrSuccess(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check refunds")
		}
		if inFlight {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund already in progress or completed")
		}

		amount := order.PayAmount
		if input.Amount != nil {
			amount = *input.Amount
		}
		if amount <= 0 || amount > payment.Amount {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund amount out of range").
				WithDetails(map[string]any{"amount": amount, "max": payment.Amount})
		}

		refundNo := newRefundNo()
		if clientNo == "" {
			clientNo = clientRefundNo(payment.ID, refundKindManual, refundNo)
		}
		refund = &models.PaymentRefund{
			RefundNo:       refundNo,
			OrderID:        order.ID,
			PaymentOrderID: payment.ID,
			ClientRefundNo: clientNo,
			Amount:         amount,
			ItemsAmount:    amount,
			Currency:       payment.Currency,
			Status:         enums.RefundStatusInit,
			ReasonCode:     input.ReasonCode,
			Initiator:      input.Initiator,
		}
		if amount == order.PayAmount {
			refund.ShippingAmount = order.ShippingAmount
			refund.ItemsAmount = amount - order.ShippingAmount
		}
		if reason := strings.TrimSpace(input.Reason); reason != "" {
			refund.ReasonText = &reason
		}
		if err := repo.CreateRefund(ctx, refund); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "refund already in progress or completed")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
		}
		return s.emitRefundChange(ctx, tx, refund, "", actorSource(actor.Source, input.ActorID))
	})
	if err != nil {
		return nil, wrapDependency(err, "confirm refund")
	}
	if existing && (refund.ExternalRefundID != nil || !refund.Status.IsOpen()) {
		return refund, nil
	}
	return s.executeRefund(ctx, refund, payment, actor.Source)
}

// refundDivertedCapture returns money captured for an attempt that could not
// pay its order (late, duplicate or closed-order capture).
func (s *Service) refundDivertedCapture(ctx context.Context, payment models.PaymentOrder, captureID string) (*models.PaymentRefund, error) {
	clientNo := clientRefundNo(payment.ID, refundKindLate, captureID)
	refund, err := s.repo.FindRefundByClientNo(ctx, clientNo)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load late refund")
	}
	if refund != nil {
		if !refund.Status.IsOpen() || refund.ExternalRefundID != nil {
			return refund, nil
		}
		return s.executeRefund(ctx, refund, &payment, enums.EventSourceSystem)
	}

	reason := "capture arrived after the order could no longer be paid"
	refund = &models.PaymentRefund{
		RefundNo:       newRefundNo(),
		OrderID:        payment.OrderID,
		PaymentOrderID: payment.ID,
		ClientRefundNo: clientNo,
		Amount:         payment.Amount,
		ItemsAmount:    payment.Amount,
		Currency:       payment.Currency,
		Status:         enums.RefundStatusInit,
		ReasonCode:     enums.RefundReasonLatePayment,
		ReasonText:     &reason,
		Initiator:      enums.RefundInitiatorSystem,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateRefund(ctx, refund); err != nil {
			return err
		}
		return s.emitRefundChange(ctx, tx, refund, "", actorSource(enums.EventSourceSystem, nil))
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return s.refundDivertedCapture(ctx, payment, captureID)
		}
		return nil, wrapDependency(err, "create late refund")
	}
	return s.executeRefund(ctx, refund, &payment, enums.EventSourceSystem)
}

// executeRefund calls the gateway with the client refund number as the
// idempotency key, stores the provider id and applies the mapped status.
func (s *Service) executeRefund(ctx context.Context, refund *models.PaymentRefund, payment *models.PaymentOrder, source enums.EventSource) (*models.PaymentRefund, error) {
	if payment.ExternalID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConsistency, "captured payment has no external id").
			WithDetails(map[string]any{"payment_id": payment.ID})
	}
	resp, err := s.gateway.RefundPayment(ctx, RefundPaymentRequest{
		IdempotencyKey: refund.ClientRefundNo,
		PaymentID:      *payment.ExternalID,
		Amount:         refund.Amount,
		Currency:       refund.Currency,
		Reason:         string(refund.ReasonCode),
	})
	if err != nil {
		return nil, wrapDependency(err, "gateway refund")
	}

	if resp.ID != "" {
		if _, err := s.repo.BindRefundExternalID(ctx, refund.ID, resp.ID); err != nil {
			if !dbpkg.IsUniqueViolation(err, "") {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind external refund id")
			}
		}
	}
	status := MapRefundStatus(resp.Status)
	if _, err := s.ApplyRefundResult(ctx, RefundResult{
		RefundID:   refund.ID,
		Status:     status,
		RawPayload: resp.RawResponse,
		Source:     source,
		Response:   true,
	}); err != nil {
		return nil, err
	}

	if status == enums.RefundStatusPending {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			order, err := s.orders.LockByIDTx(ctx, tx, refund.OrderID)
			if err != nil {
				return err
			}
			return s.orders.AppendNoteTx(ctx, tx, order, orders.Actor{Source: source, Ref: refund.RefundNo}, "refund initiated")
		})
		if err != nil {
			return nil, wrapDependency(err, "record refund initiated")
		}
	}

	fresh, err := s.repo.FindRefundByID(ctx, refund.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload refund")
	}
	return fresh, nil
}

// RefundResult is a refund status report from the gateway response, a webhook
// or the sync job.
type RefundResult struct {
	RefundID   uuid.UUID
	Status     enums.RefundStatus
	RawPayload string
	Source     enums.EventSource
	// Response marks RawPayload as a direct gateway response rather than a notification.
	Response bool
}

// ApplyRefundResult moves an open refund to PENDING, SUCCESS or FAIL. SUCCESS
// closes the captured payment and completes the order refund, which restocks.
func (s *Service) ApplyRefundResult(ctx context.Context, result RefundResult) (outcome.Outcome, error) {
	if result.Source == "" {
		result.Source = enums.EventSourcePaymentCallback
	}
	applied := outcome.NoOp()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		refund, err := repo.FindRefundByID(ctx, result.RefundID)
		if err != nil {
			return notFoundOr(err, "refund not found", "load refund")
		}
		order, err := s.orders.LockByIDTx(ctx, tx, refund.OrderID)
		if err != nil {
			return err
		}
		refund, err = repo.FindRefundByID(ctx, result.RefundID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload refund")
		}

		extra := map[string]any{}
		if result.RawPayload != "" {
			if result.Response {
				extra["response_payload"] = result.RawPayload
			} else {
				extra["notify_payload"] = result.RawPayload
				extra["last_notified_at"] = s.now().UTC()
			}
		}

		if result.Status == refund.Status || result.Status == enums.RefundStatusInit {
			return nil
		}
		if err := RefundTransition(refund.Status, result.Status); err != nil {
			applied = outcome.Rejected("%s", err.Error())
			return nil
		}
		swapped, err := repo.CompareAndSetRefundStatus(ctx, refund.ID, []enums.RefundStatus{refund.Status}, result.Status, extra)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update refund status")
		}
		if !swapped {
			return nil
		}
		from := refund.Status
		refund.Status = result.Status
		if err := s.emitRefundChange(ctx, tx, refund, from, actorSource(result.Source, nil)); err != nil {
			return err
		}

		actor := orders.Actor{Source: result.Source, Ref: refund.RefundNo}
		switch result.Status {
		case enums.RefundStatusSuccess:
			if err := s.settleRefundTx(ctx, tx, order, refund, actor); err != nil {
				return err
			}
		case enums.RefundStatusFail:
			if err := s.orders.AppendNoteTx(ctx, tx, order, actor, "refund failed"); err != nil {
				return err
			}
			s.logg.Warn(s.logg.WithOrderNo(ctx, order.OrderNo), "refund failed at gateway, order left for follow-up")
		}
		applied = outcome.Applied()
		return nil
	})
	if err != nil {
		return outcome.Outcome{}, wrapDependency(err, "apply refund result")
	}
	return applied, nil
}

// settleRefundTx closes the captured payment and completes the order refund.
// Refunds of diverted captures only leave a note since the order was never
// paid by that attempt.
func (s *Service) settleRefundTx(ctx context.Context, tx *gorm.DB, order *models.Order, refund *models.PaymentRefund, actor orders.Actor) error {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindPaymentByID(ctx, refund.PaymentOrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refunded payment")
	}
	if payment.Status != enums.PaymentStatusSuccess {
		return s.orders.AppendNoteTx(ctx, tx, order, actor, "diverted capture refunded")
	}
	closed, err := repo.ClosePayment(ctx, payment.ID, []enums.PaymentStatus{enums.PaymentStatusSuccess})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close refunded payment")
	}
	if !closed {
		return nil
	}
	payment.Status = enums.PaymentStatusClosed
	if err := s.emitPaymentChange(ctx, tx, payment, enums.PaymentStatusSuccess, actorSource(actor.Source, nil)); err != nil {
		return err
	}

	if order.Status == enums.OrderStatusPaid || order.Status == enums.OrderStatusFulfilled {
		if _, err := s.orders.RequestRefundTx(ctx, tx, order, actor, "refund completed at gateway"); err != nil {
			return err
		}
	}
	confirmed, err := s.orders.ConfirmRefundTx(ctx, tx, order, actor)
	if err != nil {
		return err
	}
	if confirmed.IsRejected() {
		s.logg.Warn(s.logg.WithOrderNo(ctx, order.OrderNo), "refund settled but order did not move: "+confirmed.String())
	}
	if order.ActivePaymentID != nil && *order.ActivePaymentID == payment.ID {
		success := enums.PaymentStatusSuccess
		if _, err := s.orders.MirrorPayStatusTx(ctx, tx, order, orders.PayMirror{
			Status:         enums.PaymentStatusClosed,
			ExpectedStatus: &success,
		}); err != nil {
			return err
		}
	}
	return nil
}

// GetRefundTargetForWebhook finds the refund row a provider refund belongs to:
// by external id, else the newest unbound open refund of the payment, else a
// new SYSTEM refund row.
func (s *Service) GetRefundTargetForWebhook(ctx context.Context, paymentOrderID uuid.UUID, externalRefundID string, amount int64, currency enums.Currency) (*models.PaymentRefund, error) {
	externalRefundID = strings.TrimSpace(externalRefundID)
	if externalRefundID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external refund id required")
	}
	if refund, err := s.findRefundByExternalID(ctx, externalRefundID); err != nil || refund != nil {
		return refund, err
	}

	open, err := s.repo.FindOpenRefund(ctx, paymentOrderID, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open refund")
	}
	if open != nil {
		bound, err := s.repo.BindRefundExternalID(ctx, open.ID, externalRefundID)
		if err != nil && !dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind external refund id")
		}
		if bound {
			open.ExternalRefundID = &externalRefundID
			return open, nil
		}
		if refund, err := s.findRefundByExternalID(ctx, externalRefundID); err != nil || refund != nil {
			return refund, err
		}
	}

	payment, err := s.repo.FindPaymentByID(ctx, paymentOrderID)
	if err != nil {
		return nil, notFoundOr(err, "payment not found", "load payment")
	}
	if currency == "" {
		currency = payment.Currency
	}
	if amount > payment.Amount {
		consistency := pkgerrors.New(pkgerrors.CodeConsistency, "provider refund exceeds captured amount").
			WithDetails(map[string]any{"amount": amount, "captured": payment.Amount, "external_refund_id": externalRefundID})
		s.logg.Alert(s.logg.WithPaymentID(ctx, payment.ID.String()), "provider refund exceeds captured amount", consistency)
	}
	if amount <= 0 || amount > payment.Amount {
		amount = payment.Amount
	}
	refund := &models.PaymentRefund{
		RefundNo:         newRefundNo(),
		OrderID:          payment.OrderID,
		PaymentOrderID:   payment.ID,
		ExternalRefundID: &externalRefundID,
		ClientRefundNo:   clientRefundNo(payment.ID, refundKindWebhook, externalRefundID),
		Amount:           amount,
		ItemsAmount:      amount,
		Currency:         currency,
		Status:           enums.RefundStatusInit,
		ReasonCode:       enums.RefundReasonOther,
		Initiator:        enums.RefundInitiatorSystem,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateRefund(ctx, refund); err != nil {
			return err
		}
		return s.emitRefundChange(ctx, tx, refund, "", actorSource(enums.EventSourcePaymentCallback, nil))
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			if existing, findErr := s.findRefundByExternalID(ctx, externalRefundID); findErr != nil || existing != nil {
				return existing, findErr
			}
		}
		return nil, wrapDependency(err, "create webhook refund")
	}
	return refund, nil
}

func (s *Service) findRefundByExternalID(ctx context.Context, externalRefundID string) (*models.PaymentRefund, error) {
	refund, err := s.repo.FindRefundByExternalID(ctx, externalRefundID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund by external id")
	}
	return refund, nil
}

// ExistsRefundInProgressOrSuccess reports whether the payment already has a live or completed refund.
func (s *Service) ExistsRefundInProgressOrSuccess(ctx context.Context, paymentOrderID uuid.UUID) (bool, error) {
	exists, err := s.repo.ExistsRefundInProgressOrSuccess(ctx, paymentOrderID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check refunds")
	}
	return exists, nil
}

// ExistsRefundDedupeKey reports whether a client refund number was already used.
func (s *Service) ExistsRefundDedupeKey(ctx context.Context, clientRefundNo string) (bool, error) {
	exists, err := s.repo.ExistsRefundByClientNo(ctx, clientRefundNo)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check refund key")
	}
	return exists, nil
}

func (s *Service) emitRefundChange(ctx context.Context, tx *gorm.DB, refund *models.PaymentRefund, from enums.RefundStatus, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundStatusChanged,
		AggregateType: enums.AggregatePaymentRefund,
		AggregateID:   refund.ID,
		Actor:         actor,
		Data: payloads.RefundStatusChangedEvent{
			RefundID:   refund.ID,
			RefundNo:   refund.RefundNo,
			PaymentID:  refund.PaymentOrderID,
			OrderID:    refund.OrderID,
			FromStatus: from,
			ToStatus:   refund.Status,
			Amount:     refund.Amount,
			Currency:   refund.Currency,
		},
	})
}

func initiatorSource(initiator enums.RefundInitiator) enums.EventSource {
	switch initiator {
	case enums.RefundInitiatorUser:
		return enums.EventSourceUser
	case enums.RefundInitiatorSystem:
		return enums.EventSourceSystem
	default:
		return enums.EventSourceAdmin
	}
}
