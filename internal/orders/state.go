package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/inventory"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// applyTx runs one transition against an order row the caller has locked. The
// status CAS, the status log row, inventory effects and the outbox event all
// share tx.
func (s *Service) applyTx(ctx context.Context, tx *gorm.DB, order *models.Order, event Event, actor Actor, note string, extra map[string]any) (outcome.Outcome, error) {
	to, effect, err := Transition(order.Status, event)
	if err != nil {
		return outcome.Rejected("%s", err.Error()), nil
	}

	repo := s.repo.WithTx(tx)
	from := order.Status
	swapped, err := repo.CompareAndSetStatus(ctx, order.ID, from, to, extra)
	if err != nil {
		return outcome.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !swapped {
		return outcome.NoOp(), nil
	}

	if err := s.writeLog(ctx, repo, order.ID, &from, to, actor, note); err != nil {
		return outcome.Outcome{}, err
	}
	if effect.Has(EffectReleaseStock) || effect.Has(EffectRestockStock) {
		items, err := repo.FindItems(ctx, order.ID)
		if err != nil {
			return outcome.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
		}
		lines := inventory.LinesFromItems(items)
		if len(lines) > 0 {
			if effect.Has(EffectReleaseStock) {
				_, err = s.ledger.Release(ctx, tx, order.ID, lines)
			} else {
				_, err = s.ledger.Restock(ctx, tx, order.ID, lines)
			}
			if err != nil {
				return outcome.Outcome{}, err
			}
		}
	}
	if effect.Has(EffectCloseOpenPayments) {
		if _, err := s.payments.CloseOpenPaymentsTx(ctx, tx, order.ID, actor); err != nil {
			return outcome.Outcome{}, err
		}
		if order.PayStatus != enums.PaymentStatusSuccess {
			if _, err := s.MirrorPayStatusTx(ctx, tx, order, PayMirror{Status: enums.PaymentStatusClosed}); err != nil {
				return outcome.Outcome{}, err
			}
		}
	}

	order.Status = to
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, Source: actor.Source, Ref: actor.Ref},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			OrderNo:    order.OrderNo,
			FromStatus: from,
			ToStatus:   to,
			Source:     actor.Source,
			Note:       note,
		},
	}); err != nil {
		return outcome.Outcome{}, err
	}

	logCtx := s.logg.WithOrderNo(ctx, order.OrderNo)
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"from_status":  from,
		"to_status":    to,
		"event":        event,
		"event_source": actor.Source,
	})
	s.logg.Info(logCtx, "order status changed")
	return outcome.Applied(), nil
}

func (s *Service) writeLog(ctx context.Context, repo Repository, orderID uuid.UUID, from *enums.OrderStatus, to enums.OrderStatus, actor Actor, note string) error {
	entry := &models.OrderStatusLog{
		OrderID:     orderID,
		FromStatus:  from,
		ToStatus:    to,
		EventSource: actor.Source,
	}
	if actor.Ref != "" {
		ref := actor.Ref
		entry.SourceRef = &ref
	}
	if note != "" {
		n := note
		entry.Note = &n
	}
	if err := repo.AppendStatusLog(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order status log")
	}
	return nil
}

// runLocked opens a transaction, locks the order by number and hands it to fn.
func (s *Service) runLocked(ctx context.Context, orderNo string, fn func(tx *gorm.DB, order *models.Order) (outcome.Outcome, error)) (outcome.Outcome, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	var result outcome.Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LockByNoTx(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		result, err = fn(tx, order)
		return err
	})
	if err != nil {
		return outcome.Outcome{}, err
	}
	return result, nil
}

// rejectedAsConflict turns an illegal edge into the STATE_CONFLICT callers see.
func rejectedAsConflict(o outcome.Outcome, err error) (outcome.Outcome, error) {
	if err != nil {
		return o, err
	}
	if o.IsRejected() {
		return o, pkgerrors.New(pkgerrors.CodeStateConflict, "order transition not allowed").
			WithDetails(map[string]any{"reason": o.Reason})
	}
	return o, nil
}

// LockByNoTx reads the order row with FOR UPDATE.
func (s *Service) LockByNoTx(ctx context.Context, tx *gorm.DB, orderNo string) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindByOrderNoForUpdate(ctx, orderNo)
	if err != nil {
		return nil, notFoundOr(err, "lock order")
	}
	return order, nil
}

// LockByIDTx reads the order row with FOR UPDATE.
func (s *Service) LockByIDTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "lock order")
	}
	return order, nil
}

// CancelByUser cancels an unpaid order owned by userID and releases its stock.
func (s *Service) CancelByUser(ctx context.Context, orderNo string, userID uuid.UUID, reason string) (outcome.Outcome, error) {
	return rejectedAsConflict(s.runLocked(ctx, orderNo, func(tx *gorm.DB, order *models.Order) (outcome.Outcome, error) {
		if order.UserID != userID {
			return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.PayStatus == enums.PaymentStatusSuccess {
			return outcome.Rejected("paid orders must be refunded"), nil
		}
		return s.applyTx(ctx, tx, order, EventCancel, userActor(userID), reason, s.cancelFields(reason))
	}))
}

// CancelUnpaid is the timeout path. Orders that were paid in the meantime are
// rejected so the caller can ack and move on.
func (s *Service) CancelUnpaid(ctx context.Context, orderNo string, reason string) (outcome.Outcome, error) {
	if reason == "" {
		reason = "payment timeout"
	}
	return rejectedAsConflict(s.runLocked(ctx, orderNo, func(tx *gorm.DB, order *models.Order) (outcome.Outcome, error) {
		if !order.Status.IsAwaitingPayment() || order.PayStatus == enums.PaymentStatusSuccess {
			return outcome.Rejected("order %s is no longer awaiting payment", order.Status), nil
		}
		actor := Actor{Source: enums.EventSourceScheduler, Ref: "order-timeout"}
		return s.applyTx(ctx, tx, order, EventCancel, actor, reason, s.cancelFields(reason))
	}))
}

func (s *Service) cancelFields(reason string) map[string]any {
	fields := map[string]any{"cancel_time": s.now().UTC()}
	if reason != "" {
		fields["cancel_reason"] = reason
	}
	return fields
}

// RequestRefund moves a paid order owned by userID to REFUNDING.
func (s *Service) RequestRefund(ctx context.Context, orderNo string, userID uuid.UUID, reason string) (outcome.Outcome, error) {
	return rejectedAsConflict(s.runLocked(ctx, orderNo, func(tx *gorm.DB, order *models.Order) (outcome.Outcome, error) {
		if order.UserID != userID {
			return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return s.RequestRefundTx(ctx, tx, order, userActor(userID), reason)
	}))
}

// RequestRefundTx is the in-transaction form used by admin and system refunds.
func (s *Service) RequestRefundTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, reason string) (outcome.Outcome, error) {
	var extra map[string]any
	if reason != "" {
		extra = map[string]any{"refund_reason": reason}
	}
	return s.applyTx(ctx, tx, order, EventRequestRefund, actor, "refund requested", extra)
}

// ConfirmRefundTx moves REFUNDING to REFUNDED and restocks the items.
func (s *Service) ConfirmRefundTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor) (outcome.Outcome, error) {
	return s.applyTx(ctx, tx, order, EventConfirmRefund, actor, "refund succeeded", nil)
}

// AwaitPaymentTx records that a payment attempt was opened for the order.
func (s *Service) AwaitPaymentTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, note string) (outcome.Outcome, error) {
	return s.applyTx(ctx, tx, order, EventAwaitPayment, actor, note, nil)
}

// MarkPaidTx advances CREATED/PENDING_PAYMENT to PAID. Only the first capture
// success gets Applied; later ones see NoOp or Rejected.
func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, paidAt time.Time) (outcome.Outcome, error) {
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}
	return s.applyTx(ctx, tx, order, EventMarkPaid, actor, "payment captured", map[string]any{"pay_time": paidAt})
}

// MarkFulfilled opens its own transaction; see MarkFulfilledTx.
func (s *Service) MarkFulfilled(ctx context.Context, orderID uuid.UUID, actor Actor) (outcome.Outcome, error) {
	var result outcome.Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.MarkFulfilledTx(ctx, tx, orderID, actor)
		return err
	})
	return result, err
}

// MarkFulfilledTx moves PAID to FULFILLED. Any other status is left alone.
func (s *Service) MarkFulfilledTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor Actor) (outcome.Outcome, error) {
	order, err := s.LockByIDTx(ctx, tx, orderID)
	if err != nil {
		return outcome.Outcome{}, err
	}
	if order.Status != enums.OrderStatusPaid {
		return outcome.NoOp(), nil
	}
	return s.applyTx(ctx, tx, order, EventMarkFulfilled, actor, "delivered", nil)
}

// Close is the admin close. Unpaid orders release their stock.
func (s *Service) Close(ctx context.Context, orderNo string, adminID uuid.UUID, note string) (outcome.Outcome, error) {
	if note == "" {
		note = "closed by admin"
	}
	actor := Actor{Source: enums.EventSourceAdmin, UserID: &adminID}
	return rejectedAsConflict(s.runLocked(ctx, orderNo, func(tx *gorm.DB, order *models.Order) (outcome.Outcome, error) {
		if order.PayStatus == enums.PaymentStatusSuccess && order.Status.IsAwaitingPayment() {
			return outcome.Rejected("order has a captured payment"), nil
		}
		return s.applyTx(ctx, tx, order, EventClose, actor, note, nil)
	}))
}

// Delete soft-deletes a finished order. Users may only delete their own.
func (s *Service) Delete(ctx context.Context, orderNo string, actor Actor) (outcome.Outcome, error) {
	if actor.Source != enums.EventSourceUser && actor.Source != enums.EventSourceAdmin {
		return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeForbidden, "only users and admins may delete orders")
	}
	return rejectedAsConflict(s.runLocked(ctx, orderNo, func(tx *gorm.DB, order *models.Order) (outcome.Outcome, error) {
		if actor.Source == enums.EventSourceUser && (actor.UserID == nil || *actor.UserID != order.UserID) {
			return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return s.applyTx(ctx, tx, order, EventDelete, actor, "deleted", nil)
	}))
}

// AppendNoteTx records a from=to audit row without changing status.
func (s *Service) AppendNoteTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, note string) error {
	status := order.Status
	return s.writeLog(ctx, s.repo.WithTx(tx), order.ID, &status, status, actor, note)
}

// PayMirror is the projection of a payment attempt onto its order.
type PayMirror struct {
	Status          enums.PaymentStatus
	Channel         *enums.PaymentChannel
	ExternalID      *string
	ActivePaymentID *uuid.UUID
	// ExpectedStatus makes the write a CAS on pay_status. When nil the write
	// is only guarded against overwriting SUCCESS.
	ExpectedStatus *enums.PaymentStatus
}

// MirrorPayStatusTx is the only writer of orders.pay_status.
func (s *Service) MirrorPayStatusTx(ctx context.Context, tx *gorm.DB, order *models.Order, mirror PayMirror) (bool, error) {
	if !mirror.Status.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid pay status")
	}
	updates := map[string]any{"pay_status": mirror.Status}
	if mirror.Channel != nil {
		updates["pay_channel"] = *mirror.Channel
	}
	if mirror.ExternalID != nil {
		updates["payment_external_id"] = *mirror.ExternalID
	}
	if mirror.ActivePaymentID != nil {
		updates["active_payment_id"] = *mirror.ActivePaymentID
	}
	updated, err := s.repo.WithTx(tx).UpdatePayMirror(ctx, order.ID, updates, mirror.ExpectedStatus)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mirror pay status")
	}
	if updated {
		order.PayStatus = mirror.Status
		if mirror.Channel != nil {
			order.PayChannel = *mirror.Channel
		}
		if mirror.ExternalID != nil {
			order.PaymentExternalID = mirror.ExternalID
		}
		if mirror.ActivePaymentID != nil {
			order.ActivePaymentID = mirror.ActivePaymentID
		}
	}
	return updated, nil
}

// IsStateConflict reports whether err is an illegal-transition error.
func IsStateConflict(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeStateConflict)
}

// IsNotFound reports whether err means the order does not exist.
func IsNotFound(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
