package payments

import (
	"context"
	"fmt"

	"github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var closableStatuses = []enums.PaymentStatus{
	enums.PaymentStatusNone,
	enums.PaymentStatusInit,
	enums.PaymentStatusPending,
}

// AttemptCloser moves payment attempts to CLOSED and emits one
// payment.status_changed event per closed row. It needs no gateway, so
// binaries without a Square client can still hand it to the order machine.
type AttemptCloser struct {
	repo   Repository
	outbox outboxEmitter
}

func NewAttemptCloser(repo Repository, emitter outboxEmitter) (*AttemptCloser, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &AttemptCloser{repo: repo, outbox: emitter}, nil
}

// CloseOpenPaymentsTx closes the placeholder and every open attempt of an
// order. It returns how many rows this call closed.
func (c *AttemptCloser) CloseOpenPaymentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor orders.Actor) (int, error) {
	rows, err := c.repo.WithTx(tx).ListClosablePayments(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list closable payments")
	}
	ref := &outbox.ActorRef{Source: actor.Source, UserID: actor.UserID, Ref: actor.Ref}
	closed := 0
	for i := range rows {
		ok, err := c.closeTx(ctx, tx, &rows[i], closableStatuses, ref)
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	return closed, nil
}

// closeTx is a CAS from one of from to CLOSED. A lost race is not an error.
func (c *AttemptCloser) closeTx(ctx context.Context, tx *gorm.DB, payment *models.PaymentOrder, from []enums.PaymentStatus, actor *outbox.ActorRef) (bool, error) {
	closed, err := c.repo.WithTx(tx).ClosePayment(ctx, payment.ID, from)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close payment attempt")
	}
	if !closed {
		return false, nil
	}
	prev := payment.Status
	payment.Status = enums.PaymentStatusClosed
	if err := c.outbox.Emit(ctx, tx, paymentChangedEvent(payment, prev, actor)); err != nil {
		return false, err
	}
	return true, nil
}

func paymentChangedEvent(payment *models.PaymentOrder, from enums.PaymentStatus, actor *outbox.ActorRef) outbox.DomainEvent {
	data := payloads.PaymentStatusChangedEvent{
		PaymentID:  payment.ID,
		OrderID:    payment.OrderID,
		OrderNo:    payment.OrderNo,
		FromStatus: from,
		ToStatus:   payment.Status,
		Amount:     payment.Amount,
		Currency:   payment.Currency,
	}
	if payment.ExternalID != nil {
		data.ExternalID = *payment.ExternalID
	}
	return outbox.DomainEvent{
		EventType:     enums.EventPaymentStatusChanged,
		AggregateType: enums.AggregatePaymentOrder,
		AggregateID:   payment.ID,
		Actor:         actor,
		Data:          data,
	}
}
