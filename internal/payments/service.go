package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	"github.com/angelmondragon/intlshop-backend/internal/orders"
	dbpkg "github.com/angelmondragon/intlshop-backend/pkg/db"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultReplayTTL = 96 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type webhookGate interface {
	KeyFor(namespace string, rawBody []byte) string
	Guard(ctx context.Context, key string, replayTTL time.Duration, fn func(ctx context.Context) error) (dedupe.Result, error)
}

type ServiceParams struct {
	Repository      Repository
	Tx              txRunner
	Orders          OrderMachine
	Gateway         Gateway
	Outbox          outboxEmitter
	Gate            webhookGate
	Logger          *logger.Logger
	NotificationURL string
	ReplayTTL       time.Duration
	Now             func() time.Time
}

// Service is the payment state machine. It owns payment_orders and
// payment_refunds and drives the order machine for pay-side transitions.
type Service struct {
	repo            Repository
	tx              txRunner
	orders          OrderMachine
	gateway         Gateway
	outbox          outboxEmitter
	gate            webhookGate
	closer          *AttemptCloser
	logg            *logger.Logger
	notificationURL string
	replayTTL       time.Duration
	now             func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order machine required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("webhook dedupe gate required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	replayTTL := params.ReplayTTL
	if replayTTL <= 0 {
		replayTTL = defaultReplayTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	closer, err := NewAttemptCloser(params.Repository, params.Outbox)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:            params.Repository,
		closer:          closer,
		tx:              params.Tx,
		orders:          params.Orders,
		gateway:         params.Gateway,
		outbox:          params.Outbox,
		gate:            params.Gate,
		logg:            params.Logger,
		notificationURL: strings.TrimSpace(params.NotificationURL),
		replayTTL:       replayTTL,
		now:             now,
	}, nil
}

// CheckoutInput opens or reuses a payment attempt for an order.
type CheckoutInput struct {
	OrderNo  string
	UserID   uuid.UUID
	Channel  enums.PaymentChannel
	SourceID string
}

// PreparePaymentCheckout picks the attempt the user will pay with and mirrors
// it onto the order. Every other open attempt of the order is closed.
func (s *Service) PreparePaymentCheckout(ctx context.Context, orderNo string, userID uuid.UUID, channel enums.PaymentChannel) (*models.PaymentOrder, error) {
	if channel == "" || channel == enums.PaymentChannelNone {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment channel required")
	}
	if _, err := s.orders.FindOrderForUser(ctx, orderNo, userID); err != nil {
		return nil, err
	}

	var chosen *models.PaymentOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.orders.LockByNoTx(ctx, tx, orderNo)
		if err != nil {
			return err
		}
		if !order.Status.IsAwaitingPayment() || order.PayStatus == enums.PaymentStatusSuccess {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable").
				WithDetails(map[string]any{"status": order.Status, "pay_status": order.PayStatus})
		}

		var active *models.PaymentOrder
		if order.ActivePaymentID != nil {
			active, err = repo.FindPaymentByID(ctx, *order.ActivePaymentID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active payment")
			}
		}

		switch {
		case active != nil && active.Channel == channel && active.Status.IsOpen():
			chosen = active
		case active != nil && active.Status == enums.PaymentStatusNone:
			activated, err := repo.ActivatePlaceholder(ctx, active.ID, channel, nil)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate placeholder payment")
			}
			if activated {
				from := active.Status
				active.Status = enums.PaymentStatusInit
				active.Channel = channel
				if err := s.emitPaymentChange(ctx, tx, active, from, actorSource(enums.EventSourceUser, &userID)); err != nil {
					return err
				}
				chosen = active
			}
		}
		if chosen == nil {
			if active != nil {
				if err := s.closeAttemptTx(ctx, tx, active, []enums.PaymentStatus{enums.PaymentStatusNone, enums.PaymentStatusInit, enums.PaymentStatusPending}, actorSource(enums.EventSourceUser, &userID)); err != nil {
					return err
				}
			}
			chosen = &models.PaymentOrder{
				OrderID:  order.ID,
				OrderNo:  order.OrderNo,
				UserID:   order.UserID,
				Channel:  channel,
				Amount:   order.PayAmount,
				Currency: order.Currency,
				Status:   enums.PaymentStatusInit,
			}
			if err := repo.CreatePayment(ctx, chosen); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment attempt")
			}
			if err := s.emitPaymentChange(ctx, tx, chosen, enums.PaymentStatusNone, actorSource(enums.EventSourceUser, &userID)); err != nil {
				return err
			}
		}

		open, err := repo.ListOpenPayments(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open payments")
		}
		for i := range open {
			if open[i].ID == chosen.ID {
				continue
			}
			if err := s.closeAttemptTx(ctx, tx, &open[i], []enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}, actorSource(enums.EventSourceUser, &userID)); err != nil {
				return err
			}
		}

		payStatus := enums.PaymentStatusInit
		if chosen.ExternalID != nil {
			payStatus = enums.PaymentStatusPending
		}
		mirror := orders.PayMirror{
			Status:          payStatus,
			Channel:         &chosen.Channel,
			ExternalID:      chosen.ExternalID,
			ActivePaymentID: &chosen.ID,
		}
		if _, err := s.orders.MirrorPayStatusTx(ctx, tx, order, mirror); err != nil {
			return err
		}
		result, err := s.orders.AwaitPaymentTx(ctx, tx, order, orders.Actor{Source: enums.EventSourceUser, Ref: chosen.ID.String(), UserID: &userID}, "payment created")
		if err != nil {
			return err
		}
		if result.IsRejected() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not payable").
				WithDetails(map[string]any{"reason": result.Reason})
		}
		return nil
	})
	if err != nil {
		return nil, wrapDependency(err, "prepare checkout")
	}

	logCtx := s.logg.WithPaymentID(s.logg.WithOrderNo(ctx, orderNo), chosen.ID.String())
	s.logg.Info(s.logg.WithField(logCtx, "channel", chosen.Channel), "payment checkout prepared")
	return chosen, nil
}

// CreateGatewayOrder prepares the checkout, creates the provider payment and
// binds its id. The payment id is the provider idempotency key so a retried
// checkout never creates a second provider payment.
func (s *Service) CreateGatewayOrder(ctx context.Context, input CheckoutInput) (*models.PaymentOrder, error) {
	if strings.TrimSpace(input.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source required")
	}
	payment, err := s.PreparePaymentCheckout(ctx, input.OrderNo, input.UserID, input.Channel)
	if err != nil {
		return nil, err
	}
	if payment.ExternalID != nil {
		return payment, nil
	}

	created, err := s.gateway.CreatePayment(ctx, CreatePaymentRequest{
		IdempotencyKey: payment.ID.String(),
		ReferenceID:    payment.ID.String(),
		SourceID:       strings.TrimSpace(input.SourceID),
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		OrderNo:        payment.OrderNo,
		Note:           "order " + payment.OrderNo,
	})
	if err != nil {
		return nil, wrapDependency(err, "create gateway payment")
	}

	if _, err := s.BindGatewayOrder(ctx, payment.ID, created.ID); err != nil {
		return nil, err
	}

	switch created.Status {
	case GatewayPaymentCompleted, GatewayPaymentFailed:
		if _, err := s.ApplyCaptureResult(ctx, captureFromGateway(payment.ID, created, enums.EventSourceUser, s.now())); err != nil {
			return nil, err
		}
	}

	fresh, err := s.repo.FindPaymentByID(ctx, payment.ID)
	if err != nil {
		return nil, wrapDependency(err, "reload payment")
	}
	return fresh, nil
}

// BindGatewayOrder records the provider id on an open attempt exactly once.
func (s *Service) BindGatewayOrder(ctx context.Context, paymentID uuid.UUID, externalID string) (outcome.Outcome, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "external payment id required")
	}
	var result outcome.Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindPaymentByID(ctx, paymentID)
		if err != nil {
			return notFoundOr(err, "payment not found", "load payment")
		}
		order, err := s.orders.LockByIDTx(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		bound, err := repo.BindExternalID(ctx, payment.ID, externalID)
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "external payment id already bound to another attempt")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind external payment id")
		}
		if !bound {
			current, err := repo.FindPaymentByID(ctx, payment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
			}
			switch {
			case current.ExternalID != nil && *current.ExternalID == externalID:
				result = outcome.NoOp()
				return nil
			case current.ExternalID != nil:
				return pkgerrors.New(pkgerrors.CodeConflict, "payment already bound to a different external id").
					WithDetails(map[string]any{"payment_id": payment.ID})
			default:
				return pkgerrors.New(pkgerrors.CodeStateConflict, "payment attempt is not open").
					WithDetails(map[string]any{"status": current.Status})
			}
		}

		from := payment.Status
		payment.Status = enums.PaymentStatusPending
		payment.ExternalID = &externalID
		if from != payment.Status {
			if err := s.emitPaymentChange(ctx, tx, payment, from, actorSource(enums.EventSourceSystem, nil)); err != nil {
				return err
			}
		}
		if order.ActivePaymentID != nil && *order.ActivePaymentID == payment.ID {
			if _, err := s.orders.MirrorPayStatusTx(ctx, tx, order, orders.PayMirror{
				Status:     enums.PaymentStatusPending,
				ExternalID: &externalID,
			}); err != nil {
				return err
			}
		}
		result = outcome.Applied()
		return nil
	})
	if err != nil {
		return outcome.Outcome{}, wrapDependency(err, "bind gateway order")
	}
	return result, nil
}

// Capture completes an approved authorization on behalf of the order owner.
func (s *Service) Capture(ctx context.Context, orderNo string, userID uuid.UUID) (outcome.Outcome, error) {
	order, err := s.orders.FindOrderForUser(ctx, orderNo, userID)
	if err != nil {
		return outcome.Outcome{}, err
	}
	if order.ActivePaymentID == nil {
		return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment attempt")
	}
	payment, err := s.repo.FindPaymentByID(ctx, *order.ActivePaymentID)
	if err != nil {
		return outcome.Outcome{}, notFoundOr(err, "payment not found", "load payment")
	}
	if payment.Status == enums.PaymentStatusSuccess {
		return outcome.NoOp(), nil
	}
	if payment.ExternalID == nil {
		return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeStateConflict, "payment not created at gateway")
	}

	completed, err := s.gateway.CompletePayment(ctx, *payment.ExternalID)
	if err != nil {
		return outcome.Outcome{}, wrapDependency(err, "complete gateway payment")
	}
	switch completed.Status {
	case GatewayPaymentCompleted, GatewayPaymentFailed:
		return s.ApplyCaptureResult(ctx, captureFromGateway(payment.ID, completed, enums.EventSourceUser, s.now()))
	case GatewayPaymentCanceled:
		return s.ClosePayment(ctx, payment.ID, enums.EventSourceUser, completed.RawResponse)
	default:
		return outcome.NoOp(), nil
	}
}

// RequestRefund moves the order to REFUNDING for its owner. Money moves on ConfirmRefund.
func (s *Service) RequestRefund(ctx context.Context, orderNo string, userID uuid.UUID, reason string) (outcome.Outcome, error) {
	return s.orders.RequestRefund(ctx, orderNo, userID, reason)
}

// ClosePayment closes an open attempt the provider reported as canceled.
func (s *Service) ClosePayment(ctx context.Context, paymentID uuid.UUID, source enums.EventSource, rawPayload string) (outcome.Outcome, error) {
	result := outcome.NoOp()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindPaymentByID(ctx, paymentID)
		if err != nil {
			return notFoundOr(err, "payment not found", "load payment")
		}
		order, err := s.orders.LockByIDTx(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if rawPayload != "" {
			if err := repo.TouchPaymentNotified(ctx, payment.ID, &rawPayload, s.now().UTC()); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment notification")
			}
		}
		if !payment.Status.IsOpen() {
			return nil
		}
		before := *payment
		if err := s.closeAttemptTx(ctx, tx, payment, []enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}, actorSource(source, nil)); err != nil {
			return err
		}
		if payment.Status == before.Status {
			return nil
		}
		if order.ActivePaymentID != nil && *order.ActivePaymentID == payment.ID {
			if _, err := s.orders.MirrorPayStatusTx(ctx, tx, order, orders.PayMirror{Status: enums.PaymentStatusClosed}); err != nil {
				return err
			}
		}
		result = outcome.Applied()
		return nil
	})
	if err != nil {
		return outcome.Outcome{}, wrapDependency(err, "close payment")
	}
	return result, nil
}

func (s *Service) closeAttemptTx(ctx context.Context, tx *gorm.DB, payment *models.PaymentOrder, from []enums.PaymentStatus, actor *outbox.ActorRef) error {
	_, err := s.closer.closeTx(ctx, tx, payment, from, actor)
	return err
}

func (s *Service) emitPaymentChange(ctx context.Context, tx *gorm.DB, payment *models.PaymentOrder, from enums.PaymentStatus, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, paymentChangedEvent(payment, from, actor))
}

func actorSource(source enums.EventSource, userID *uuid.UUID) *outbox.ActorRef {
	return &outbox.ActorRef{Source: source, UserID: userID}
}

func notFoundOr(err error, notFoundMsg, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

// wrapDependency keeps typed errors and wraps everything else as DEPENDENCY_ERROR.
func wrapDependency(err error, msg string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
