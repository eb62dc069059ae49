package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/intlshop-backend/api/middleware"
	"github.com/angelmondragon/intlshop-backend/api/responses"
	"github.com/angelmondragon/intlshop-backend/api/validators"
	internalorders "github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/internal/payments"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
)

// OrderService is the part of the order state machine the HTTP layer drives.
type OrderService interface {
	CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error)
	FindOrderByNo(ctx context.Context, orderNo string) (*models.Order, error)
	FindOrderForUser(ctx context.Context, orderNo string, userID uuid.UUID) (*models.Order, error)
	CancelByUser(ctx context.Context, orderNo string, userID uuid.UUID, reason string) (outcome.Outcome, error)
	ChangeAddress(ctx context.Context, orderNo string, userID uuid.UUID, address types.Address) (*models.Order, error)
	Close(ctx context.Context, orderNo string, adminID uuid.UUID, note string) (outcome.Outcome, error)
}

// PaymentService is the part of the payment state machine the HTTP layer drives.
type PaymentService interface {
	CreateGatewayOrder(ctx context.Context, input payments.CheckoutInput) (*models.PaymentOrder, error)
	Capture(ctx context.Context, orderNo string, userID uuid.UUID) (outcome.Outcome, error)
	RequestRefund(ctx context.Context, orderNo string, userID uuid.UUID, reason string) (outcome.Outcome, error)
	ConfirmRefund(ctx context.Context, input payments.ConfirmRefundInput) (*models.PaymentRefund, error)
}

// Create places an order for the caller. The Idempotency-Key header doubles
// as the order's creation key.
func Create(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := req.toInput(userID, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalorders.NewOrderView(order))
	}
}

// Detail returns an order owned by the caller.
func Detail(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		order, err := svc.FindOrderForUser(r.Context(), orderNo, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(order))
	}
}

// Cancel cancels an unpaid order and releases its stock.
func Cancel(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		var req reasonRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(req.Reason, maxReasonLen)
		if reason == "" {
			reason = "cancelled by user"
		}
		result, err := svc.CancelByUser(r.Context(), orderNo, userID, reason)
		writeOutcome(w, r, logg, orderNo, result, err)
	}
}

// ChangeAddress replaces the shipping address once per order.
func ChangeAddress(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		var address types.Address
		if err := validators.DecodeJSONBody(r, &address); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.ChangeAddress(r.Context(), orderNo, userID, address)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(order))
	}
}

// Checkout creates the gateway payment for the order's active attempt.
func Checkout(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		channel, err := enums.ParsePaymentChannel(strings.ToUpper(strings.TrimSpace(req.Channel)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment channel"))
			return
		}

		payment, err := svc.CreateGatewayOrder(r.Context(), payments.CheckoutInput{
			OrderNo:  orderNo,
			UserID:   userID,
			Channel:  channel,
			SourceID: req.SourceID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payments.NewPaymentView(payment))
	}
}

// Capture completes an approved authorization.
func Capture(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		result, err := svc.Capture(r.Context(), orderNo, userID)
		writeOutcome(w, r, logg, orderNo, result, err)
	}
}

// RequestRefund moves a paid order to REFUNDING. An admin confirms the money movement.
func RequestRefund(svc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		var req reasonRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RequestRefund(r.Context(), orderNo, userID, validators.SanitizeString(req.Reason, maxReasonLen))
		writeOutcome(w, r, logg, orderNo, result, err)
	}
}

func requireUser(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id missing"))
		return uuid.Nil, false
	}
	return userID, true
}

func requireOrderNo(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (string, bool) {
	orderNo := strings.TrimSpace(chi.URLParam(r, "orderNo"))
	if orderNo == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order number is required"))
		return "", false
	}
	return orderNo, true
}

func writeOutcome(w http.ResponseWriter, r *http.Request, logg *logger.Logger, orderNo string, result outcome.Outcome, err error) {
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	if result.IsRejected() {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, result.Reason))
		return
	}
	kind := result.Kind
	if kind == "" {
		kind = outcome.KindNoOp
	}
	responses.WriteSuccess(w, outcomeResponse{OrderNo: orderNo, Result: string(kind)})
}
