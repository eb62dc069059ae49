package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/intlshop-backend/api/responses"
	"github.com/angelmondragon/intlshop-backend/api/validators"
	"github.com/angelmondragon/intlshop-backend/internal/payments"
	"github.com/angelmondragon/intlshop-backend/internal/shipments"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
)

type ShipmentService interface {
	CreateShipment(ctx context.Context, input shipments.CreateShipmentInput) (*models.Shipment, error)
}

// AdminConfirmRefund creates the refund and asks the gateway to move the money.
// A retried request with the same Idempotency-Key resumes its own refund.
func AdminConfirmRefund(ordersSvc OrderService, paymentsSvc PaymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		var req confirmRefundRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := payments.ConfirmRefundInput{
			OrderNo:        orderNo,
			Initiator:      enums.RefundInitiatorAdmin,
			ActorID:        &adminID,
			ReasonCode:     enums.RefundReasonCode(req.ReasonCode),
			Reason:         validators.SanitizeString(req.Reason, maxReasonLen),
			ClientRefundNo: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		}
		if input.ReasonCode == "" {
			input.ReasonCode = enums.RefundReasonCustomerRequest
		}
		if strings.TrimSpace(req.Amount) != "" {
			order, err := ordersSvc.FindOrderByNo(r.Context(), orderNo)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			amount, perr := minor(req.Amount, order.Currency, "amount")
			if perr != nil {
				responses.WriteError(r.Context(), logg, w, perr)
				return
			}
			input.Amount = &amount
		}

		refund, err := paymentsSvc.ConfirmRefund(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, payments.NewRefundView(refund))
	}
}

// AdminClose closes an order that will not proceed.
func AdminClose(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		var req closeRequest
		if err := validators.DecodeOptionalJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Close(r.Context(), orderNo, adminID, validators.SanitizeString(req.Note, maxReasonLen))
		writeOutcome(w, r, logg, orderNo, result, err)
	}
}

// AdminCreateShipment records a label for a paid order and registers tracking.
func AdminCreateShipment(svc ShipmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := requireUser(w, r, logg)
		if !ok {
			return
		}
		orderNo, ok := requireOrderNo(w, r, logg)
		if !ok {
			return
		}
		var req createShipmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.CreateShipment(r.Context(), shipments.CreateShipmentInput{
			OrderNo:     orderNo,
			CarrierCode: strings.TrimSpace(req.CarrierCode),
			TrackingNo:  strings.TrimSpace(req.TrackingNo),
			CustomsInfo: req.CustomsInfo,
			ActorID:     &adminID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, shipments.NewShipmentView(shipment))
	}
}
