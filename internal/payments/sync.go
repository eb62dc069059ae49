package payments

import (
	"context"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
)

const unboundRefundGrace = 5 * time.Minute

// ListPaymentSyncCandidates returns bound open attempts, least recently polled first.
func (s *Service) ListPaymentSyncCandidates(ctx context.Context, limit int) ([]models.PaymentOrder, error) {
	rows, err := s.repo.ListPaymentSyncCandidates(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment sync candidates")
	}
	return rows, nil
}

// ListRefundSyncCandidates returns open refunds, least recently polled first.
// Unbound refunds are included once they are older than unboundRefundGrace so
// a gateway call that failed outright is retried.
func (s *Service) ListRefundSyncCandidates(ctx context.Context, limit int) ([]models.PaymentRefund, error) {
	rows, err := s.repo.ListRefundSyncCandidates(ctx, limit, s.now().UTC().Add(-unboundRefundGrace))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refund sync candidates")
	}
	return rows, nil
}

// SyncPayment polls the provider for one attempt and applies what it reports.
// It goes through the same write path as notifications.
func (s *Service) SyncPayment(ctx context.Context, paymentID uuid.UUID) (outcome.Outcome, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return outcome.Outcome{}, notFoundOr(err, "payment not found", "load payment")
	}
	if payment.ExternalID == nil || !payment.Status.IsOpen() {
		return outcome.NoOp(), nil
	}
	ctx = s.logg.WithPaymentID(s.logg.WithOrderNo(ctx, payment.OrderNo), payment.ID.String())

	// marked first so a row that keeps failing moves to the back of the queue
	if err := s.repo.MarkPaymentPolled(ctx, payment.ID, s.now().UTC()); err != nil {
		return outcome.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment polled")
	}
	gp, err := s.gateway.GetPayment(ctx, *payment.ExternalID)
	if err != nil {
		return outcome.Outcome{}, wrapDependency(err, "poll gateway payment")
	}

	if gp.Status == GatewayPaymentApproved {
		// authorized but never captured, usually an abandoned capture call
		gp, err = s.gateway.CompletePayment(ctx, *payment.ExternalID)
		if err != nil {
			return outcome.Outcome{}, wrapDependency(err, "complete gateway payment")
		}
	}

	switch gp.Status {
	case GatewayPaymentCompleted, GatewayPaymentFailed:
		return s.ApplyCaptureResult(ctx, captureFromGateway(payment.ID, gp, enums.EventSourceScheduler, s.now()))
	case GatewayPaymentCanceled:
		return s.ClosePayment(ctx, payment.ID, enums.EventSourceScheduler, gp.RawResponse)
	default:
		return outcome.NoOp(), nil
	}
}

// SyncRefund polls the provider for one refund.
func (s *Service) SyncRefund(ctx context.Context, refundID uuid.UUID) (outcome.Outcome, error) {
	refund, err := s.repo.FindRefundByID(ctx, refundID)
	if err != nil {
		return outcome.Outcome{}, notFoundOr(err, "refund not found", "load refund")
	}
	if !refund.Status.IsOpen() {
		return outcome.NoOp(), nil
	}
	if refund.ExternalRefundID == nil {
		return s.resumeRefund(ctx, refund)
	}
	if err := s.repo.MarkRefundPolled(ctx, refund.ID, s.now().UTC()); err != nil {
		return outcome.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund polled")
	}
	gr, err := s.gateway.GetRefund(ctx, *refund.ExternalRefundID)
	if err != nil {
		return outcome.Outcome{}, wrapDependency(err, "poll gateway refund")
	}
	return s.ApplyRefundResult(ctx, RefundResult{
		RefundID:   refund.ID,
		Status:     MapRefundStatus(gr.Status),
		RawPayload: gr.RawResponse,
		Source:     enums.EventSourceScheduler,
		Response:   true,
	})
}

// resumeRefund retries the gateway call for a refund whose first attempt never
// got a provider id. The client refund number keeps the retry idempotent.
func (s *Service) resumeRefund(ctx context.Context, refund *models.PaymentRefund) (outcome.Outcome, error) {
	if err := s.repo.MarkRefundPolled(ctx, refund.ID, s.now().UTC()); err != nil {
		return outcome.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund polled")
	}
	payment, err := s.repo.FindPaymentByID(ctx, refund.PaymentOrderID)
	if err != nil {
		return outcome.Outcome{}, notFoundOr(err, "payment not found", "load payment")
	}
	fresh, err := s.executeRefund(ctx, refund, payment, enums.EventSourceScheduler)
	if err != nil {
		return outcome.Outcome{}, err
	}
	if fresh.Status == refund.Status && fresh.ExternalRefundID == nil {
		return outcome.NoOp(), nil
	}
	return outcome.Applied(), nil
}
