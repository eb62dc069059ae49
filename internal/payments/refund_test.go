package payments

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) stock(t *testing.T, order *models.Order) int {
	t.Helper()
	var row models.SkuStock
	require.NoError(t, h.db.First(&row, "sku_id = ?", "SKU-"+order.UserID.String()[:8]).Error)
	return row.Available
}

func TestRefundLifecycleRestocksAndClosesPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.pay(t, order, "PAY-RF")
	require.Equal(t, 2, h.stock(t, order))

	requested, err := h.svc.RequestRefund(ctx, order.OrderNo, order.UserID, "wrong size")
	require.NoError(t, err)
	require.True(t, requested.IsApplied())

	refund, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo, Initiator: enums.RefundInitiatorAdmin})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusPending, refund.Status)
	assert.Equal(t, int64(1000), refund.Amount)
	assert.True(t, strings.HasPrefix(refund.ClientRefundNo, "ppref-"+payment.ID.String()+"-manual-"))
	require.NotNil(t, refund.ExternalRefundID)
	assert.Contains(t, h.notes(t, order.ID), "refund initiated")

	h.gateway.mu.Lock()
	call := h.gateway.refundCalls[0]
	h.gateway.mu.Unlock()
	assert.Equal(t, refund.ClientRefundNo, call.IdempotencyKey)
	assert.Equal(t, "PAY-RF", call.PaymentID)

	body, sig := h.refundWebhook(t, "evt-rf", *refund.ExternalRefundID, "PAY-RF", "COMPLETED", 1000)
	_, err = h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.OrderStatusRefunded, fresh.Status)
	assert.Equal(t, enums.PaymentStatusClosed, fresh.PayStatus)
	assert.Equal(t, enums.PaymentStatusClosed, h.payment(t, payment.ID).Status)
	assert.Equal(t, 3, h.stock(t, order), "refund restocks the item")

	rows := h.refunds(t, payment.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.RefundStatusSuccess, rows[0].Status)

	// replayed success stays a no-op and never restocks twice
	body2, sig2 := h.refundWebhook(t, "evt-rf-2", *refund.ExternalRefundID, "PAY-RF", "COMPLETED", 1000)
	_, err = h.svc.HandleWebhook(ctx, body2, sig2)
	require.NoError(t, err)
	assert.Equal(t, 3, h.stock(t, order))
	assert.Equal(t, 1, h.logsTo(t, order.ID, enums.OrderStatusRefunded))
}

func TestConfirmRefundAdminSkipsRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	h.pay(t, order, "PAY-ADM")

	adminID := uuid.New()
	refund, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{
		OrderNo:    order.OrderNo,
		Initiator:  enums.RefundInitiatorAdmin,
		ActorID:    &adminID,
		ReasonCode: enums.RefundReasonDuplicate,
		Reason:     "double order",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundReasonDuplicate, refund.ReasonCode)
	require.NotNil(t, refund.ReasonText)
	assert.Equal(t, "double order", *refund.ReasonText)
	assert.Equal(t, enums.OrderStatusRefunding, h.order(t, order.OrderNo).Status)
}

func TestConfirmRefundUserMustRequestFirst(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, uuid.New())
	h.pay(t, order, "PAY-USR")

	_, err := h.svc.ConfirmRefund(context.Background(), ConfirmRefundInput{OrderNo: order.OrderNo, Initiator: enums.RefundInitiatorUser})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Zero(t, h.gateway.refundCallCount())
}

func TestConfirmRefundRejectsUnpaidOrder(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, uuid.New())
	h.checkout(t, order, "PAY-UNPAID")

	_, err := h.svc.ConfirmRefund(context.Background(), ConfirmRefundInput{OrderNo: order.OrderNo})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestConfirmRefundAmountBounds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.pay(t, order, "PAY-AMT")

	for _, amount := range []int64{0, -5, 1001} {
		a := amount
		_, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo, Amount: &a})
		require.Error(t, err, "amount %d", amount)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	}
	assert.Empty(t, h.refunds(t, payment.ID))
	// failed attempts roll back the REFUNDING move too
	assert.Equal(t, enums.OrderStatusPaid, h.order(t, order.OrderNo).Status)

	partial := int64(400)
	refund, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo, Amount: &partial})
	require.NoError(t, err)
	assert.Equal(t, int64(400), refund.Amount)
}

func TestConfirmRefundIsExclusivePerPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.pay(t, order, "PAY-EX")

	first, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo})
	require.NoError(t, err)

	_, err = h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.Equal(t, 1, h.gateway.refundCallCount())
	assert.Len(t, h.refunds(t, payment.ID), 1)

	exists, err := h.svc.ExistsRefundInProgressOrSuccess(ctx, payment.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	used, err := h.svc.ExistsRefundDedupeKey(ctx, first.ClientRefundNo)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestConfirmRefundRetryWithSameClientNo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.pay(t, order, "PAY-KEY")

	h.gateway.mu.Lock()
	h.gateway.refundErr = fmt.Errorf("gateway unavailable")
	h.gateway.mu.Unlock()
	_, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo, ClientRefundNo: "admin-req-1"})
	require.Error(t, err)
	rows := h.refunds(t, payment.ID)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ExternalRefundID)

	// a different request still sees the unbound refund as in progress
	_, err = h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo, ClientRefundNo: "admin-req-2"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	h.gateway.mu.Lock()
	h.gateway.refundErr = nil
	h.gateway.mu.Unlock()
	retried, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo, ClientRefundNo: "admin-req-1"})
	require.NoError(t, err)
	assert.Equal(t, rows[0].ID, retried.ID)
	require.NotNil(t, retried.ExternalRefundID)
	assert.Equal(t, enums.RefundStatusPending, retried.Status)
	assert.Len(t, h.refunds(t, payment.ID), 1)

	again, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo, ClientRefundNo: "admin-req-1"})
	require.NoError(t, err)
	assert.Equal(t, retried.ID, again.ID)
	assert.Equal(t, 2, h.gateway.refundCallCount(), "a bound refund is not sent again")
}

func TestSyncRefundResumesUnboundRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.pay(t, order, "PAY-RESUME")

	h.gateway.mu.Lock()
	h.gateway.refundErr = fmt.Errorf("gateway unavailable")
	h.gateway.mu.Unlock()
	_, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo})
	require.Error(t, err)
	rows := h.refunds(t, payment.ID)
	require.Len(t, rows, 1)

	require.NoError(t, h.db.Model(&models.PaymentRefund{}).Where("id = ?", rows[0].ID).
		Update("created_at", testNow.Add(-time.Minute)).Error)
	candidates, err := h.svc.ListRefundSyncCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates, "fresh unbound refunds wait out the grace period")

	require.NoError(t, h.db.Model(&models.PaymentRefund{}).Where("id = ?", rows[0].ID).
		Update("created_at", testNow.Add(-time.Hour)).Error)
	candidates, err = h.svc.ListRefundSyncCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	h.gateway.mu.Lock()
	h.gateway.refundErr = nil
	h.gateway.mu.Unlock()
	result, err := h.svc.SyncRefund(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.True(t, result.IsApplied())

	var fresh models.PaymentRefund
	require.NoError(t, h.db.First(&fresh, "id = ?", rows[0].ID).Error)
	require.NotNil(t, fresh.ExternalRefundID)
	assert.Equal(t, rows[0].ClientRefundNo, h.gateway.lastRefundKey())
}

func TestFailedRefundAllowsRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.pay(t, order, "PAY-RETRY")

	first, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo})
	require.NoError(t, err)

	body, sig := h.refundWebhook(t, "evt-fail", *first.ExternalRefundID, "PAY-RETRY", "FAILED", 1000)
	_, err = h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.OrderStatusRefunding, fresh.Status, "failed refunds leave the order for follow-up")
	assert.Contains(t, h.notes(t, order.ID), "refund failed")
	assert.Equal(t, enums.PaymentStatusSuccess, h.payment(t, payment.ID).Status)

	retry, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, retry.ID)
	assert.Equal(t, 2, h.gateway.refundCallCount())
}

func TestSyncRefundAppliesGatewayState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	h.pay(t, order, "PAY-SR")

	refund, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo})
	require.NoError(t, err)

	candidates, err := h.svc.ListRefundSyncCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	h.gateway.mu.Lock()
	h.gateway.refunds[*refund.ExternalRefundID].Status = "COMPLETED"
	h.gateway.mu.Unlock()

	result, err := h.svc.SyncRefund(ctx, refund.ID)
	require.NoError(t, err)
	assert.True(t, result.IsApplied())
	assert.Equal(t, enums.OrderStatusRefunded, h.order(t, order.OrderNo).Status)

	candidates, err = h.svc.ListRefundSyncCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestApplyRefundResultSameStatusIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	h.pay(t, order, "PAY-SAME")
	refund, err := h.svc.ConfirmRefund(ctx, ConfirmRefundInput{OrderNo: order.OrderNo})
	require.NoError(t, err)

	result, err := h.svc.ApplyRefundResult(ctx, RefundResult{RefundID: refund.ID, Status: enums.RefundStatusPending})
	require.NoError(t, err)
	assert.True(t, result.IsNoOp())
}

func TestRefundStatusMapping(t *testing.T) {
	cases := map[string]enums.RefundStatus{
		"COMPLETED": enums.RefundStatusSuccess,
		"completed": enums.RefundStatusSuccess,
		"FAILED":    enums.RefundStatusFail,
		"REJECTED":  enums.RefundStatusFail,
		"CANCELED":  enums.RefundStatusFail,
		"PENDING":   enums.RefundStatusPending,
		"":          enums.RefundStatusPending,
	}
	for raw, want := range cases {
		assert.Equal(t, want, MapRefundStatus(raw), raw)
	}
}
