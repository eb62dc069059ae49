package payments

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutActivatesPlaceholder(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, uuid.New())
	require.NotNil(t, order.ActivePaymentID)

	payment := h.checkout(t, order, "PAY-1")

	assert.Equal(t, *order.ActivePaymentID, payment.ID, "placeholder is reused as the first attempt")
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.NotNil(t, payment.ExternalID)
	assert.Equal(t, "PAY-1", *payment.ExternalID)

	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.OrderStatusPendingPayment, fresh.Status)
	assert.Equal(t, enums.PaymentStatusPending, fresh.PayStatus)
	assert.Equal(t, enums.PaymentChannelSquare, fresh.PayChannel)
	require.NotNil(t, fresh.PaymentExternalID)
	assert.Equal(t, "PAY-1", *fresh.PaymentExternalID)
}

func TestCheckoutRejectsUnpayableOrder(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, uuid.New())
	_, err := h.orders.CancelByUser(context.Background(), order.OrderNo, order.UserID, "changed mind")
	require.NoError(t, err)

	_, err = h.svc.PreparePaymentCheckout(context.Background(), order.OrderNo, order.UserID, enums.PaymentChannelSquare)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCheckoutRequiresChannel(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, uuid.New())

	_, err := h.svc.PreparePaymentCheckout(context.Background(), order.OrderNo, order.UserID, enums.PaymentChannelNone)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestBindGatewayOrderIsWriteOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment, err := h.svc.PreparePaymentCheckout(ctx, order.OrderNo, order.UserID, enums.PaymentChannelSquare)
	require.NoError(t, err)

	first, err := h.svc.BindGatewayOrder(ctx, payment.ID, "PAY-9")
	require.NoError(t, err)
	assert.True(t, first.IsApplied())

	again, err := h.svc.BindGatewayOrder(ctx, payment.ID, "PAY-9")
	require.NoError(t, err)
	assert.True(t, again.IsNoOp())

	_, err = h.svc.BindGatewayOrder(ctx, payment.ID, "PAY-OTHER")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestBindGatewayOrderRejectsIDOwnedByAnotherAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.createOrder(t, uuid.New())
	second := h.createOrder(t, uuid.New())
	h.checkout(t, first, "PAY-DUP")

	p2, err := h.svc.PreparePaymentCheckout(ctx, second.OrderNo, second.UserID, enums.PaymentChannelSquare)
	require.NoError(t, err)
	_, err = h.svc.BindGatewayOrder(ctx, p2.ID, "PAY-DUP")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

// A single order paid by one webhook, redelivered byte-for-byte and then
// re-sent as a new event: the order reaches PAID exactly once.
func TestCaptureWebhookPaysOrderOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	assert.Equal(t, int64(1000), order.PayAmount)
	payment := h.checkout(t, order, "PAY-1")

	body, sig := h.paymentWebhook(t, "evt-1", "PAY-1", "COMPLETED", testNow.Add(5*time.Minute))
	res, err := h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, dedupe.Entered, res)

	res, err = h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, dedupe.AlreadyProcessed, res)

	body2, sig2 := h.paymentWebhook(t, "evt-2", "PAY-1", "COMPLETED", testNow.Add(6*time.Minute))
	res, err = h.svc.HandleWebhook(ctx, body2, sig2)
	require.NoError(t, err)
	assert.Equal(t, dedupe.Entered, res)

	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.OrderStatusPaid, fresh.Status)
	assert.Equal(t, enums.PaymentStatusSuccess, fresh.PayStatus)
	require.NotNil(t, fresh.PayTime)
	assert.Equal(t, 1, h.logsTo(t, order.ID, enums.OrderStatusPaid))

	paid := h.payment(t, payment.ID)
	assert.Equal(t, enums.PaymentStatusSuccess, paid.Status)
	require.NotNil(t, paid.CaptureID)
	assert.Equal(t, "PAY-1", *paid.CaptureID)
	assert.Zero(t, h.gateway.refundCallCount())
}

func TestCaptureFailureLeavesOrderPayable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.checkout(t, order, "PAY-F")

	body, sig := h.paymentWebhook(t, "evt-f", "PAY-F", "FAILED", testNow.Add(time.Minute))
	_, err := h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusFail, h.payment(t, payment.ID).Status)
	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.OrderStatusPendingPayment, fresh.Status)
	assert.Equal(t, enums.PaymentStatusFail, fresh.PayStatus)

	// a retry with a new attempt can still pay the order
	retry := h.pay(t, fresh, "PAY-F2")
	assert.Equal(t, enums.PaymentStatusSuccess, retry.Status)
	assert.NotEqual(t, payment.ID, retry.ID)
	assert.Equal(t, enums.OrderStatusPaid, h.order(t, order.OrderNo).Status)
}

func TestLateCaptureBecomesExceptionAndIsRefunded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.checkout(t, order, "PAY-LATE")

	body, sig := h.paymentWebhook(t, "evt-late", "PAY-LATE", "COMPLETED", testNow.Add(45*time.Minute))
	_, err := h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusException, h.payment(t, payment.ID).Status)
	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.OrderStatusPendingPayment, fresh.Status)
	assert.Zero(t, h.logsTo(t, order.ID, enums.OrderStatusPaid))

	refunds := h.refunds(t, payment.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, enums.RefundReasonLatePayment, refunds[0].ReasonCode)
	assert.Equal(t, enums.RefundInitiatorSystem, refunds[0].Initiator)
	assert.Equal(t, "ppref-"+payment.ID.String()+"-late-PAY-LATE", refunds[0].ClientRefundNo)
	assert.Equal(t, enums.RefundStatusPending, refunds[0].Status)
	require.Equal(t, 1, h.gateway.refundCallCount())

	// a second success notification must not refund twice
	body2, sig2 := h.paymentWebhook(t, "evt-late-2", "PAY-LATE", "COMPLETED", testNow.Add(46*time.Minute))
	_, err = h.svc.HandleWebhook(ctx, body2, sig2)
	require.NoError(t, err)
	assert.Len(t, h.refunds(t, payment.ID), 1)
	assert.Equal(t, 1, h.gateway.refundCallCount())
}

func TestCaptureAfterCancelIsDiverted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.checkout(t, order, "PAY-C")

	cancelled, err := h.orders.CancelByUser(ctx, order.OrderNo, order.UserID, "no longer needed")
	require.NoError(t, err)
	require.True(t, cancelled.IsApplied())
	// cancel closes open attempts
	assert.Equal(t, enums.PaymentStatusClosed, h.payment(t, payment.ID).Status)

	body, sig := h.paymentWebhook(t, "evt-c", "PAY-C", "COMPLETED", testNow.Add(time.Minute))
	_, err = h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusException, h.payment(t, payment.ID).Status)
	assert.Equal(t, enums.OrderStatusCancelled, h.order(t, order.OrderNo).Status)
	assert.Equal(t, 1, h.gateway.refundCallCount())
}

func TestCaptureOfClosedAttemptIsDiverted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	first := h.checkout(t, order, "PAY-OLD")

	body, sig := h.paymentWebhook(t, "evt-old-cancel", "PAY-OLD", "CANCELED", testNow.Add(time.Minute))
	_, err := h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	second := h.pay(t, order, "PAY-NEW")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, enums.PaymentStatusSuccess, second.Status)

	body, sig = h.paymentWebhook(t, "evt-old", "PAY-OLD", "COMPLETED", testNow.Add(3*time.Minute))
	_, err = h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusException, h.payment(t, first.ID).Status)
	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.OrderStatusPaid, fresh.Status)
	assert.Equal(t, enums.PaymentStatusSuccess, fresh.PayStatus)
	assert.Equal(t, second.ID, *fresh.ActivePaymentID)
	assert.Equal(t, 1, h.logsTo(t, order.ID, enums.OrderStatusPaid))
	assert.Len(t, h.refunds(t, first.ID), 1)
}

func TestCheckoutReusesOpenAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	first := h.checkout(t, order, "PAY-R")

	again, err := h.svc.CreateGatewayOrder(ctx, CheckoutInput{
		OrderNo:  order.OrderNo,
		UserID:   order.UserID,
		Channel:  enums.PaymentChannelSquare,
		SourceID: "cnon:card-ok",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	var open int64
	require.NoError(t, h.db.Table("payment_orders").Where("order_id = ? AND status IN ?", order.ID,
		[]enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}).Count(&open).Error)
	assert.Equal(t, int64(1), open)
}

func TestCaptureCallCompletesPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	h.checkout(t, order, "PAY-CAP")

	result, err := h.svc.Capture(ctx, order.OrderNo, order.UserID)
	require.NoError(t, err)
	assert.True(t, result.IsApplied())
	assert.Equal(t, enums.OrderStatusPaid, h.order(t, order.OrderNo).Status)

	again, err := h.svc.Capture(ctx, order.OrderNo, order.UserID)
	require.NoError(t, err)
	assert.True(t, again.IsNoOp())
}

func TestCaptureChecksOwner(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t, uuid.New())
	h.checkout(t, order, "PAY-OWN")

	_, err := h.svc.Capture(context.Background(), order.OrderNo, uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCanceledNotificationClosesAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.checkout(t, order, "PAY-X")

	body, sig := h.paymentWebhook(t, "evt-x", "PAY-X", "CANCELED", testNow.Add(time.Minute))
	_, err := h.svc.HandleWebhook(ctx, body, sig)
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusClosed, h.payment(t, payment.ID).Status)
	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.PaymentStatusClosed, fresh.PayStatus)
	assert.Equal(t, enums.OrderStatusPendingPayment, fresh.Status)
}

func TestCancelAfterCheckoutClosesAttemptThroughPayments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.checkout(t, order, "PAY-X")
	before := h.paymentEvents(t, payment.ID)

	result, err := h.orders.CancelByUser(ctx, order.OrderNo, order.UserID, "")
	require.NoError(t, err)
	assert.True(t, result.IsApplied())

	fresh := h.order(t, order.OrderNo)
	assert.Equal(t, enums.OrderStatusCancelled, fresh.Status)
	assert.Equal(t, enums.PaymentStatusClosed, fresh.PayStatus)
	assert.Equal(t, enums.PaymentStatusClosed, h.payment(t, payment.ID).Status)
	assert.Equal(t, before+1, h.paymentEvents(t, payment.ID))
}

func TestSyncPaymentAppliesGatewayState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t, uuid.New())
	payment := h.checkout(t, order, "PAY-S")

	candidates, err := h.svc.ListPaymentSyncCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, payment.ID, candidates[0].ID)

	h.gateway.mu.Lock()
	h.gateway.payments["PAY-S"].Status = GatewayPaymentPending
	h.gateway.mu.Unlock()
	untouched, err := h.svc.SyncPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.True(t, untouched.IsNoOp())
	require.NotNil(t, h.payment(t, payment.ID).LastPolledAt)

	// an approved authorization is completed by the poller
	h.gateway.mu.Lock()
	h.gateway.payments["PAY-S"].Status = GatewayPaymentApproved
	h.gateway.mu.Unlock()
	result, err := h.svc.SyncPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.True(t, result.IsApplied())
	assert.Equal(t, enums.OrderStatusPaid, h.order(t, order.OrderNo).Status)

	candidates, err = h.svc.ListPaymentSyncCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFailingPaymentPollDoesNotStarveNextCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.checkout(t, h.createOrder(t, uuid.New()), "PAY-GONE-1")
	h.checkout(t, h.createOrder(t, uuid.New()), "PAY-GONE-2")
	h.gateway.mu.Lock()
	h.gateway.payments = map[string]*GatewayPayment{}
	h.gateway.mu.Unlock()

	first, err := h.svc.ListPaymentSyncCandidates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	_, err = h.svc.SyncPayment(ctx, first[0].ID)
	require.Error(t, err)
	assert.NotNil(t, h.payment(t, first[0].ID).LastPolledAt)

	second, err := h.svc.ListPaymentSyncCandidates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestApplyCaptureResultNeedsIdentity(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ApplyCaptureResult(context.Background(), CaptureResult{Success: true})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
