package payments

import (
	"testing"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentTransitionTable(t *testing.T) {
	cases := []struct {
		from  enums.PaymentStatus
		event Event
		to    enums.PaymentStatus
	}{
		{enums.PaymentStatusNone, EventActivate, enums.PaymentStatusInit},
		{enums.PaymentStatusInit, EventBindExternalID, enums.PaymentStatusPending},
		{enums.PaymentStatusPending, EventBindExternalID, enums.PaymentStatusPending},
		{enums.PaymentStatusInit, EventCaptureSuccess, enums.PaymentStatusSuccess},
		{enums.PaymentStatusPending, EventCaptureSuccess, enums.PaymentStatusSuccess},
		{enums.PaymentStatusPending, EventCaptureFail, enums.PaymentStatusFail},
		{enums.PaymentStatusNone, EventClose, enums.PaymentStatusClosed},
		{enums.PaymentStatusClosed, EventClose, enums.PaymentStatusClosed},
		{enums.PaymentStatusFail, EventException, enums.PaymentStatusException},
		{enums.PaymentStatusClosed, EventException, enums.PaymentStatusException},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.event)
		require.NoError(t, err, "%s --%s-->", tc.from, tc.event)
		assert.Equal(t, tc.to, got, "%s --%s-->", tc.from, tc.event)
	}
}

func TestSuccessIsNeverLeft(t *testing.T) {
	for event := range paymentTransitions {
		_, err := Transition(enums.PaymentStatusSuccess, event)
		assert.Error(t, err, "SUCCESS must not accept %s", event)
	}
}

func TestCaptureRequiresOpenAttempt(t *testing.T) {
	for _, from := range []enums.PaymentStatus{enums.PaymentStatusNone, enums.PaymentStatusFail, enums.PaymentStatusClosed, enums.PaymentStatusException} {
		_, err := Transition(from, EventCaptureSuccess)
		assert.Error(t, err, from)
	}
	assert.ElementsMatch(t,
		[]enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending},
		AllowedFrom(EventCaptureSuccess))
	assert.Nil(t, AllowedFrom(Event("refund")))
}

func TestRefundTransition(t *testing.T) {
	require.NoError(t, RefundTransition(enums.RefundStatusInit, enums.RefundStatusPending))
	require.NoError(t, RefundTransition(enums.RefundStatusPending, enums.RefundStatusSuccess))
	require.NoError(t, RefundTransition(enums.RefundStatusInit, enums.RefundStatusFail))
	assert.Error(t, RefundTransition(enums.RefundStatusSuccess, enums.RefundStatusFail))
	assert.Error(t, RefundTransition(enums.RefundStatusFail, enums.RefundStatusSuccess))
	assert.Error(t, RefundTransition(enums.RefundStatusPending, enums.RefundStatusInit))
}
