package orders

import (
	"testing"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
)

var allOrderStatuses = []enums.OrderStatus{
	enums.OrderStatusCreated,
	enums.OrderStatusPendingPayment,
	enums.OrderStatusPaid,
	enums.OrderStatusFulfilled,
	enums.OrderStatusCancelled,
	enums.OrderStatusRefunding,
	enums.OrderStatusRefunded,
	enums.OrderStatusClosed,
	enums.OrderStatusDeleted,
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from   enums.OrderStatus
		event  Event
		to     enums.OrderStatus
		effect Effect
	}{
		{enums.OrderStatusCreated, EventAwaitPayment, enums.OrderStatusPendingPayment, 0},
		{enums.OrderStatusPendingPayment, EventAwaitPayment, enums.OrderStatusPendingPayment, 0},
		{enums.OrderStatusCreated, EventMarkPaid, enums.OrderStatusPaid, 0},
		{enums.OrderStatusPendingPayment, EventMarkPaid, enums.OrderStatusPaid, 0},
		{enums.OrderStatusCreated, EventCancel, enums.OrderStatusCancelled, EffectReleaseStock | EffectCloseOpenPayments},
		{enums.OrderStatusPaid, EventMarkFulfilled, enums.OrderStatusFulfilled, 0},
		{enums.OrderStatusPaid, EventRequestRefund, enums.OrderStatusRefunding, 0},
		{enums.OrderStatusFulfilled, EventRequestRefund, enums.OrderStatusRefunding, 0},
		{enums.OrderStatusRefunding, EventConfirmRefund, enums.OrderStatusRefunded, EffectRestockStock},
		{enums.OrderStatusPendingPayment, EventClose, enums.OrderStatusClosed, EffectReleaseStock | EffectCloseOpenPayments},
		{enums.OrderStatusCancelled, EventClose, enums.OrderStatusClosed, 0},
		{enums.OrderStatusFulfilled, EventClose, enums.OrderStatusClosed, 0},
		{enums.OrderStatusRefunded, EventDelete, enums.OrderStatusDeleted, 0},
	}

	for _, tc := range cases {
		to, effect, err := Transition(tc.from, tc.event)
		if err != nil {
			t.Fatalf("%s from %s: unexpected error %v", tc.event, tc.from, err)
		}
		if to != tc.to {
			t.Fatalf("%s from %s: expected %s, got %s", tc.event, tc.from, tc.to, to)
		}
		if effect != tc.effect {
			t.Fatalf("%s from %s: expected effect %b, got %b", tc.event, tc.from, tc.effect, effect)
		}
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	for event := range transitions {
		allowed := map[enums.OrderStatus]bool{}
		for _, status := range Allowed(event) {
			allowed[status] = true
		}
		for _, from := range allOrderStatuses {
			if allowed[from] {
				continue
			}
			if _, _, err := Transition(from, event); err == nil {
				t.Fatalf("expected %s from %s to be rejected", event, from)
			}
		}
	}
}

func TestTerminalStatusesHaveNoWayBack(t *testing.T) {
	for event := range transitions {
		if event == EventDelete {
			continue
		}
		for _, from := range []enums.OrderStatus{enums.OrderStatusRefunded, enums.OrderStatusDeleted, enums.OrderStatusClosed} {
			if _, _, err := Transition(from, event); err == nil {
				t.Fatalf("expected %s from terminal %s to be rejected", event, from)
			}
		}
	}
	if _, _, err := Transition(enums.OrderStatusDeleted, EventDelete); err == nil {
		t.Fatal("expected delete of a deleted order to be rejected")
	}
}

func TestTransitionUnknownEvent(t *testing.T) {
	if _, _, err := Transition(enums.OrderStatusCreated, Event("teleport")); err == nil {
		t.Fatal("expected unknown event to fail")
	}
	if Allowed(Event("teleport")) != nil {
		t.Fatal("expected no allowed statuses for unknown event")
	}
}

func TestCloseLeavesMoneyStatesToRefund(t *testing.T) {
	for _, from := range []enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusRefunding} {
		if _, _, err := Transition(from, EventClose); err == nil {
			t.Fatalf("close from %s must go through refund", from)
		}
	}
}
