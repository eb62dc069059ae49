package enums

import "testing"

func TestShipmentPriorityRanksForwardProgression(t *testing.T) {
	inTransit, ok := ShipmentStatusInTransit.Priority()
	if !ok || inTransit != 4 {
		t.Fatalf("expected IN_TRANSIT rank 4, got %d (%v)", inTransit, ok)
	}
	delivered, _ := ShipmentStatusDelivered.Priority()
	if delivered != 10 {
		t.Fatalf("expected DELIVERED rank 10, got %d", delivered)
	}
	if _, ok := ShipmentStatusException.Priority(); ok {
		t.Fatal("EXCEPTION must be unranked")
	}
}

func TestFinalStatuses(t *testing.T) {
	for _, status := range []ShipmentStatus{ShipmentStatusDelivered, ShipmentStatusReturned, ShipmentStatusLost, ShipmentStatusCancelled, ShipmentStatusException} {
		if !status.IsFinal() {
			t.Fatalf("expected %s to be final", status)
		}
	}
	if ShipmentStatusCustomsHold.IsFinal() {
		t.Fatal("CUSTOMS_HOLD should not be final")
	}
	if !PaymentStatusSuccess.IsFinal() || PaymentStatusPending.IsFinal() {
		t.Fatal("unexpected payment finality")
	}
	if !OrderStatusRefunded.IsTerminal() || OrderStatusPaid.IsTerminal() {
		t.Fatal("unexpected order terminality")
	}
}

func TestParseCurrencyNormalizes(t *testing.T) {
	c, err := ParseCurrency(" usd ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != CurrencyUSD || c.Exponent() != 2 {
		t.Fatalf("unexpected currency %s exp %d", c, c.Exponent())
	}
	if CurrencyJPY.Exponent() != 0 {
		t.Fatal("JPY has no minor units")
	}
	if _, err := ParseCurrency("XYZ"); err == nil {
		t.Fatal("expected error for unknown currency")
	}
}

func TestParsePaymentChannelRejectsPlaceholder(t *testing.T) {
	if _, err := ParsePaymentChannel("NONE"); err == nil {
		t.Fatal("placeholder channel must not be selectable")
	}
	if ch, err := ParsePaymentChannel("SQUARE"); err != nil || ch != PaymentChannelSquare {
		t.Fatalf("unexpected channel %s err %v", ch, err)
	}
}

func TestParseActorRole(t *testing.T) {
	role, err := ParseActorRole("admin")
	if err != nil || role != ActorRoleAdmin {
		t.Fatalf("unexpected role %s err %v", role, err)
	}
	if _, err := ParseActorRole("vendor"); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if ActorRole("").IsValid() {
		t.Fatal("empty role must be invalid")
	}
}
