package registry

import (
	"encoding/json"
	"testing"

	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/payloads"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventOrderCreated, 1, func(payload json.RawMessage) (interface{}, error) {
		var decoded payloads.OrderCreatedEvent
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	})

	input := json.RawMessage(`{"order_no":"ORD-1","pay_amount":1000,"currency":"USD"}`)
	output, err := reg.Decode(enums.EventOrderCreated, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, ok := output.(payloads.OrderCreatedEvent)
	if !ok || decoded.OrderNo != "ORD-1" || decoded.PayAmount != 1000 {
		t.Fatalf("unexpected output %+v", output)
	}

	if _, err := reg.Decode(enums.EventOrderCreated, 2, input); err == nil {
		t.Fatalf("expected missing version to fail")
	}
}
