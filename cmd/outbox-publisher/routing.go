package main

import (
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/registry"
)

// statusSubject names the state machine a status change belongs to.
type statusSubject string

const (
	subjectOrder    statusSubject = "order"
	subjectPayment  statusSubject = "payment"
	subjectRefund   statusSubject = "refund"
	subjectShipment statusSubject = "shipment"
)

// statusChange is the part of a status_changed payload subscribers filter on.
type statusChange struct {
	Subject  statusSubject
	From     string
	To       string
	Terminal bool
	// Reference is the business number of the aggregate when it has one.
	Reference string
	OrderNo   string
}

// route is everything the publisher adds around the stored payload.
type route struct {
	OrderingKey string
	Attributes  map[string]string
}

func routeFor(event models.OutboxEvent, resolved *registry.ResolvedEvent) route {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}

	if created, ok := resolved.Payload.(*payloads.OrderCreatedEvent); ok {
		attrs["order_no"] = created.OrderNo
		// read by the order-timeout consumer to schedule the unpaid cancel
		if !created.ExpireAt.IsZero() {
			attrs["expire_at"] = created.ExpireAt.UTC().Format(time.RFC3339)
		}
	}
	if change, ok := statusChangeOf(resolved.Payload); ok {
		attrs["status_subject"] = string(change.Subject)
		attrs["to_status"] = change.To
		if change.From != "" {
			attrs["from_status"] = change.From
		}
		if change.Terminal {
			attrs["terminal"] = "true"
		}
		if change.OrderNo != "" {
			attrs["order_no"] = change.OrderNo
		}
		if change.Reference != "" {
			attrs[string(change.Subject)+"_no"] = change.Reference
		}
	}

	// events of one aggregate reach subscribers in emit order
	return route{OrderingKey: event.AggregateID.String(), Attributes: attrs}
}

func statusChangeOf(payload any) (statusChange, bool) {
	switch p := payload.(type) {
	case *payloads.OrderStatusChangedEvent:
		return statusChange{
			Subject:  subjectOrder,
			From:     string(p.FromStatus),
			To:       string(p.ToStatus),
			Terminal: p.ToStatus.IsTerminal(),
			OrderNo:  p.OrderNo,
		}, true
	case *payloads.PaymentStatusChangedEvent:
		return statusChange{
			Subject:  subjectPayment,
			From:     string(p.FromStatus),
			To:       string(p.ToStatus),
			Terminal: p.ToStatus.IsFinal(),
			OrderNo:  p.OrderNo,
		}, true
	case *payloads.RefundStatusChangedEvent:
		return statusChange{
			Subject:   subjectRefund,
			From:      string(p.FromStatus),
			To:        string(p.ToStatus),
			Terminal:  !p.ToStatus.IsOpen(),
			Reference: p.RefundNo,
		}, true
	case *payloads.ShipmentStatusChangedEvent:
		return statusChange{
			Subject:   subjectShipment,
			From:      string(p.FromStatus),
			To:        string(p.ToStatus),
			Terminal:  p.ToStatus.IsFinal(),
			Reference: p.ShipmentNo,
		}, true
	}
	return statusChange{}, false
}
