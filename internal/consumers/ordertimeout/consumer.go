// Package ordertimeout cancels orders whose payment window ran out. It reads
// the order_created messages the outbox publisher puts on the orders topic.
package ordertimeout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/registry"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
)

const consumerName = "order-timeout"

type orderCanceller interface {
	CancelUnpaid(ctx context.Context, orderNo string, reason string) (outcome.Outcome, error)
}

type claimer interface {
	Claim(ctx context.Context, consumer, id string) (bool, error)
	Release(ctx context.Context, consumer, id string) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Decision is what the consumer tells Pub/Sub about a delivery.
type Decision int

const (
	Ack Decision = iota
	Nack
)

func (d Decision) String() string {
	if d == Nack {
		return "nack"
	}
	return "ack"
}

// Delivery is the part of a Pub/Sub message the consumer reads.
type Delivery struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// timeoutMessage accepts both the outbox payload (order_no, expire_at) and
// the bare {orderNo, expireAt} form.
type timeoutMessage struct {
	OrderNo       string    `json:"order_no"`
	ExpireAt      time.Time `json:"expire_at"`
	OrderNoCamel  string    `json:"orderNo"`
	ExpireAtCamel time.Time `json:"expireAt"`
}

func (m timeoutMessage) orderNo() string {
	if m.OrderNo != "" {
		return strings.TrimSpace(m.OrderNo)
	}
	return strings.TrimSpace(m.OrderNoCamel)
}

func (m timeoutMessage) expireAt() time.Time {
	if !m.ExpireAt.IsZero() {
		return m.ExpireAt
	}
	return m.ExpireAtCamel
}

type Params struct {
	Orders       orderCanceller
	Subscription receiver
	Idempotency  claimer
	Logger       *logger.Logger
	Now          func() time.Time
}

// Consumer acks a timeout message once CancelUnpaid has settled the order one
// way or the other, and nacks early deliveries so Pub/Sub retries them later.
type Consumer struct {
	orders       orderCanceller
	subscription receiver
	idempotency  claimer
	logg         *logger.Logger
	now          func() time.Time
}

func NewConsumer(params Params) (*Consumer, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Consumer{
		orders:       params.Orders,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		logg:         params.Logger,
		now:          now,
	}, nil
}

// Run receives until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("orders subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		decision := c.Handle(ctx, Delivery{ID: msg.ID, Data: msg.Data, Attributes: msg.Attributes})
		if decision == Nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Handle decides one delivery.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Decision {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": d.ID,
		"consumer":   consumerName,
	})

	if eventType := d.Attributes["event_type"]; eventType != "" && eventType != string(enums.EventOrderCreated) {
		c.logg.Debug(c.logg.WithField(logCtx, "event_type", eventType), "skipping event")
		return Ack
	}

	msg, eventID, err := decode(d)
	if err != nil {
		c.logg.Error(logCtx, "bad order-timeout payload", err)
		return Ack
	}
	orderNo := msg.orderNo()
	if orderNo == "" {
		c.logg.Error(logCtx, "bad order-timeout payload", fmt.Errorf("order number missing"))
		return Ack
	}
	logCtx = c.logg.WithOrderNo(logCtx, orderNo)

	if expireAt := msg.expireAt(); !expireAt.IsZero() && c.now().Before(expireAt) {
		c.logg.Debug(c.logg.WithField(logCtx, "expire_at", expireAt), "payment window still open")
		return Nack
	}

	claimID := eventID
	if claimID == "" {
		claimID = orderNo
	}
	if c.idempotency != nil {
		claimed, err := c.idempotency.Claim(ctx, consumerName, claimID)
		if err != nil {
			c.logg.Error(logCtx, "idempotency claim failed", err)
			return Nack
		}
		if !claimed {
			c.logg.Debug(logCtx, "timeout already handled")
			return Ack
		}
	}

	result, err := c.orders.CancelUnpaid(logCtx, orderNo, "payment timeout")
	switch {
	case err == nil:
		c.logg.Info(c.logg.WithField(logCtx, "outcome", result.String()), "order timeout handled")
		return Ack
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		// paid, cancelled or gone since the message was queued
		c.logg.Debug(c.logg.WithField(logCtx, "reason", err.Error()), "order no longer awaiting payment")
		return Ack
	default:
		c.logg.Error(logCtx, "order timeout cancel failed", err)
		if c.idempotency != nil {
			if relErr := c.idempotency.Release(ctx, consumerName, claimID); relErr != nil {
				c.logg.Warn(c.logg.WithField(logCtx, "error", relErr.Error()), "idempotency release failed")
			}
		}
		return Nack
	}
}

var decoders = newDecoders()

func newDecoders() *registry.DecoderRegistry {
	reg := registry.NewDecoderRegistry()
	reg.Register(enums.EventOrderCreated, 1, func(payload json.RawMessage) (interface{}, error) {
		var event payloads.OrderCreatedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return timeoutMessage{OrderNo: event.OrderNo, ExpireAt: event.ExpireAt}, nil
	})
	return reg
}

// decode reads either an outbox envelope or a bare timeout message and
// returns the event id when there is one.
func decode(d Delivery) (timeoutMessage, string, error) {
	var msg timeoutMessage
	if len(d.Data) == 0 {
		return msg, "", fmt.Errorf("empty message")
	}
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(d.Data, &envelope); err != nil {
		return msg, "", fmt.Errorf("decode message: %w", err)
	}
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(d.Attributes["event_id"])
	}
	hasData := len(envelope.Data) > 0 && string(envelope.Data) != "null"
	if hasData && envelope.Version > 0 && d.Attributes["event_type"] == string(enums.EventOrderCreated) {
		decoded, err := decoders.Decode(enums.EventOrderCreated, envelope.Version, envelope.Data)
		if err != nil {
			return msg, "", fmt.Errorf("decode timeout payload: %w", err)
		}
		msg = decoded.(timeoutMessage)
	} else {
		body := d.Data
		if hasData {
			body = envelope.Data
		}
		if err := json.Unmarshal(body, &msg); err != nil {
			return msg, "", fmt.Errorf("decode timeout payload: %w", err)
		}
	}
	if msg.expireAt().IsZero() {
		if raw := d.Attributes["expire_at"]; raw != "" {
			at, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return msg, "", fmt.Errorf("parse expire_at attribute: %w", err)
			}
			msg.ExpireAt = at
		}
	}
	return msg, eventID, nil
}
