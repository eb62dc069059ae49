package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/registry"
	"gorm.io/gorm"
)

type deliveryState int

const (
	delivered deliveryState = iota
	retryLater
	deadLetter
)

// delivery is what happened to one outbox row in this batch.
type delivery struct {
	state  deliveryState
	reason enums.OutboxDLQErrorReason
	err    error
	topic  string
	route  route
}

// deliver resolves and publishes one row. It never touches the database.
func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return delivery{state: deadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}
	d := delivery{topic: resolved.Descriptor.Topic, route: routeFor(event, resolved)}

	pub := s.publishers.get(d.topic)
	if pub == nil {
		d.state, d.reason = deadLetter, enums.OutboxDLQReasonNonRetryable
		d.err = fmt.Errorf("publisher not configured for topic %s", d.topic)
		return d
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data:        []byte(event.Payload),
		Attributes:  d.route.Attributes,
		OrderingKey: d.route.OrderingKey,
	})
	if result == nil {
		d.state, d.reason = deadLetter, enums.OutboxDLQReasonNonRetryable
		d.err = fmt.Errorf("publisher returned nil for topic %s", d.topic)
		return d
	}
	if _, err := result.Get(publishCtx); err != nil {
		d.err = err
		var nonRetry registry.NonRetryableError
		switch {
		case errors.As(err, &nonRetry):
			d.state, d.reason = deadLetter, enums.OutboxDLQReasonNonRetryable
		case event.AttemptCount+1 >= s.maxAttempts:
			d.state, d.reason = deadLetter, enums.OutboxDLQReasonMaxAttempts
			d.err = fmt.Errorf("max publish attempts reached: %w", err)
		default:
			d.state = retryLater
		}
		return d
	}
	d.state = delivered
	return d
}

// record writes the outcome of deliver inside the batch transaction.
func (s *Service) record(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, d delivery) error {
	logCtx := s.logg.WithFields(ctx, s.eventFields(event, d))
	eventType := string(event.EventType)

	switch d.state {
	case delivered:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.Published(eventType)
		s.logg.Debug(logCtx, "outbox event published")
	case retryLater:
		s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox publish failed")
		s.metrics.Failed(eventType)
		if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
	case deadLetter:
		s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox event dead-lettered")
		var message *string
		if d.err != nil {
			msg := d.err.Error()
			message = &msg
		}
		entry := models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   d.reason,
			ErrorMessage:  message,
			AttemptCount:  event.AttemptCount,
			FailedAt:      s.now().UTC(),
		}
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		if err := s.repo.MarkTerminalTx(tx, event.ID, d.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
		s.metrics.DeadLettered(eventType)
	}
	return nil
}

func (s *Service) eventFields(event models.OutboxEvent, d delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.reason != "" {
		fields["error_reason"] = d.reason
	}
	if attrs := d.route.Attributes; attrs != nil {
		fields["event_id"] = attrs["event_id"]
		if to, ok := attrs["to_status"]; ok {
			fields["status_subject"] = attrs["status_subject"]
			fields["to_status"] = to
		}
		if orderNo, ok := attrs["order_no"]; ok {
			fields["order_no"] = orderNo
		}
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	if !event.CreatedAt.IsZero() {
		fields["age_ms"] = s.now().Sub(event.CreatedAt).Milliseconds()
	}
	return fields
}
