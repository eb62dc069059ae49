package shipments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	"github.com/angelmondragon/intlshop-backend/pkg/carrier"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"gorm.io/gorm"
)

type trackEvent struct {
	Number    string            `json:"number"`
	TrackInfo carrier.TrackInfo `json:"track_info"`
}

type trackData struct {
	trackEvent
	Accepted []trackEvent `json:"accepted"`
}

type trackEnvelope struct {
	Event string    `json:"event"`
	Data  trackData `json:"data"`
}

// events returns data.accepted when the push batches parcels, else data itself.
func (e trackEnvelope) events() []trackEvent {
	if len(e.Data.Accepted) > 0 {
		return e.Data.Accepted
	}
	return []trackEvent{e.Data.trackEvent}
}

// HandleWebhook verifies and applies a tracking push. Byte identical
// redeliveries inside the replay window are absorbed by the gate, and a
// single delivery moves each shipment at most once.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (dedupe.Result, error) {
	if !s.carrier.VerifyWebhook(signature, body) {
		return dedupe.Entered, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid carrier signature")
	}
	var envelope trackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return dedupe.Entered, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid carrier payload")
	}
	events := envelope.events()
	for i := range events {
		events[i].Number = strings.TrimSpace(events[i].Number)
		if events[i].Number == "" {
			return dedupe.Entered, pkgerrors.New(pkgerrors.CodeValidation, "tracking number missing from carrier event")
		}
	}

	hash := dedupe.ContentHash(body)
	sourceRef := "carrier:" + hash
	ctx = s.logg.WithFields(ctx, map[string]any{"carrier_event": envelope.Event, "source_ref": sourceRef})
	res, err := s.gate.Guard(ctx, s.gate.KeyFor(dedupe.NamespaceCarrierWebhook, body), s.replayTTL, func(ctx context.Context) error {
		for _, ev := range events {
			if err := s.applyPushed(ctx, ev, sourceRef, string(body)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if res == dedupe.AlreadyProcessed {
		s.logg.Info(ctx, "carrier webhook replay ignored")
	}
	return res, nil
}

func (s *Service) applyPushed(ctx context.Context, ev trackEvent, sourceRef, raw string) error {
	ctx = s.logg.WithField(ctx, "tracking_no", ev.Number)
	shipment, err := s.repo.FindByTrackingNo(ctx, ev.Number)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(ctx, "carrier event for unknown tracking number skipped")
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find shipment by tracking number")
	}

	sub := strings.TrimSpace(ev.TrackInfo.LatestStatus.SubStatus)
	note := "no sub_status reported"
	if sub != "" {
		note = "carrier sub_status: " + sub
	}
	_, err = s.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{
		SubStatus:  sub,
		EventTime:  ev.TrackInfo.EventTime(),
		Source:     enums.EventSourceCarrierCallback,
		SourceRef:  sourceRef,
		RawPayload: raw,
		Note:       note,
	})
	return err
}
