package shipments

import (
	"context"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/carrier"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
)

// ListSyncCandidates returns tracked shipments that can still move, least recently polled first.
func (s *Service) ListSyncCandidates(ctx context.Context, limit int) ([]models.Shipment, error) {
	rows, err := s.repo.ListSyncCandidates(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipment sync candidates")
	}
	return rows, nil
}

// SyncShipment polls the carrier for one shipment. Identical polls collapse
// onto one trail row through the poll source ref.
func (s *Service) SyncShipment(ctx context.Context, shipmentID uuid.UUID) (outcome.Outcome, error) {
	shipment, err := s.repo.FindByID(ctx, shipmentID)
	if err != nil {
		return outcome.Outcome{}, notFoundOr(err, "load shipment")
	}
	if shipment.TrackingNo == nil || shipment.Status.IsFinal() {
		return outcome.NoOp(), nil
	}
	ctx = s.logg.WithShipmentID(ctx, shipment.ID.String())

	tracking := carrier.Tracking{Number: *shipment.TrackingNo}
	if shipment.CarrierCode != nil {
		tracking.Carrier = *shipment.CarrierCode
	}
	// a failed query still counts as a poll so the row does not hog the batch
	if err := s.repo.MarkPolled(ctx, shipment.ID, s.now().UTC()); err != nil {
		return outcome.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark shipment polled")
	}
	status, err := s.carrier.Query(ctx, tracking)
	if err != nil {
		return outcome.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query carrier")
	}

	timeISO := ""
	if status.EventTime != nil {
		timeISO = status.EventTime.UTC().Format(time.RFC3339)
	}
	sub := strings.TrimSpace(status.SubStatus)
	return s.ApplyCarrierEvent(ctx, shipment.ID, CarrierEvent{
		SubStatus:  sub,
		EventTime:  status.EventTime,
		Source:     enums.EventSourceScheduler,
		SourceRef:  "poll:" + timeISO + ":" + sub,
		RawPayload: status.Raw,
		Note:       "carrier poll",
	})
}
