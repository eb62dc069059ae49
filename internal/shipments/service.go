package shipments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	"github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/pkg/carrier"
	dbpkg "github.com/angelmondragon/intlshop-backend/pkg/db"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlaceholderSourceRef tags placeholders created by the compensation job.
const PlaceholderSourceRef = "shipping:placeholder:compensate"

const defaultReplayTTL = 96 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type webhookGate interface {
	KeyFor(namespace string, rawBody []byte) string
	Guard(ctx context.Context, key string, replayTTL time.Duration, fn func(ctx context.Context) error) (dedupe.Result, error)
}

type ServiceParams struct {
	Repository Repository
	Tx         txRunner
	Orders     OrderMachine
	Carrier    Carrier
	Outbox     outboxEmitter
	Gate       webhookGate
	Logger     *logger.Logger
	ReplayTTL  time.Duration
	Now        func() time.Time
}

// Service is the shipment state machine. Carrier notifications, polling and
// admin label entry all funnel into ApplyCarrierEvent.
type Service struct {
	repo      Repository
	tx        txRunner
	orders    OrderMachine
	carrier   Carrier
	outbox    outboxEmitter
	gate      webhookGate
	logg      *logger.Logger
	replayTTL time.Duration
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("shipments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order machine required")
	}
	if params.Carrier == nil {
		return nil, fmt.Errorf("carrier client required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("webhook dedupe gate required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	replayTTL := params.ReplayTTL
	if replayTTL <= 0 {
		replayTTL = defaultReplayTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      params.Repository,
		tx:        params.Tx,
		orders:    params.Orders,
		carrier:   params.Carrier,
		outbox:    params.Outbox,
		gate:      params.Gate,
		logg:      params.Logger,
		replayTTL: replayTTL,
		now:       now,
	}, nil
}

// CarrierEvent is one observation of a parcel, from a push, a poll or an operator.
type CarrierEvent struct {
	SubStatus  string
	EventTime  *time.Time
	Source     enums.EventSource
	SourceRef  string
	RawPayload string
	Note       string
}

type move struct {
	from, to  enums.ShipmentStatus
	source    enums.EventSource
	sourceRef string
	subStatus string
	eventTime time.Time
	raw       string
	note      string
	actorID   *uuid.UUID
}

// ApplyCarrierEvent feeds one event through the sub-status table and the
// transition rules. A sourceRef already on the trail is a NoOp; a status the
// event does not change is recorded as a from=to row and reported as NoOp.
func (s *Service) ApplyCarrierEvent(ctx context.Context, shipmentID uuid.UUID, event CarrierEvent) (outcome.Outcome, error) {
	if strings.TrimSpace(event.SourceRef) == "" {
		return outcome.Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "source ref required")
	}
	if event.Source == "" {
		event.Source = enums.EventSourceSystem
	}
	ctx = s.logg.WithShipmentID(ctx, shipmentID.String())

	var result outcome.Outcome
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		shipment, err := repo.FindByIDForUpdate(ctx, shipmentID)
		if err != nil {
			return notFoundOr(err, "load shipment")
		}
		seen, err := repo.ExistsLog(ctx, shipment.ID, event.Source, event.SourceRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check shipment log")
		}
		if seen {
			result = outcome.NoOp()
			return nil
		}

		decision := MapSubStatus(shipment.Status, event.SubStatus)
		m := move{
			from:      shipment.Status,
			to:        decision.Target,
			source:    event.Source,
			sourceRef: event.SourceRef,
			subStatus: strings.TrimSpace(event.SubStatus),
			eventTime: s.now().UTC(),
			raw:       event.RawPayload,
			note:      event.Note,
		}
		if event.EventTime != nil {
			m.eventTime = event.EventTime.UTC()
		}
		if decision.KeepCurrent || decision.Target == shipment.Status {
			m.to = shipment.Status
			if err := s.appendLog(ctx, repo, shipment.ID, &m.from, m); err != nil {
				return err
			}
			result = outcome.NoOp()
			return nil
		}

		result, err = s.transitionTx(ctx, tx, shipment, m)
		return err
	})
	if err != nil {
		return outcome.Outcome{}, err
	}
	if result.IsRejected() {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"sub_status": event.SubStatus,
			"source_ref": event.SourceRef,
			"reason":     result.Reason,
		}), "carrier event rejected")
	}
	return result, nil
}

// transitionTx moves a locked shipment. Illegal moves leave no trace.
func (s *Service) transitionTx(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, m move) (outcome.Outcome, error) {
	if err := CanTransit(m.from, m.to); err != nil {
		return outcome.Rejected("%s", err.Error()), nil
	}

	repo := s.repo.WithTx(tx)
	extra := map[string]any{}
	if m.to == enums.ShipmentStatusPickedUp && shipment.PickupTime == nil {
		extra["pickup_time"] = m.eventTime
	}
	if m.to == enums.ShipmentStatusDelivered {
		extra["delivered_time"] = m.eventTime
	}
	swapped, err := repo.CompareAndSetStatus(ctx, shipment.ID, m.from, m.to, extra)
	if err != nil {
		return outcome.Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment status")
	}
	if !swapped {
		return outcome.NoOp(), nil
	}
	if err := s.appendLog(ctx, repo, shipment.ID, &m.from, m); err != nil {
		return outcome.Outcome{}, err
	}

	shipment.Status = m.to
	eventTime := m.eventTime
	data := payloads.ShipmentStatusChangedEvent{
		ShipmentID: shipment.ID,
		ShipmentNo: shipment.ShipmentNo,
		OrderID:    shipment.OrderID,
		FromStatus: m.from,
		ToStatus:   m.to,
		SubStatus:  m.subStatus,
		EventTime:  &eventTime,
	}
	if shipment.TrackingNo != nil {
		data.TrackingNo = *shipment.TrackingNo
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventShipmentStatusChanged,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Actor:         &outbox.ActorRef{UserID: m.actorID, Source: m.source, Ref: m.sourceRef},
		Data:          data,
	}); err != nil {
		return outcome.Outcome{}, err
	}

	if m.to == enums.ShipmentStatusDelivered {
		res, err := s.orders.MarkFulfilledTx(ctx, tx, shipment.OrderID, orders.Actor{Source: m.source, Ref: m.sourceRef})
		if err != nil {
			return outcome.Outcome{}, err
		}
		if !res.IsApplied() {
			s.logg.Debug(s.logg.WithField(ctx, "order_outcome", res.String()), "delivered shipment left order as is")
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"from_status":  m.from,
		"to_status":    m.to,
		"sub_status":   m.subStatus,
		"event_source": m.source,
	}), "shipment status changed")
	return outcome.Applied(), nil
}

func (s *Service) appendLog(ctx context.Context, repo Repository, shipmentID uuid.UUID, from *enums.ShipmentStatus, m move) error {
	entry := &models.ShipmentStatusLog{
		ShipmentID:  shipmentID,
		FromStatus:  from,
		ToStatus:    m.to,
		EventSource: m.source,
		SourceRef:   m.sourceRef,
	}
	if m.subStatus != "" {
		sub := m.subStatus
		entry.SubStatus = &sub
	}
	if !m.eventTime.IsZero() {
		at := m.eventTime
		entry.EventTime = &at
	}
	if m.raw != "" {
		raw := m.raw
		entry.RawPayload = &raw
	}
	if m.note != "" {
		note := m.note
		entry.Note = &note
	}
	if err := repo.AppendLog(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append shipment status log")
	}
	return nil
}

// CreateShipmentInput attaches a carrier label to a paid order.
type CreateShipmentInput struct {
	OrderNo     string
	CarrierCode string
	TrackingNo  string
	CustomsInfo *string
	ActorID     *uuid.UUID
}

// CreateShipment records a label for a PAID order and registers the tracking
// number with the carrier. An untracked placeholder of the order is reused.
// Repeating the call with the same tracking number only retries registration.
func (s *Service) CreateShipment(ctx context.Context, input CreateShipmentInput) (*models.Shipment, error) {
	orderNo := strings.TrimSpace(input.OrderNo)
	trackingNo := strings.TrimSpace(input.TrackingNo)
	carrierCode := strings.TrimSpace(input.CarrierCode)
	if orderNo == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	if trackingNo == "" || carrierCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier and tracking number required")
	}
	ctx = s.logg.WithOrderNo(ctx, orderNo)

	var shipmentID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.orders.LockByNoTx(ctx, tx, orderNo)
		if err != nil {
			return err
		}

		existing, err := repo.FindByTrackingNo(ctx, trackingNo)
		switch {
		case err == nil:
			if existing.OrderID != order.ID {
				return pkgerrors.New(pkgerrors.CodeConflict, "tracking number belongs to another order")
			}
			shipmentID = existing.ID
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find shipment by tracking number")
		}

		if order.Status != enums.OrderStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not ready to ship").
				WithDetails(map[string]any{"status": order.Status})
		}

		label := move{
			to:        enums.ShipmentStatusLabelCreated,
			source:    enums.EventSourceAdmin,
			sourceRef: "label:" + trackingNo,
			eventTime: s.now().UTC(),
			note:      "label created",
			actorID:   input.ActorID,
		}

		placeholder, err := repo.FindPlaceholder(ctx, order.ID)
		switch {
		case err == nil:
			bound, err := repo.BindTracking(ctx, placeholder.ID, carrierCode, trackingNo, input.CustomsInfo)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind tracking number")
			}
			if !bound {
				return pkgerrors.New(pkgerrors.CodeConflict, "shipment label changed concurrently")
			}
			placeholder.TrackingNo = &trackingNo
			label.from = placeholder.Status
			res, err := s.transitionTx(ctx, tx, placeholder, label)
			if err != nil {
				return err
			}
			if !res.IsApplied() {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "placeholder could not take a label").
					WithDetails(map[string]any{"reason": res.Reason})
			}
			shipmentID = placeholder.ID
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find placeholder shipment")
		}

		shipment := &models.Shipment{
			ShipmentNo:  newShipmentNo(s.now()),
			OrderID:     order.ID,
			CarrierCode: &carrierCode,
			TrackingNo:  &trackingNo,
			Status:      enums.ShipmentStatusLabelCreated,
			ShipTo:      order.AddressSnapshot,
			CustomsInfo: input.CustomsInfo,
		}
		if err := repo.Create(ctx, shipment); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "tracking number already used")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment")
		}
		if err := s.appendLog(ctx, repo, shipment.ID, nil, label); err != nil {
			return err
		}
		if err := s.emitCreated(ctx, tx, shipment, label); err != nil {
			return err
		}
		shipmentID = shipment.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.ensureRegistered(ctx, shipmentID); err != nil {
		return nil, err
	}
	return s.FindShipment(ctx, shipmentID)
}

// ensureRegistered registers the tracking number once. The trail row marks success.
func (s *Service) ensureRegistered(ctx context.Context, shipmentID uuid.UUID) error {
	shipment, err := s.repo.FindByID(ctx, shipmentID)
	if err != nil {
		return notFoundOr(err, "load shipment")
	}
	if shipment.TrackingNo == nil {
		return nil
	}
	ref := "carrier:registered:" + *shipment.TrackingNo
	done, err := s.repo.ExistsLog(ctx, shipment.ID, enums.EventSourceSystem, ref)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check registration log")
	}
	if done {
		return nil
	}

	tracking := carrier.Tracking{Number: *shipment.TrackingNo}
	if shipment.CarrierCode != nil {
		tracking.Carrier = *shipment.CarrierCode
	}
	if err := s.carrier.Register(ctx, tracking); err != nil {
		s.logg.Error(s.logg.WithShipmentID(ctx, shipment.ID.String()), "carrier registration failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "tracking registration failed, retry")
	}

	status := shipment.Status
	err = s.appendLog(ctx, s.repo, shipment.ID, &status, move{
		to:        status,
		source:    enums.EventSourceSystem,
		sourceRef: ref,
		eventTime: s.now().UTC(),
		note:      "tracking registered",
	})
	if err != nil && !dbpkg.IsUniqueViolation(errors.Unwrap(err), "") {
		return err
	}
	return nil
}

// EnsurePlaceholder gives a paid order an untracked CREATED shipment unless
// it already has one. The bool reports whether a row was created.
func (s *Service) EnsurePlaceholder(ctx context.Context, orderID uuid.UUID, source enums.EventSource, sourceRef string) (*models.Shipment, bool, error) {
	if source == "" {
		source = enums.EventSourceSystem
	}
	if strings.TrimSpace(sourceRef) == "" {
		sourceRef = PlaceholderSourceRef
	}

	var (
		result  *models.Shipment
		created bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.orders.LockByIDTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		rows, err := repo.ListByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order shipments")
		}
		if len(rows) > 0 {
			result = &rows[0]
			return nil
		}
		if order.Status != enums.OrderStatusPaid && order.Status != enums.OrderStatusFulfilled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has no paid goods to ship").
				WithDetails(map[string]any{"status": order.Status})
		}

		shipment := &models.Shipment{
			ShipmentNo: newShipmentNo(s.now()),
			OrderID:    order.ID,
			Status:     enums.ShipmentStatusCreated,
			ShipTo:     order.AddressSnapshot,
		}
		if err := repo.Create(ctx, shipment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create placeholder shipment")
		}
		m := move{
			to:        enums.ShipmentStatusCreated,
			source:    source,
			sourceRef: sourceRef,
			eventTime: s.now().UTC(),
			note:      "placeholder created",
		}
		if err := s.appendLog(ctx, repo, shipment.ID, nil, m); err != nil {
			return err
		}
		if err := s.emitCreated(ctx, tx, shipment, m); err != nil {
			return err
		}
		result = shipment
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logg.Info(s.logg.WithShipmentID(ctx, result.ID.String()), "placeholder shipment created")
	}
	return result, created, nil
}

func (s *Service) emitCreated(ctx context.Context, tx *gorm.DB, shipment *models.Shipment, m move) error {
	data := payloads.ShipmentStatusChangedEvent{
		ShipmentID: shipment.ID,
		ShipmentNo: shipment.ShipmentNo,
		OrderID:    shipment.OrderID,
		ToStatus:   shipment.Status,
	}
	if shipment.TrackingNo != nil {
		data.TrackingNo = *shipment.TrackingNo
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventShipmentStatusChanged,
		AggregateType: enums.AggregateShipment,
		AggregateID:   shipment.ID,
		Actor:         &outbox.ActorRef{UserID: m.actorID, Source: m.source, Ref: m.sourceRef},
		Data:          data,
	})
}

func (s *Service) FindShipment(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	shipment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load shipment")
	}
	return shipment, nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order shipments")
	}
	return rows, nil
}

func (s *Service) StatusLogs(ctx context.Context, shipmentID uuid.UUID) ([]models.ShipmentStatusLog, error) {
	rows, err := s.repo.ListLogs(ctx, shipmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipment logs")
	}
	return rows, nil
}

// ListOrdersWithoutShipment feeds the placeholder compensation job.
func (s *Service) ListOrdersWithoutShipment(ctx context.Context, limit int) ([]models.Order, error) {
	rows, err := s.repo.ListOrdersWithoutShipment(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders without shipment")
	}
	return rows, nil
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func newShipmentNo(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("SHP-%s-%s", now.Format("20060102150405"), suffix)
}
