package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/intlshop-backend/internal/shipments"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/metrics"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
)

type placeholderEnsurer interface {
	ListOrdersWithoutShipment(ctx context.Context, limit int) ([]models.Order, error)
	EnsurePlaceholder(ctx context.Context, orderID uuid.UUID, source enums.EventSource, sourceRef string) (*models.Shipment, bool, error)
}

type shipmentSyncer interface {
	ListSyncCandidates(ctx context.Context, limit int) ([]models.Shipment, error)
	SyncShipment(ctx context.Context, shipmentID uuid.UUID) (outcome.Outcome, error)
}

// ShipmentPlaceholderJobParams configure the placeholder compensation job.
type ShipmentPlaceholderJobParams struct {
	Logger    *logger.Logger
	Metrics   *metrics.CronJobMetrics
	Shipments placeholderEnsurer
	BatchSize int
}

// NewShipmentPlaceholderJob gives every paid order without a shipment a
// CREATED placeholder so fulfilment has something to attach a label to.
func NewShipmentPlaceholderJob(params ShipmentPlaceholderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Shipments == nil {
		return nil, fmt.Errorf("shipments service required")
	}
	return &shipmentPlaceholderJob{
		logg:    params.Logger,
		metrics: params.Metrics,
		svc:     params.Shipments,
		batch:   clampBatch(params.BatchSize),
	}, nil
}

type shipmentPlaceholderJob struct {
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	svc     placeholderEnsurer
	batch   int
}

func (j *shipmentPlaceholderJob) Name() string { return "shipment-placeholder" }

func (j *shipmentPlaceholderJob) Run(ctx context.Context) error {
	orders, err := j.svc.ListOrdersWithoutShipment(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list orders without shipment: %w", err)
	}
	run := newBatchRun(j.Name(), j.logg, j.metrics)
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		itemCtx := j.logg.WithOrderNo(ctx, order.OrderNo)
		_, created, err := j.svc.EnsurePlaceholder(itemCtx, order.ID, enums.EventSourceScheduler, shipments.PlaceholderSourceRef)
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			run.skip(itemCtx, order.OrderNo, err.Error())
		case err != nil:
			run.record(itemCtx, order.OrderNo, outcome.Outcome{}, err)
		case created:
			run.record(itemCtx, order.OrderNo, outcome.Applied(), nil)
		default:
			run.record(itemCtx, order.OrderNo, outcome.NoOp(), nil)
		}
	}
	return run.finish(ctx, len(orders))
}

// ShipmentSyncJobParams configure the carrier poller.
type ShipmentSyncJobParams struct {
	Logger    *logger.Logger
	Metrics   *metrics.CronJobMetrics
	Shipments shipmentSyncer
	BatchSize int
}

// NewShipmentSyncJob polls the carrier for tracked shipments that are not
// final yet.
func NewShipmentSyncJob(params ShipmentSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Shipments == nil {
		return nil, fmt.Errorf("shipments service required")
	}
	return &shipmentSyncJob{
		logg:    params.Logger,
		metrics: params.Metrics,
		svc:     params.Shipments,
		batch:   clampBatch(params.BatchSize),
	}, nil
}

type shipmentSyncJob struct {
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	svc     shipmentSyncer
	batch   int
}

func (j *shipmentSyncJob) Name() string { return "shipment-sync" }

func (j *shipmentSyncJob) Run(ctx context.Context) error {
	candidates, err := j.svc.ListSyncCandidates(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list shipment candidates: %w", err)
	}
	run := newBatchRun(j.Name(), j.logg, j.metrics)
	for _, shipment := range candidates {
		if ctx.Err() != nil {
			break
		}
		itemCtx := j.logg.WithShipmentID(ctx, shipment.ID.String())
		result, err := j.svc.SyncShipment(itemCtx, shipment.ID)
		run.record(itemCtx, shipment.ShipmentNo, result, err)
	}
	return run.finish(ctx, len(candidates))
}
