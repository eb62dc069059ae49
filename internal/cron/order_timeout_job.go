package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/metrics"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
)

type unpaidOrderCanceller interface {
	PaymentTTL() time.Duration
	ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	CancelUnpaid(ctx context.Context, orderNo string, reason string) (outcome.Outcome, error)
}

// OrderTimeoutJobParams configure the unpaid order sweep.
type OrderTimeoutJobParams struct {
	Logger    *logger.Logger
	Metrics   *metrics.CronJobMetrics
	Orders    unpaidOrderCanceller
	BatchSize int
	Now       func() time.Time
}

// NewOrderTimeoutJob builds the recovery sweep behind the delayed
// order-timeout message. It cancels orders that outlived the payment TTL
// when the message was lost.
func NewOrderTimeoutJob(params OrderTimeoutJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &orderTimeoutJob{
		logg:    params.Logger,
		metrics: params.Metrics,
		orders:  params.Orders,
		batch:   clampBatch(params.BatchSize),
		now:     now,
	}, nil
}

type orderTimeoutJob struct {
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	orders  unpaidOrderCanceller
	batch   int
	now     func() time.Time
}

func (j *orderTimeoutJob) Name() string { return "order-timeout" }

func (j *orderTimeoutJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.orders.PaymentTTL())
	expired, err := j.orders.ListExpiredUnpaid(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list expired orders: %w", err)
	}
	run := newBatchRun(j.Name(), j.logg, j.metrics)
	for _, order := range expired {
		if ctx.Err() != nil {
			break
		}
		itemCtx := j.logg.WithOrderNo(ctx, order.OrderNo)
		result, err := j.orders.CancelUnpaid(itemCtx, order.OrderNo, "payment timeout")
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			// paid or cancelled since it was listed
			run.skip(itemCtx, order.OrderNo, err.Error())
			continue
		}
		run.record(itemCtx, order.OrderNo, result, err)
	}
	return run.finish(j.logg.WithField(ctx, "cutoff", cutoff), len(expired))
}
