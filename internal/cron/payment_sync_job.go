package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/metrics"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
)

type paymentSyncer interface {
	ListPaymentSyncCandidates(ctx context.Context, limit int) ([]models.PaymentOrder, error)
	SyncPayment(ctx context.Context, paymentID uuid.UUID) (outcome.Outcome, error)
}

type refundSyncer interface {
	ListRefundSyncCandidates(ctx context.Context, limit int) ([]models.PaymentRefund, error)
	SyncRefund(ctx context.Context, refundID uuid.UUID) (outcome.Outcome, error)
}

// PaymentSyncJobParams configure the payment and refund pollers.
type PaymentSyncJobParams struct {
	Logger    *logger.Logger
	Metrics   *metrics.CronJobMetrics
	Payments  paymentSyncer
	BatchSize int
}

// NewPaymentSyncJob polls the gateway for open attempts whose notification
// may have been lost.
func NewPaymentSyncJob(params PaymentSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &paymentSyncJob{
		logg:    params.Logger,
		metrics: params.Metrics,
		svc:     params.Payments,
		batch:   clampBatch(params.BatchSize),
	}, nil
}

type paymentSyncJob struct {
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	svc     paymentSyncer
	batch   int
}

func (j *paymentSyncJob) Name() string { return "payment-sync" }

func (j *paymentSyncJob) Run(ctx context.Context) error {
	candidates, err := j.svc.ListPaymentSyncCandidates(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list payment candidates: %w", err)
	}
	run := newBatchRun(j.Name(), j.logg, j.metrics)
	for _, payment := range candidates {
		if ctx.Err() != nil {
			break
		}
		itemCtx := j.logg.WithPaymentID(j.logg.WithOrderNo(ctx, payment.OrderNo), payment.ID.String())
		result, err := j.svc.SyncPayment(itemCtx, payment.ID)
		run.record(itemCtx, payment.ID.String(), result, err)
	}
	return run.finish(ctx, len(candidates))
}

// RefundSyncJobParams configure the refund poller.
type RefundSyncJobParams struct {
	Logger    *logger.Logger
	Metrics   *metrics.CronJobMetrics
	Payments  refundSyncer
	BatchSize int
}

// NewRefundSyncJob polls the gateway for refunds still INIT or PENDING.
func NewRefundSyncJob(params RefundSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &refundSyncJob{
		logg:    params.Logger,
		metrics: params.Metrics,
		svc:     params.Payments,
		batch:   clampBatch(params.BatchSize),
	}, nil
}

type refundSyncJob struct {
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics
	svc     refundSyncer
	batch   int
}

func (j *refundSyncJob) Name() string { return "refund-sync" }

func (j *refundSyncJob) Run(ctx context.Context) error {
	candidates, err := j.svc.ListRefundSyncCandidates(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list refund candidates: %w", err)
	}
	run := newBatchRun(j.Name(), j.logg, j.metrics)
	for _, refund := range candidates {
		if ctx.Err() != nil {
			break
		}
		itemCtx := j.logg.WithField(ctx, "refund_no", refund.RefundNo)
		result, err := j.svc.SyncRefund(itemCtx, refund.ID)
		run.record(itemCtx, refund.ID.String(), result, err)
	}
	return run.finish(ctx, len(candidates))
}
