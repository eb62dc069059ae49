package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/metrics"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	minBatchSize     = 1
	maxBatchSize     = 200
	defaultBatchSize = 50
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

func clampBatch(n int) int {
	if n == 0 {
		return defaultBatchSize
	}
	if n < minBatchSize {
		return minBatchSize
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}

// batchRun tallies per-item results for one job run. A failing item never
// stops the batch; its error is kept and returned from finish.
type batchRun struct {
	job     string
	logg    *logger.Logger
	metrics *metrics.CronJobMetrics

	applied  int
	noop     int
	rejected int
	failed   int
	err      error
}

func newBatchRun(job string, logg *logger.Logger, m *metrics.CronJobMetrics) *batchRun {
	return &batchRun{job: job, logg: logg, metrics: m}
}

func (b *batchRun) record(ctx context.Context, item string, result outcome.Outcome, err error) {
	itemCtx := b.logg.WithField(ctx, "item", item)
	switch {
	case err != nil:
		b.failed++
		b.err = multierr.Append(b.err, fmt.Errorf("%s: %w", item, err))
		b.logg.Warn(b.logg.WithField(itemCtx, "error", err.Error()), "batch item failed")
	case result.IsApplied():
		b.applied++
		b.logg.Debug(itemCtx, "batch item applied")
	case result.IsRejected():
		b.rejected++
		b.logg.Debug(b.logg.WithField(itemCtx, "reason", result.Reason), "batch item rejected")
	default:
		b.noop++
	}
}

// skip counts an item that needed no action, such as a timeout that lost to
// a payment.
func (b *batchRun) skip(ctx context.Context, item, reason string) {
	b.noop++
	b.logg.Debug(b.logg.WithFields(ctx, map[string]any{"item": item, "reason": reason}), "batch item skipped")
}

func (b *batchRun) finish(ctx context.Context, size int) error {
	b.metrics.AddItems(b.job, "applied", b.applied)
	b.metrics.AddItems(b.job, "noop", b.noop)
	b.metrics.AddItems(b.job, "rejected", b.rejected)
	b.metrics.AddItems(b.job, "failed", b.failed)
	b.logg.Info(b.logg.WithFields(ctx, map[string]any{
		"candidates": size,
		"applied":    b.applied,
		"noop":       b.noop,
		"rejected":   b.rejected,
		"failed":     b.failed,
	}), "batch complete")
	return b.err
}
