package payments

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.PaymentOrder) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	var payment models.PaymentOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByExternalID(ctx context.Context, externalID string) (*models.PaymentOrder, error) {
	var payment models.PaymentOrder
	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListOpenPayments(ctx context.Context, orderID uuid.UUID) ([]models.PaymentOrder, error) {
	var rows []models.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListClosablePayments also returns the NONE placeholder.
func (r *repository) ListClosablePayments(ctx context.Context, orderID uuid.UUID) ([]models.PaymentOrder, error) {
	var rows []models.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, closableStatuses).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ActivatePlaceholder(ctx context.Context, id uuid.UUID, channel enums.PaymentChannel, requestPayload *string) (bool, error) {
	updates := map[string]any{
		"status":     enums.PaymentStatusInit,
		"channel":    channel,
		"updated_at": time.Now().UTC(),
	}
	if requestPayload != nil {
		updates["request_payload"] = *requestPayload
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusNone).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ClosePayment(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": enums.PaymentStatusClosed, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// BindExternalID sets external_id exactly once.
func (r *repository) BindExternalID(ctx context.Context, id uuid.UUID, externalID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND external_id IS NULL AND status IN ?", id, []enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}).
		Updates(map[string]any{
			"external_id": externalID,
			"status":      enums.PaymentStatusPending,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompareAndSetPaymentStatus never moves a SUCCESS row.
func (r *repository) CompareAndSetPaymentStatus(ctx context.Context, id uuid.UUID, expected, next enums.PaymentStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": next, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	q := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, expected)
	if expected != enums.PaymentStatusSuccess {
		q = q.Where("status <> ?", enums.PaymentStatusSuccess)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) TouchPaymentNotified(ctx context.Context, id uuid.UUID, payload *string, at time.Time) error {
	updates := map[string]any{"last_notified_at": at}
	if payload != nil {
		updates["notify_payload"] = *payload
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) MarkPaymentPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ?", id).
		Update("last_polled_at", at).Error
}

// ListPaymentSyncCandidates returns open attempts bound to the gateway, least recently polled first.
func (r *repository) ListPaymentSyncCandidates(ctx context.Context, limit int) ([]models.PaymentOrder, error) {
	var rows []models.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("status IN ? AND external_id IS NOT NULL", []enums.PaymentStatus{enums.PaymentStatusInit, enums.PaymentStatusPending}).
		Order("last_polled_at IS NOT NULL").
		Order("last_polled_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.PaymentRefund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindRefundByID(ctx context.Context, id uuid.UUID) (*models.PaymentRefund, error) {
	var refund models.PaymentRefund
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) FindRefundByExternalID(ctx context.Context, externalRefundID string) (*models.PaymentRefund, error) {
	var refund models.PaymentRefund
	if err := r.db.WithContext(ctx).Where("external_refund_id = ?", externalRefundID).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) FindRefundByClientNo(ctx context.Context, clientRefundNo string) (*models.PaymentRefund, error) {
	var refund models.PaymentRefund
	if err := r.db.WithContext(ctx).Where("client_refund_no = ?", clientRefundNo).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

// FindOpenRefund returns the newest INIT/PENDING refund of a payment, or nil.
func (r *repository) FindOpenRefund(ctx context.Context, paymentID uuid.UUID, unboundOnly bool) (*models.PaymentRefund, error) {
	q := r.db.WithContext(ctx).
		Where("payment_order_id = ? AND status IN ?", paymentID, []enums.RefundStatus{enums.RefundStatusInit, enums.RefundStatusPending})
	if unboundOnly {
		q = q.Where("(external_refund_id IS NULL OR external_refund_id = '')")
	}
	var refund models.PaymentRefund
	err := q.Order("created_at DESC").First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) ExistsRefundInProgressOrSuccess(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentRefund{}).
		Where("payment_order_id = ? AND status IN ?", paymentID, []enums.RefundStatus{
			enums.RefundStatusInit,
			enums.RefundStatusPending,
			enums.RefundStatusSuccess,
		}).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ExistsRefundByClientNo(ctx context.Context, clientRefundNo string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentRefund{}).
		Where("client_refund_no = ?", clientRefundNo).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) BindRefundExternalID(ctx context.Context, id uuid.UUID, externalRefundID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRefund{}).
		Where("id = ? AND (external_refund_id IS NULL OR external_refund_id = '')", id).
		Updates(map[string]any{"external_refund_id": externalRefundID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CompareAndSetRefundStatus(ctx context.Context, id uuid.UUID, expected []enums.RefundStatus, next enums.RefundStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": next, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentRefund{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkRefundPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentRefund{}).
		Where("id = ?", id).
		Update("last_polled_at", at).Error
}

func (r *repository) ListRefundSyncCandidates(ctx context.Context, limit int, unboundBefore time.Time) ([]models.PaymentRefund, error) {
	var rows []models.PaymentRefund
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.RefundStatus{enums.RefundStatusInit, enums.RefundStatusPending}).
		Where("(external_refund_id IS NOT NULL AND external_refund_id <> '') OR created_at < ?", unboundBefore).
		Order("last_polled_at IS NOT NULL").
		Order("last_polled_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
