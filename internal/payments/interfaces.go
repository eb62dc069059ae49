package payments

import (
	"context"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists payment attempts and refunds. Every status write is a
// CAS on the prior status and reports whether a row changed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreatePayment(ctx context.Context, payment *models.PaymentOrder) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error)
	FindPaymentByExternalID(ctx context.Context, externalID string) (*models.PaymentOrder, error)
	ListOpenPayments(ctx context.Context, orderID uuid.UUID) ([]models.PaymentOrder, error)
	ListClosablePayments(ctx context.Context, orderID uuid.UUID) ([]models.PaymentOrder, error)
	ActivatePlaceholder(ctx context.Context, id uuid.UUID, channel enums.PaymentChannel, requestPayload *string) (bool, error)
	ClosePayment(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus) (bool, error)
	BindExternalID(ctx context.Context, id uuid.UUID, externalID string) (bool, error)
	CompareAndSetPaymentStatus(ctx context.Context, id uuid.UUID, expected, next enums.PaymentStatus, extra map[string]any) (bool, error)
	TouchPaymentNotified(ctx context.Context, id uuid.UUID, payload *string, at time.Time) error
	MarkPaymentPolled(ctx context.Context, id uuid.UUID, at time.Time) error
	ListPaymentSyncCandidates(ctx context.Context, limit int) ([]models.PaymentOrder, error)

	CreateRefund(ctx context.Context, refund *models.PaymentRefund) error
	FindRefundByID(ctx context.Context, id uuid.UUID) (*models.PaymentRefund, error)
	FindRefundByExternalID(ctx context.Context, externalRefundID string) (*models.PaymentRefund, error)
	FindRefundByClientNo(ctx context.Context, clientRefundNo string) (*models.PaymentRefund, error)
	FindOpenRefund(ctx context.Context, paymentID uuid.UUID, unboundOnly bool) (*models.PaymentRefund, error)
	ExistsRefundInProgressOrSuccess(ctx context.Context, paymentID uuid.UUID) (bool, error)
	ExistsRefundByClientNo(ctx context.Context, clientRefundNo string) (bool, error)
	BindRefundExternalID(ctx context.Context, id uuid.UUID, externalRefundID string) (bool, error)
	CompareAndSetRefundStatus(ctx context.Context, id uuid.UUID, expected []enums.RefundStatus, next enums.RefundStatus, extra map[string]any) (bool, error)
	MarkRefundPolled(ctx context.Context, id uuid.UUID, at time.Time) error
	ListRefundSyncCandidates(ctx context.Context, limit int, unboundBefore time.Time) ([]models.PaymentRefund, error)
}

// OrderMachine is the slice of the order state machine that payments drive.
type OrderMachine interface {
	PaymentTTL() time.Duration
	FindOrderForUser(ctx context.Context, orderNo string, userID uuid.UUID) (*models.Order, error)
	FindOrderByNo(ctx context.Context, orderNo string) (*models.Order, error)
	LockByNoTx(ctx context.Context, tx *gorm.DB, orderNo string) (*models.Order, error)
	LockByIDTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	MirrorPayStatusTx(ctx context.Context, tx *gorm.DB, order *models.Order, mirror orders.PayMirror) (bool, error)
	AwaitPaymentTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor orders.Actor, note string) (outcome.Outcome, error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor orders.Actor, paidAt time.Time) (outcome.Outcome, error)
	RequestRefund(ctx context.Context, orderNo string, userID uuid.UUID, reason string) (outcome.Outcome, error)
	RequestRefundTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor orders.Actor, reason string) (outcome.Outcome, error)
	ConfirmRefundTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor orders.Actor) (outcome.Outcome, error)
	AppendNoteTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor orders.Actor, note string) error
}
