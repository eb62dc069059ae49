package orders

import (
	"context"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/inventory"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for orders and their audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreatePaymentPlaceholder(ctx context.Context, payment *models.PaymentOrder) error
	SetActivePayment(ctx context.Context, orderID, paymentID uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNo(ctx context.Context, orderNo string) (*models.Order, error)
	FindByOrderNoForUpdate(ctx context.Context, orderNo string) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error)
	FindItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next enums.OrderStatus, extra map[string]any) (bool, error)
	AppendStatusLog(ctx context.Context, entry *models.OrderStatusLog) error
	ListStatusLogs(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error)
	UpdatePayMirror(ctx context.Context, id uuid.UUID, updates map[string]any, expectedPayStatus *enums.PaymentStatus) (bool, error)
	UpdateAddressOnce(ctx context.Context, id uuid.UUID, address types.Address, statuses []enums.OrderStatus) (bool, error)
	ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// StockLedger applies inventory effects inside the caller's transaction.
type StockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.Line) (inventory.Result, error)
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.Line) (inventory.Result, error)
	Restock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []inventory.Line) (inventory.Result, error)
}

// PaymentCloser closes an order's open payment attempts on behalf of the
// payment state machine, which owns payment_orders.status.
type PaymentCloser interface {
	CloseOpenPaymentsTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor Actor) (int, error)
}
