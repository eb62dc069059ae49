package shipments

import (
	"context"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/pkg/carrier"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/outcome"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists shipments and their carrier event trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, shipment *models.Shipment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	FindByTrackingNo(ctx context.Context, trackingNo string) (*models.Shipment, error)
	FindPlaceholder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error)
	BindTracking(ctx context.Context, id uuid.UUID, carrierCode, trackingNo string, customsInfo *string) (bool, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next enums.ShipmentStatus, extra map[string]any) (bool, error)
	MarkPolled(ctx context.Context, id uuid.UUID, at time.Time) error
	ListSyncCandidates(ctx context.Context, limit int) ([]models.Shipment, error)
	ListOrdersWithoutShipment(ctx context.Context, limit int) ([]models.Order, error)

	AppendLog(ctx context.Context, entry *models.ShipmentStatusLog) error
	ExistsLog(ctx context.Context, shipmentID uuid.UUID, source enums.EventSource, sourceRef string) (bool, error)
	ListLogs(ctx context.Context, shipmentID uuid.UUID) ([]models.ShipmentStatusLog, error)
}

// OrderMachine is the slice of the order state machine shipments drive.
type OrderMachine interface {
	LockByNoTx(ctx context.Context, tx *gorm.DB, orderNo string) (*models.Order, error)
	LockByIDTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	MarkFulfilledTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor orders.Actor) (outcome.Outcome, error)
}

// Carrier is the tracking aggregator port.
type Carrier interface {
	Register(ctx context.Context, tracking carrier.Tracking) error
	Query(ctx context.Context, tracking carrier.Tracking) (*carrier.TrackStatus, error)
	VerifyWebhook(signature string, body []byte) bool
}
