package shipments

import (
	"context"
	"time"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a shipments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, shipment *models.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&shipment).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) FindByTrackingNo(ctx context.Context, trackingNo string) (*models.Shipment, error) {
	var shipment models.Shipment
	if err := r.db.WithContext(ctx).Where("tracking_no = ?", trackingNo).First(&shipment).Error; err != nil {
		return nil, err
	}
	return &shipment, nil
}

// FindPlaceholder returns the oldest untracked CREATED shipment of an order.
func (r *repository) FindPlaceholder(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ? AND tracking_no IS NULL", orderID, enums.ShipmentStatusCreated).
		Order("created_at ASC").
		First(&shipment).Error
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// BindTracking attaches a tracking number to an untracked shipment once.
func (r *repository) BindTracking(ctx context.Context, id uuid.UUID, carrierCode, trackingNo string, customsInfo *string) (bool, error) {
	updates := map[string]any{
		"carrier_code": carrierCode,
		"tracking_no":  trackingNo,
		"updated_at":   time.Now().UTC(),
	}
	if customsInfo != nil {
		updates["customs_info"] = *customsInfo
	}
	res := r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ? AND tracking_no IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next enums.ShipmentStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": next, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Shipment{}).
		Where("id = ?", id).
		Update("last_polled_at", at).Error
}

// ListSyncCandidates returns tracked shipments that can still move, least recently polled first.
func (r *repository) ListSyncCandidates(ctx context.Context, limit int) ([]models.Shipment, error) {
	var rows []models.Shipment
	err := r.db.WithContext(ctx).
		Where("tracking_no IS NOT NULL AND status NOT IN ?", finalStatuses()).
		Order("last_polled_at IS NOT NULL").
		Order("last_polled_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListOrdersWithoutShipment returns paid or fulfilled orders that have no shipment row.
func (r *repository) ListOrdersWithoutShipment(ctx context.Context, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusFulfilled}).
		Where("NOT EXISTS (SELECT 1 FROM shipments s WHERE s.order_id = orders.id)").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) AppendLog(ctx context.Context, entry *models.ShipmentStatusLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ExistsLog(ctx context.Context, shipmentID uuid.UUID, source enums.EventSource, sourceRef string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ShipmentStatusLog{}).
		Where("shipment_id = ? AND event_source = ? AND source_ref = ?", shipmentID, source, sourceRef).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) ListLogs(ctx context.Context, shipmentID uuid.UUID) ([]models.ShipmentStatusLog, error) {
	var rows []models.ShipmentStatusLog
	err := r.db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func finalStatuses() []enums.ShipmentStatus {
	return []enums.ShipmentStatus{
		enums.ShipmentStatusDelivered,
		enums.ShipmentStatusException,
		enums.ShipmentStatusReturned,
		enums.ShipmentStatusLost,
		enums.ShipmentStatusCancelled,
	}
}
