// Package inventory owns the append-only stock ledger. Every effect is fenced
// by the (order_id, sku_id, change_type) unique key so it applies once per order.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Line is one SKU quantity affected by an order.
type Line struct {
	SkuID    string
	Quantity int
}

// Result reports which SKUs were changed by this call. Lines already recorded
// for the order are skipped.
type Result struct {
	Applied []string
	Skipped []string
}

// LinesFromItems converts order items into ledger lines.
func LinesFromItems(items []models.OrderItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{SkuID: item.SkuID, Quantity: item.Quantity})
	}
	return lines
}

// Reserve decrements stock for an order. Insufficient stock is a CONFLICT and
// the caller's transaction must roll back.
func Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) (Result, error) {
	return apply(ctx, tx, orderID, enums.InventoryReserve, lines)
}

// Release returns reserved stock of an unpaid order.
func Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) (Result, error) {
	return apply(ctx, tx, orderID, enums.InventoryRelease, lines)
}

// Restock returns stock of a refunded order.
func Restock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) (Result, error) {
	return apply(ctx, tx, orderID, enums.InventoryRestock, lines)
}

// Entries lists the ledger rows of an order in insertion order.
func Entries(ctx context.Context, db *gorm.DB, orderID uuid.UUID) ([]models.InventoryLog, error) {
	var rows []models.InventoryLog
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func apply(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, change enums.InventoryChangeType, lines []Line) (Result, error) {
	if tx == nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	merged, err := normalize(lines)
	if err != nil {
		return Result{}, err
	}

	var result Result
	// sku order keeps row-lock acquisition consistent across concurrent orders
	for _, line := range merged {
		entry := models.InventoryLog{
			OrderID:    orderID,
			SkuID:      line.SkuID,
			ChangeType: change,
			Quantity:   signedQuantity(change, line.Quantity),
		}
		insert := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if insert.Error != nil {
			return result, fmt.Errorf("insert inventory log: %w", insert.Error)
		}
		if insert.RowsAffected == 0 {
			result.Skipped = append(result.Skipped, line.SkuID)
			continue
		}

		if err := adjustStock(ctx, tx, change, line); err != nil {
			return result, err
		}
		result.Applied = append(result.Applied, line.SkuID)
	}
	return result, nil
}

func adjustStock(ctx context.Context, tx *gorm.DB, change enums.InventoryChangeType, line Line) error {
	q := tx.WithContext(ctx).Model(&models.SkuStock{}).Where("sku_id = ?", line.SkuID)
	var res *gorm.DB
	if change == enums.InventoryReserve {
		res = q.Where("available >= ?", line.Quantity).
			Update("available", gorm.Expr("available - ?", line.Quantity))
	} else {
		res = q.Update("available", gorm.Expr("available + ?", line.Quantity))
	}
	if res.Error != nil {
		return fmt.Errorf("adjust stock for %s: %w", line.SkuID, res.Error)
	}
	if res.RowsAffected == 0 {
		if change == enums.InventoryReserve {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(map[string]any{"sku_id": line.SkuID, "quantity": line.Quantity})
		}
		return pkgerrors.New(pkgerrors.CodeConsistency, "stock row missing").
			WithDetails(map[string]any{"sku_id": line.SkuID})
	}
	return nil
}

func normalize(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "inventory lines required")
	}
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		sku := strings.TrimSpace(line.SkuID)
		if sku == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id required")
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"sku_id": sku})
		}
		totals[sku] += line.Quantity
	}
	merged := make([]Line, 0, len(totals))
	for sku, qty := range totals {
		merged = append(merged, Line{SkuID: sku, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].SkuID < merged[j].SkuID })
	return merged, nil
}

func signedQuantity(change enums.InventoryChangeType, qty int) int {
	if change == enums.InventoryReserve {
		return -qty
	}
	return qty
}

// Ledger exposes the package functions behind an injectable value.
type Ledger struct{}

func NewLedger() Ledger { return Ledger{} }

func (Ledger) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) (Result, error) {
	return Reserve(ctx, tx, orderID, lines)
}

func (Ledger) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) (Result, error) {
	return Release(ctx, tx, orderID, lines)
}

func (Ledger) Restock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, lines []Line) (Result, error) {
	return Restock(ctx, tx, orderID, lines)
}
