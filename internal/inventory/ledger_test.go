package inventory

import (
	"context"
	"testing"

	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestReserveDecrementsOncePerOrder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	seedStock(t, db, map[string]int{"SKU-A": 5, "SKU-B": 2})
	orderID := uuid.New()
	lines := []Line{{SkuID: "SKU-B", Quantity: 1}, {SkuID: "SKU-A", Quantity: 2}, {SkuID: "SKU-A", Quantity: 1}}

	var first Result
	if err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = Reserve(ctx, tx, orderID, lines)
		return err
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(first.Applied) != 2 || first.Applied[0] != "SKU-A" || first.Applied[1] != "SKU-B" {
		t.Fatalf("unexpected applied skus %v", first.Applied)
	}

	var second Result
	if err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = Reserve(ctx, tx, orderID, lines)
		return err
	}); err != nil {
		t.Fatalf("replayed reserve: %v", err)
	}
	if len(second.Applied) != 0 || len(second.Skipped) != 2 {
		t.Fatalf("expected replay to skip every sku, got %+v", second)
	}

	assertAvailable(t, db, "SKU-A", 2)
	assertAvailable(t, db, "SKU-B", 1)

	entries, err := Entries(ctx, db, orderID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.ChangeType != enums.InventoryReserve || entry.Quantity >= 0 {
			t.Fatalf("unexpected ledger row %+v", entry)
		}
	}
}

func TestReserveInsufficientStockRollsBack(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	seedStock(t, db, map[string]int{"SKU-A": 5, "SKU-B": 1})
	orderID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := Reserve(ctx, tx, orderID, []Line{{SkuID: "SKU-A", Quantity: 2}, {SkuID: "SKU-B", Quantity: 3}})
		return err
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	assertAvailable(t, db, "SKU-A", 5)
	assertAvailable(t, db, "SKU-B", 1)

	entries, err := Entries(ctx, db, orderID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected rolled back ledger, got %d rows", len(entries))
	}
}

func TestReleaseAndRestockAreIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	seedStock(t, db, map[string]int{"SKU-A": 4})
	cancelled := uuid.New()
	refunded := uuid.New()
	lines := []Line{{SkuID: "SKU-A", Quantity: 2}}

	run := func(fn func(tx *gorm.DB) error) {
		t.Helper()
		if err := db.Transaction(fn); err != nil {
			t.Fatalf("transaction: %v", err)
		}
	}

	run(func(tx *gorm.DB) error { _, err := Reserve(ctx, tx, cancelled, lines); return err })
	run(func(tx *gorm.DB) error { _, err := Reserve(ctx, tx, refunded, lines); return err })
	assertAvailable(t, db, "SKU-A", 0)

	for i := 0; i < 2; i++ {
		run(func(tx *gorm.DB) error { _, err := Release(ctx, tx, cancelled, lines); return err })
		run(func(tx *gorm.DB) error { _, err := Restock(ctx, tx, refunded, lines); return err })
	}
	assertAvailable(t, db, "SKU-A", 4)

	entries, err := Entries(ctx, db, refunded)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected reserve + restock rows, got %d", len(entries))
	}
}

func TestApplyValidatesLines(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		lines []Line
	}{
		{name: "empty", lines: nil},
		{name: "blank sku", lines: []Line{{SkuID: " ", Quantity: 1}}},
		{name: "zero quantity", lines: []Line{{SkuID: "SKU-A", Quantity: 0}}},
	}
	for _, tc := range cases {
		_, err := Reserve(ctx, db, uuid.New(), tc.lines)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestRestockMissingStockRow(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	_, err := Restock(context.Background(), db, uuid.New(), []Line{{SkuID: "GHOST", Quantity: 1}})
	if !pkgerrors.IsCode(err, pkgerrors.CodeConsistency) {
		t.Fatalf("expected consistency error, got %v", err)
	}
}

func TestLinesFromItems(t *testing.T) {
	lines := LinesFromItems([]models.OrderItem{{SkuID: "SKU-A", Quantity: 2}, {SkuID: "SKU-B", Quantity: 1}})
	if len(lines) != 2 || lines[0].SkuID != "SKU-A" || lines[1].Quantity != 1 {
		t.Fatalf("unexpected lines %+v", lines)
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.SkuStock{}, &models.InventoryLog{}); err != nil {
		t.Fatalf("migrate inventory: %v", err)
	}
	return db
}

func seedStock(t *testing.T, db *gorm.DB, stock map[string]int) {
	t.Helper()
	for sku, qty := range stock {
		row := models.SkuStock{SkuID: sku, Available: qty}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed stock %s: %v", sku, err)
		}
	}
}

func assertAvailable(t *testing.T, db *gorm.DB, sku string, want int) {
	t.Helper()
	var row models.SkuStock
	if err := db.First(&row, "sku_id = ?", sku).Error; err != nil {
		t.Fatalf("load stock %s: %v", sku, err)
	}
	if row.Available != want {
		t.Fatalf("sku %s: expected available %d, got %d", sku, want, row.Available)
	}
}
