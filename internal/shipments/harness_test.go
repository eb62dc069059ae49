package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	"github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/internal/payments"
	"github.com/angelmondragon/intlshop-backend/pkg/carrier"
	dbpkg "github.com/angelmondragon/intlshop-backend/pkg/db"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testCarrierSecret = "track-secret"

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	db      *gorm.DB
	tx      *dbpkg.Client
	orders  *orders.Service
	svc     *Service
	carrier *fakeCarrier
	store   *memoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newShipmentsTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "test"})
	tx := dbpkg.NewFromConn(db)
	emitter := outbox.NewService(outbox.NewRepository(db), nil)
	now := func() time.Time { return testNow }

	closer, err := payments.NewAttemptCloser(payments.NewRepository(db), emitter)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repository: orders.NewRepository(db),
		Tx:         tx,
		Outbox:     emitter,
		Payments:   closer,
		Flags:      newMemoryStore(),
		Logger:     logg,
		PaymentTTL: 30 * time.Minute,
		Now:        now,
	})
	require.NoError(t, err)

	store := newMemoryStore()
	gate, err := dedupe.NewGate(store, time.Minute)
	require.NoError(t, err)

	fc := newFakeCarrier()
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(db),
		Tx:         tx,
		Orders:     orderSvc,
		Carrier:    fc,
		Outbox:     emitter,
		Gate:       gate,
		Logger:     logg,
		Now:        now,
	})
	require.NoError(t, err)
	return &harness{db: db, tx: tx, orders: orderSvc, svc: svc, carrier: fc, store: store}
}

func newShipmentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:shipments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStatusLog{},
		&models.SkuStock{},
		&models.InventoryLog{},
		&models.PaymentOrder{},
		&models.Shipment{},
		&models.ShipmentStatusLog{},
		&models.OutboxEvent{},
	))
	return db
}

// paidOrder places a one-line order and moves it to PAID.
func (h *harness) paidOrder(t *testing.T) *models.Order {
	t.Helper()
	order := h.unpaidOrder(t)
	require.NoError(t, h.tx.WithTx(context.Background(), func(tx *gorm.DB) error {
		locked, err := h.orders.LockByIDTx(context.Background(), tx, order.ID)
		if err != nil {
			return err
		}
		result, err := h.orders.MarkPaidTx(context.Background(), tx, locked, orders.Actor{Source: enums.EventSourcePaymentCallback}, testNow)
		if err != nil {
			return err
		}
		if !result.IsApplied() {
			return fmt.Errorf("mark paid: %s", result)
		}
		return nil
	}))
	return h.order(t, order.ID)
}

func (h *harness) unpaidOrder(t *testing.T) *models.Order {
	t.Helper()
	sku := "SKU-" + uuid.NewString()[:8]
	require.NoError(t, h.db.Create(&models.SkuStock{SkuID: sku, Available: 5}).Error)
	order, err := h.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		UserID:   uuid.New(),
		Currency: "EUR",
		Items:    []orders.ItemInput{{SkuID: sku, Title: "Linen shirt", Quantity: 1, UnitPrice: 4500}},
		Address: types.Address{
			Recipient:  "Mika Tanaka",
			Line1:      "1-2-3 Shibuya",
			City:       "Tokyo",
			PostalCode: "150-0002",
			Country:    "JP",
		},
	})
	require.NoError(t, err)
	return order
}

func (h *harness) order(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, h.db.First(&order, "id = ?", id).Error)
	return &order
}

// shipped creates a labelled shipment for a fresh paid order.
func (h *harness) shipped(t *testing.T, trackingNo string) (*models.Order, *models.Shipment) {
	t.Helper()
	order := h.paidOrder(t)
	shipment, err := h.svc.CreateShipment(context.Background(), CreateShipmentInput{
		OrderNo:     order.OrderNo,
		CarrierCode: "3011",
		TrackingNo:  trackingNo,
	})
	require.NoError(t, err)
	return order, shipment
}

func (h *harness) shipment(t *testing.T, id uuid.UUID) *models.Shipment {
	t.Helper()
	shipment, err := h.svc.FindShipment(context.Background(), id)
	require.NoError(t, err)
	return shipment
}

func (h *harness) logs(t *testing.T, shipmentID uuid.UUID) []models.ShipmentStatusLog {
	t.Helper()
	rows, err := h.svc.StatusLogs(context.Background(), shipmentID)
	require.NoError(t, err)
	return rows
}

// moves counts trail rows that changed status.
func (h *harness) moves(t *testing.T, shipmentID uuid.UUID) int {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&models.ShipmentStatusLog{}).
		Where("shipment_id = ? AND (from_status IS NULL OR from_status <> to_status)", shipmentID).
		Count(&count).Error)
	return int(count)
}

func (h *harness) event(t *testing.T, shipmentID uuid.UUID, subStatus, ref string) bool {
	t.Helper()
	result, err := h.svc.ApplyCarrierEvent(context.Background(), shipmentID, CarrierEvent{
		SubStatus: subStatus,
		Source:    enums.EventSourceCarrierCallback,
		SourceRef: ref,
	})
	require.NoError(t, err)
	return result.IsApplied()
}

func pushBody(t *testing.T, data map[string]any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"event": "TRACKING_UPDATED", "data": data})
	require.NoError(t, err)
	return body, carrier.Sign(testCarrierSecret, body)
}

func trackDataMap(number, subStatus, timeISO string) map[string]any {
	return map[string]any{
		"number":  number,
		"carrier": 3011,
		"track_info": map[string]any{
			"latest_status": map[string]any{"status": "InTransit", "sub_status": subStatus},
			"latest_event":  map[string]any{"time_iso": timeISO, "description": "scan"},
		},
	}
}

type fakeCarrier struct {
	mu          sync.Mutex
	registered  []carrier.Tracking
	registerErr error
	statuses    map[string]*carrier.TrackStatus
}

func newFakeCarrier() *fakeCarrier {
	return &fakeCarrier{statuses: map[string]*carrier.TrackStatus{}}
}

func (f *fakeCarrier) Register(_ context.Context, tracking carrier.Tracking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, tracking)
	return nil
}

func (f *fakeCarrier) Query(_ context.Context, tracking carrier.Tracking) (*carrier.TrackStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[tracking.Number]
	if !ok {
		return nil, fmt.Errorf("tracking %s unknown", tracking.Number)
	}
	out := *status
	return &out, nil
}

func (f *fakeCarrier) VerifyWebhook(signature string, body []byte) bool {
	return carrier.VerifySignature(testCarrierSecret, signature, body)
}

func (f *fakeCarrier) registrations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

func (f *fakeCarrier) script(number, subStatus string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[number] = &carrier.TrackStatus{Number: number, SubStatus: subStatus, EventTime: &at, Raw: `{"sub_status":"` + subStatus + `"}`}
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) DedupeKey(namespace, hash string) string {
	return "test:dedupe:" + namespace + ":" + hash
}

func (m *memoryStore) AddressChangeKey(orderNo string) string {
	return "test:orders:addr_changed:" + orderNo
}
