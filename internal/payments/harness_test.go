package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	"github.com/angelmondragon/intlshop-backend/internal/orders"
	dbpkg "github.com/angelmondragon/intlshop-backend/pkg/db"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/square"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testWebhookSecret   = "whsec-test"
	testNotificationURL = "https://shop.example.com/webhooks/square"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	db      *gorm.DB
	orders  *orders.Service
	svc     *Service
	gateway *fakeGateway
	store   *memoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, newPaymentsTestDB(t))
}

func newHarnessOn(t *testing.T, db *gorm.DB) *harness {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test"})
	tx := dbpkg.NewFromConn(db)
	emitter := outbox.NewService(outbox.NewRepository(db), nil)
	now := func() time.Time { return testNow }

	repo := NewRepository(db)
	closer, err := NewAttemptCloser(repo, emitter)
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

	gw := newFakeGateway()
	svc, err := NewService(ServiceParams{
		Repository:      repo,
		Tx:              tx,
		Orders:          orderSvc,
		Gateway:         gw,
		Outbox:          emitter,
		Gate:            gate,
		Logger:          logg,
		NotificationURL: testNotificationURL,
		Now:             now,
	})
	require.NoError(t, err)
	return &harness{db: db, orders: orderSvc, svc: svc, gateway: gw, store: store}
}

func newPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openPaymentsTestDB(t, "file:payments_"+uuid.NewString()+"?mode=memory&cache=shared")
}

// newConcurrentPaymentsDB is file backed so goroutines get real connections;
// writers queue on the busy timeout instead of failing with SQLITE_BUSY.
func newConcurrentPaymentsDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openPaymentsTestDB(t, "file:"+filepath.Join(t.TempDir(), "payments.db")+"?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL")
}

func openPaymentsTestDB(t *testing.T, dsn string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStatusLog{},
		&models.SkuStock{},
		&models.InventoryLog{},
		&models.PaymentOrder{},
		&models.PaymentRefund{},
		&models.OutboxEvent{},
	))
	return db
}

// createOrder places a single-line USD order of 1000 minor units.
func (h *harness) createOrder(t *testing.T, userID uuid.UUID) *models.Order {
	t.Helper()
	require.NoError(t, h.db.Create(&models.SkuStock{SkuID: "SKU-" + userID.String()[:8], Available: 3}).Error)
	order, err := h.orders.CreateOrder(context.Background(), orders.CreateOrderInput{
		UserID:   userID,
		Currency: "USD",
		Items: []orders.ItemInput{
			{SkuID: "SKU-" + userID.String()[:8], Title: "Wool scarf", Quantity: 1, UnitPrice: 1000},
		},
		Address: types.Address{
			Recipient:  "Jun Seo",
			Line1:      "3 Rue Cler",
			City:       "Paris",
			PostalCode: "75007",
			Country:    "FR",
		},
	})
	require.NoError(t, err)
	return order
}

// checkout creates the gateway payment and binds externalID.
func (h *harness) checkout(t *testing.T, order *models.Order, externalID string) *models.PaymentOrder {
	t.Helper()
	h.gateway.nextPayment = &GatewayPayment{ID: externalID, Status: GatewayPaymentApproved, Amount: order.PayAmount, Currency: "USD"}
	payment, err := h.svc.CreateGatewayOrder(context.Background(), CheckoutInput{
		OrderNo:  order.OrderNo,
		UserID:   order.UserID,
		Channel:  enums.PaymentChannelSquare,
		SourceID: "cnon:card-ok",
	})
	require.NoError(t, err)
	return payment
}

// pay checks out and delivers a COMPLETED notification.
func (h *harness) pay(t *testing.T, order *models.Order, externalID string) *models.PaymentOrder {
	t.Helper()
	payment := h.checkout(t, order, externalID)
	body, sig := h.paymentWebhook(t, "evt-pay-"+externalID, externalID, "COMPLETED", testNow.Add(time.Minute))
	_, err := h.svc.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	return h.payment(t, payment.ID)
}

func (h *harness) order(t *testing.T, orderNo string) *models.Order {
	t.Helper()
	order, err := h.orders.FindOrderByNo(context.Background(), orderNo)
	require.NoError(t, err)
	return order
}

func (h *harness) payment(t *testing.T, id uuid.UUID) *models.PaymentOrder {
	t.Helper()
	payment, err := h.svc.repo.FindPaymentByID(context.Background(), id)
	require.NoError(t, err)
	return payment
}

func (h *harness) refunds(t *testing.T, paymentID uuid.UUID) []models.PaymentRefund {
	t.Helper()
	var rows []models.PaymentRefund
	require.NoError(t, h.db.Where("payment_order_id = ?", paymentID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func (h *harness) logsTo(t *testing.T, orderID uuid.UUID, status enums.OrderStatus) int {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&models.OrderStatusLog{}).
		Where("order_id = ? AND to_status = ? AND (from_status IS NULL OR from_status <> to_status)", orderID, status).
		Count(&count).Error)
	return int(count)
}

func (h *harness) paymentEvents(t *testing.T, paymentID uuid.UUID) int {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", paymentID, enums.EventPaymentStatusChanged).
		Count(&count).Error)
	return int(count)
}

func (h *harness) notes(t *testing.T, orderID uuid.UUID) []string {
	t.Helper()
	var rows []models.OrderStatusLog
	require.NoError(t, h.db.Where("order_id = ? AND note IS NOT NULL", orderID).Order("created_at ASC").Find(&rows).Error)
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.Note)
	}
	return out
}

func (h *harness) paymentWebhook(t *testing.T, eventID, externalID, status string, updatedAt time.Time) ([]byte, string) {
	t.Helper()
	return h.signed(t, map[string]any{
		"event_id": eventID,
		"type":     "payment.updated",
		"data": map[string]any{
			"type": "payment",
			"id":   externalID,
			"object": map[string]any{
				"payment": map[string]any{
					"id":           externalID,
					"status":       status,
					"amount_money": map[string]any{"amount": 1000, "currency": "USD"},
					"updated_at":   updatedAt.Format(time.RFC3339Nano),
				},
			},
		},
	})
}

func (h *harness) refundWebhook(t *testing.T, eventID, refundID, paymentExternalID, status string, amount int64) ([]byte, string) {
	t.Helper()
	return h.signed(t, map[string]any{
		"event_id": eventID,
		"type":     "refund.updated",
		"data": map[string]any{
			"type": "refund",
			"id":   refundID,
			"object": map[string]any{
				"refund": map[string]any{
					"id":           refundID,
					"status":       status,
					"payment_id":   paymentExternalID,
					"amount_money": map[string]any{"amount": amount, "currency": "USD"},
				},
			},
		},
	})
}

func (h *harness) signed(t *testing.T, payload map[string]any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body, square.Sign(testWebhookSecret, testNotificationURL, body)
}

type fakeGateway struct {
	mu          sync.Mutex
	nextPayment *GatewayPayment
	payments    map[string]*GatewayPayment
	nextRefund  *GatewayRefund
	refundErr   error
	refundCalls []RefundPaymentRequest
	refunds     map[string]*GatewayRefund
	seq         int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]*GatewayPayment{}, refunds: map[string]*GatewayRefund{}}
}

func (f *fakeGateway) CreatePayment(_ context.Context, req CreatePaymentRequest) (*GatewayPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextPayment == nil {
		return nil, fmt.Errorf("no payment scripted")
	}
	p := *f.nextPayment
	f.payments[p.ID] = &p
	return &p, nil
}

func (f *fakeGateway) GetPayment(_ context.Context, externalID string) (*GatewayPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return nil, fmt.Errorf("payment %s unknown", externalID)
	}
	out := *p
	return &out, nil
}

func (f *fakeGateway) CompletePayment(_ context.Context, externalID string) (*GatewayPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return nil, fmt.Errorf("payment %s unknown", externalID)
	}
	p.Status = GatewayPaymentCompleted
	p.UpdatedAt = testNow.Add(2 * time.Minute)
	out := *p
	return &out, nil
}

func (f *fakeGateway) CancelPayment(_ context.Context, externalID string) (*GatewayPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[externalID]
	if !ok {
		return nil, fmt.Errorf("payment %s unknown", externalID)
	}
	p.Status = GatewayPaymentCanceled
	out := *p
	return &out, nil
}

func (f *fakeGateway) RefundPayment(_ context.Context, req RefundPaymentRequest) (*GatewayRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls = append(f.refundCalls, req)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	if f.nextRefund != nil {
		r := *f.nextRefund
		if r.ID != "" {
			f.refunds[r.ID] = &r
		}
		return &r, nil
	}
	f.seq++
	r := &GatewayRefund{
		ID:        fmt.Sprintf("RX-%d", f.seq),
		PaymentID: req.PaymentID,
		Status:    "PENDING",
		Amount:    req.Amount,
		Currency:  string(req.Currency),
	}
	f.refunds[r.ID] = r
	out := *r
	return &out, nil
}

func (f *fakeGateway) lastRefundKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.refundCalls) == 0 {
		return ""
	}
	return f.refundCalls[len(f.refundCalls)-1].IdempotencyKey
}

func (f *fakeGateway) GetRefund(_ context.Context, externalRefundID string) (*GatewayRefund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.refunds[externalRefundID]
	if !ok {
		return nil, fmt.Errorf("refund %s unknown", externalRefundID)
	}
	out := *r
	return &out, nil
}

func (f *fakeGateway) VerifyWebhook(signature, notificationURL string, body []byte) bool {
	return square.VerifySignature(testWebhookSecret, signature, notificationURL, body)
}

func (f *fakeGateway) refundCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refundCalls)
}

// memoryStore backs both the dedupe gate and the order flag store.
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
