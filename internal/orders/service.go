package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/intlshop-backend/internal/inventory"
	dbpkg "github.com/angelmondragon/intlshop-backend/pkg/db"
	"github.com/angelmondragon/intlshop-backend/pkg/db/models"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intlshop-backend/pkg/errors"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/intlshop-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPaymentTTL       = 30 * time.Minute
	defaultAddressChangeTTL = 30 * 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// flagStore backs the one-shot address change flag.
type flagStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	AddressChangeKey(orderNo string) string
}

// Actor identifies who drives a transition and what external reference caused it.
type Actor struct {
	Source enums.EventSource
	Ref    string
	UserID *uuid.UUID
}

func userActor(userID uuid.UUID) Actor {
	return Actor{Source: enums.EventSourceUser, UserID: &userID}
}

type ServiceParams struct {
	Repository       Repository
	Tx               txRunner
	Outbox           outboxEmitter
	Ledger           StockLedger
	Payments         PaymentCloser
	Flags            flagStore
	Logger           *logger.Logger
	PaymentTTL       time.Duration
	AddressChangeTTL time.Duration
	Now              func() time.Time
}

// Service owns every write to orders.status and orders.pay_status.
type Service struct {
	repo             Repository
	tx               txRunner
	outbox           outboxEmitter
	ledger           StockLedger
	payments         PaymentCloser
	flags            flagStore
	logg             *logger.Logger
	paymentTTL       time.Duration
	addressChangeTTL time.Duration
	now              func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment closer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ledger := params.Ledger
	if ledger == nil {
		ledger = inventory.NewLedger()
	}
	paymentTTL := params.PaymentTTL
	if paymentTTL <= 0 {
		paymentTTL = defaultPaymentTTL
	}
	addressTTL := params.AddressChangeTTL
	if addressTTL <= 0 {
		addressTTL = defaultAddressChangeTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:             params.Repository,
		tx:               params.Tx,
		outbox:           params.Outbox,
		ledger:           ledger,
		payments:         params.Payments,
		flags:            params.Flags,
		logg:             params.Logger,
		paymentTTL:       paymentTTL,
		addressChangeTTL: addressTTL,
		now:              now,
	}, nil
}

// PaymentTTL is how long an order may stay unpaid.
func (s *Service) PaymentTTL() time.Duration { return s.paymentTTL }

// ItemInput is one requested order line.
type ItemInput struct {
	SkuID     string
	Title     string
	Quantity  int
	UnitPrice int64
}

// CreateOrderInput carries a priced cart. Pricing and discounts are computed upstream.
type CreateOrderInput struct {
	UserID         uuid.UUID
	IdempotencyKey string
	Currency       string
	Items          []ItemInput
	DiscountAmount int64
	ShippingAmount int64
	TaxAmount      int64
	Address        types.Address
}

// CreateOrder reserves stock, writes the CREATED log row and the NONE placeholder
// payment, and queues order_created (the order-timeout message) in one transaction.
// Replaying the same idempotency key returns the original order.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, input.UserID, key)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup idempotency key")
		}
	}

	order, err := s.buildOrder(input, key)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}
		if _, err := s.ledger.Reserve(ctx, tx, order.ID, inventory.LinesFromItems(order.Items)); err != nil {
			return err
		}
		if err := s.writeLog(ctx, repo, order.ID, nil, enums.OrderStatusCreated, userActor(input.UserID), "order created"); err != nil {
			return err
		}

		placeholder := &models.PaymentOrder{
			OrderID:  order.ID,
			OrderNo:  order.OrderNo,
			UserID:   order.UserID,
			Channel:  enums.PaymentChannelNone,
			Amount:   order.PayAmount,
			Currency: order.Currency,
			Status:   enums.PaymentStatusNone,
		}
		if err := repo.CreatePaymentPlaceholder(ctx, placeholder); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment placeholder")
		}
		if err := repo.SetActivePayment(ctx, order.ID, placeholder.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set active payment")
		}
		order.ActivePaymentID = &placeholder.ID

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: &order.UserID, Source: enums.EventSourceUser},
			OccurredAt:    order.CreatedAt,
			Data: payloads.OrderCreatedEvent{
				OrderID:    order.ID,
				OrderNo:    order.OrderNo,
				UserID:     order.UserID,
				ItemsCount: order.ItemsCount,
				PayAmount:  order.PayAmount,
				Currency:   order.Currency,
				ExpireAt:   order.CreatedAt.Add(s.paymentTTL),
			},
		})
	})
	if err != nil {
		if key != "" && dbpkg.IsUniqueViolation(err, "") {
			existing, findErr := s.repo.FindByIdempotencyKey(ctx, input.UserID, key)
			if findErr == nil {
				return existing, nil
			}
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	logCtx := s.logg.WithOrderNo(ctx, order.OrderNo)
	s.logg.Info(s.logg.WithField(logCtx, "pay_amount", order.PayAmount), "order created")
	return order, nil
}

func (s *Service) buildOrder(input CreateOrderInput, key string) (*models.Order, error) {
	currency, err := enums.ParseCurrency(input.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}
	if input.DiscountAmount < 0 || input.ShippingAmount < 0 || input.TaxAmount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amounts must be non-negative")
	}
	address := input.Address.Normalize()
	if address.Line1 == "" || address.Country == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address requires line1 and country")
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:              uuid.New(),
		OrderNo:         newOrderNo(now),
		UserID:          input.UserID,
		Status:          enums.OrderStatusCreated,
		PayStatus:       enums.PaymentStatusNone,
		PayChannel:      enums.PaymentChannelNone,
		DiscountAmount:  input.DiscountAmount,
		ShippingAmount:  input.ShippingAmount,
		TaxAmount:       input.TaxAmount,
		Currency:        currency,
		AddressSnapshot: address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	for _, item := range input.Items {
		sku := strings.TrimSpace(item.SkuID)
		if sku == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]any{"sku_id": sku})
		}
		if item.UnitPrice < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative").
				WithDetails(map[string]any{"sku_id": sku})
		}
		subtotal := item.UnitPrice * int64(item.Quantity)
		order.Items = append(order.Items, models.OrderItem{
			OrderID:   order.ID,
			SkuID:     sku,
			Title:     strings.TrimSpace(item.Title),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  subtotal,
		})
		order.ItemsCount += item.Quantity
		order.TotalAmount += subtotal
	}

	order.PayAmount = order.TotalAmount - order.DiscountAmount + order.ShippingAmount + order.TaxAmount
	if order.PayAmount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds order total")
	}
	return order, nil
}

// FindOrderByNo loads an order with its items.
func (s *Service) FindOrderByNo(ctx context.Context, orderNo string) (*models.Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := s.repo.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	return order, nil
}

// FindOrderForUser hides orders owned by someone else behind NOT_FOUND.
func (s *Service) FindOrderForUser(ctx context.Context, orderNo string, userID uuid.UUID) (*models.Order, error) {
	order, err := s.FindOrderByNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// StatusLogs returns the audit trail of an order, oldest first.
func (s *Service) StatusLogs(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusLog, error) {
	rows, err := s.repo.ListStatusLogs(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list status logs")
	}
	return rows, nil
}

// ListExpiredUnpaid returns awaiting-payment orders created before cutoff.
func (s *Service) ListExpiredUnpaid(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return s.repo.ListExpiredUnpaid(ctx, cutoff, limit)
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func newOrderNo(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102150405"), suffix)
}
