// Package app assembles the state machines the binaries share. Each binary
// owns its clients; app only wires them into services.
package app

import (
	"context"
	"fmt"

	"github.com/angelmondragon/intlshop-backend/internal/dedupe"
	"github.com/angelmondragon/intlshop-backend/internal/orders"
	"github.com/angelmondragon/intlshop-backend/internal/payments"
	"github.com/angelmondragon/intlshop-backend/internal/shipments"
	"github.com/angelmondragon/intlshop-backend/pkg/carrier"
	"github.com/angelmondragon/intlshop-backend/pkg/config"
	"github.com/angelmondragon/intlshop-backend/pkg/db"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/redis"
	"github.com/angelmondragon/intlshop-backend/pkg/square"
)

// DomainParams carries the clients a binary already opened. Square and
// Carrier are optional; without them the matching service is not built.
type DomainParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   *redis.Client
	Square  *square.Client
	Carrier *carrier.Client
}

type Domain struct {
	Outbox    *outbox.Service
	Orders    *orders.Service
	Payments  *payments.Service
	Shipments *shipments.Service
}

func NewDomain(_ context.Context, params DomainParams) (*Domain, error) {
	if params.Config == nil || params.Logger == nil || params.DB == nil || params.Redis == nil {
		return nil, fmt.Errorf("config, logger, db and redis are required")
	}
	cfg := params.Config
	conn := params.DB.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), params.Logger)

	paymentRepo := payments.NewRepository(conn)
	closer, err := payments.NewAttemptCloser(paymentRepo, emitter)
	if err != nil {
		return nil, fmt.Errorf("payment closer: %w", err)
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repository:       orders.NewRepository(conn),
		Tx:               params.DB,
		Outbox:           emitter,
		Payments:         closer,
		Flags:            params.Redis,
		Logger:           params.Logger,
		PaymentTTL:       cfg.Orders.PaymentTTL,
		AddressChangeTTL: cfg.Orders.AddressChangeTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}
	domain := &Domain{Outbox: emitter, Orders: orderSvc}
	if params.Square == nil && params.Carrier == nil {
		return domain, nil
	}

	gate, err := dedupe.NewGate(params.Redis, cfg.Payments.WebhookProcessingTTL)
	if err != nil {
		return nil, fmt.Errorf("dedupe gate: %w", err)
	}

	if params.Square != nil {
		domain.Payments, err = payments.NewService(payments.ServiceParams{
			Repository:      paymentRepo,
			Tx:              params.DB,
			Orders:          orderSvc,
			Gateway:         payments.NewSquareGateway(params.Square, cfg.Square.LocationID),
			Outbox:          emitter,
			Gate:            gate,
			Logger:          params.Logger,
			NotificationURL: cfg.Square.NotificationURL,
			ReplayTTL:       cfg.Payments.WebhookReplayTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("payments service: %w", err)
		}
	}

	if params.Carrier != nil {
		domain.Shipments, err = shipments.NewService(shipments.ServiceParams{
			Repository: shipments.NewRepository(conn),
			Tx:         params.DB,
			Orders:     orderSvc,
			Carrier:    params.Carrier,
			Outbox:     emitter,
			Gate:       gate,
			Logger:     params.Logger,
			ReplayTTL:  cfg.Payments.WebhookReplayTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("shipments service: %w", err)
		}
	}
	return domain, nil
}

// NewCarrier builds the tracking client from config.
func NewCarrier(cfg config.CarrierConfig) (*carrier.Client, error) {
	return carrier.NewClient(cfg.APIKey,
		carrier.WithBaseURL(cfg.BaseURL),
		carrier.WithTimeout(cfg.Timeout),
		carrier.WithWebhookSecret(cfg.WebhookSecret),
	)
}
