package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/intlshop-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/intlshop-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/intlshop-backend/api/controllers/webhooks"
	"github.com/angelmondragon/intlshop-backend/api/middleware"
	"github.com/angelmondragon/intlshop-backend/pkg/config"
	"github.com/angelmondragon/intlshop-backend/pkg/enums"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/intlshop-backend/pkg/redis"
)

type Params struct {
	Config *config.Config
	Logger *logger.Logger

	DB     controllers.Pinger
	Redis  controllers.Pinger
	PubSub controllers.Pinger

	Idempotency pkgredis.IdempotencyStore

	Orders           ordercontrollers.OrderService
	Payments         ordercontrollers.PaymentService
	Shipments        ordercontrollers.ShipmentService
	PaymentWebhooks  webhookcontrollers.Handler
	ShipmentWebhooks webhookcontrollers.Handler
	WebhookMetrics   *metrics.WebhookMetrics

	// Metrics defaults to the global Prometheus handler.
	Metrics http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	deps := map[string]controllers.Pinger{}
	for name, dep := range map[string]controllers.Pinger{"database": p.DB, "redis": p.Redis, "pubsub": p.PubSub} {
		if dep != nil {
			deps[name] = dep
		}
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})

	metricsHandler := p.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(p.PaymentWebhooks, p.WebhookMetrics, logg))
		r.Post("/carrier", webhookcontrollers.CarrierWebhook(p.ShipmentWebhooks, p.WebhookMetrics, logg))
	})

	idempotency := middleware.Idempotency(p.Idempotency, cfg.Eventing.HTTPIdempotencyTTL, logg)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(idempotency)
		r.Post("/", ordercontrollers.Create(p.Orders, logg))
		r.Route("/{orderNo}", func(r chi.Router) {
			r.Get("/", ordercontrollers.Detail(p.Orders, logg))
			r.Post("/cancel", ordercontrollers.Cancel(p.Orders, logg))
			r.Put("/address", ordercontrollers.ChangeAddress(p.Orders, logg))
			r.Post("/checkout", ordercontrollers.Checkout(p.Payments, logg))
			r.Post("/capture", ordercontrollers.Capture(p.Payments, logg))
			r.Post("/refund", ordercontrollers.RequestRefund(p.Payments, logg))
		})
	})

	r.Route("/api/admin/v1/orders/{orderNo}", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))
		r.Use(idempotency)
		r.Post("/refund/confirm", ordercontrollers.AdminConfirmRefund(p.Orders, p.Payments, logg))
		r.Post("/close", ordercontrollers.AdminClose(p.Orders, logg))
		r.Post("/shipments", ordercontrollers.AdminCreateShipment(p.Shipments, logg))
	})

	return r
}
