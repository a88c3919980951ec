package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zandy2test/gumroad-sub034/api/controllers"
	webhookcontrollers "github.com/zandy2test/gumroad-sub034/api/controllers/webhooks"
	"github.com/zandy2test/gumroad-sub034/api/middleware"
	"github.com/zandy2test/gumroad-sub034/internal/currency"
	"github.com/zandy2test/gumroad-sub034/internal/merchants"
	"github.com/zandy2test/gumroad-sub034/internal/orders"
	stripewebhook "github.com/zandy2test/gumroad-sub034/internal/webhooks/stripe"
	"github.com/zandy2test/gumroad-sub034/pkg/config"
	"github.com/zandy2test/gumroad-sub034/pkg/db"
	"github.com/zandy2test/gumroad-sub034/pkg/logger"
	"github.com/zandy2test/gumroad-sub034/pkg/redis"
	"github.com/zandy2test/gumroad-sub034/pkg/stripe"
)

// RouterParams collects everything the HTTP surface depends on.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    *redis.Client
	Registry prometheus.Gatherer

	Orders    orders.Service
	Merchants merchants.Service
	Converter currency.Converter

	StripeClient       *stripe.Client
	StripeWebhookSvc   *stripewebhook.Service
	StripeWebhookGuard *stripewebhook.IdempotencyGuard
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, params.Redis))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.StripeWebhookSvc, params.StripeClient, params.StripeWebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(params.Redis, logg))

		r.Post("/merchant-accounts", controllers.MerchantAccountRegister(params.Merchants, logg))
		r.Get("/rates/{currency}", controllers.RateDetail(params.Converter, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderCreate(params.Orders, logg))
			r.Get("/{orderExternalId}", controllers.OrderDetail(params.Orders, logg))
			r.Post("/{orderId}/charge", controllers.OrderCharge(params.Orders, logg))
			r.Post("/{orderId}/confirm", controllers.OrderConfirm(params.Orders, logg))
		})
		r.Post("/purchases/{purchaseId}/refund", controllers.PurchaseRefund(params.Orders, logg))
	})

	return r
}
