package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nileshop/nileshop-backend/api/controllers"
	webhookcontrollers "github.com/nileshop/nileshop-backend/api/controllers/webhooks"
	"github.com/nileshop/nileshop-backend/api/middleware"
	"github.com/nileshop/nileshop-backend/internal/reconciler"
	"github.com/nileshop/nileshop-backend/pkg/config"
	"github.com/nileshop/nileshop-backend/pkg/db"
	"github.com/nileshop/nileshop-backend/pkg/logger"
	"github.com/nileshop/nileshop-backend/pkg/redis"
	"github.com/nileshop/nileshop-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	stripeClient *stripe.Client,
	paymobVerifier func(payload map[string]any, provided string) bool,
	reconcilerService webhookcontrollers.ReconcilerService,
	stripeGuard *reconciler.Guard,
	paymobGuard *reconciler.Guard,
	paymentsService controllers.PaymentsService,
	walletService controllers.WalletService,
	checkoutService controllers.CheckoutService,
	refundService controllers.RefundService,
	metricsRegistry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(reconcilerService, stripeClient, stripeGuard, logg))
		r.Post("/paymob", webhookcontrollers.PaymobWebhook(reconcilerService, paymobVerifier, paymobGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.UserContext(logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/stripe/intent", controllers.StripeIntent(paymentsService, logg))
			r.Post("/paymob/start", controllers.PaymobStart(paymentsService, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Post("/fund", controllers.WalletFund(paymentsService, logg))
			r.Get("/balance", controllers.WalletBalance(walletService, logg))
			r.Get("/statement", controllers.WalletStatement(walletService, logg))
		})

		r.Post("/checkout/wallet", controllers.WalletCheckout(checkoutService, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Route("/transactions/{transactionId}", func(r chi.Router) {
			r.Post("/refund", controllers.AdminRefundTransaction(refundService, logg))
			r.Post("/refund-to-wallet", controllers.AdminRefundToWallet(refundService, walletService, logg))
		})
	})

	return r
}
