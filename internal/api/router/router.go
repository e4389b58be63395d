package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/storefront-booking/internal/booking"
	httpmiddleware "github.com/wolfman30/storefront-booking/internal/http/middleware"
	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/internal/payments"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

// PaymentsAPIPrefix is where the payment contract is served for remote
// booking frontends; their STOREFRONT_API_URL ends with it.
const PaymentsAPIPrefix = "/backend"

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Booking        *booking.Handler
	PaymentsAPI    *orders.Handler
	StripeWebhook  *payments.StripeWebhookHandler
	FakePayments   *payments.FakePaymentsHandler
	MetricsHandler http.Handler
	StatsGatherer  prometheus.Gatherer
	HealthChecks   map[string]HealthCheck

	CustomerJWTSecret  string
	AdminJWTSecret     string
	PaymentsAPIKey     string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (health, metrics, gateway traffic)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.FakePayments != nil {
			public.Mount("/demo", cfg.FakePayments.Routes())
		}
		if cfg.Booking != nil {
			public.Mount("/gateway/callback", cfg.Booking.CallbackRoutes())
		}
	})

	// Storefront booking API; guests and signed-in customers alike
	if cfg.Booking != nil {
		r.Route("/stores/{storeID}", func(store chi.Router) {
			if cfg.RateLimitPerSecond > 0 {
				store.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
			}
			store.Use(httpmiddleware.CustomerJWT(cfg.CustomerJWTSecret))
			store.Mount("/", cfg.Booking.StoreRoutes())
		})
	}

	if cfg.PaymentsAPI != nil {
		r.Route(PaymentsAPIPrefix, func(api chi.Router) {
			api.Use(httpmiddleware.APIKey(cfg.PaymentsAPIKey))
			api.Mount("/", cfg.PaymentsAPI.Routes())
		})
	}

	if cfg.AdminJWTSecret != "" && cfg.Booking != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminJWTSecret))
			admin.Get("/reconcile/stats", cfg.Booking.StatsHandler(cfg.StatsGatherer))
		})
	}

	return r
}
