package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/storefront-booking/cmd/mainconfig"
	"github.com/wolfman30/storefront-booking/internal/archive"
	"github.com/wolfman30/storefront-booking/internal/booking"
	appconfig "github.com/wolfman30/storefront-booking/internal/config"
	"github.com/wolfman30/storefront-booking/internal/events"
	"github.com/wolfman30/storefront-booking/internal/notify"
	"github.com/wolfman30/storefront-booking/internal/observability/metrics"
	"github.com/wolfman30/storefront-booking/internal/orders"
	"github.com/wolfman30/storefront-booking/internal/payapi"
	"github.com/wolfman30/storefront-booking/internal/payments"
	"github.com/wolfman30/storefront-booking/internal/reconcile"
	"github.com/wolfman30/storefront-booking/internal/storeapi"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

const processedRetention = 30 * 24 * time.Hour

func setupMetrics() (http.Handler, *prometheus.Registry, *metrics.ReconcileMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewReconcileMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), reg, m
}

// buildGateways registers Stripe and, when allowed, the demo gateway behind
// a per-store router. The fake gateway is returned so its pages can be mounted.
func buildGateways(cfg *appconfig.Config, stores payments.ProviderResolver, logger *logging.Logger) (*payments.MultiGateway, *payments.FakeGateway) {
	gateways := []payments.Gateway{}
	if cfg.StripeSecretKey != "" {
		gateways = append(gateways, payments.NewStripeGateway(cfg.StripeSecretKey, logger).WithBaseURL(cfg.StripeBaseURL))
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; stripe checkouts disabled")
	}

	var fake *payments.FakeGateway
	if cfg.AllowFakePayments {
		fake = payments.NewFakeGateway(cfg.PublicBaseURL, logger)
		gateways = append(gateways, fake)
		logger.Warn("fake payments enabled; do not use in production")
	}

	fallback := cfg.PaymentGateway
	if fallback == payments.ProviderFake && fake == nil {
		logger.Warn("PAYMENT_GATEWAY=fake requires ALLOW_FAKE_PAYMENTS; falling back to stripe")
		fallback = payments.ProviderStripe
	}
	return payments.NewMultiGateway(fallback, stores, logger, gateways...), fake
}

// orderBackend pre-authorizes orders and answers the reconciler.
type orderBackend interface {
	booking.OrderService
	payapi.API
}

// orderWiring says who owns orders. local is nil when a remote storefront
// backend does, in which case that backend also receives gateway webhooks.
type orderWiring struct {
	backend orderBackend
	local   *orders.Service
}

// selectOrderBackend uses the remote storefront backend when
// STOREFRONT_API_URL is set and the in-process order service otherwise.
// Either way the flow and the reconciler share one collaborator.
func selectOrderBackend(cfg *appconfig.Config, local *orders.Service, logger *logging.Logger) orderWiring {
	if cfg.StorefrontAPIURL != "" {
		logger.Info("orders owned by remote storefront backend", "url", cfg.StorefrontAPIURL)
		client := storeapi.NewClient(cfg.StorefrontAPIURL, cfg.StorefrontAPIKey, cfg.StorefrontAPITimeout, logger)
		return orderWiring{backend: orders.NewRemote(client)}
	}
	return orderWiring{backend: local, local: local}
}

func reconcileOptions(cfg *appconfig.Config) reconcile.Options {
	return reconcile.Options{
		ConfirmAttempts:  cfg.ConfirmMaxAttempts,
		ConfirmBaseDelay: cfg.ConfirmBaseDelay,
		PollAttempts:     cfg.PollMaxAttempts,
		PollInterval:     cfg.PollInterval,
		VerifyTimeout:    cfg.VerifyTimeout,
	}
}

// needsAWS reports whether any configured sink talks to AWS.
func needsAWS(cfg *appconfig.Config) bool {
	return cfg.NotificationsQueueURL != "" || cfg.ReceiptsBucket != "" || cfg.EmailProvider == "ses"
}

// buildOutboxHandler assembles the sinks each outbox entry is delivered to.
// Fanout stops at the first failing sink, so the queue is tried first.
func buildOutboxHandler(cfg *appconfig.Config, awsCfg *aws.Config, stores notify.StoreDirectory, logger *logging.Logger) events.Fanout {
	var fanout events.Fanout
	if cfg.NotificationsQueueURL != "" && awsCfg != nil {
		fanout = append(fanout, events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.NotificationsQueueURL))
	}
	if cfg.EmailProvider != "" && cfg.EmailProvider != "none" {
		fanout = append(fanout, notify.NewConfirmationMailer(mainconfig.BuildEmailSender(awsCfg, cfg, logger), stores, logger))
	}
	if cfg.ReceiptsBucket != "" && awsCfg != nil {
		fanout = append(fanout, archive.NewReceiptStore(mainconfig.NewS3Client(*awsCfg, cfg), cfg.ReceiptsBucket, logger))
	}
	if len(fanout) == 0 {
		fanout = append(fanout, events.HandlerFunc(func(ctx context.Context, entry events.OutboxEntry) error {
			logger.Debug("outbox entry delivered without sinks", "event_type", entry.Type, "id", entry.ID)
			return nil
		}))
	}
	return fanout
}

// purgeProcessed drops webhook dedupe rows older than the retention window.
func purgeProcessed(ctx context.Context, store *events.ProcessedStore, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx, time.Now().Add(-processedRetention))
			if err != nil {
				logger.Warn("processed events purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged processed events", "rows", n)
			}
		}
	}
}
