package main

import (
	"context"
	"os"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/wolfman30/storefront-booking/cmd/mainconfig"
	"github.com/wolfman30/storefront-booking/internal/app/bootstrap"
	"github.com/wolfman30/storefront-booking/internal/catalog"
	appconfig "github.com/wolfman30/storefront-booking/internal/config"
	"github.com/wolfman30/storefront-booking/internal/events"
	"github.com/wolfman30/storefront-booking/internal/notify"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

type confirmationNotifier interface {
	NotifyBookingConfirmed(ctx context.Context, evt events.BookingConfirmedV1) error
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	var awsCfg *aws.Config
	if cfg.EmailProvider == "ses" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	// Store names and reply-to addresses come from the catalog when a
	// database is reachable; otherwise the store ID is used.
	var stores notify.StoreDirectory
	if cfg.DatabaseURL != "" {
		pg, err := bootstrap.BuildPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("catalog unavailable, sending without store details", "error", err)
		} else {
			stores = catalog.NewRepository(pg.DB)
		}
	}

	mailer := notify.NewConfirmationMailer(mainconfig.BuildEmailSender(awsCfg, cfg, logger), stores, logger)
	lambda.Start(func(ctx context.Context, evt lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
		return handle(ctx, mailer, logger, evt)
	})
}

// handle reports only failed sends back to SQS so the rest of the batch is
// not redelivered. Malformed payloads are logged and dropped.
func handle(ctx context.Context, notifier confirmationNotifier, logger *logging.Logger, evt lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	var resp lambdaevents.SQSEventResponse
	for _, msg := range evt.Records {
		if t := eventType(msg); t != "" && t != events.TypeBookingConfirmed {
			logger.Debug("skipping unrelated event", "message_id", msg.MessageId, "event_type", t)
			continue
		}
		confirmed, err := notify.DecodeBookingConfirmed([]byte(msg.Body))
		if err != nil {
			logger.Error("dropping malformed booking event", "message_id", msg.MessageId, "error", err)
			continue
		}
		if err := notifier.NotifyBookingConfirmed(ctx, confirmed); err != nil {
			logger.Warn("confirmation send failed", "message_id", msg.MessageId, "order_number", confirmed.OrderNumber, "error", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
		}
	}
	return resp, nil
}

func eventType(msg lambdaevents.SQSMessage) string {
	attr, ok := msg.MessageAttributes["event_type"]
	if !ok || attr.StringValue == nil {
		return ""
	}
	return *attr.StringValue
}
