// Package archive keeps a JSON receipt of every confirmed booking in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/storefront-booking/internal/events"
	"github.com/wolfman30/storefront-booking/pkg/logging"
)

// S3API is the subset of the S3 client used by ReceiptStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ReceiptStore archives booking receipts. With no bucket every call is a no-op.
type ReceiptStore struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

func NewReceiptStore(s3Client S3API, bucket string, logger *logging.Logger) *ReceiptStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReceiptStore{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

func (s *ReceiptStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Handle implements events.DeliveryHandler for booking_confirmed.v1.
func (s *ReceiptStore) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.TypeBookingConfirmed || !s.Enabled() {
		return nil
	}
	var evt events.BookingConfirmedV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return fmt.Errorf("archive: decode booking: %w", err)
	}
	return s.ArchiveReceipt(ctx, evt)
}

// ReceiptKey is the object key for an order's receipt.
func ReceiptKey(evt events.BookingConfirmedV1, at time.Time) string {
	name := evt.OrderNumber
	if name == "" {
		name = evt.TransactionRef
	}
	return fmt.Sprintf("receipts/v1/%s/%d/%02d/%02d/%s.json", evt.StoreID, at.Year(), at.Month(), at.Day(), name)
}

// ArchiveReceipt writes the receipt and appends it to the daily manifest.
// Re-archiving the same order overwrites the receipt object.
func (s *ReceiptStore) ArchiveReceipt(ctx context.Context, evt events.BookingConfirmedV1) error {
	if !s.Enabled() {
		return nil
	}
	at := evt.ConfirmedAt.UTC()
	if at.IsZero() {
		at = s.now().UTC()
	}
	data, err := json.Marshal(Receipt{Version: receiptVersion, ArchivedAt: s.now().UTC(), Booking: evt})
	if err != nil {
		return fmt.Errorf("archive: marshal receipt: %w", err)
	}

	key := ReceiptKey(evt, at)
	if _, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived booking receipt", "store_id", evt.StoreID, "order_number", evt.OrderNumber, "s3_key", key)

	entry := ManifestEntry{
		StoreID:       evt.StoreID,
		OrderNumber:   evt.OrderNumber,
		S3Key:         key,
		AmountCents:   evt.AmountCents,
		Currency:      evt.Currency,
		Source:        evt.Source,
		CustomerHash:  HashContact(evt.CustomerEmail),
		ScheduledDate: evt.ScheduledDate,
		ArchivedAt:    s.now().UTC().Format(time.RFC3339),
	}
	if err := s.appendManifest(ctx, at, entry); err != nil {
		// the receipt itself is stored
		s.logger.Warn("failed to append receipt manifest", "error", err, "order_number", evt.OrderNumber)
	}
	return nil
}

// appendManifest does read-modify-write since S3 has no append.
func (s *ReceiptStore) appendManifest(ctx context.Context, at time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("receipts/v1/manifests/%d-%02d-%02d.jsonl", at.Year(), at.Month(), at.Day())

	var existing []byte
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	switch {
	case err == nil:
		existing, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", key)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	if _, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	}); err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}

var _ events.DeliveryHandler = (*ReceiptStore)(nil)
