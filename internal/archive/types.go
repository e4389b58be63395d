package archive

import (
	"time"

	"github.com/wolfman30/storefront-booking/internal/events"
)

const receiptVersion = "1.0"

// Receipt is the archived record of one confirmed booking.
type Receipt struct {
	Version    string                    `json:"version"`
	ArchivedAt time.Time                 `json:"archived_at"`
	Booking    events.BookingConfirmedV1 `json:"booking"`
}

// ManifestEntry is one JSONL line in the daily manifest.
type ManifestEntry struct {
	StoreID       string `json:"store_id"`
	OrderNumber   string `json:"order_number"`
	S3Key         string `json:"s3_key"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Source        string `json:"source"`
	CustomerHash  string `json:"customer_hash,omitempty"`
	ScheduledDate string `json:"scheduled_date"`
	ArchivedAt    string `json:"archived_at"`
}
