// Package catalog reads stores and their bookable services.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/wolfman30/storefront-booking/internal/wizard"
)

var (
	ErrStoreNotFound   = errors.New("catalog: store not found")
	ErrServiceNotFound = errors.New("catalog: service not found")
)

// Store is a tenant's storefront settings.
type Store struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Currency        string `json:"currency"`
	PaymentProvider string `json:"payment_provider"`
	Timezone        string `json:"timezone"`
	SupportEmail    string `json:"support_email,omitempty"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("catalog: sql db required")
	}
	return &Repository{db: db}
}

func (r *Repository) GetStore(ctx context.Context, storeID string) (*Store, error) {
	var s Store
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, currency, payment_provider, timezone, support_email
		FROM stores WHERE id = $1 AND active`, storeID).Scan(
		&s.ID, &s.Name, &s.Currency, &s.PaymentProvider, &s.Timezone, &s.SupportEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStoreNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get store: %w", err)
	}
	return &s, nil
}

// PaymentProvider returns the gateway a store is configured for.
func (r *Repository) PaymentProvider(ctx context.Context, storeID string) (string, error) {
	s, err := r.GetStore(ctx, storeID)
	if err != nil {
		return "", err
	}
	return s.PaymentProvider, nil
}

const serviceColumns = `id, name, price_cents, currency, duration_minutes, slot_times`

func scanService(scan func(dest ...any) error) (wizard.Service, error) {
	var svc wizard.Service
	err := scan(&svc.ID, &svc.Name, &svc.PriceCents, &svc.Currency, &svc.DurationMinutes, pq.Array(&svc.SlotTimes))
	if svc.SlotTimes == nil {
		svc.SlotTimes = []string{}
	}
	return svc, err
}

// ListServices returns the store's active services in display order.
func (r *Repository) ListServices(ctx context.Context, storeID string) ([]wizard.Service, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE store_id = $1 AND active
		ORDER BY sort_order, name`, storeID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	defer rows.Close()

	out := []wizard.Service{}
	for rows.Next() {
		svc, err := scanService(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// FindService resolves a service by id or by the slug used in inbound links.
func (r *Repository) FindService(ctx context.Context, storeID, identifier string) (*wizard.Service, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrServiceNotFound
	}
	svc, err := scanService(r.db.QueryRowContext(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE store_id = $1 AND active AND (id = $2 OR slug = $2)
		LIMIT 1`, storeID, identifier).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: find service: %w", err)
	}
	return &svc, nil
}

// UpsertService is used by seeding and admin tooling.
func (r *Repository) UpsertService(ctx context.Context, storeID, slug string, svc wizard.Service) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO services (id, store_id, slug, name, price_cents, currency, duration_minutes, slot_times, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			price_cents = EXCLUDED.price_cents,
			currency = EXCLUDED.currency,
			duration_minutes = EXCLUDED.duration_minutes,
			slot_times = EXCLUDED.slot_times,
			active = TRUE`,
		svc.ID, storeID, slug, svc.Name, svc.PriceCents, svc.Currency, svc.DurationMinutes, pq.Array(svc.SlotTimes))
	if err != nil {
		return fmt.Errorf("catalog: upsert service: %w", err)
	}
	return nil
}
