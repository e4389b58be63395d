package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists orders in Postgres.
type Repository struct {
	db db
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("orders: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithExec(exec db) *Repository {
	if exec == nil {
		panic("orders: exec required")
	}
	return &Repository{db: exec}
}

const orderColumns = `id, order_number, store_id, transaction_ref, status, provider, provider_ref,
	amount_cents, currency, service_id, service_name, duration_minutes,
	scheduled_date, start_time, end_time,
	customer_id, first_name, last_name, email, phone, notes,
	address_line1, address_line2, city, postal_code, country,
	created_at, completed_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.StoreID, &o.TransactionRef, &o.Status, &o.Provider, &o.ProviderRef,
		&o.AmountCents, &o.Currency, &o.Service.ServiceID, &o.Service.Name, &o.Service.DurationMinutes,
		&o.Slot.Date, &o.Slot.StartTime, &o.Slot.EndTime,
		&o.Customer.CustomerID, &o.Customer.FirstName, &o.Customer.LastName, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Notes,
		&o.Customer.AddressLine1, &o.Customer.AddressLine2, &o.Customer.City, &o.Customer.PostalCode, &o.Customer.Country,
		&o.CreatedAt, &o.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Service.PriceCents = o.AmountCents
	o.Service.Currency = o.Currency
	return &o, nil
}

// Insert writes a pending order; the order number comes from a sequence.
func (r *Repository) Insert(ctx context.Context, o *Order) error {
	query := `
		INSERT INTO orders (
			id, order_number, store_id, transaction_ref, status,
			amount_cents, currency, service_id, service_name, duration_minutes,
			scheduled_date, start_time, end_time,
			customer_id, first_name, last_name, email, phone, notes,
			address_line1, address_line2, city, postal_code, country
		) VALUES (
			$1, 'SF-' || nextval('order_number_seq'), $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23
		)
		RETURNING order_number, created_at
	`
	c := o.Customer
	err := r.db.QueryRow(ctx, query,
		o.ID, o.StoreID, o.TransactionRef, o.Status,
		o.AmountCents, o.Currency, o.Service.ServiceID, o.Service.Name, o.Service.DurationMinutes,
		o.Slot.Date, o.Slot.StartTime, o.Slot.EndTime,
		c.CustomerID, c.FirstName, c.LastName, c.Email, c.Phone, c.Notes,
		c.AddressLine1, c.AddressLine2, c.City, c.PostalCode, c.Country,
	).Scan(&o.OrderNumber, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("orders: insert: %w", err)
	}
	return nil
}

// GetByTransactionRef loads an order by its backend transaction reference.
func (r *Repository) GetByTransactionRef(ctx context.Context, ref string) (*Order, error) {
	order, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_ref = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("orders: load by transaction ref: %w", err)
	}
	return order, nil
}

// AttachCheckout records which gateway session was opened for the order.
func (r *Repository) AttachCheckout(ctx context.Context, ref, provider, providerRef string) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders
		SET provider = $2, provider_ref = $3, updated_at = now()
		WHERE transaction_ref = $1 AND status = 'pending'
	`, ref, provider, providerRef)
	if err != nil {
		return fmt.Errorf("orders: attach checkout: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotCompletable
	}
	return nil
}

// FlipFunc runs inside the completing transaction, only for the caller
// whose UPDATE moved the order out of pending.
type FlipFunc func(ctx context.Context, tx pgx.Tx, order *Order) error

// Complete moves the order from pending to completed. The returned bool is
// true only for the caller that performed the transition; everyone else
// gets the already-completed row and false.
func (r *Repository) Complete(ctx context.Context, ref, providerRef string, onFlip FlipFunc) (*Order, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("orders: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status = 'completed',
			provider_ref = COALESCE(NULLIF($2, ''), provider_ref),
			completed_at = now(),
			updated_at = now()
		WHERE transaction_ref = $1 AND status = 'pending'
		RETURNING `+orderColumns, ref, providerRef))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, lerr := r.GetByTransactionRef(ctx, ref)
		if lerr != nil {
			return nil, false, lerr
		}
		if !existing.Completed() {
			return existing, false, ErrNotCompletable
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("orders: complete: %w", err)
	}

	if onFlip != nil {
		if err := onFlip(ctx, tx, order); err != nil {
			return nil, false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("orders: commit: %w", err)
	}
	return order, true, nil
}
