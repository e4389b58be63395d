package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var orderColumnNames = []string{
	"id", "order_number", "store_id", "transaction_ref", "status", "provider", "provider_ref",
	"amount_cents", "currency", "service_id", "service_name", "duration_minutes",
	"scheduled_date", "start_time", "end_time",
	"customer_id", "first_name", "last_name", "email", "phone", "notes",
	"address_line1", "address_line2", "city", "postal_code", "country",
	"created_at", "completed_at",
}

func orderRows(id uuid.UUID, ref, status string, completedAt *time.Time) *pgxmock.Rows {
	return pgxmock.NewRows(orderColumnNames).AddRow(
		id, "SF-1001", "store-1", ref, status, "stripe", "cs_test_1",
		int64(4500), "USD", "svc-1", "Haircut", 30,
		"2026-11-02", "14:00", "14:30",
		"", "Ada", "Lovelace", "ada@example.com", "+15550001111", "",
		"", "", "", "", "",
		time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC), completedAt,
	)
}

func TestRepositoryInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	order := &Order{
		ID:             uuid.New(),
		StoreID:        "store-1",
		TransactionRef: "txn-1",
		Status:         "pending",
		AmountCents:    4500,
		Currency:       "USD",
		Service:        ServiceSelection{ServiceID: "svc-1", Name: "Haircut", DurationMinutes: 30},
		Slot:           Slot{Date: "2026-11-02", StartTime: "14:00", EndTime: "14:30"},
		Customer:       Customer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Phone: "+15550001111"},
	}
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	args := make([]any, 23)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectQuery("INSERT INTO orders").WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"order_number", "created_at"}).AddRow("SF-1001", created))

	if err := repo.Insert(context.Background(), order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if order.OrderNumber != "SF-1001" || !order.CreatedAt.Equal(created) {
		t.Fatalf("expected returned columns to be applied, got %+v", order)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryGetByTransactionRef(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE transaction_ref").WithArgs("txn-1").
		WillReturnRows(orderRows(id, "txn-1", "pending", nil))
	order, err := repo.GetByTransactionRef(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.ID != id || order.Service.PriceCents != 4500 || order.Slot.EndTime != "14:30" {
		t.Fatalf("unexpected order %+v", order)
	}

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE transaction_ref").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := repo.GetByTransactionRef(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryCompleteFlipsOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	id := uuid.New()
	done := time.Date(2026, 10, 1, 9, 5, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders").WithArgs("txn-1", "cs_test_1").
		WillReturnRows(orderRows(id, "txn-1", "completed", &done))
	mock.ExpectCommit()
	mock.ExpectRollback()

	flips := 0
	order, flipped, err := repo.Complete(context.Background(), "txn-1", "cs_test_1", func(ctx context.Context, tx pgx.Tx, o *Order) error {
		flips++
		return nil
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !flipped || flips != 1 || !order.Completed() {
		t.Fatalf("expected flip, got flipped=%v flips=%d order=%+v", flipped, flips, order)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders").WithArgs("txn-1", "").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE transaction_ref").WithArgs("txn-1").
		WillReturnRows(orderRows(id, "txn-1", "completed", &done))
	mock.ExpectRollback()

	order, flipped, err = repo.Complete(context.Background(), "txn-1", "", func(ctx context.Context, tx pgx.Tx, o *Order) error {
		flips++
		return nil
	})
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if flipped || flips != 1 || !order.Completed() {
		t.Fatalf("expected no second flip, got flipped=%v flips=%d", flipped, flips)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryCompleteRejectsFailedOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders").WithArgs("txn-9", "").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE transaction_ref").WithArgs("txn-9").
		WillReturnRows(orderRows(uuid.New(), "txn-9", "failed", nil))
	mock.ExpectRollback()

	if _, _, err := repo.Complete(context.Background(), "txn-9", "", nil); !errors.Is(err, ErrNotCompletable) {
		t.Fatalf("expected ErrNotCompletable, got %v", err)
	}
}

func TestRepositoryCompleteRollsBackWhenFlipHookFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	done := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE orders").WithArgs("txn-1", "").
		WillReturnRows(orderRows(uuid.New(), "txn-1", "completed", &done))
	mock.ExpectRollback()

	_, flipped, err := repo.Complete(context.Background(), "txn-1", "", func(ctx context.Context, tx pgx.Tx, o *Order) error {
		return errors.New("outbox down")
	})
	if err == nil || flipped {
		t.Fatalf("expected failure without flip, got flipped=%v err=%v", flipped, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepositoryAttachCheckout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newRepositoryWithExec(mock)
	mock.ExpectExec("UPDATE orders").WithArgs("txn-1", "stripe", "cs_1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.AttachCheckout(context.Background(), "txn-1", "stripe", "cs_1"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	mock.ExpectExec("UPDATE orders").WithArgs("txn-2", "stripe", "cs_2").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := repo.AttachCheckout(context.Background(), "txn-2", "stripe", "cs_2"); !errors.Is(err, ErrNotCompletable) {
		t.Fatalf("expected ErrNotCompletable, got %v", err)
	}
}
