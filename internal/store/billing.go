/**
 * @description
 * Invoice, payment, and outbox persistence. Lifecycle transitions that span
 * multiple rows (payment application, failure marking) run inside a single
 * transaction together with their outbox event, so a crash can never leave
 * an invoice paid without the matching customer update or notification row.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/muhabbasim/salla-saas-billing-process/internal/domain"
)

const invoiceColumns = `id, customer_id, amount_cents, due_date, payment_status, payment_date, created_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID,
		&inv.CustomerID,
		&inv.AmountCents,
		&inv.DueDate,
		&inv.PaymentStatus,
		&inv.PaymentDate,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice retrieves an invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return inv, nil
}

// ListInvoices returns all invoices, newest first.
func (r *Repository) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// GetInvoiceWithCustomer retrieves an invoice joined with the owning
// customer's email and current plan.
func (r *Repository) GetInvoiceWithCustomer(ctx context.Context, id uuid.UUID) (*domain.InvoiceWithCustomer, error) {
	query := `
		SELECT i.id, i.customer_id, i.amount_cents, i.due_date, i.payment_status, i.payment_date, i.created_at,
		       c.email, c.plan_id
		FROM invoices i
		JOIN customers c ON i.customer_id = c.id
		WHERE i.id = $1`
	var iwc domain.InvoiceWithCustomer
	err := r.db.QueryRow(ctx, query, id).Scan(
		&iwc.ID,
		&iwc.CustomerID,
		&iwc.AmountCents,
		&iwc.DueDate,
		&iwc.PaymentStatus,
		&iwc.PaymentDate,
		&iwc.CreatedAt,
		&iwc.CustomerEmail,
		&iwc.PlanID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &iwc, nil
}

// CreateInvoiceWithEvent inserts a pending invoice and its invoice_issue
// outbox event in one transaction. The unique (customer_id, due_date) index
// makes the insert idempotent: a second sweep for the same due date returns
// ErrInvoiceExists and writes nothing.
func (r *Repository) CreateInvoiceWithEvent(ctx context.Context, inv *domain.Invoice, evt *domain.BillingEvent) (uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO invoices (customer_id, amount_cents, due_date, payment_status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (customer_id, due_date) DO NOTHING
		RETURNING id`
	var invoiceID uuid.UUID
	err = tx.QueryRow(ctx, query, inv.CustomerID, inv.AmountCents, domain.DateOnly(inv.DueDate)).Scan(&invoiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrInvoiceExists
		}
		return uuid.Nil, err
	}

	if err := insertEvent(ctx, tx, evt, &invoiceID); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return invoiceID, nil
}

// MarkInvoiceFailedWithEvent transitions a pending invoice to failed and
// records the payment_failure outbox event atomically. The guarded WHERE
// clause keeps the status monotone: paid or failed invoices never move.
func (r *Repository) MarkInvoiceFailedWithEvent(ctx context.Context, invoiceID uuid.UUID, evt *domain.BillingEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE invoices
		SET payment_status = 'failed'
		WHERE id = $1
		  AND payment_status = 'pending'
		RETURNING id`
	var id uuid.UUID
	if err := tx.QueryRow(ctx, query, invoiceID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotPending
		}
		return err
	}

	if err := insertEvent(ctx, tx, evt, &invoiceID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ApplyPaymentParams carries everything a successful payment writes.
type ApplyPaymentParams struct {
	InvoiceID       uuid.UUID
	CustomerID      uuid.UUID
	AmountCents     int64
	Method          string
	PaidOn          time.Time
	NextBillingDate time.Time
	Event           *domain.BillingEvent
}

// ApplyPaymentSuccess records the whole success path as one logical unit:
// payment row, invoice paid, customer reactivated with an advanced billing
// date, and the payment_success outbox event.
func (r *Repository) ApplyPaymentSuccess(ctx context.Context, p ApplyPaymentParams) (*domain.Payment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	paidOn := domain.DateOnly(p.PaidOn)

	markPaid := `
		UPDATE invoices
		SET payment_status = 'paid',
		    payment_date = $1
		WHERE id = $2
		  AND payment_status = 'pending'
		RETURNING id`
	var invoiceID uuid.UUID
	if err := tx.QueryRow(ctx, markPaid, paidOn, p.InvoiceID).Scan(&invoiceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotPending
		}
		return nil, err
	}

	insertPayment := `
		INSERT INTO payments (invoice_id, amount_cents, method, paid_on)
		VALUES ($1, $2, $3, $4)
		RETURNING id, invoice_id, amount_cents, method, paid_on, created_at`
	var payment domain.Payment
	err = tx.QueryRow(ctx, insertPayment, p.InvoiceID, p.AmountCents, p.Method, paidOn).Scan(
		&payment.ID,
		&payment.InvoiceID,
		&payment.AmountCents,
		&payment.Method,
		&payment.PaidOn,
		&payment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	updateCustomer := `
		UPDATE customers
		SET subscription_status = 'active',
		    next_billing_date = $1,
		    updated_at = NOW()
		WHERE id = $2`
	if _, err := tx.Exec(ctx, updateCustomer, domain.DateOnly(p.NextBillingDate), p.CustomerID); err != nil {
		return nil, err
	}

	if err := insertEvent(ctx, tx, p.Event, &p.InvoiceID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPayment retrieves a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT id, invoice_id, amount_cents, method, paid_on, created_at FROM payments WHERE id = $1`
	var p domain.Payment
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.PaidOn, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListPayments returns all payments, newest first.
func (r *Repository) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	query := `SELECT id, invoice_id, amount_cents, method, paid_on, created_at FROM payments ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.PaidOn, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// EnqueueEvent writes a notification-only outbox event outside any invoice
// transition, e.g. a re-sent notice.
func (r *Repository) EnqueueEvent(ctx context.Context, evt *domain.BillingEvent) error {
	return insertEvent(ctx, r.db, evt, evt.InvoiceID)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx so event inserts can
// join an enclosing transaction or run standalone.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, q execer, evt *domain.BillingEvent, invoiceID *uuid.UUID) error {
	query := `
		INSERT INTO billing_events (customer_id, invoice_id, kind, amount_cents, recipient, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')`
	_, err := q.Exec(ctx, query, evt.CustomerID, invoiceID, evt.Kind, evt.AmountCents, evt.Recipient)
	if err != nil {
		return fmt.Errorf("enqueue billing event: %w", err)
	}
	return nil
}

// ListPendingEvents fetches deliverable outbox rows, oldest first. Failed
// rows are retried until the attempt cap is reached.
func (r *Repository) ListPendingEvents(ctx context.Context, limit int) ([]domain.BillingEvent, error) {
	query := `
		SELECT id, customer_id, invoice_id, kind, amount_cents, recipient, status, attempts, created_at
		FROM billing_events
		WHERE status IN ('pending', 'failed')
		  AND attempts < 5
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.BillingEvent
	for rows.Next() {
		var evt domain.BillingEvent
		err := rows.Scan(
			&evt.ID,
			&evt.CustomerID,
			&evt.InvoiceID,
			&evt.Kind,
			&evt.AmountCents,
			&evt.Recipient,
			&evt.Status,
			&evt.Attempts,
			&evt.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// MarkEventSent records a delivered notification.
func (r *Repository) MarkEventSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE billing_events
		SET status = 'sent',
		    attempts = attempts + 1
		WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// MarkEventDeliveryFailed records a failed delivery for later retry.
func (r *Repository) MarkEventDeliveryFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE billing_events
		SET status = 'failed',
		    attempts = attempts + 1
		WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}
