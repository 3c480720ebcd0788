/**
 * @description
 * Data access layer for customers and plans. All SQL for the billing service
 * lives in this package; the service layer only sees repository methods.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/muhabbasim/salla-saas-billing-process/internal/domain"
)

var (
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInvoiceExists     = errors.New("invoice already exists for this due date")
	ErrInvoiceNotPending = errors.New("invoice is not pending")
)

// Repository handles database operations for the billing service.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const customerColumns = `id, name, email, plan_id, subscription_status, next_billing_date, created_at, updated_at`

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Email,
		&c.PlanID,
		&c.SubscriptionStatus,
		&c.NextBillingDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCustomer inserts a new customer row and returns it.
func (r *Repository) CreateCustomer(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	query := `
		INSERT INTO customers (name, email, plan_id, subscription_status, next_billing_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + customerColumns
	return scanCustomer(r.db.QueryRow(ctx, query,
		c.Name, c.Email, c.PlanID, c.SubscriptionStatus, domain.DateOnly(c.NextBillingDate)))
}

// GetCustomer retrieves a customer by id.
func (r *Repository) GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`
	c, err := scanCustomer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}

// GetCustomerByEmail retrieves a customer by email address.
func (r *Repository) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE email = $1`
	c, err := scanCustomer(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListCustomers returns all customers.
func (r *Repository) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

// ListCustomersDueForBilling fetches active customers whose next billing
// date equals the given calendar date.
func (r *Repository) ListCustomersDueForBilling(ctx context.Context, today time.Time) ([]domain.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE next_billing_date = $1::DATE
		  AND subscription_status = 'active'
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, domain.DateOnly(today))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

// UpdateCustomerParams is the enumerated set of customer fields a partial
// update may touch. Nil fields are left unchanged; field names are fixed
// here and never taken from request payloads.
type UpdateCustomerParams struct {
	Name               *string
	Email              *string
	PlanID             *uuid.UUID
	SubscriptionStatus *string
	NextBillingDate    *time.Time
}

// UpdateCustomer applies a typed partial update and returns the new row.
func (r *Repository) UpdateCustomer(ctx context.Context, id uuid.UUID, params UpdateCustomerParams) (*domain.Customer, error) {
	set := make([]string, 0, 6)
	args := make([]any, 0, 7)

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Name != nil {
		add("name", *params.Name)
	}
	if params.Email != nil {
		add("email", *params.Email)
	}
	if params.PlanID != nil {
		add("plan_id", *params.PlanID)
	}
	if params.SubscriptionStatus != nil {
		add("subscription_status", *params.SubscriptionStatus)
	}
	if params.NextBillingDate != nil {
		add("next_billing_date", domain.DateOnly(*params.NextBillingDate))
	}
	if len(set) == 0 {
		return r.GetCustomer(ctx, id)
	}
	set = append(set, "updated_at = NOW()")

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE customers SET %s WHERE id = $%d RETURNING %s",
		strings.Join(set, ", "), len(args), customerColumns)

	c, err := scanCustomer(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}

// CancelCustomer flips a customer's subscription status to cancelled.
// Customers are never deleted.
func (r *Repository) CancelCustomer(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE customers
		SET subscription_status = 'cancelled',
		    updated_at = NOW()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// AdvanceNextBillingDate persists a newly computed billing date.
func (r *Repository) AdvanceNextBillingDate(ctx context.Context, id uuid.UUID, next time.Time) error {
	query := `
		UPDATE customers
		SET next_billing_date = $1,
		    updated_at = NOW()
		WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, domain.DateOnly(next), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// UpdateCustomerPlan moves a customer onto a new plan.
func (r *Repository) UpdateCustomerPlan(ctx context.Context, id, planID uuid.UUID) error {
	query := `
		UPDATE customers
		SET plan_id = $1,
		    updated_at = NOW()
		WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, planID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// WithCustomerLock runs fn while holding a session-level advisory lock keyed
// by the customer id. Concurrent plan changes for the same customer are
// serialized here; the billing sweep does not need the lock because it runs
// single-threaded.
func (r *Repository) WithCustomerLock(ctx context.Context, customerID uuid.UUID, fn func(ctx context.Context) error) error {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, customerID.String()); err != nil {
		return fmt.Errorf("acquire customer lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, customerID.String())
	}()

	return fn(ctx)
}

const planColumns = `id, name, billing_cycle, price_cents, status, created_at`

func scanPlan(row pgx.Row) (*domain.Plan, error) {
	var p domain.Plan
	err := row.Scan(&p.ID, &p.Name, &p.BillingCycle, &p.PriceCents, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePlan inserts a new plan.
func (r *Repository) CreatePlan(ctx context.Context, p *domain.Plan) (*domain.Plan, error) {
	query := `
		INSERT INTO plans (name, billing_cycle, price_cents, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + planColumns
	return scanPlan(r.db.QueryRow(ctx, query, p.Name, p.BillingCycle, p.PriceCents, p.Status))
}

// GetPlan retrieves a plan by id.
func (r *Repository) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	p, err := scanPlan(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListPlans returns all plans.
func (r *Repository) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}
