/**
 * @description
 * The billing sweep: one pass that finds every active customer due today,
 * issues their invoice, and advances their billing clock. A failure for one
 * customer never prevents processing of the rest.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/muhabbasim/salla-saas-billing-process/internal/domain"
	"github.com/muhabbasim/salla-saas-billing-process/internal/store"
)

// SweepRepository defines the database operations the sweep needs.
type SweepRepository interface {
	ListCustomersDueForBilling(ctx context.Context, today time.Time) ([]domain.Customer, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error)
	AdvanceNextBillingDate(ctx context.Context, id uuid.UUID, next time.Time) error
}

// Sweep runs the periodic billing pass.
type Sweep struct {
	repo   SweepRepository
	biller InvoiceIssuer
	logger *slog.Logger
}

// NewSweep creates a new billing sweep.
func NewSweep(repo SweepRepository, biller InvoiceIssuer, logger *slog.Logger) *Sweep {
	return &Sweep{repo: repo, biller: biller, logger: logger}
}

// SweepFailure records one customer the sweep could not bill.
type SweepFailure struct {
	CustomerID uuid.UUID `json:"customer_id"`
	Reason     string    `json:"reason"`
}

// SweepSummary is the observable outcome of one sweep pass.
type SweepSummary struct {
	Due             int            `json:"due"`
	Invoiced        int            `json:"invoiced"`
	AlreadyInvoiced int            `json:"already_invoiced"`
	Failures        []SweepFailure `json:"failures,omitempty"`
}

// Run executes one sweep pass for today. Customers are processed
// sequentially; each per-customer error is recorded in the summary and the
// sweep moves on. Run only returns an error when the due-customer query
// itself fails.
func (s *Sweep) Run(ctx context.Context) (*SweepSummary, error) {
	today := domain.DateOnly(time.Now())

	customers, err := s.repo.ListCustomersDueForBilling(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list customers due for billing: %w", err)
	}

	summary := &SweepSummary{Due: len(customers)}
	if len(customers) == 0 {
		s.logger.Info("no customers due for billing today")
		return summary, nil
	}

	s.logger.Info("found customers due for billing", "count", len(customers))

	for _, customer := range customers {
		if err := s.processCustomer(ctx, customer, today, summary); err != nil {
			s.logger.Error("failed to bill customer", "customer_id", customer.ID, "error", err)
			summary.Failures = append(summary.Failures, SweepFailure{
				CustomerID: customer.ID,
				Reason:     err.Error(),
			})
		}
	}

	s.logger.Info("billing sweep finished",
		"due", summary.Due,
		"invoiced", summary.Invoiced,
		"already_invoiced", summary.AlreadyInvoiced,
		"failed", len(summary.Failures),
	)
	return summary, nil
}

func (s *Sweep) processCustomer(ctx context.Context, customer domain.Customer, today time.Time, summary *SweepSummary) error {
	plan, err := s.repo.GetPlan(ctx, customer.PlanID)
	if err != nil {
		return fmt.Errorf("plan lookup: %w", err)
	}
	if !plan.BillingCycle.Valid() {
		return fmt.Errorf("%w: plan %s has cycle %q", ErrInvalidBillingCycle, plan.ID, plan.BillingCycle)
	}

	_, err = s.biller.IssueInvoice(ctx, customer.ID, plan.ID, domain.EventInvoiceIssue, nil)
	switch {
	case err == nil:
		summary.Invoiced++
	case errors.Is(err, store.ErrInvoiceExists):
		// A retried sweep already invoiced this due date; still advance the
		// billing clock so the retry converges.
		summary.AlreadyInvoiced++
		s.logger.Info("customer already invoiced for due date", "customer_id", customer.ID, "due_date", today)
	default:
		return fmt.Errorf("issue invoice: %w", err)
	}

	next := domain.NextBillingDate(plan.BillingCycle, today)
	if err := s.repo.AdvanceNextBillingDate(ctx, customer.ID, next); err != nil {
		return fmt.Errorf("advance billing date: %w", err)
	}

	return nil
}
