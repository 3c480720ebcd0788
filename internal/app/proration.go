/**
 * @description
 * Mid-cycle plan change proration. The calculation approximates cycles as
 * fixed 30 or 365 day periods and derives the current cycle start by
 * walking back from the next billing date.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/muhabbasim/salla-saas-billing-process/internal/domain"
)

// CalculateProration computes the signed adjustment for switching from the
// current plan to a new price mid-cycle. Day counts are clamped to
// [0, total]: a stale next billing date (e.g. a missed sweep) yields a full
// cycle consumed rather than a negative remainder.
func CalculateProration(current, newPlan *domain.Plan, nextBillingDate, today time.Time) domain.ProrationResult {
	total := current.BillingCycle.TotalDays()
	cycleStart := domain.DateOnly(nextBillingDate).AddDate(0, 0, -total)

	daysUsed := domain.DaysBetween(cycleStart, today)
	if daysUsed < 0 {
		daysUsed = 0
	}
	if daysUsed > total {
		daysUsed = total
	}
	daysRemaining := total - daysUsed

	totalDays := decimal.NewFromInt(int64(total))
	proratedOld := decimal.NewFromInt(current.PriceCents).Div(totalDays).Mul(decimal.NewFromInt(int64(daysUsed)))
	proratedNew := decimal.NewFromInt(newPlan.PriceCents).Div(totalDays).Mul(decimal.NewFromInt(int64(daysRemaining)))
	net := proratedNew.Sub(proratedOld)

	var message string
	switch {
	case net.IsPositive():
		message = fmt.Sprintf("plan change requires an additional charge of %s", formatCents(net))
	case net.IsNegative():
		message = fmt.Sprintf("plan change results in a refund of %s", formatCents(net.Neg()))
	default:
		message = "plan change requires no adjustment"
	}

	return domain.ProrationResult{
		DaysUsed:         daysUsed,
		DaysRemaining:    daysRemaining,
		TotalDaysInCycle: total,
		NetAmount:        net,
		Message:          message,
	}
}

func formatCents(cents decimal.Decimal) string {
	return "$" + cents.Div(decimal.NewFromInt(100)).StringFixed(2)
}

// ProrationRepository defines the database operations plan changes need.
type ProrationRepository interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error)
	UpdateCustomerPlan(ctx context.Context, id, planID uuid.UUID) error
	WithCustomerLock(ctx context.Context, customerID uuid.UUID, fn func(ctx context.Context) error) error
}

// InvoiceIssuer issues the adjustment invoice a plan change produces.
type InvoiceIssuer interface {
	IssueInvoice(ctx context.Context, customerID, planID uuid.UUID, kind domain.EventKind, amountOverride *int64) (*InvoiceResult, error)
}

// ProrationService applies mid-cycle plan changes.
type ProrationService struct {
	repo   ProrationRepository
	biller InvoiceIssuer
	logger *slog.Logger
}

// NewProrationService creates a new proration service.
func NewProrationService(repo ProrationRepository, biller InvoiceIssuer, logger *slog.Logger) *ProrationService {
	return &ProrationService{repo: repo, biller: biller, logger: logger}
}

// ChangePlan moves an active customer onto a new plan, issuing an
// adjustment invoice for the prorated difference. Concurrent changes for
// the same customer are serialized with a per-customer lock.
func (s *ProrationService) ChangePlan(ctx context.Context, customerID, newPlanID uuid.UUID) (*domain.ProrationResult, error) {
	var result *domain.ProrationResult

	err := s.repo.WithCustomerLock(ctx, customerID, func(ctx context.Context) error {
		customer, err := s.repo.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		if customer.SubscriptionStatus != domain.SubscriptionActive {
			return ErrSubscriptionNotActive
		}

		current, err := s.repo.GetPlan(ctx, customer.PlanID)
		if err != nil {
			return fmt.Errorf("resolve current plan: %w", err)
		}
		newPlan, err := s.repo.GetPlan(ctx, newPlanID)
		if err != nil {
			return fmt.Errorf("resolve new plan: %w", err)
		}
		if newPlan.Status != domain.PlanActive {
			return ErrPlanNotAvailable
		}

		proration := CalculateProration(current, newPlan, customer.NextBillingDate, time.Now())

		amount := proration.InvoiceAmountCents()
		if _, err := s.biller.IssueInvoice(ctx, customerID, newPlanID, domain.EventInvoiceIssue, &amount); err != nil {
			return fmt.Errorf("issue adjustment invoice: %w", err)
		}

		if err := s.repo.UpdateCustomerPlan(ctx, customerID, newPlanID); err != nil {
			return fmt.Errorf("update customer plan: %w", err)
		}

		s.logger.Info("plan changed",
			"customer_id", customerID,
			"new_plan_id", newPlanID,
			"net_amount_cents", amount,
			"days_used", proration.DaysUsed,
			"days_remaining", proration.DaysRemaining,
		)

		result = &proration
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
