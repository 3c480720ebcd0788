package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/muhabbasim/salla-saas-billing-process/internal/domain"
	"github.com/muhabbasim/salla-saas-billing-process/internal/store"
)

type sweepRepoStub struct {
	due      []domain.Customer
	plans    map[uuid.UUID]*domain.Plan
	advanced map[uuid.UUID]time.Time
}

func (s *sweepRepoStub) ListCustomersDueForBilling(ctx context.Context, today time.Time) ([]domain.Customer, error) {
	return s.due, nil
}

func (s *sweepRepoStub) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	return plan, nil
}

func (s *sweepRepoStub) AdvanceNextBillingDate(ctx context.Context, id uuid.UUID, next time.Time) error {
	if s.advanced == nil {
		s.advanced = make(map[uuid.UUID]time.Time)
	}
	s.advanced[id] = next
	return nil
}

func dueCustomer(planID uuid.UUID) domain.Customer {
	return domain.Customer{
		ID:                 uuid.New(),
		Email:              "due@example.com",
		PlanID:             planID,
		SubscriptionStatus: domain.SubscriptionActive,
		NextBillingDate:    domain.DateOnly(time.Now()),
	}
}

func TestSweep_InvoicesEveryDueCustomer(t *testing.T) {
	plan := monthlyPlan(5000)
	repo := &sweepRepoStub{
		due:   []domain.Customer{dueCustomer(plan.ID), dueCustomer(plan.ID)},
		plans: map[uuid.UUID]*domain.Plan{plan.ID: plan},
	}
	issuer := &issuerStub{}
	sweep := NewSweep(repo, issuer, testLogger())

	summary, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Due != 2 || summary.Invoiced != 2 || len(summary.Failures) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if issuer.calls != 2 {
		t.Fatalf("expected 2 invoices issued, got %d", issuer.calls)
	}
	if len(repo.advanced) != 2 {
		t.Fatalf("expected 2 billing dates advanced, got %d", len(repo.advanced))
	}

	today := domain.DateOnly(time.Now())
	for id, next := range repo.advanced {
		if !next.After(today) {
			t.Fatalf("customer %s billing date %s not advanced past today", id, next)
		}
	}
}

func TestSweep_OneBadCustomerDoesNotStopTheRest(t *testing.T) {
	plan := monthlyPlan(5000)
	broken := dueCustomer(uuid.New()) // plan missing from the store
	repo := &sweepRepoStub{
		due:   []domain.Customer{dueCustomer(plan.ID), broken, dueCustomer(plan.ID)},
		plans: map[uuid.UUID]*domain.Plan{plan.ID: plan},
	}
	issuer := &issuerStub{}
	sweep := NewSweep(repo, issuer, testLogger())

	summary, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Due != 3 || summary.Invoiced != 2 {
		t.Fatalf("expected 2 of 3 invoiced, got %+v", summary)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].CustomerID != broken.ID {
		t.Fatalf("expected one failure for %s, got %+v", broken.ID, summary.Failures)
	}
	if _, ok := repo.advanced[broken.ID]; ok {
		t.Fatal("failed customer must not have its billing date advanced")
	}
	if len(repo.advanced) != 2 {
		t.Fatalf("expected 2 billing dates advanced, got %d", len(repo.advanced))
	}
}

func TestSweep_AlreadyInvoicedStillAdvancesDate(t *testing.T) {
	plan := monthlyPlan(5000)
	customer := dueCustomer(plan.ID)
	repo := &sweepRepoStub{
		due:   []domain.Customer{customer},
		plans: map[uuid.UUID]*domain.Plan{plan.ID: plan},
	}
	issuer := &issuerStub{err: store.ErrInvoiceExists}
	sweep := NewSweep(repo, issuer, testLogger())

	summary, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Invoiced != 0 || summary.AlreadyInvoiced != 1 || len(summary.Failures) != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, ok := repo.advanced[customer.ID]; !ok {
		t.Fatal("already-invoiced customer must still have its billing date advanced")
	}
}

func TestSweep_InvalidCycleRecordedAsFailure(t *testing.T) {
	plan := monthlyPlan(5000)
	plan.BillingCycle = domain.BillingCycle("weekly")
	customer := dueCustomer(plan.ID)
	repo := &sweepRepoStub{
		due:   []domain.Customer{customer},
		plans: map[uuid.UUID]*domain.Plan{plan.ID: plan},
	}
	issuer := &issuerStub{}
	sweep := NewSweep(repo, issuer, testLogger())

	summary, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(summary.Failures) != 1 {
		t.Fatalf("expected one failure, got %+v", summary)
	}
	if issuer.calls != 0 {
		t.Fatal("no invoice may be issued for an invalid billing cycle")
	}
}

func TestSweep_NoCustomersDueIsANoop(t *testing.T) {
	repo := &sweepRepoStub{}
	issuer := &issuerStub{}
	sweep := NewSweep(repo, issuer, testLogger())

	summary, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Due != 0 || summary.Invoiced != 0 || len(summary.Failures) != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
	if issuer.calls != 0 {
		t.Fatal("expected no invoices when nothing is due")
	}
}
