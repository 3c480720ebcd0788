package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/muhabbasim/salla-saas-billing-process/internal/domain"
	"github.com/muhabbasim/salla-saas-billing-process/internal/store"
)

type billingRepoStub struct {
	plans     map[uuid.UUID]*domain.Plan
	customers map[uuid.UUID]*domain.Customer
	byEmail   map[string]*domain.Customer
	invoice   *domain.InvoiceWithCustomer

	createInvoiceErr error

	createdInvoices []*domain.Invoice
	createdEvents   []*domain.BillingEvent
	enqueuedEvents  []*domain.BillingEvent
	failedInvoices  []uuid.UUID
	appliedPayments []store.ApplyPaymentParams
	newCustomers    []*domain.Customer
}

func (s *billingRepoStub) GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	plan, ok := s.plans[id]
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	return plan, nil
}

func (s *billingRepoStub) GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrCustomerNotFound
	}
	return customer, nil
}

func (s *billingRepoStub) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	customer, ok := s.byEmail[email]
	if !ok {
		return nil, store.ErrCustomerNotFound
	}
	return customer, nil
}

func (s *billingRepoStub) CreateCustomer(ctx context.Context, c *domain.Customer) (*domain.Customer, error) {
	c.ID = uuid.New()
	s.newCustomers = append(s.newCustomers, c)
	if s.customers == nil {
		s.customers = make(map[uuid.UUID]*domain.Customer)
	}
	s.customers[c.ID] = c
	return c, nil
}

func (s *billingRepoStub) CreateInvoiceWithEvent(ctx context.Context, inv *domain.Invoice, evt *domain.BillingEvent) (uuid.UUID, error) {
	if s.createInvoiceErr != nil {
		return uuid.Nil, s.createInvoiceErr
	}
	inv.ID = uuid.New()
	s.createdInvoices = append(s.createdInvoices, inv)
	s.createdEvents = append(s.createdEvents, evt)
	// Make the new invoice retrievable for a follow-up payment.
	s.invoice = &domain.InvoiceWithCustomer{Invoice: *inv, CustomerEmail: evt.Recipient}
	s.invoice.PaymentStatus = domain.InvoicePending
	return inv.ID, nil
}

func (s *billingRepoStub) EnqueueEvent(ctx context.Context, evt *domain.BillingEvent) error {
	s.enqueuedEvents = append(s.enqueuedEvents, evt)
	return nil
}

func (s *billingRepoStub) GetInvoiceWithCustomer(ctx context.Context, id uuid.UUID) (*domain.InvoiceWithCustomer, error) {
	if s.invoice == nil || s.invoice.ID != id {
		return nil, store.ErrInvoiceNotFound
	}
	return s.invoice, nil
}

func (s *billingRepoStub) MarkInvoiceFailedWithEvent(ctx context.Context, invoiceID uuid.UUID, evt *domain.BillingEvent) error {
	s.failedInvoices = append(s.failedInvoices, invoiceID)
	s.createdEvents = append(s.createdEvents, evt)
	return nil
}

func (s *billingRepoStub) ApplyPaymentSuccess(ctx context.Context, p store.ApplyPaymentParams) (*domain.Payment, error) {
	s.appliedPayments = append(s.appliedPayments, p)
	return &domain.Payment{
		ID:          uuid.New(),
		InvoiceID:   p.InvoiceID,
		AmountCents: p.AmountCents,
		Method:      p.Method,
		PaidOn:      p.PaidOn,
	}, nil
}

type processorStub struct {
	approve bool
	err     error
	calls   int
}

func (p *processorStub) Attempt(ctx context.Context, amountCents int64, method string) (bool, error) {
	p.calls++
	return p.approve, p.err
}

func newBillingFixture(t *testing.T) (*billingRepoStub, *domain.Plan, *domain.Customer) {
	t.Helper()

	plan := monthlyPlan(5000)
	customer := &domain.Customer{
		ID:                 uuid.New(),
		Name:               "Ada Lovelace",
		Email:              "ada@example.com",
		PlanID:             plan.ID,
		SubscriptionStatus: domain.SubscriptionActive,
		NextBillingDate:    time.Now(),
	}
	repo := &billingRepoStub{
		plans:     map[uuid.UUID]*domain.Plan{plan.ID: plan},
		customers: map[uuid.UUID]*domain.Customer{customer.ID: customer},
		byEmail:   map[string]*domain.Customer{customer.Email: customer},
	}
	return repo, plan, customer
}

func TestIssueInvoice_CreatesInvoiceWithPlanPrice(t *testing.T) {
	repo, plan, customer := newBillingFixture(t)
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	result, err := service.IssueInvoice(context.Background(), customer.ID, plan.ID, domain.EventInvoiceIssue, nil)
	if err != nil {
		t.Fatalf("IssueInvoice returned error: %v", err)
	}
	if !result.Success || result.InvoiceID == uuid.Nil {
		t.Fatalf("expected successful result with invoice id, got %+v", result)
	}

	if len(repo.createdInvoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(repo.createdInvoices))
	}
	invoice := repo.createdInvoices[0]
	if invoice.AmountCents != plan.PriceCents {
		t.Fatalf("expected invoice amount %d, got %d", plan.PriceCents, invoice.AmountCents)
	}
	if len(repo.createdEvents) != 1 || repo.createdEvents[0].Kind != domain.EventInvoiceIssue {
		t.Fatal("expected one invoice_issue event alongside the invoice")
	}
	if repo.createdEvents[0].Recipient != customer.Email {
		t.Fatalf("expected event recipient %q, got %q", customer.Email, repo.createdEvents[0].Recipient)
	}
}

func TestIssueInvoice_AmountOverrideWins(t *testing.T) {
	repo, plan, customer := newBillingFixture(t)
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	override := int64(1234)
	if _, err := service.IssueInvoice(context.Background(), customer.ID, plan.ID, domain.EventInvoiceIssue, &override); err != nil {
		t.Fatalf("IssueInvoice returned error: %v", err)
	}
	if got := repo.createdInvoices[0].AmountCents; got != override {
		t.Fatalf("expected override amount %d, got %d", override, got)
	}
}

func TestIssueInvoice_UnknownPlanCreatesNothing(t *testing.T) {
	repo, _, customer := newBillingFixture(t)
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	_, err := service.IssueInvoice(context.Background(), customer.ID, uuid.New(), domain.EventInvoiceIssue, nil)
	if !errors.Is(err, store.ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound, got %v", err)
	}
	if len(repo.createdInvoices) != 0 || len(repo.createdEvents) != 0 {
		t.Fatal("expected no invoice or event for unknown plan")
	}
}

func TestIssueInvoice_BlankEmailRejected(t *testing.T) {
	repo, plan, customer := newBillingFixture(t)
	customer.Email = "   "
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	_, err := service.IssueInvoice(context.Background(), customer.ID, plan.ID, domain.EventInvoiceIssue, nil)
	if !errors.Is(err, ErrMissingContactInfo) {
		t.Fatalf("expected ErrMissingContactInfo, got %v", err)
	}
}

func TestIssueInvoice_NotificationKindsOnlyEnqueue(t *testing.T) {
	repo, plan, customer := newBillingFixture(t)
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	for _, kind := range []domain.EventKind{domain.EventPaymentSuccess, domain.EventPaymentFailure} {
		result, err := service.IssueInvoice(context.Background(), customer.ID, plan.ID, kind, nil)
		if err != nil {
			t.Fatalf("IssueInvoice(%s) returned error: %v", kind, err)
		}
		if result.InvoiceID != uuid.Nil {
			t.Fatalf("expected no invoice for kind %s", kind)
		}
	}
	if len(repo.createdInvoices) != 0 {
		t.Fatal("notification kinds must not create invoices")
	}
	if len(repo.enqueuedEvents) != 2 {
		t.Fatalf("expected 2 enqueued events, got %d", len(repo.enqueuedEvents))
	}
}

func TestIssueInvoice_RejectsUnknownKind(t *testing.T) {
	repo, plan, customer := newBillingFixture(t)
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	_, err := service.IssueInvoice(context.Background(), customer.ID, plan.ID, domain.EventKind("refund_issue"), nil)
	if !errors.Is(err, ErrInvalidEventKind) {
		t.Fatalf("expected ErrInvalidEventKind, got %v", err)
	}
}

func TestProcessPayment_SuccessAppliesTransitionAndAdvancesDate(t *testing.T) {
	repo, _, customer := newBillingFixture(t)
	invoiceID := uuid.New()
	repo.invoice = &domain.InvoiceWithCustomer{
		Invoice: domain.Invoice{
			ID:            invoiceID,
			CustomerID:    customer.ID,
			AmountCents:   5000,
			PaymentStatus: domain.InvoicePending,
		},
		CustomerEmail: customer.Email,
	}
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	result, err := service.ProcessPayment(context.Background(), invoiceID, 5000, "card", domain.CycleMonthly)
	if err != nil {
		t.Fatalf("ProcessPayment returned error: %v", err)
	}
	if !result.Success || result.Payment == nil {
		t.Fatalf("expected successful payment, got %+v", result)
	}

	if len(repo.appliedPayments) != 1 {
		t.Fatalf("expected 1 applied payment, got %d", len(repo.appliedPayments))
	}
	applied := repo.appliedPayments[0]
	if applied.InvoiceID != invoiceID || applied.AmountCents != 5000 || applied.Method != "card" {
		t.Fatalf("unexpected payment params %+v", applied)
	}
	if !applied.NextBillingDate.After(applied.PaidOn) {
		t.Fatalf("next billing date %s must be after payment date %s", applied.NextBillingDate, applied.PaidOn)
	}
	if applied.Event == nil || applied.Event.Kind != domain.EventPaymentSuccess {
		t.Fatal("expected payment_success event alongside the payment")
	}
	if len(repo.failedInvoices) != 0 {
		t.Fatal("successful payment must not mark the invoice failed")
	}
}

func TestProcessPayment_DeclinedMarksInvoiceFailed(t *testing.T) {
	repo, _, customer := newBillingFixture(t)
	invoiceID := uuid.New()
	repo.invoice = &domain.InvoiceWithCustomer{
		Invoice: domain.Invoice{
			ID:            invoiceID,
			CustomerID:    customer.ID,
			AmountCents:   5000,
			PaymentStatus: domain.InvoicePending,
		},
		CustomerEmail: customer.Email,
	}
	service := NewService(repo, &processorStub{approve: false}, testLogger())

	result, err := service.ProcessPayment(context.Background(), invoiceID, 5000, "card", domain.CycleMonthly)
	if err != nil {
		t.Fatalf("ProcessPayment returned error: %v", err)
	}
	if result.Success {
		t.Fatal("declined payment must not report success")
	}
	if result.Message != "payment failed" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	if len(repo.failedInvoices) != 1 || repo.failedInvoices[0] != invoiceID {
		t.Fatalf("expected invoice %s marked failed, got %v", invoiceID, repo.failedInvoices)
	}
	if len(repo.appliedPayments) != 0 {
		t.Fatal("declined payment must not create a payment row")
	}
	if len(repo.createdEvents) != 1 || repo.createdEvents[0].Kind != domain.EventPaymentFailure {
		t.Fatal("expected a payment_failure event for the declined attempt")
	}
}

func TestProcessPayment_RejectsUnknownCycle(t *testing.T) {
	repo, _, _ := newBillingFixture(t)
	processor := &processorStub{approve: true}
	service := NewService(repo, processor, testLogger())

	_, err := service.ProcessPayment(context.Background(), uuid.New(), 5000, "card", domain.BillingCycle("weekly"))
	if !errors.Is(err, ErrInvalidBillingCycle) {
		t.Fatalf("expected ErrInvalidBillingCycle, got %v", err)
	}
	if processor.calls != 0 {
		t.Fatal("invalid cycle must be rejected before any payment attempt")
	}
}

func TestSubscribe_NewCustomerGetsInvoicedAndCharged(t *testing.T) {
	repo, plan, _ := newBillingFixture(t)
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	result, err := service.Subscribe(context.Background(), SubscribeParams{
		Name:   "Grace Hopper",
		Email:  "grace@example.com",
		PlanID: plan.ID,
		Method: "card",
	})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	if len(repo.newCustomers) != 1 {
		t.Fatalf("expected 1 new customer, got %d", len(repo.newCustomers))
	}
	if len(repo.createdInvoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(repo.createdInvoices))
	}
	if len(repo.appliedPayments) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(repo.appliedPayments))
	}
	if !result.Payment.Success {
		t.Fatal("expected successful first payment")
	}
}

func TestSubscribe_ActiveCustomerRejected(t *testing.T) {
	repo, plan, customer := newBillingFixture(t)
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	_, err := service.Subscribe(context.Background(), SubscribeParams{
		Name:   customer.Name,
		Email:  customer.Email,
		PlanID: plan.ID,
		Method: "card",
	})
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
	if len(repo.createdInvoices) != 0 {
		t.Fatal("expected no invoice for an already active customer")
	}
}

func TestSubscribe_InactivePlanRejected(t *testing.T) {
	repo, plan, _ := newBillingFixture(t)
	plan.Status = domain.PlanInactive
	service := NewService(repo, &processorStub{approve: true}, testLogger())

	_, err := service.Subscribe(context.Background(), SubscribeParams{
		Name:   "Grace Hopper",
		Email:  "grace@example.com",
		PlanID: plan.ID,
		Method: "card",
	})
	if !errors.Is(err, ErrPlanNotAvailable) {
		t.Fatalf("expected ErrPlanNotAvailable, got %v", err)
	}
	if len(repo.newCustomers) != 0 {
		t.Fatal("expected no customer created for an inactive plan")
	}
}
