/**
 * @description
 * Core invoice/payment lifecycle logic. The Service issues invoices for
 * billing events, drives payment attempts through the payment processor,
 * and applies the resulting state transitions atomically via the store.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/muhabbasim/salla-saas-billing-process/internal/domain"
	"github.com/muhabbasim/salla-saas-billing-process/internal/store"
)

var (
	ErrMissingContactInfo    = errors.New("customer has no contact email")
	ErrInvalidEventKind      = errors.New("invalid billing event kind")
	ErrInvalidBillingCycle   = errors.New("invalid billing cycle")
	ErrSubscriptionNotActive = errors.New("customer does not have an active subscription")
	ErrPlanNotAvailable      = errors.New("plan is not available")
	ErrAlreadySubscribed     = errors.New("customer already has an active subscription")
)

// Repository defines the database operations the billing service needs.
type Repository interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*domain.Plan, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*domain.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, c *domain.Customer) (*domain.Customer, error)
	CreateInvoiceWithEvent(ctx context.Context, inv *domain.Invoice, evt *domain.BillingEvent) (uuid.UUID, error)
	EnqueueEvent(ctx context.Context, evt *domain.BillingEvent) error
	GetInvoiceWithCustomer(ctx context.Context, id uuid.UUID) (*domain.InvoiceWithCustomer, error)
	MarkInvoiceFailedWithEvent(ctx context.Context, invoiceID uuid.UUID, evt *domain.BillingEvent) error
	ApplyPaymentSuccess(ctx context.Context, p store.ApplyPaymentParams) (*domain.Payment, error)
}

// PaymentProcessor decides whether a collection attempt succeeds. The core
// treats it as an opaque oracle; the returned bool is a business outcome,
// not an error.
type PaymentProcessor interface {
	Attempt(ctx context.Context, amountCents int64, method string) (bool, error)
}

// AutoApproveProcessor approves every attempt. Stands in until a real
// gateway integration exists.
type AutoApproveProcessor struct{}

func (AutoApproveProcessor) Attempt(ctx context.Context, amountCents int64, method string) (bool, error) {
	return true, nil
}

// Service provides the invoice/payment lifecycle logic.
type Service struct {
	repo      Repository
	processor PaymentProcessor
	logger    *slog.Logger
}

// NewService creates a new billing service.
func NewService(repo Repository, processor PaymentProcessor, logger *slog.Logger) *Service {
	return &Service{repo: repo, processor: processor, logger: logger}
}

// InvoiceResult reports the outcome of issuing an invoice or recording a
// billing event.
type InvoiceResult struct {
	Success   bool      `json:"success"`
	InvoiceID uuid.UUID `json:"invoice_id,omitempty"`
	Message   string    `json:"message"`
}

// IssueInvoice resolves the plan and customer, then handles the event kind:
// invoice_issue creates a pending invoice (amount from the plan unless an
// override is supplied, as for proration adjustments) together with its
// notification event; payment_success and payment_failure only enqueue a
// notification referencing no new invoice. Any other kind is rejected.
func (s *Service) IssueInvoice(ctx context.Context, customerID, planID uuid.UUID, kind domain.EventKind, amountOverride *int64) (*InvoiceResult, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan %s: %w", planID, err)
	}

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("resolve customer %s: %w", customerID, err)
	}
	if strings.TrimSpace(customer.Email) == "" {
		return nil, ErrMissingContactInfo
	}

	amount := plan.PriceCents
	if amountOverride != nil {
		amount = *amountOverride
	}

	evt := &domain.BillingEvent{
		CustomerID:  customerID,
		Kind:        kind,
		AmountCents: amount,
		Recipient:   customer.Email,
	}

	switch kind {
	case domain.EventInvoiceIssue:
		invoice := &domain.Invoice{
			CustomerID:  customerID,
			AmountCents: amount,
			DueDate:     time.Now(),
		}
		invoiceID, err := s.repo.CreateInvoiceWithEvent(ctx, invoice, evt)
		if err != nil {
			return nil, err
		}
		s.logger.Info("invoice issued", "customer_id", customerID, "invoice_id", invoiceID, "amount_cents", amount)
		return &InvoiceResult{Success: true, InvoiceID: invoiceID, Message: "invoice issued"}, nil

	case domain.EventPaymentSuccess, domain.EventPaymentFailure:
		if err := s.repo.EnqueueEvent(ctx, evt); err != nil {
			return nil, err
		}
		return &InvoiceResult{Success: true, Message: fmt.Sprintf("%s notification queued", kind)}, nil

	default:
		return nil, ErrInvalidEventKind
	}
}

// PaymentResult reports the outcome of a payment attempt.
type PaymentResult struct {
	Success bool            `json:"success"`
	Payment *domain.Payment `json:"payment,omitempty"`
	Message string          `json:"message"`
}

// ProcessPayment attempts to collect an invoice. On success the payment row,
// invoice transition, customer reactivation, advanced billing date, and
// notification event are applied as one transaction. On a declined attempt
// the invoice moves to failed and the customer is left untouched.
func (s *Service) ProcessPayment(ctx context.Context, invoiceID uuid.UUID, amountCents int64, method string, cycle domain.BillingCycle) (*PaymentResult, error) {
	if !cycle.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBillingCycle, cycle)
	}

	invoice, err := s.repo.GetInvoiceWithCustomer(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("resolve invoice %s: %w", invoiceID, err)
	}

	approved, err := s.processor.Attempt(ctx, amountCents, method)
	if err != nil {
		return nil, fmt.Errorf("payment attempt for invoice %s: %w", invoiceID, err)
	}

	if !approved {
		evt := &domain.BillingEvent{
			CustomerID:  invoice.CustomerID,
			Kind:        domain.EventPaymentFailure,
			AmountCents: amountCents,
			Recipient:   invoice.CustomerEmail,
		}
		if err := s.repo.MarkInvoiceFailedWithEvent(ctx, invoiceID, evt); err != nil {
			return nil, fmt.Errorf("mark invoice %s failed: %w", invoiceID, err)
		}
		s.logger.Info("payment declined", "invoice_id", invoiceID, "method", method)
		return &PaymentResult{Success: false, Message: "payment failed"}, nil
	}

	now := time.Now()
	payment, err := s.repo.ApplyPaymentSuccess(ctx, store.ApplyPaymentParams{
		InvoiceID:       invoiceID,
		CustomerID:      invoice.CustomerID,
		AmountCents:     amountCents,
		Method:          method,
		PaidOn:          now,
		NextBillingDate: domain.NextBillingDate(cycle, now),
		Event: &domain.BillingEvent{
			CustomerID:  invoice.CustomerID,
			Kind:        domain.EventPaymentSuccess,
			AmountCents: amountCents,
			Recipient:   invoice.CustomerEmail,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("apply payment for invoice %s: %w", invoiceID, err)
	}

	s.logger.Info("payment processed", "invoice_id", invoiceID, "payment_id", payment.ID, "method", method)
	return &PaymentResult{Success: true, Payment: payment, Message: "payment successful"}, nil
}

// SubscribeParams carries a subscription sign-up request.
type SubscribeParams struct {
	Name   string
	Email  string
	PlanID uuid.UUID
	Method string
}

// SubscribeResult bundles everything a sign-up produced.
type SubscribeResult struct {
	Customer *domain.Customer `json:"customer"`
	Invoice  *InvoiceResult   `json:"invoice"`
	Payment  *PaymentResult   `json:"payment"`
}

// Subscribe signs a customer up to a plan: it reuses an existing non-active
// customer record or creates one, issues the first invoice, and collects
// payment in the same request.
func (s *Service) Subscribe(ctx context.Context, params SubscribeParams) (*SubscribeResult, error) {
	plan, err := s.repo.GetPlan(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Status != domain.PlanActive {
		return nil, ErrPlanNotAvailable
	}

	customer, err := s.repo.GetCustomerByEmail(ctx, params.Email)
	switch {
	case err == nil:
		if customer.SubscriptionStatus == domain.SubscriptionActive {
			return nil, ErrAlreadySubscribed
		}
	case errors.Is(err, store.ErrCustomerNotFound):
		customer, err = s.repo.CreateCustomer(ctx, &domain.Customer{
			Name:               params.Name,
			Email:              params.Email,
			PlanID:             params.PlanID,
			SubscriptionStatus: domain.SubscriptionCancelled,
			NextBillingDate:    time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}
	default:
		return nil, err
	}

	invoice, err := s.IssueInvoice(ctx, customer.ID, params.PlanID, domain.EventInvoiceIssue, nil)
	if err != nil {
		return nil, err
	}

	payment, err := s.ProcessPayment(ctx, invoice.InvoiceID, plan.PriceCents, params.Method, plan.BillingCycle)
	if err != nil {
		return nil, err
	}

	return &SubscribeResult{Customer: customer, Invoice: invoice, Payment: payment}, nil
}
