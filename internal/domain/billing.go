/**
 * @description
 * This file defines the core domain models for the billing service.
 * These structs map to the database tables and are shared by the store,
 * service, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest
 *   currency unit (cents), which avoids floating-point inaccuracies with
 *   financial data. Prorated adjustments may be negative (refund owed).
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription statuses a customer can be in. Deactivation is a status
// transition, never a row deletion.
const (
	SubscriptionActive              = "active"
	SubscriptionCancelled           = "cancelled"
	SubscriptionPendingCancellation = "pending_cancellation"
)

// Plan statuses.
const (
	PlanActive   = "active"
	PlanInactive = "inactive"
)

// Invoice payment statuses. The status is monotone: pending moves to paid
// or failed exactly once and is terminal thereafter.
const (
	InvoicePending = "pending"
	InvoicePaid    = "paid"
	InvoiceFailed  = "failed"
)

// Customer represents a billable subscriber. `next_billing_date` is an
// inclusive calendar-date boundary: the customer is due when it equals today.
type Customer struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	PlanID             uuid.UUID `json:"plan_id"`
	SubscriptionStatus string    `json:"subscription_status"`
	NextBillingDate    time.Time `json:"next_billing_date"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Plan is immutable pricing/cycle metadata. Read-only to the billing core.
type Plan struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	BillingCycle BillingCycle `json:"billing_cycle"`
	PriceCents   int64        `json:"price_cents"`
	Status       string       `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Invoice is created exactly once per billing event. At most one invoice
// exists per (customer_id, due_date); the store enforces this.
type Invoice struct {
	ID            uuid.UUID  `json:"id"`
	CustomerID    uuid.UUID  `json:"customer_id"`
	AmountCents   int64      `json:"amount_cents"`
	DueDate       time.Time  `json:"due_date"`
	PaymentStatus string     `json:"payment_status"`
	PaymentDate   *time.Time `json:"payment_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Payment records a successful collection. An invoice has at most one.
type Payment struct {
	ID          uuid.UUID `json:"id"`
	InvoiceID   uuid.UUID `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	PaidOn      time.Time `json:"paid_on"`
	CreatedAt   time.Time `json:"created_at"`
}

// InvoiceWithCustomer joins an invoice with the owning customer's identity,
// used when applying a payment outcome.
type InvoiceWithCustomer struct {
	Invoice
	CustomerEmail string    `json:"customer_email"`
	PlanID        uuid.UUID `json:"current_plan_id"`
}
