/**
 * @description
 * Billing lifecycle event kinds and the transactional outbox record.
 *
 * State-changing operations write a BillingEvent row in the same database
 * transaction as the state change; the outbox dispatcher drains pending rows
 * and delivers notifications afterwards. A notification failure therefore
 * cannot affect billing state.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind classifies why an invoice-related notification is being sent.
// It is a closed set; ParseEventKind rejects anything else at the boundary.
type EventKind string

const (
	EventInvoiceIssue   EventKind = "invoice_issue"
	EventPaymentSuccess EventKind = "payment_success"
	EventPaymentFailure EventKind = "payment_failure"
)

// ParseEventKind validates a raw event kind string.
func ParseEventKind(raw string) (EventKind, error) {
	switch EventKind(raw) {
	case EventInvoiceIssue, EventPaymentSuccess, EventPaymentFailure:
		return EventKind(raw), nil
	default:
		return "", fmt.Errorf("invalid event kind %q", raw)
	}
}

// Outbox delivery statuses.
const (
	EventPending = "pending"
	EventSent    = "sent"
	EventFailed  = "failed"
)

// BillingEvent is one outbox row. InvoiceID is nil for notification-only
// events that reference no invoice.
type BillingEvent struct {
	ID          uuid.UUID  `json:"id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	InvoiceID   *uuid.UUID `json:"invoice_id,omitempty"`
	Kind        EventKind  `json:"kind"`
	AmountCents int64      `json:"amount_cents"`
	Recipient   string     `json:"recipient"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ProrationResult is the ephemeral breakdown of a mid-cycle plan change.
// NetAmount is in cents and signed: positive means an additional charge,
// negative a refund owed to the customer. The invoiced amount is
// NetAmount floored to whole cents.
type ProrationResult struct {
	DaysUsed         int             `json:"days_used"`
	DaysRemaining    int             `json:"days_remaining"`
	TotalDaysInCycle int             `json:"total_days_in_cycle"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	Message          string          `json:"message"`
}

// InvoiceAmountCents is the whole-cent amount an adjustment invoice is
// issued for.
func (p ProrationResult) InvoiceAmountCents() int64 {
	return p.NetAmount.Floor().IntPart()
}
