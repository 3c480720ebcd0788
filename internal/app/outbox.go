/**
 * @description
 * Outbox dispatcher. Billing state changes enqueue notification rows inside
 * their own transactions; this dispatcher drains those rows afterwards,
 * sending the customer email and publishing the event to the message broker.
 * Delivery failures mark the row for retry and never touch billing state.
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

// OutboxRepository defines the database operations the dispatcher needs.
type OutboxRepository interface {
	ListPendingEvents(ctx context.Context, limit int) ([]domain.BillingEvent, error)
	MarkEventSent(ctx context.Context, id uuid.UUID) error
	MarkEventDeliveryFailed(ctx context.Context, id uuid.UUID) error
}

// Mailer sends a notification email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// EventPublisher publishes billing events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

const eventsExchange = "billing.events"

// Dispatcher drains the billing event outbox.
type Dispatcher struct {
	repo      OutboxRepository
	mailer    Mailer
	publisher EventPublisher
	logger    *slog.Logger
	batchSize int
}

// NewDispatcher creates a new outbox dispatcher. publisher may be nil when
// no broker is configured; events are then delivered by email only.
func NewDispatcher(repo OutboxRepository, mailer Mailer, publisher EventPublisher, logger *slog.Logger, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{repo: repo, mailer: mailer, publisher: publisher, logger: logger, batchSize: batchSize}
}

// Drain delivers one batch of pending events. It returns the number of
// events sent and the number that failed; per-event failures are recorded
// for retry and do not stop the batch.
func (d *Dispatcher) Drain(ctx context.Context) (sent, failed int, err error) {
	events, err := d.repo.ListPendingEvents(ctx, d.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending events: %w", err)
	}

	for _, evt := range events {
		if err := d.deliver(ctx, evt); err != nil {
			d.logger.Error("failed to deliver billing event", "event_id", evt.ID, "kind", evt.Kind, "error", err)
			if markErr := d.repo.MarkEventDeliveryFailed(ctx, evt.ID); markErr != nil {
				d.logger.Error("failed to mark event delivery failed", "event_id", evt.ID, "error", markErr)
			}
			failed++
			continue
		}
		if err := d.repo.MarkEventSent(ctx, evt.ID); err != nil {
			d.logger.Error("failed to mark event sent", "event_id", evt.ID, "error", err)
			failed++
			continue
		}
		sent++
	}

	return sent, failed, nil
}

func (d *Dispatcher) deliver(ctx context.Context, evt domain.BillingEvent) error {
	subject, body, err := renderEmail(evt)
	if err != nil {
		return err
	}

	if err := d.mailer.Send(ctx, evt.Recipient, subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	d.publishEvent(ctx, evt)
	return nil
}

type billingEventMessage struct {
	EventID     uuid.UUID  `json:"event_id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	InvoiceID   *uuid.UUID `json:"invoice_id,omitempty"`
	Kind        string     `json:"kind"`
	AmountCents int64      `json:"amount_cents"`
	Timestamp   time.Time  `json:"timestamp"`
}

// publishEvent is best effort: the email is the customer-facing contract,
// the broker message is for downstream consumers.
func (d *Dispatcher) publishEvent(ctx context.Context, evt domain.BillingEvent) {
	if d.publisher == nil {
		return
	}

	message := billingEventMessage{
		EventID:     evt.ID,
		CustomerID:  evt.CustomerID,
		InvoiceID:   evt.InvoiceID,
		Kind:        string(evt.Kind),
		AmountCents: evt.AmountCents,
		Timestamp:   time.Now(),
	}

	routingKey := "billing." + string(evt.Kind)
	if err := d.publisher.Publish(ctx, eventsExchange, routingKey, message); err != nil {
		d.logger.Error("failed to publish billing event", "event_id", evt.ID, "routing_key", routingKey, "error", err)
	}
}

// renderEmail produces the notification subject and HTML body for an event.
// One fixed template exists per event kind.
func renderEmail(evt domain.BillingEvent) (subject, body string, err error) {
	amount := formatCents(decimal.NewFromInt(evt.AmountCents))
	today := domain.DateOnly(evt.CreatedAt).Format(time.DateOnly)

	switch evt.Kind {
	case domain.EventInvoiceIssue:
		subject = "Invoice Issued"
		body = fmt.Sprintf(`<p>Dear %s,</p>
<p>Your subscription billing has been issued.</p>
<p><strong>Amount:</strong> %s</p>
<p><strong>Due Date:</strong> %s</p>
<p><strong>Status:</strong> Pending</p>`, evt.Recipient, amount, today)

	case domain.EventPaymentSuccess:
		subject = "Payment Success"
		body = fmt.Sprintf(`<p>Dear %s,</p>
<p>Your payment has been successfully processed.</p>
<p><strong>Amount:</strong> %s</p>
<p><strong>Payment Date:</strong> %s</p>
<p><strong>Status:</strong> Paid</p>`, evt.Recipient, amount, today)

	case domain.EventPaymentFailure:
		subject = "Payment Failure"
		body = fmt.Sprintf(`<p>Dear %s,</p>
<p>Unfortunately, your payment failed.</p>
<p><strong>Amount:</strong> %s</p>
<p><strong>Attempted Payment Date:</strong> %s</p>
<p>Please try again or contact support if you need assistance.</p>`, evt.Recipient, amount, today)

	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEventKind, evt.Kind)
	}

	return subject, body, nil
}
