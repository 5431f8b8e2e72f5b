// Package billing sells credit plans through a payment processor and applies
// the processor's webhook events to payments and account balances.
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukerupert/textblast/internal/ledger"
	"github.com/dukerupert/textblast/internal/model"
	"github.com/dukerupert/textblast/internal/store"
)

// Processor event types handled by the reconciler.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
)

// EventPaymentUpdated is published to the payer's realtime channel.
const EventPaymentUpdated = "payment_updated"

// Event is a processor notification reduced to what reconciliation needs.
// Email, Credits and PlanName come from the checkout metadata; when absent
// the pending payment's own values are used.
type Event struct {
	ID            string
	Type          string
	SessionID     string
	Email         string
	Credits       int64
	PlanName      string
	FailureReason string
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Publisher delivers an event to every connection of one account.
type Publisher interface {
	Publish(accountID int64, eventType string, payload any)
}

// Recorder counts webhook outcomes.
type Recorder interface {
	WebhookProcessed(eventType, outcome string)
}

type Reconciler struct {
	db        *sql.DB
	payments  *store.PaymentStore
	accounts  *store.AccountStore
	ledger    *ledger.Ledger
	publisher Publisher
	recorder  Recorder
	logger    *slog.Logger
}

type Option func(*Reconciler)

func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

func NewReconciler(db *sql.DB, payments *store.PaymentStore, accounts *store.AccountStore, l *ledger.Ledger, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		db:       db,
		payments: payments,
		accounts: accounts,
		ledger:   l,
		logger:   logger.With("component", "billing"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply applies ev exactly once. The processed-event marker, the payment
// transition and the credit are written in one transaction, so a repeated
// delivery finds the marker and changes nothing.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Outcome, error) {
	outcome, err := r.apply(ctx, ev)
	if err != nil {
		r.logger.Error("webhook apply failed", "event_id", ev.ID, "type", ev.Type, "session_id", ev.SessionID, "error", err)
		return "", err
	}
	if r.recorder != nil {
		r.recorder.WebhookProcessed(ev.Type, string(outcome))
	}
	r.logger.Info("webhook processed", "event_id", ev.ID, "type", ev.Type, "session_id", ev.SessionID, "outcome", outcome)
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, ev Event) (Outcome, error) {
	switch ev.Type {
	case EventCheckoutCompleted, EventCheckoutExpired, EventPaymentFailed:
	default:
		return OutcomeIgnored, nil
	}
	if ev.SessionID == "" {
		return OutcomeIgnored, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	payment, err := r.payments.GetBySessionID(ctx, tx, ev.SessionID)
	if err != nil {
		return "", err
	}
	if payment == nil {
		return OutcomeIgnored, nil
	}

	email, credits, plan := ev.Email, ev.Credits, ev.PlanName
	if email == "" {
		email = payment.Email
	}
	if credits <= 0 {
		credits = payment.Credits
	}
	if plan == "" {
		plan = payment.PlanName
	}
	if ev.Type == EventCheckoutCompleted && (email == "" || credits <= 0) {
		return OutcomeIgnored, nil
	}

	fresh, err := r.payments.MarkEventProcessed(ctx, tx, ev.ID, ev.SessionID, ev.Type)
	if err != nil {
		return "", err
	}
	if !fresh {
		return OutcomeDuplicate, nil
	}

	status, reason := model.PaymentSuccess, ""
	switch ev.Type {
	case EventCheckoutExpired:
		status, reason = model.PaymentFailed, "Session expired"
	case EventPaymentFailed:
		status, reason = model.PaymentFailed, ev.FailureReason
		if reason == "" {
			reason = "Payment failed"
		}
	}

	settled, err := r.payments.Settle(ctx, tx, ev.SessionID, status, reason)
	if err != nil {
		return "", err
	}
	if !settled {
		// Already terminal through another event type.
		return OutcomeDuplicate, nil
	}

	var accountID int64
	if status == model.PaymentSuccess {
		accountID, err = r.ledger.Credit(ctx, tx, email, credits, plan)
		if err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit webhook: %w", err)
	}

	if accountID != 0 {
		r.ledger.CreditCommitted(accountID, credits)
	} else if a, err := r.accounts.GetByEmail(ctx, email); err == nil && a != nil {
		accountID = a.ID
	}
	if accountID != 0 && r.publisher != nil {
		r.publisher.Publish(accountID, EventPaymentUpdated, map[string]any{
			"session_id": ev.SessionID,
			"status":     status,
			"credits":    credits,
			"error":      reason,
		})
	}
	return OutcomeApplied, nil
}
