package billing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/model"
	"github.com/dukerupert/textblast/internal/store"
)

// SessionRequest describes a one-off checkout for a credit pack.
type SessionRequest struct {
	Email    string
	PlanName string
	Credits  int64
	// UnitAmount is the price in cents.
	UnitAmount int64
}

type Session struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// SessionCreator opens a hosted checkout session with the processor.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
}

type Checkout struct {
	plans     *store.PlanStore
	payments  *store.PaymentStore
	processor SessionCreator
	logger    *slog.Logger
}

func NewCheckout(plans *store.PlanStore, payments *store.PaymentStore, processor SessionCreator, logger *slog.Logger) *Checkout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkout{
		plans:     plans,
		payments:  payments,
		processor: processor,
		logger:    logger.With("component", "checkout"),
	}
}

// Create opens a checkout session for the plan and records the pending
// payment under the session id.
func (c *Checkout) Create(ctx context.Context, planID int64, email string) (*Session, error) {
	const op = "billing.checkout"
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.Invalid(op, "Validation failed", apperr.FieldError{Field: "email", Message: "is required"})
	}

	plan, err := c.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, apperr.NotFoundf(op, "Plan not found")
	}

	cents := plan.Price.Shift(2).Round(0).IntPart()
	if cents <= 0 || plan.Credits <= 0 {
		return nil, apperr.Invalid(op, "Plan is not purchasable")
	}

	sess, err := c.processor.CreateCheckoutSession(ctx, SessionRequest{
		Email:      email,
		PlanName:   plan.Name,
		Credits:    plan.Credits,
		UnitAmount: cents,
	})
	if err != nil {
		c.logger.Error("create checkout session", "plan", plan.Name, "email", email, "error", err)
		return nil, apperr.UpstreamError(op, err)
	}

	if _, err := c.payments.CreatePending(ctx, email, sess.ID, plan.Name, plan.Credits, plan.Price); err != nil {
		return nil, err
	}
	c.logger.Info("checkout session created", "session_id", sess.ID, "plan", plan.Name, "email", email)
	return &sess, nil
}

// Payments lists payments for email, or every payment when email is empty.
func (c *Checkout) Payments(ctx context.Context, email string, p store.ListParams) (store.Page[model.Payment], error) {
	return c.payments.List(ctx, email, p)
}
