// Package stripe adapts the Stripe API to the billing package.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/textblast/internal/billing"
)

// ErrNotConfigured is returned when no secret key is set.
var ErrNotConfigured = errors.New("stripe not configured: missing secret key")

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config
	api *client.API
	// sessionForIntent is replaced in tests.
	sessionForIntent func(ctx context.Context, paymentIntentID string) (string, error)
}

func NewClient(cfg Config) *Client {
	c := &Client{cfg: cfg}
	if cfg.SecretKey != "" {
		c.api = &client.API{}
		c.api.Init(cfg.SecretKey, nil)
	}
	c.sessionForIntent = c.SessionIDForPaymentIntent
	return c
}

// Configured returns true if the secret key is set.
func (c *Client) Configured() bool {
	return c.api != nil
}

// CreateCheckoutSession opens a one-off payment session for a credit pack.
func (c *Client) CreateCheckoutSession(ctx context.Context, req billing.SessionRequest) (billing.Session, error) {
	if !c.Configured() {
		return billing.Session{}, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(req.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%d Credits", req.Credits)),
					},
					UnitAmount: stripe.Int64(req.UnitAmount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
		Metadata: map[string]string{
			"email":     req.Email,
			"credits":   strconv.FormatInt(req.Credits, 10),
			"plan_name": req.PlanName,
		},
	}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return billing.Session{}, fmt.Errorf("create checkout session: %w", err)
	}
	return billing.Session{ID: sess.ID, URL: sess.URL}, nil
}

// SessionIDForPaymentIntent finds the checkout session that created the
// payment intent. It returns "" when there is none.
func (c *Client) SessionIDForPaymentIntent(ctx context.Context, paymentIntentID string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	params := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(paymentIntentID)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := c.api.CheckoutSessions.List(params)
	for iter.Next() {
		return iter.CheckoutSession().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list checkout sessions: %w", err)
	}
	return "", nil
}

// ParseEvent verifies the signature and reduces the event to a
// billing.Event. Unhandled event types come back with only ID and Type set.
func (c *Client) ParseEvent(ctx context.Context, payload []byte, sigHeader string) (billing.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
	if err != nil {
		return billing.Event{}, fmt.Errorf("verify webhook: %w", err)
	}
	ev := billing.Event{ID: event.ID, Type: string(event.Type)}

	switch ev.Type {
	case billing.EventCheckoutCompleted, billing.EventCheckoutExpired:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return ev, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		ev.SessionID = sess.ID
		ev.Email = sess.Metadata["email"]
		if ev.Email == "" && sess.CustomerDetails != nil {
			ev.Email = sess.CustomerDetails.Email
		}
		ev.PlanName = sess.Metadata["plan_name"]
		if v := sess.Metadata["credits"]; v != "" {
			if ev.Credits, err = strconv.ParseInt(v, 10, 64); err != nil {
				return ev, fmt.Errorf("parse credits metadata %q: %w", v, err)
			}
		}

	case billing.EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return ev, fmt.Errorf("unmarshal payment intent: %w", err)
		}
		if pi.LastPaymentError != nil {
			ev.FailureReason = pi.LastPaymentError.Msg
		}
		if ev.SessionID, err = c.sessionForIntent(ctx, pi.ID); err != nil {
			return ev, err
		}
	}
	return ev, nil
}
