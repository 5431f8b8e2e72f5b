package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/billing"
	"github.com/dukerupert/textblast/internal/store"
)

const maxWebhookBody = 65536

// EventParser verifies and decodes a processor webhook delivery.
type EventParser interface {
	ParseEvent(ctx context.Context, payload []byte, sigHeader string) (billing.Event, error)
}

type PlanHandler struct {
	plans      *store.PlanStore
	checkout   *billing.Checkout
	reconciler *billing.Reconciler
	events     EventParser
	logger     *slog.Logger
}

func NewPlanHandler(plans *store.PlanStore, checkout *billing.Checkout, reconciler *billing.Reconciler, events EventParser, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{
		plans:      plans,
		checkout:   checkout,
		reconciler: reconciler,
		events:     events,
		logger:     logger,
	}
}

// List handles GET /plans
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, plans)
}

// Get handles GET /plans/{id}
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	plan, err := h.plans.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if plan == nil {
		writeError(w, h.logger, apperr.NotFoundf("plans.get", "Plan not found"))
		return
	}
	writeData(w, http.StatusOK, plan)
}

type planRequest struct {
	Name     string          `json:"name" validate:"required,max=100"`
	Credits  int64           `json:"credits" validate:"required,gt=0"`
	Price    decimal.Decimal `json:"price"`
	Features []string        `json:"features" validate:"max=20,dive,max=200"`
	Popular  bool            `json:"popular"`
}

func decodePlan(r *http.Request) (store.PlanInput, error) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		return store.PlanInput{}, err
	}
	if !req.Price.IsPositive() {
		return store.PlanInput{}, apperr.Invalid("plans.validate", "Validation failed",
			apperr.FieldError{Field: "price", Message: "must be greater than 0"})
	}
	return store.PlanInput{
		Name:     strings.TrimSpace(req.Name),
		Credits:  req.Credits,
		Price:    req.Price.Round(2),
		Features: req.Features,
		Popular:  req.Popular,
	}, nil
}

// Create handles POST /plans
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}

	in, err := decodePlan(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	plan, err := h.plans.Create(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Plan created successfully", "data": plan})
}

// Update handles PUT /plans/{id}
func (h *PlanHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	in, err := decodePlan(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	plan, err := h.plans.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if plan == nil {
		writeError(w, h.logger, apperr.NotFoundf("plans.update", "Plan not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Plan updated successfully", "data": plan})
}

// Delete handles DELETE /plans/{id}
func (h *PlanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	deleted, err := h.plans.Delete(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !deleted {
		writeError(w, h.logger, apperr.NotFoundf("plans.delete", "Plan not found"))
		return
	}
	writeMessage(w, http.StatusOK, "Plan deleted successfully")
}

type checkoutRequest struct {
	PlanID int64  `json:"plan_id" validate:"required,gt=0"`
	Email  string `json:"email" validate:"required,email"`
}

// CreateCheckoutSession handles POST /plans/create-checkout-session
func (h *PlanHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sess, err := h.checkout.Create(r.Context(), req.PlanID, strings.ToLower(req.Email))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": sess.ID, "url": sess.URL})
}

// Webhook handles POST /plans/webhook. Deliveries are acknowledged once
// applied; a failure to apply returns 500 so the processor retries.
func (h *PlanHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "Could not read body"})
		return
	}

	ev, err := h.events.ParseEvent(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "Webhook Error: " + err.Error()})
		return
	}

	outcome, err := h.reconciler.Apply(r.Context(), ev)
	if err != nil {
		h.logger.Error("webhook apply", "event_id", ev.ID, "type", ev.Type, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "Internal server error"})
		return
	}
	h.logger.Debug("webhook handled", "event_id", ev.ID, "type", ev.Type, "outcome", outcome)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Payments handles GET /plans/payments. Admins may pass all=true to see
// every payer.
func (h *PlanHandler) Payments(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	params := listParams(r)
	email := p.Email
	if params.All && p.IsAdmin() {
		email = ""
	}
	params.All = false

	page, err := h.checkout.Payments(r.Context(), email, params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, page)
}
