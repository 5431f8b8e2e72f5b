package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/carrier"
)

// NumberProvider lists and orders carrier phone numbers.
type NumberProvider interface {
	ListAvailableNumbers(ctx context.Context, f carrier.NumberFilter) ([]carrier.AvailableNumber, error)
	PurchaseNumbers(ctx context.Context, numbers []string) (carrier.NumberOrder, error)
	ListPurchasedNumbers(ctx context.Context) ([]carrier.OwnedNumber, error)
}

type NumbersHandler struct {
	provider NumberProvider
	logger   *slog.Logger
}

func NewNumbersHandler(provider NumberProvider, logger *slog.Logger) *NumbersHandler {
	return &NumbersHandler{provider: provider, logger: logger}
}

func carrierError(op string, err error) error {
	if errors.Is(err, carrier.ErrNotConfigured) {
		return apperr.Wrap(apperr.Upstream, op, "Messaging carrier is not configured", err)
	}
	return apperr.UpstreamError(op, err)
}

// Available handles GET /numbers/available
func (h *NumbersHandler) Available(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	numbers, err := h.provider.ListAvailableNumbers(r.Context(), carrier.NumberFilter{
		CountryCode: strings.ToUpper(q.Get("country_code")),
		Locality:    q.Get("locality"),
		AreaCode:    q.Get("area_code"),
		Limit:       limit,
	})
	if err != nil {
		writeError(w, h.logger, carrierError("numbers.available", err))
		return
	}
	writeData(w, http.StatusOK, numbers)
}

type purchaseRequest struct {
	PhoneNumbers []string `json:"phone_numbers" validate:"required,min=1,max=10,dive,required"`
}

// Purchase handles POST /numbers/purchase
func (h *NumbersHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	order, err := h.provider.PurchaseNumbers(r.Context(), req.PhoneNumbers)
	if err != nil {
		writeError(w, h.logger, carrierError("numbers.purchase", err))
		return
	}
	h.logger.Info("numbers ordered", "order_id", order.ID, "count", len(order.PhoneNumbers), "admin_id", p.AccountID)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Number order placed", "data": order})
}

// Purchased handles GET /numbers/purchased
func (h *NumbersHandler) Purchased(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	numbers, err := h.provider.ListPurchasedNumbers(r.Context())
	if err != nil {
		writeError(w, h.logger, carrierError("numbers.purchased", err))
		return
	}
	writeData(w, http.StatusOK, numbers)
}
