package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/push"
	"github.com/dukerupert/textblast/internal/store"
)

type PushHandler struct {
	pushStore *store.PushStore
	service   *push.Service
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc *push.Service, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, service: svc, logger: logger}
}

// VAPIDKey handles GET /push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "publicKey": h.service.VAPIDPublicKey()})
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url,max=2048"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

// Subscribe handles POST /push/subscribe. The body is the browser's
// PushSubscription JSON.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sub, err := h.pushStore.Subscribe(r.Context(), p.AccountID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// Unsubscribe handles POST /push/unsubscribe
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req unsubscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.pushStore.DeleteByEndpoint(r.Context(), p.AccountID, req.Endpoint); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Unsubscribed")
}
