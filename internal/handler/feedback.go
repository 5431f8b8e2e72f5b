package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/textblast/internal/apperr"
	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/model"
	"github.com/dukerupert/textblast/internal/store"
)

type FeedbackHandler struct {
	feedback *store.FeedbackStore
	logger   *slog.Logger
}

func NewFeedbackHandler(fs *store.FeedbackStore, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{feedback: fs, logger: logger}
}

type feedbackRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=5000"`
	Category    string `json:"category" validate:"required,oneof=bug feature improvement other"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high"`
}

// Create handles POST /feedback
func (h *FeedbackHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	f, err := h.feedback.Create(r.Context(), p.AccountID,
		strings.TrimSpace(req.Title), strings.TrimSpace(req.Description), req.Category, req.Priority)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Feedback submitted successfully", "data": f})
}

// List handles GET /feedback
func (h *FeedbackHandler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.feedback.List(r.Context(), 0, listParams(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// Mine handles GET /feedback/mine
func (h *FeedbackHandler) Mine(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.feedback.List(r.Context(), p.AccountID, listParams(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

// load fetches feedback id if p owns it or is an admin.
func (h *FeedbackHandler) load(r *http.Request, op string, p auth.Principal) (*model.Feedback, error) {
	id, err := parseIDParam(r)
	if err != nil {
		return nil, err
	}
	f, err := h.feedback.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	// Other accounts' feedback is reported as missing.
	if f == nil || !canAccess(p, f.AccountID) {
		return nil, apperr.NotFoundf(op, "Feedback not found")
	}
	return f, nil
}

// Get handles GET /feedback/{id}
func (h *FeedbackHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	f, err := h.load(r, "feedback.get", p)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, f)
}

type feedbackUpdateRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,min=1,max=5000"`
	Category    *string `json:"category" validate:"omitempty,oneof=bug feature improvement other"`
	Priority    *string `json:"priority" validate:"omitempty,oneof=low medium high"`
	Status      *string `json:"status" validate:"omitempty,oneof=pending in_review resolved"`
}

// Update handles PUT /feedback/{id}. Owners edit the text fields; only
// admins move the status.
func (h *FeedbackHandler) Update(w http.ResponseWriter, r *http.Request) {
	const op = "feedback.update"
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	f, err := h.load(r, op, p)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req feedbackUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Status != nil && !p.IsAdmin() {
		writeError(w, h.logger, apperr.Forbiddenf(op, "Only admins can change feedback status"))
		return
	}
	if f.AccountID != p.AccountID && (req.Title != nil || req.Description != nil || req.Category != nil || req.Priority != nil) {
		writeError(w, h.logger, apperr.Forbiddenf(op, "Only the author can edit feedback"))
		return
	}

	updated, err := h.feedback.Update(r.Context(), f.ID, store.FeedbackUpdate{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		Status:      req.Status,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Feedback updated successfully", "data": updated})
}
